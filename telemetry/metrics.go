// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hashicorp/cap-signin"

// Metrics holds the sign-in metric instruments.  A nil *Metrics records
// nothing.
type Metrics struct {
	SignInStarted metric.Int64Counter
	SignIns       metric.Int64Counter
	SignInFailed  metric.Int64Counter
	SignOuts      metric.Int64Counter
	RateLimited   metric.Int64Counter
}

// NewMetrics creates the instruments from mp, or from the global meter
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	const op = "telemetry.NewMetrics"
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}

	var err error
	m.SignInStarted, err = meter.Int64Counter(
		"signin.started",
		metric.WithDescription("Number of sign-in flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create signin.started counter: %w", op, err)
	}

	m.SignIns, err = meter.Int64Counter(
		"signin.succeeded",
		metric.WithDescription("Number of sessions issued"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create signin.succeeded counter: %w", op, err)
	}

	m.SignInFailed, err = meter.Int64Counter(
		"signin.failed",
		metric.WithDescription("Number of failed provider callbacks"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create signin.failed counter: %w", op, err)
	}

	m.SignOuts, err = meter.Int64Counter(
		"signout.completed",
		metric.WithDescription("Number of sign-outs"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create signout.completed counter: %w", op, err)
	}

	m.RateLimited, err = meter.Int64Counter(
		"http.rate_limited",
		metric.WithDescription("Number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create http.rate_limited counter: %w", op, err)
	}
	return m, nil
}

// RecordSignInStarted counts a redirect to the provider.
func (m *Metrics) RecordSignInStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SignInStarted.Add(ctx, 1)
}

// RecordSignIn counts an issued session.
func (m *Metrics) RecordSignIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.SignIns.Add(ctx, 1)
}

// RecordSignInFailed counts a failed callback, labelled with a short reason
// such as "provider_error" or "expired_state".
func (m *Metrics) RecordSignInFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.SignInFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSignOut counts a sign-out.
func (m *Metrics) RecordSignOut(ctx context.Context) {
	if m == nil {
		return
	}
	m.SignOuts.Add(ctx, 1)
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
