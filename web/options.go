// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package web

import (
	"time"

	"github.com/hashicorp/cap-signin/telemetry"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

const (
	// DefaultStateTTL is how long a sign-in attempt may take.
	DefaultStateTTL = 10 * time.Minute

	// DefaultRateLimit is the sustained number of /auth requests per second
	// allowed from one client IP.
	DefaultRateLimit = 5

	// DefaultRateBurst is the /auth burst allowed from one client IP.
	DefaultRateBurst = 10
)

type serverOptions struct {
	withLogger         hclog.Logger
	withUserRecorder   UserRecorder
	withMetrics        *telemetry.Metrics
	withTracerProvider trace.TracerProvider
	withStateTTL       time.Duration
	withRateLimit      float64
	withRateBurst      int
	withRedirectURL    string
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger:    hclog.NewNullLogger(),
		withStateTTL:  DefaultStateTTL,
		withRateLimit: DefaultRateLimit,
		withRateBurst: DefaultRateBurst,
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithUserRecorder provides an optional record of accounts that signed in.
// Failing to record a sign-in doesn't fail the sign-in.
func WithUserRecorder(r UserRecorder) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withUserRecorder = r
		}
	}
}

// WithMetrics provides optional sign-in counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withMetrics = m
		}
	}
}

// WithTracerProvider provides an optional tracer provider.  The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withTracerProvider = tp
		}
	}
}

// WithStateTTL provides an optional lifetime for sign-in attempts.
// Durations <= 0 are ignored.
func WithStateTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && d > 0 {
			o.withStateTTL = d
		}
	}
}

// WithRateLimit provides the optional per client IP rate limit for the /auth
// routes.  Non-positive values are ignored.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok && perSecond > 0 && burst > 0 {
			o.withRateLimit = perSecond
			o.withRateBurst = burst
		}
	}
}

// WithRedirectURL provides the OAuth callback URL.  It defaults to the
// provider's first allowed redirect URL.
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*serverOptions); ok {
			o.withRedirectURL = u
		}
	}
}
