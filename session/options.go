// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
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

// DefaultMaxAge is the lifetime of a session when WithMaxAge isn't used.
const DefaultMaxAge = 30 * 24 * time.Hour

// DefaultCookieName is the session cookie's name when WithCookieName isn't
// used.
const DefaultCookieName = "signin.session-token"

// managerOptions is the set of available options for Manager functions.
type managerOptions struct {
	withMaxAge     time.Duration
	withSecure     bool
	withCookieName string
	withNowFunc    func() time.Time
	withLogger     hclog.Logger
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withMaxAge:     DefaultMaxAge,
		withCookieName: DefaultCookieName,
		withNowFunc:    time.Now,
		withLogger:     hclog.NewNullLogger(),
	}
}

// getManagerOpts gets the defaults and applies the opt overrides passed in.
func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithMaxAge provides an optional session lifetime.  Durations <= 0 are
// ignored.
func WithMaxAge(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && d > 0 {
			o.withMaxAge = d
		}
	}
}

// WithSecure marks the session cookie as Secure, which is required when the
// site is served over https.
func WithSecure(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withSecure = secure
		}
	}
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && name != "" {
			o.withCookieName = name
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
