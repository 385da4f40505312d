// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

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

const (
	// DefaultSweepInterval is how often a StateCache evicts expired states.
	DefaultSweepInterval = time.Minute

	// DefaultMaxStates is how many pending sign-in attempts a StateCache
	// holds.
	DefaultMaxStates = 10000
)

type cacheOptions struct {
	withSweepInterval time.Duration
	withMaxStates     int
	withLogger        hclog.Logger
}

func cacheDefaults() cacheOptions {
	return cacheOptions{
		withSweepInterval: DefaultSweepInterval,
		withMaxStates:     DefaultMaxStates,
		withLogger:        hclog.NewNullLogger(),
	}
}

func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type userStoreOptions struct {
	withNowFunc func() time.Time
	withLogger  hclog.Logger
}

func userStoreDefaults() userStoreOptions {
	return userStoreOptions{
		withNowFunc: time.Now,
		withLogger:  hclog.NewNullLogger(),
	}
}

func getUserStoreOpts(opt ...Option) userStoreOptions {
	opts := userStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithMaxStates provides an optional cap on pending sign-in attempts.
// Values <= 0 are ignored.
func WithMaxStates(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok && n > 0 {
			o.withMaxStates = n
		}
	}
}

// WithSweepInterval provides an optional interval for evicting expired
// states.  Intervals <= 0 are ignored.
func WithSweepInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*cacheOptions); ok && d > 0 {
			o.withSweepInterval = d
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*userStoreOptions); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *cacheOptions:
			v.withLogger = l
		case *userStoreOptions:
			v.withLogger = l
		}
	}
}
