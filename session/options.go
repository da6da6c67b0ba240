// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// applyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func applyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// options = how options are represented
type options struct {
	withCookieName   string
	withCookiePath   string
	withSecureCookie bool
	withTTL          time.Duration
	withLogger       hclog.Logger
	withClock        clockwork.Clock
}

func getDefaultOptions() options {
	return options{
		withCookieName: DefaultCookieName,
		withCookiePath: "/",
		withTTL:        DefaultTTL,
		withLogger:     hclog.NewNullLogger(),
		withClock:      clockwork.NewRealClock(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	applyOpts(&opts, opt...)
	return opts
}

// WithCookieName provides an optional session cookie name.
func WithCookieName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withCookieName = name
		}
	}
}

// WithCookiePath provides an optional session cookie path.
func WithCookiePath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && path != "" {
			o.withCookiePath = path
		}
	}
}

// WithSecureCookie sets the Secure attribute of the session cookie.
func WithSecureCookie(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSecureCookie = secure
		}
	}
}

// WithTTL provides an optional idle timeout for sessions.  Zero keeps sessions
// until they're destroyed.
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && ttl >= 0 {
			o.withTTL = ttl
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock for the MemoryStore.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}
