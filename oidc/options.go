// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
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

// WithClock provides an optional clock for: Config, StateCodec, Provider and
// the IdentityVerifier implementations.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if c == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withClock = c
		case *stateOptions:
			v.withClock = c
		case *verifierOptions:
			v.withClock = c
		}
	}
}

// WithLogger provides an optional logger for: Config and Provider.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if v, ok := o.(*configOptions); ok {
			v.withLogger = l
		}
	}
}

// WithScopes provides an optional list of scopes for: Config (the default
// scopes requested at login), Provider.AuthURL and Provider.Refresh (a per
// call override).
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *authURLOptions:
			v.withScopes = scopes
		case *refreshOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudience sets the audience an id_token must carry for
// IdentityVerifier.Decode.
func WithAudience(aud string) Option {
	return func(o interface{}) {
		if v, ok := o.(*decodeOptions); ok {
			v.withAudience = aud
		}
	}
}

// WithInsecureSkipSignatureCheck disables signature verification for:
// IdentityVerifier.Decode and Provider.Refresh. Claims are still decoded.
func WithInsecureSkipSignatureCheck() Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *decodeOptions:
			v.withSkipSignature = true
		case *refreshOptions:
			v.withSkipSignature = true
		}
	}
}

// WithSkipExpiryCheck disables the "exp" claim check for
// IdentityVerifier.Decode.
func WithSkipExpiryCheck() Option {
	return func(o interface{}) {
		if v, ok := o.(*decodeOptions); ok {
			v.withSkipExpiry = true
		}
	}
}
