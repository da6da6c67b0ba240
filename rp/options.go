// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.  It's the same type as oidc.Option.
type Option = oidc.Option

// options is the set of available options for New
type options struct {
	withLogger            hclog.Logger
	withClock             clockwork.Clock
	withLoginHooks        []oidc.LoginHook
	withoutDefaultHook    bool
	withTokenName         string
	withUsernameKey       string
	withAttributesKey     string
	withUnverifiedRefresh bool
	withAllowedNextHosts  []string
}

func getDefaultOptions() options {
	return options{
		withTokenName:     DefaultTokenName,
		withUsernameKey:   DefaultUsernameKey,
		withAttributesKey: DefaultAttributesKey,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// requestOptions is the set of available options for per request calls:
// LoginURL, Login, Logout, Refresh, CheckAndRefresh and AccessToken.
type requestOptions struct {
	withNext        string
	withUserHint    string
	withForceReauth bool
	withScopes      []string
	withTokenName   string
}

func getRequestOpts(opt ...Option) requestOptions {
	opts := requestOptions{}
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock used for token expiry.  It defaults
// to the provider's clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && c != nil {
			o.withClock = c
		}
	}
}

// WithLoginHooks appends hooks to the login hook chain, which starts with
// oidc.DefaultLoginHook.  Hooks run in the order they're given.
func WithLoginHooks(hooks ...oidc.LoginHook) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withLoginHooks = append(o.withLoginHooks, hooks...)
		}
	}
}

// WithoutDefaultLoginHook removes oidc.DefaultLoginHook from the login hook
// chain.  Hooks given with WithLoginHooks are kept.
func WithoutDefaultLoginHook() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withoutDefaultHook = true
		}
	}
}

// WithSessionKeys provides optional session keys for the username and
// attributes.
func WithSessionKeys(username, attributes string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			if username != "" {
				o.withUsernameKey = username
			}
			if attributes != "" {
				o.withAttributesKey = attributes
			}
		}
	}
}

// WithTokenName provides an optional token name.  For New it's the session key
// of the primary TokenSet.  For Refresh, CheckAndRefresh and AccessToken it
// names an additional cached TokenSet, for example one minted with other
// scopes.
func WithTokenName(name string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *options:
			if name != "" {
				v.withTokenName = name
			}
		case *requestOptions:
			v.withTokenName = name
		}
	}
}

// WithUnverifiedRefresh decodes id_tokens returned by a refresh without
// verifying their signatures.  The token endpoint is called directly over
// TLS, but a verified id_token is the default.
func WithUnverifiedRefresh() Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withUnverifiedRefresh = true
		}
	}
}

// WithAllowedNextHosts allows a request's "next" query parameter to be an
// absolute http(s) URL on one of hosts.  Otherwise only paths on this
// application are accepted.
func WithAllowedNextHosts(hosts ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withAllowedNextHosts = append(o.withAllowedNextHosts, hosts...)
		}
	}
}

// WithNext provides where the user is sent after login or logout.  It takes
// precedence over the request's "next" query parameter and, unlike it, isn't
// checked against WithAllowedNextHosts.
func WithNext(next string) Option {
	return func(o interface{}) {
		if o, ok := o.(*requestOptions); ok {
			o.withNext = next
		}
	}
}

// WithUserHint sends login_hint with the authorization request, overriding
// the request's login_hint query parameter.
func WithUserHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*requestOptions); ok {
			o.withUserHint = hint
		}
	}
}

// WithForceReauth sends prompt=login with the authorization request,
// overriding the request's prompt query parameter.
func WithForceReauth() Option {
	return func(o interface{}) {
		if o, ok := o.(*requestOptions); ok {
			o.withForceReauth = true
		}
	}
}

// WithScopes overrides the scopes requested at login, or requests other
// scopes on refresh.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*requestOptions); ok {
			o.withScopes = scopes
		}
	}
}
