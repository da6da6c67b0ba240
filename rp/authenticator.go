// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package rp is an OIDC relying party for net/http applications.  An
// Authenticator sends users to the provider to log in, completes the login at
// its callback, keeps the user's tokens fresh and gates handlers by
// authentication, username and attribute.
//
// Every request handled by an Authenticator must carry a session.Session in
// its context, usually by wrapping the application's handler with a
// session.Manager's middleware.
package rp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/session"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTokenName is the session key of the primary TokenSet.
	DefaultTokenName = "oidc_tokens"

	// DefaultUsernameKey is the session key of the username.  A session is
	// authenticated when it holds a username.
	DefaultUsernameKey = "username"

	// DefaultAttributesKey is the session key of the user's attributes.
	DefaultAttributesKey = "oidc_attr"

	// DefaultCallbackPath is the callback path when the redirect URL has none.
	DefaultCallbackPath = "/oidc/authorized"

	// AuthenticatedAttr is the attribute holding when the user logged in, as
	// unix seconds.
	AuthenticatedAttr = "authenticated"
)

// Authenticator is an OIDC relying party.  It's safe for concurrent use.
type Authenticator struct {
	provider     *oidc.Provider
	states       *oidc.StateCodec
	hooks        []oidc.LoginHook
	tokenName    string
	usernameKey  string
	attrsKey     string
	callbackPath string

	unverifiedRefresh bool
	allowedNextHosts  []string

	logger hclog.Logger
	clock  clockwork.Clock
}

// New creates an Authenticator for the provider p.
//
// Supported options:
//
//	WithLogger
//	WithClock
//	WithLoginHooks
//	WithoutDefaultLoginHook
//	WithSessionKeys
//	WithTokenName
//	WithUnverifiedRefresh
//	WithAllowedNextHosts
func New(p *oidc.Provider, opt ...Option) (*Authenticator, error) {
	const op = "rp.New"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getOpts(opt...)

	states, err := p.NewStateCodec()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg := p.Config()
	u, err := url.Parse(cfg.RedirectUrl)
	if err != nil {
		return nil, fmt.Errorf("%s: redirect URL is invalid: %w", op, oidc.ErrInvalidParameter)
	}
	callbackPath := u.Path
	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
	}

	var hooks []oidc.LoginHook
	if !opts.withoutDefaultHook {
		hooks = append(hooks, oidc.DefaultLoginHook)
	}
	hooks = append(hooks, opts.withLoginHooks...)

	logger := opts.withLogger
	if logger == nil {
		logger = p.Logger()
	}
	clock := opts.withClock
	if clock == nil {
		clock = p.Clock()
	}

	return &Authenticator{
		provider:          p,
		states:            states,
		hooks:             hooks,
		tokenName:         opts.withTokenName,
		usernameKey:       opts.withUsernameKey,
		attrsKey:          opts.withAttributesKey,
		callbackPath:      callbackPath,
		unverifiedRefresh: opts.withUnverifiedRefresh,
		allowedNextHosts:  opts.withAllowedNextHosts,
		logger:            logger.Named("rp"),
		clock:             clock,
	}, nil
}

// CallbackPath is the path of the RedirectUrl, where CallbackHandler is
// expected to be routed.
func (a *Authenticator) CallbackPath() string { return a.callbackPath }

func (a *Authenticator) session(ctx context.Context) (session.Session, error) {
	s, ok := session.FromContext(ctx)
	if !ok {
		return nil, session.ErrNoSession
	}
	return s, nil
}

// allowedNext reports whether next, taken from a request, is safe to redirect
// to: a path on this application, or an http(s) URL on an allowed host.
func (a *Authenticator) allowedNext(next string) bool {
	if strings.ContainsAny(next, "\\\r\n\t") {
		return false
	}
	u, err := url.Parse(next)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	for _, h := range a.allowedNextHosts {
		if strings.EqualFold(h, u.Hostname()) {
			return true
		}
	}
	return false
}

// IsAuthenticated reports whether the request's session holds a username.
func (a *Authenticator) IsAuthenticated(ctx context.Context) bool {
	_, ok := a.Username(ctx)
	return ok
}

// Username returns the authenticated user's username.
func (a *Authenticator) Username(ctx context.Context) (string, bool) {
	s, err := a.session(ctx)
	if err != nil {
		return "", false
	}
	var username string
	found, err := s.Get(ctx, a.usernameKey, &username)
	if err != nil {
		a.logger.Error("unable to read username from session", "error", err)
		return "", false
	}
	return username, found && username != ""
}

// Attributes returns the authenticated user's attributes.
func (a *Authenticator) Attributes(ctx context.Context) (map[string]interface{}, bool) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, false
	}
	var attrs map[string]interface{}
	found, err := s.Get(ctx, a.attrsKey, &attrs)
	if err != nil {
		a.logger.Error("unable to read attributes from session", "error", err)
		return nil, false
	}
	return attrs, found
}

// tokens returns the TokenSet cached under name, or nil.
func (a *Authenticator) tokens(ctx context.Context, s session.Session, name string) *oidc.TokenSet {
	var t oidc.TokenSet
	found, err := s.Get(ctx, name, &t)
	if err != nil {
		a.logger.Error("unable to read tokens from session", "token_name", name, "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return &t
}

// storeTokens caches t under name.  Invalid TokenSets, including those
// without an expiry, are never stored.
func (a *Authenticator) storeTokens(ctx context.Context, s session.Session, name string, t *oidc.TokenSet) error {
	const op = "Authenticator.storeTokens"
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Set(ctx, name, t); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
