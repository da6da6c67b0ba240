// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"context"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/session"
)

// Refresh exchanges a refresh_token for a new TokenSet.  The refresh_token is
// taken from the TokenSet cached under the WithTokenName option, falling back
// to the primary TokenSet, so a token for other scopes can be minted from the
// primary refresh_token.  The result isn't stored.
//
// Refresh fails soft: it returns false when there's nothing to refresh with or
// the provider refuses, and the caller should have the user log in again.
//
// Supported options:
//
//	WithTokenName
//	WithScopes
func (a *Authenticator) Refresh(ctx context.Context, opt ...Option) (*oidc.TokenSet, bool) {
	opts := getRequestOpts(opt...)
	s, err := a.session(ctx)
	if err != nil {
		a.logger.Error("unable to refresh", "error", err)
		return nil, false
	}
	name := a.name(opts)
	source := a.tokens(ctx, s, name)
	if source == nil && name != a.tokenName {
		source = a.tokens(ctx, s, a.tokenName)
	}
	return a.refreshFrom(ctx, source, name, opts.withScopes)
}

func (a *Authenticator) refreshFrom(ctx context.Context, source *oidc.TokenSet, name string, scopes []string) (*oidc.TokenSet, bool) {
	if !source.Refreshable() {
		a.logger.Debug("no refresh_token available", "token_name", name)
		return nil, false
	}
	var refreshOpts []oidc.Option
	if len(scopes) > 0 {
		refreshOpts = append(refreshOpts, oidc.WithScopes(scopes...))
	}
	if a.unverifiedRefresh {
		refreshOpts = append(refreshOpts, oidc.WithInsecureSkipSignatureCheck())
	}
	t, err := a.provider.Refresh(ctx, source.RefreshToken, refreshOpts...)
	if err != nil {
		a.logger.Warn("refresh failed", "token_name", name, "refresh_token", oidc.TruncateSecret(string(source.RefreshToken)), "error", err)
		return nil, false
	}
	a.logger.Debug("refreshed", "token_name", name, "expiry", t.Expiry)
	return t, true
}

// CheckAndRefresh reports whether the TokenSet cached under the WithTokenName
// option (the primary by default) is usable.  An unexpired TokenSet is used as
// is, otherwise it's refreshed and the result stored.  When the refresh
// fails, false is returned and the session is left as it was.
//
// Supported options:
//
//	WithTokenName
//	WithScopes
func (a *Authenticator) CheckAndRefresh(ctx context.Context, opt ...Option) bool {
	opts := getRequestOpts(opt...)
	s, err := a.session(ctx)
	if err != nil {
		a.logger.Error("unable to check tokens", "error", err)
		return false
	}
	name := a.name(opts)
	if t := a.tokens(ctx, s, name); t != nil && !t.Expired(a.clock.Now()) {
		return true
	}
	t, ok := a.Refresh(ctx, opt...)
	if !ok {
		return false
	}
	return a.persist(ctx, s, name, t)
}

// AccessToken returns a usable TokenSet for calling resource servers.  The
// TokenSet cached under the WithTokenName option (the primary by default) is
// returned while it's unexpired.  An expired one is removed from the session,
// then a refresh is attempted with its refresh_token, or the primary's, and
// the result is cached.
//
// Supported options:
//
//	WithTokenName
//	WithScopes
func (a *Authenticator) AccessToken(ctx context.Context, opt ...Option) (*oidc.TokenSet, bool) {
	opts := getRequestOpts(opt...)
	s, err := a.session(ctx)
	if err != nil {
		a.logger.Error("unable to get access token", "error", err)
		return nil, false
	}
	name := a.name(opts)
	source := a.tokens(ctx, s, name)
	if source != nil {
		if !source.Expired(a.clock.Now()) {
			return source, true
		}
		if err := s.Delete(ctx, name); err != nil {
			a.logger.Error("unable to remove expired tokens", "token_name", name, "error", err)
		}
	}
	if !source.Refreshable() && name != a.tokenName {
		source = a.tokens(ctx, s, a.tokenName)
	}
	t, ok := a.refreshFrom(ctx, source, name, opts.withScopes)
	if !ok {
		return nil, false
	}
	if !a.persist(ctx, s, name, t) {
		return nil, false
	}
	return t, true
}

func (a *Authenticator) persist(ctx context.Context, s session.Session, name string, t *oidc.TokenSet) bool {
	if err := a.storeTokens(ctx, s, name, t); err != nil {
		a.logger.Error("unable to store refreshed tokens", "token_name", name, "error", err)
		return false
	}
	return true
}

func (a *Authenticator) name(opts requestOptions) string {
	if opts.withTokenName != "" {
		return opts.withTokenName
	}
	return a.tokenName
}
