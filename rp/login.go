// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/cap-rp/oidc"
)

// LoginURL returns the provider's authorization URL for a new login attempt.
// The user is sent back to next after logging in, which is, in order: the
// WithNext option, the request's "next" query parameter, or "/".  A "next"
// query parameter that isn't a local path, or a URL on a host allowed by
// WithAllowedNextHosts, is ignored.  The request's login_hint, domain_hint
// and prompt query parameters are passed through to the provider.
//
// Supported options:
//
//	WithNext
//	WithUserHint
//	WithForceReauth
//	WithScopes
func (a *Authenticator) LoginURL(ctx context.Context, req *http.Request, opt ...Option) (string, error) {
	const op = "Authenticator.LoginURL"
	opts := getRequestOpts(opt...)
	var q url.Values
	if req != nil {
		q = req.URL.Query()
	}

	next := opts.withNext
	if next == "" {
		next = a.requestNext(q.Get("next"))
	}
	if next == "" {
		next = "/"
	}

	loginHint := q.Get("login_hint")
	if opts.withUserHint != "" {
		loginHint = opts.withUserHint
	}
	prompt := q.Get("prompt")
	if opts.withForceReauth {
		prompt = "login"
	}

	state, err := a.states.Serialize(oidc.StatePayload{Next: next})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authOpts := []oidc.Option{
		oidc.WithLoginHint(loginHint),
		oidc.WithDomainHint(q.Get("domain_hint")),
		oidc.WithPrompt(prompt),
	}
	if len(opts.withScopes) > 0 {
		authOpts = append(authOpts, oidc.WithScopes(opts.withScopes...))
	}
	authURL, err := a.provider.AuthURL(ctx, state, authOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, nil
}

// Login redirects the user to the provider to log in.  See LoginURL.
func (a *Authenticator) Login(w http.ResponseWriter, req *http.Request, opt ...Option) {
	authURL, err := a.LoginURL(req.Context(), req, opt...)
	if err != nil {
		a.logger.Error("unable to create authorization URL", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, req, authURL, http.StatusFound)
}

// LoginHandler returns a handler that calls Login.
func (a *Authenticator) LoginHandler(opt ...Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a.Login(w, req, opt...)
	})
}

// Logout clears the session.  When the provider's end_session_endpoint is
// configured the user is sent there, with post_logout_redirect_uri set to
// next when there is one.  Otherwise the user is sent to next, or shown an
// acknowledgement.  next is the WithNext option or the request's "next" query
// parameter, which is checked as it is by LoginURL.
//
// Supported options:
//
//	WithNext
func (a *Authenticator) Logout(w http.ResponseWriter, req *http.Request, opt ...Option) {
	ctx := req.Context()
	opts := getRequestOpts(opt...)
	next := opts.withNext
	if next == "" {
		next = a.requestNext(req.URL.Query().Get("next"))
	}

	s, err := a.session(ctx)
	if err != nil {
		a.logger.Error("unable to log out", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	username, _ := a.Username(ctx)
	if err := s.Destroy(ctx); err != nil {
		a.logger.Error("unable to clear session", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	a.logger.Info("logged out", "username", username)

	if idp := a.provider.LogoutURL(); idp != "" {
		target, err := url.Parse(idp)
		if err != nil {
			a.logger.Error("invalid end_session_endpoint", "url", idp, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if next != "" {
			q := target.Query()
			q.Set("post_logout_redirect_uri", next)
			target.RawQuery = q.Encode()
		}
		http.Redirect(w, req, target.String(), http.StatusFound)
		return
	}
	if next != "" {
		http.Redirect(w, req, next, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("logout complete"))
}

// requestNext returns next when it's allowed, or "".
func (a *Authenticator) requestNext(next string) string {
	if next == "" || a.allowedNext(next) {
		return next
	}
	a.logger.Warn("ignoring next outside the allowed hosts", "next", next)
	return ""
}

// LogoutHandler returns a handler that calls Logout.
func (a *Authenticator) LogoutHandler(opt ...Option) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		a.Logout(w, req, opt...)
	})
}
