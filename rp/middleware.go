// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"fmt"
	"net/http"
)

// Middleware wraps an http.Handler with a check that runs before it.
type Middleware func(http.Handler) http.Handler

// Chain wraps h with mws.  The first Middleware is the outermost, so it runs
// first: Chain(h, a.RequireLogin, a.RequireUser("alice")) checks the login
// before the username.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// RequireLogin only calls next for an authenticated session with a usable
// primary TokenSet, refreshing it when it's expired.  Anyone else is sent to
// log in, and returned to the requested URL afterwards.
func (a *Authenticator) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if a.IsAuthenticated(ctx) && a.CheckAndRefresh(ctx) {
			next.ServeHTTP(w, req)
			return
		}
		a.Login(w, req, WithNext(req.URL.RequestURI()))
	})
}

// RequireUser returns a Middleware which only calls the handler when the
// session's username is one of users.  It doesn't check the login itself, so
// it belongs after RequireLogin.
func (a *Authenticator) RequireUser(users ...string) Middleware {
	allowed := make(map[string]struct{}, len(users))
	for _, u := range users {
		allowed[u] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			username, _ := a.Username(req.Context())
			if _, ok := allowed[username]; !ok || username == "" {
				a.unauthorized(w, "username", username)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// RequireAttribute returns a Middleware which only calls the handler when the
// session's attribute attr shares a value with expected.  Both single and
// multi-valued attributes are supported, so a "groups" claim matches when any
// of its groups is expected.  It belongs after RequireLogin.
func (a *Authenticator) RequireAttribute(attr string, expected ...string) Middleware {
	want := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		want[e] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			attrs, _ := a.Attributes(req.Context())
			v, ok := attrs[attr]
			if ok {
				for _, have := range attrValues(v) {
					if _, ok := want[have]; ok {
						next.ServeHTTP(w, req)
						return
					}
				}
			}
			a.unauthorized(w, "attribute", attr)
		})
	}
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, args ...interface{}) {
	a.logger.Info("not authorized", args...)
	http.Error(w, "Not Authorized", http.StatusUnauthorized)
}

// attrValues normalizes an attribute to a list of strings.
func attrValues(v interface{}) []string {
	switch v := v.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, e := range v {
			values = append(values, fmt.Sprint(e))
		}
		return values
	default:
		return []string{fmt.Sprint(v)}
	}
}
