// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "cap_rp_session"

	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = 24 * time.Hour
)

// Manager resolves the session of each request from its session cookie.
type Manager struct {
	store      Store
	cookieName string
	cookiePath string
	secure     bool
	ttl        time.Duration
	logger     hclog.Logger
}

// NewManager creates a Manager for store.
//
// Supported options:
//
//	WithCookieName
//	WithCookiePath
//	WithSecureCookie
//	WithTTL
//	WithLogger
func NewManager(store Store, opt ...Option) (*Manager, error) {
	const op = "session.NewManager"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	if opts.withCookieName == "" {
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, ErrInvalidParameter)
	}
	return &Manager{
		store:      store,
		cookieName: opts.withCookieName,
		cookiePath: opts.withCookiePath,
		secure:     opts.withSecureCookie,
		ttl:        opts.withTTL,
		logger:     opts.withLogger,
	}, nil
}

// Middleware places the request's Session in its context.  Requests without a
// well formed session cookie are issued a new session id.  The cookie is
// reissued on every request so its MaxAge slides along with the session's TTL.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := ""
		if c, err := req.Cookie(m.cookieName); err == nil {
			if _, err := uuid.ParseUUID(c.Value); err == nil {
				id = c.Value
			}
		}
		if id == "" {
			var err error
			if id, err = uuid.GenerateUUID(); err != nil {
				m.logger.Error("unable to generate session id", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
		}
		m.setCookie(w, id)
		s, err := New(id, m.store, m.ttl)
		if err != nil {
			m.logger.Error("unable to create session", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, req.WithContext(NewContext(req.Context(), s)))
	})
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	c := &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     m.cookiePath,
		HttpOnly: true,
		Secure:   m.secure,
		// Lax, so the cookie is sent on the provider's top level redirect
		// back to the callback.
		SameSite: http.SameSiteLaxMode,
	}
	if m.ttl > 0 {
		c.MaxAge = int(m.ttl / time.Second)
	}
	http.SetCookie(w, c)
}
