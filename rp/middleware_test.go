// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/cap-rp/session"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPolicyAuthenticator is enough of an Authenticator for the policies,
// which only read the session.
func testPolicyAuthenticator() *Authenticator {
	return &Authenticator{
		tokenName:   DefaultTokenName,
		usernameKey: DefaultUsernameKey,
		attrsKey:    DefaultAttributesKey,
		logger:      hclog.NewNullLogger(),
	}
}

func TestChain(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, req)
			})
		}
	}
	h := Chain(testHandler("ok"), mw("first"), nil, mw("second"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAuthenticator_RequireUser(t *testing.T) {
	t.Parallel()
	a := testPolicyAuthenticator()
	store := session.NewMemoryStore()

	tests := []struct {
		name       string
		username   string
		wantStatus int
	}{
		{name: "allowed", username: "alice", wantStatus: http.StatusOK},
		{name: "also-allowed", username: "bob", wantStatus: http.StatusOK},
		{name: "denied", username: "mallory", wantStatus: http.StatusUnauthorized},
		{name: "anonymous", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s := testNewSession(t, store)
			if tt.username != "" {
				require.NoError(s.Set(context.Background(), DefaultUsernameKey, tt.username))
			}
			rec := httptest.NewRecorder()
			a.RequireUser("alice", "bob")(testHandler("ok")).ServeHTTP(rec, testRequest(http.MethodGet, "/", s))
			assert.Equal(tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal("Not Authorized", strings.TrimSpace(rec.Body.String()))
			}
		})
	}
}

func TestAuthenticator_RequireAttribute(t *testing.T) {
	t.Parallel()
	a := testPolicyAuthenticator()
	store := session.NewMemoryStore()

	tests := []struct {
		name       string
		attrs      map[string]interface{}
		attr       string
		expected   []string
		wantStatus int
	}{
		{
			name:       "list-intersects",
			attrs:      map[string]interface{}{"role": []string{"member", "admin"}},
			attr:       "role",
			expected:   []string{"admin", "owner"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "scalar-does-not-match",
			attrs:      map[string]interface{}{"role": "guest"},
			attr:       "role",
			expected:   []string{"admin", "owner"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "scalar-matches",
			attrs:      map[string]interface{}{"role": "owner"},
			attr:       "role",
			expected:   []string{"admin", "owner"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "non-string-values",
			attrs:      map[string]interface{}{"level": []int{1, 7}},
			attr:       "level",
			expected:   []string{"7"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "boolean",
			attrs:      map[string]interface{}{"email_verified": true},
			attr:       "email_verified",
			expected:   []string{"true"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing-attribute",
			attrs:      map[string]interface{}{"groups": []string{"admin"}},
			attr:       "role",
			expected:   []string{"admin"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "empty-list",
			attrs:      map[string]interface{}{"role": []string{}},
			attr:       "role",
			expected:   []string{"admin"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no-attributes",
			attr:       "role",
			expected:   []string{"admin"},
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s := testNewSession(t, store)
			if tt.attrs != nil {
				require.NoError(s.Set(context.Background(), DefaultAttributesKey, tt.attrs))
			}
			rec := httptest.NewRecorder()
			a.RequireAttribute(tt.attr, tt.expected...)(testHandler("ok")).ServeHTTP(rec, testRequest(http.MethodGet, "/", s))
			assert.Equal(tt.wantStatus, rec.Code)
		})
	}
}

func TestAuthenticator_RequireLogin(t *testing.T) {
	t.Parallel()

	t.Run("anonymous-redirected", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		e := testNewEnv(t, testEnvOpts{})
		s := e.testSession(t)

		rec := httptest.NewRecorder()
		e.a.RequireLogin(testHandler("secret")).ServeHTTP(rec, testRequest(http.MethodGet, "/reports?year=2024", s))
		require.Equal(http.StatusFound, rec.Code)
		u, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(err)
		assert.Equal("/auth", u.Path)
		state, err := e.a.states.Deserialize(u.Query().Get("state"))
		require.NoError(err)
		assert.Equal("/reports?year=2024", state.Next)
		assert.NotContains(rec.Body.String(), "secret")
	})

	t.Run("authenticated", func(t *testing.T) {
		t.Parallel()
		e, s, _ := testLoggedIn(t, testEnvOpts{})
		rec := httptest.NewRecorder()
		e.a.RequireLogin(testHandler("secret")).ServeHTTP(rec, testRequest(http.MethodGet, "/", s))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "secret", rec.Body.String())
	})

	t.Run("expired-refreshed", func(t *testing.T) {
		t.Parallel()
		e, s, _ := testLoggedIn(t, withRefreshToken("refresh-1"))
		e.clock.Advance(10 * time.Minute)
		rec := httptest.NewRecorder()
		e.a.RequireLogin(testHandler("secret")).ServeHTTP(rec, testRequest(http.MethodGet, "/", s))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, e.tp.TokenRequests())
	})

	t.Run("expired-not-refreshable", func(t *testing.T) {
		t.Parallel()
		e, s, _ := testLoggedIn(t, testEnvOpts{})
		e.clock.Advance(10 * time.Minute)
		rec := httptest.NewRecorder()
		e.a.RequireLogin(testHandler("secret")).ServeHTTP(rec, testRequest(http.MethodGet, "/", s))
		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("chained-policy", func(t *testing.T) {
		t.Parallel()
		e, s, _ := testLoggedIn(t, testEnvOpts{})
		h := Chain(testHandler("admin"), e.a.RequireLogin, e.a.RequireUser("bob"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, testRequest(http.MethodGet, "/admin", s))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		h = Chain(testHandler("admin"), e.a.RequireLogin, e.a.RequireUser("alice"), e.a.RequireAttribute("email", "alice@example.com"))
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, testRequest(http.MethodGet, "/admin", s))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuthenticator_SessionCookieFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	e := testNewEnv(t, testEnvOpts{})
	m, err := session.NewManager(e.store)
	require.NoError(err)
	callback, err := e.a.CallbackHandler()
	require.NoError(err)

	mux := http.NewServeMux()
	mux.Handle(e.a.CallbackPath(), callback)
	mux.Handle("/", e.a.RequireLogin(testHandler("home")))
	h := m.Middleware(mux)

	// an anonymous request is issued a session and sent to log in
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/home", nil))
	require.Equal(http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(cookies, 1)
	cookie := cookies[0]
	assert.Equal(session.DefaultCookieName, cookie.Name)

	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(err)
	q := url.Values{"state": {u.Query().Get("state")}, "code": {testAuthCode}}

	req := httptest.NewRequest(http.MethodGet, e.a.CallbackPath()+"?"+q.Encode(), nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(http.StatusFound, rec.Code)
	assert.Equal("/home", rec.Header().Get("Location"))

	req = httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("home", rec.Body.String())
}
