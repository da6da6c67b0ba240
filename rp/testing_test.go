// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hashicorp/cap-rp/oidc"
	"github.com/hashicorp/cap-rp/session"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	testClientId     = "test-client"
	testClientSecret = "test-secret"
	testRedirectUrl  = "https://example.com/oidc/authorized"
	testAuthCode     = "test-code"
)

// testEnv is an Authenticator wired to a running TestProvider.  Every clock
// involved is the same fake clock, starting at the current time.
type testEnv struct {
	tp    *oidc.TestProvider
	p     *oidc.Provider
	a     *Authenticator
	clock clockwork.FakeClock
	store *session.MemoryStore
}

type testEnvOpts struct {
	configOpts []oidc.Option
	rpOpts     []Option
	setup      func(tp *oidc.TestProvider)
}

func testNewEnv(t *testing.T, o testEnvOpts) *testEnv {
	t.Helper()
	require := require.New(t)
	clock := clockwork.NewFakeClockAt(time.Now())

	tp := oidc.StartTestProvider(t, 0)
	tp.SetClientCreds(testClientId, testClientSecret)
	tp.SetExpectedAuthCode(testAuthCode)
	tp.SetAllowedRedirectURIs([]string{testRedirectUrl})
	tp.SetClock(clock)
	if o.setup != nil {
		o.setup(tp)
	}

	configOpts := append([]oidc.Option{
		oidc.WithProviderCA(tp.CACert()),
		oidc.WithClock(clock),
		oidc.WithLogger(hclog.NewNullLogger()),
	}, o.configOpts...)
	c, err := oidc.NewConfig(tp.Addr(), testClientId, testClientSecret, testRedirectUrl, configOpts...)
	require.NoError(err)
	p, err := oidc.NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)

	a, err := New(p, o.rpOpts...)
	require.NoError(err)

	return &testEnv{
		tp:    tp,
		p:     p,
		a:     a,
		clock: clock,
		store: session.NewMemoryStore(),
	}
}

// testSession creates an empty session in the env's store.
func (e *testEnv) testSession(t *testing.T) session.Session {
	t.Helper()
	return testNewSession(t, e.store)
}

func testNewSession(t *testing.T, store session.Store) session.Session {
	t.Helper()
	id, err := uuid.GenerateUUID()
	require.NoError(t, err)
	s, err := session.New(id, store, 0)
	require.NoError(t, err)
	return s
}

// testRequest creates a request carrying s in its context.
func testRequest(method, target string, s session.Session) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if s != nil {
		req = req.WithContext(session.NewContext(req.Context(), s))
	}
	return req
}

// testLogin logs in through the env's provider, returning the callback's
// response.
func (e *testEnv) testLogin(t *testing.T, s session.Session, next string) *httptest.ResponseRecorder {
	t.Helper()
	require := require.New(t)
	ctx := session.NewContext(context.Background(), s)

	authURL, err := e.a.LoginURL(ctx, nil, WithNext(next))
	require.NoError(err)
	u, err := url.Parse(authURL)
	require.NoError(err)

	q := url.Values{}
	q.Set("state", u.Query().Get("state"))
	q.Set("code", testAuthCode)
	h, err := e.a.CallbackHandler()
	require.NoError(err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, testRequest(http.MethodGet, testRedirectUrl+"?"+q.Encode(), s))
	return rec
}

func testHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}
