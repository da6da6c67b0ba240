// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientId     = "test-client"
	testClientSecret = "test-secret"
	testRedirectUrl  = "https://example.com/oidc/authorized"
	testAuthCode     = "test-code"
)

func testStartProvider(t *testing.T) *TestProvider {
	t.Helper()
	tp := StartTestProvider(t, 0)
	tp.SetClientCreds(testClientId, testClientSecret)
	tp.SetExpectedAuthCode(testAuthCode)
	return tp
}

func testNewProvider(t *testing.T, tp *TestProvider, opt ...Option) *Provider {
	t.Helper()
	opts := append([]Option{WithProviderCA(tp.CACert())}, opt...)
	c, err := NewConfig(tp.Addr(), testClientId, testClientSecret, testRedirectUrl, opts...)
	require.NoError(t, err)
	p, err := NewProvider(c)
	require.NoError(t, err)
	t.Cleanup(p.Done)
	return p
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	t.Run("offline-access-advertised", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp := testStartProvider(t)
		p := testNewProvider(t, tp, WithLogoutIdP())
		assert.Equal([]string{"openid", "email", "profile", ScopeOfflineAccess}, p.Scopes())
		assert.Equal(tp.Addr()+"/logout", p.LogoutURL())
		assert.Equal(DefaultUserAttr, p.UserAttr())
		assert.NotNil(p.Logger())
		assert.NotNil(p.Clock())
	})

	t.Run("offline-access-not-advertised", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp := testStartProvider(t)
		tp.SetSupportedScopes("openid", "email")
		p := testNewProvider(t, tp, WithScopes("openid", "groups", "openid"))
		assert.Equal([]string{"openid", "groups"}, p.Scopes())
		assert.Empty(p.LogoutURL(), "LogoutIdP not set")
	})

	t.Run("offline-access-not-duplicated", func(t *testing.T) {
		t.Parallel()
		tp := testStartProvider(t)
		p := testNewProvider(t, tp, WithScopes("openid", ScopeOfflineAccess))
		assert.Equal(t, []string{"openid", ScopeOfflineAccess}, p.Scopes())
	})

	t.Run("no-end-session", func(t *testing.T) {
		t.Parallel()
		tp := testStartProvider(t)
		tp.DisableEndSession()
		p := testNewProvider(t, tp, WithLogoutIdP())
		assert.Empty(t, p.LogoutURL())
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, err := NewProvider(nil)
		assert.ErrorIs(err, ErrNilParameter)

		_, err = NewProvider(&Config{})
		assert.ErrorIs(err, ErrInvalidParameter)

		tp := testStartProvider(t)
		c, err := NewConfig(tp.Addr(), testClientId, testClientSecret, testRedirectUrl)
		require.NoError(t, err)
		_, err = NewProvider(c)
		assert.Error(err, "provider CA is required for the test provider's TLS cert")
	})

	t.Run("with-verifier", func(t *testing.T) {
		t.Parallel()
		tp := testStartProvider(t)
		c, err := NewConfig(tp.Addr(), testClientId, testClientSecret, testRedirectUrl, WithProviderCA(tp.CACert()))
		require.NoError(t, err)
		v := &KeySetVerifier{}
		p, err := NewProvider(c, WithVerifier(v))
		require.NoError(t, err)
		defer p.Done()
		assert.Same(t, v, p.Verifier())
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	tp := testStartProvider(t)
	p := testNewProvider(t, tp)
	ctx := context.Background()

	tests := []struct {
		name       string
		state      string
		opt        []Option
		wantParams map[string]string
		absent     []string
		wantErr    error
	}{
		{
			name:  "defaults",
			state: "state-value",
			wantParams: map[string]string{
				"client_id":     testClientId,
				"response_type": "code",
				"response_mode": "query",
				"redirect_uri":  testRedirectUrl,
				"scope":         "openid email profile offline_access",
				"state":         "state-value",
			},
			absent: []string{"login_hint", "domain_hint", "prompt"},
		},
		{
			name:  "hints",
			state: "state-value",
			opt:   []Option{WithScopes("openid", "api://x/read"), WithLoginHint("alice@example.com"), WithDomainHint("example.com"), WithPrompt("login")},
			wantParams: map[string]string{
				"scope":       "openid api://x/read",
				"login_hint":  "alice@example.com",
				"domain_hint": "example.com",
				"prompt":      "login",
			},
		},
		{
			name:    "empty-state",
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := p.AuthURL(ctx, tt.state, tt.opt...)
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal(tp.Addr()+"/auth", u.Scheme+"://"+u.Host+u.Path)
			q := u.Query()
			for k, v := range tt.wantParams {
				assert.Equal(v, q.Get(k), k)
			}
			for _, k := range tt.absent {
				assert.NotContains(q, k)
			}
		})
	}
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		p := testNewProvider(t, tp)

		ts, claims, err := p.Exchange(context.Background(), testAuthCode)
		require.NoError(err)
		assert.NotEmpty(ts.AccessToken)
		assert.Equal(RefreshToken("refresh-1"), ts.RefreshToken)
		assert.NotEmpty(ts.IdToken)
		exp, ok := claims.Expiry()
		require.True(ok)
		assert.True(exp.Equal(ts.Expiry), "expiry comes from the id_token")
		email, _ := claims.String("email")
		assert.Equal("alice@example.com", email)

		form := tp.LastTokenRequest()
		assert.Equal("authorization_code", form.Get("grant_type"))
		assert.Equal(testRedirectUrl, form.Get("redirect_uri"))
		assert.Equal(testClientId, form.Get("client_id"))
		assert.Equal(testClientSecret, form.Get("client_secret"))
	})

	t.Run("failures", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name     string
			setup    func(tp *TestProvider)
			code     string
			wantErr  error
			wantCall int
		}{
			{name: "empty-code", wantErr: ErrTokenExchange},
			{name: "rejected-code", code: "wrong", wantErr: ErrTokenExchange, wantCall: 1},
			{
				name:     "server-error",
				code:     testAuthCode,
				setup:    func(tp *TestProvider) { tp.SetTokenError(http.StatusInternalServerError, "server_error", "down") },
				wantErr:  ErrTokenExchange,
				wantCall: 1,
			},
			{name: "no-id-token", code: testAuthCode, setup: func(tp *TestProvider) { tp.OmitIDTokens() }, wantErr: ErrMissingIdToken, wantCall: 1},
			{name: "wrong-audience", code: testAuthCode, setup: func(tp *TestProvider) { tp.SetCustomAudience("other") }, wantErr: ErrInvalidAudience, wantCall: 1},
			{name: "expired-id-token", code: testAuthCode, setup: func(tp *TestProvider) { tp.SetIdTokenTTL(-time.Minute) }, wantErr: ErrExpiredToken, wantCall: 1},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				assert := assert.New(t)
				tp := testStartProvider(t)
				if tt.setup != nil {
					tt.setup(tp)
				}
				p := testNewProvider(t, tp)
				ts, claims, err := p.Exchange(context.Background(), tt.code)
				assert.ErrorIs(err, tt.wantErr)
				if tt.wantErr != ErrTokenExchange {
					assert.ErrorIs(err, ErrIdTokenVerificationFailed)
				}
				assert.Nil(ts)
				assert.Nil(claims)
				assert.Equal(tt.wantCall, tp.TokenRequests())
				assert.NotContains(err.Error(), "access-token-")
			})
		}
	})
}

func TestProvider_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("carries-refresh-token-forward", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		p := testNewProvider(t, tp)

		ts, err := p.Refresh(context.Background(), "refresh-1")
		require.NoError(err)
		assert.Equal(RefreshToken("refresh-1"), ts.RefreshToken)
		assert.NotEmpty(ts.IdToken)
		assert.False(ts.Expiry.IsZero())

		form := tp.LastTokenRequest()
		assert.Equal("refresh_token", form.Get("grant_type"))
		assert.Equal("refresh-1", form.Get("refresh_token"))
		assert.Empty(form.Get("scope"))
	})

	t.Run("rotation-and-scope", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		tp.RotateRefreshTokens()
		p := testNewProvider(t, tp)

		ts, err := p.Refresh(context.Background(), "refresh-1", WithScopes("api://x/read", "openid"))
		require.NoError(err)
		assert.Equal(RefreshToken(tp.RefreshToken()), ts.RefreshToken)
		assert.NotEqual(RefreshToken("refresh-1"), ts.RefreshToken)
		assert.Equal("api://x/read openid", tp.LastTokenRequest().Get("scope"))
		assert.Equal("api://x/read openid", ts.Scope)
	})

	t.Run("expiry-from-expires-in-without-id-token", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		tp.OmitIDTokens()
		p := testNewProvider(t, tp)

		before := time.Now()
		ts, err := p.Refresh(context.Background(), "refresh-1")
		require.NoError(err)
		assert.Empty(ts.IdToken)
		assert.True(ts.Expiry.After(before))
	})

	t.Run("failures", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		p := testNewProvider(t, tp)

		_, err := p.Refresh(context.Background(), "")
		assert.ErrorIs(err, ErrInvalidParameter)

		_, err = p.Refresh(context.Background(), "revoked")
		assert.ErrorIs(err, ErrRefreshFailed)
		assert.True(strings.Contains(err.Error(), "invalid_grant"))
	})

	t.Run("verifies-signature-by-default", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		tp.SetCustomAudience("someone-else")
		p := testNewProvider(t, tp)

		_, err := p.Refresh(context.Background(), "refresh-1")
		assert.ErrorIs(err, ErrRefreshFailed)
		assert.ErrorIs(err, ErrInvalidAudience)

		// skipping the signature check still enforces the audience
		_, err = p.Refresh(context.Background(), "refresh-1", WithInsecureSkipSignatureCheck())
		assert.ErrorIs(err, ErrInvalidAudience)

		tp.SetCustomAudience("")
		ts, err := p.Refresh(context.Background(), "refresh-1", WithInsecureSkipSignatureCheck())
		require.NoError(err)
		assert.NotEmpty(ts.AccessToken)
	})

	t.Run("expired-refreshed-id-token-is-accepted", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		clock := clockwork.NewFakeClockAt(time.Now().Add(-time.Hour))
		tp := testStartProvider(t)
		tp.SetRefreshToken("refresh-1")
		tp.SetClock(clock)
		p := testNewProvider(t, tp)

		ts, err := p.Refresh(context.Background(), "refresh-1")
		require.NoError(err)
		assert.True(ts.Expired(time.Now()))
	})
}
