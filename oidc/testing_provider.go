// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// TestProvider is local server that supports test provider capabilities which
// make writing tests much easier.  It serves discovery, the authorization
// endpoint, the token endpoint (authorization_code and refresh_token grants),
// a JWKS and an end_session endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	idTokenTTL          time.Duration
	refreshToken        string
	rotateRefreshTokens bool
	supportedScopes     []string
	disableEndSession   bool
	tokenErr            *testTokenError
	clock               clockwork.Clock

	tokenRequests    int
	lastTokenRequest url.Values
	issued           int

	ecdsaPublicKey  string
	ecdsaPrivateKey string
}

type testTokenError struct {
	status int
	code   string
	desc   string
}

// StartTestProvider creates a disposable TestProvider, which is stopped
// when the test completes.  A port of zero picks a free port.
func StartTestProvider(t *testing.T, port int) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		allowedRedirectURIs: []string{
			"https://example.com/oidc/authorized",
		},
		replySubject: "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		customClaims: map[string]interface{}{
			"email": "alice@example.com",
			"name":  "Alice Doe-Smith",
		},
		idTokenTTL:      5 * time.Minute,
		supportedScopes: []string{"openid", "email", "profile", ScopeOfflineAccess},
		clock:           clockwork.NewRealClock(),
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptestNewUnstartedServerWithPort(t, p, port)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of
// "https://example.com/oidc/authorized" is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims replaces the non-registered claims returned in id_tokens.
// By default they are an "email" and a "name".
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the JWT issued
// by the OIDC workflow.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// OmitIDTokens forces an error state where the /token endpoint does not return
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// SetIdTokenTTL sets how long issued id_tokens (and access tokens) are valid.
// A negative TTL issues tokens that have already expired.
func (p *TestProvider) SetIdTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenTTL = d
}

// SetRefreshToken sets the refresh_token returned with the authorization_code
// grant and accepted by the refresh_token grant.  When empty, which is the
// default, no refresh_token is issued.
func (p *TestProvider) SetRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshToken = rt
}

// RotateRefreshTokens makes the refresh_token grant issue a new refresh_token
// each time, invalidating the previous one.  Otherwise refresh responses
// don't include one.
func (p *TestProvider) RotateRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = true
}

// RefreshToken returns the refresh_token currently accepted.
func (p *TestProvider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshToken
}

// SetSupportedScopes sets the scopes_supported advertised by discovery.
func (p *TestProvider) SetSupportedScopes(scopes ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.supportedScopes = scopes
}

// DisableEndSession omits the end_session_endpoint from discovery.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// SetTokenError makes every /token request fail with the given status and
// oauth2 error code.  An empty code clears the error.
func (p *TestProvider) SetTokenError(status int, code, desc string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code == "" {
		p.tokenErr = nil
		return
	}
	p.tokenErr = &testTokenError{status: status, code: code, desc: desc}
}

// SetClock sets the clock used for the iat, nbf and exp of issued tokens.
func (p *TestProvider) SetClock(c clockwork.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = c
}

// TokenRequests returns how many requests /token has received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastTokenRequest returns the form of the last /token request.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// IssueIdToken signs an id_token for this provider's issuer and client using
// the current claims configuration.  The caller's claims are merged over the
// custom claims.
func (p *TestProvider) IssueIdToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := p.signIdToken(claims)
	require.NoError(t, err)
	return raw
}

func (p *TestProvider) signIdToken(extra map[string]interface{}) (string, error) {
	now := p.clock.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.idTokenTTL)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	private := make(map[string]interface{}, len(p.customClaims)+len(extra))
	for k, v := range p.customClaims {
		private[k] = v
	}
	for k, v := range extra {
		private[k] = v
	}
	return signES256(p.ecdsaPrivateKey, stdClaims, private)
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			EndSessionEndpoint string   `json:"end_session_endpoint,omitempty"`
			ScopesSupported    []string `json:"scopes_supported,omitempty"`
			SigningAlgs        []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/auth",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/certs",
			EndSessionEndpoint: p.Addr() + "/logout",
			ScopesSupported:    p.supportedScopes,
			SigningAlgs:        []string{string(ES256)},
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		case qv.Get("redirect_uri") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
		default:
			redirectURI := qv.Get("redirect_uri") +
				"?state=" + url.QueryEscape(qv.Get("state")) +
				"&code=" + url.QueryEscape(p.expectedAuthCode)
			http.Redirect(w, req, redirectURI, http.StatusFound)
		}

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/logout":
		w.WriteHeader(http.StatusOK)

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "unable to parse form")
			return
		}
		p.tokenRequests++
		p.lastTokenRequest = req.PostForm

		if p.tokenErr != nil {
			_ = p.writeTokenErrorResponse(w, p.tokenErr.status, p.tokenErr.code, p.tokenErr.desc)
			return
		}
		if req.PostForm.Get("client_id") != p.clientID || req.PostForm.Get("client_secret") != p.clientSecret {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
			return
		}

		var refreshToken string
		switch req.PostForm.Get("grant_type") {
		case "authorization_code":
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.PostForm.Get("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case p.expectedAuthCode == "" || req.PostForm.Get("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			}
			refreshToken = p.refreshToken
		case "refresh_token":
			if p.refreshToken == "" || req.PostForm.Get("refresh_token") != p.refreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh token")
				return
			}
			if p.rotateRefreshTokens {
				p.refreshToken = fmt.Sprintf("%s-%d", p.refreshToken, p.issued+1)
				refreshToken = p.refreshToken
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}

		p.issued++
		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
			Scope        string `json:"scope,omitempty"`
		}{
			AccessToken:  "access-token-" + strconv.Itoa(p.issued),
			TokenType:    "Bearer",
			ExpiresIn:    int64(p.idTokenTTL / time.Second),
			RefreshToken: refreshToken,
			Scope:        req.PostForm.Get("scope"),
		}
		if !p.omitIDToken {
			idToken, err := p.signIdToken(nil)
			if err != nil {
				_ = p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
				return
			}
			reply.IDToken = idToken
		}
		_ = p.writeJSON(w, &reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}
