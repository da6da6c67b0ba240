// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider provides integration with a provider using the typical
// 3-legged OIDC authorization code flow.
type Provider struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	verifier IdentityVerifier
	logger   hclog.Logger
	clock    clockwork.Clock

	// scopes requested at login, resolved once from the config and the
	// provider's scopes_supported.
	scopes []string

	// logoutURL is the provider's end_session_endpoint, when Config.LogoutIdP
	// is set and the provider advertises one.
	logoutURL string

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like: refreshing JWKs key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// discoveryClaims are the parts of the provider's discovery document that
// go-oidc doesn't surface directly.
type discoveryClaims struct {
	ScopesSupported    []string `json:"scopes_supported"`
	EndSessionEndpoint string   `json:"end_session_endpoint"`
}

// NewProvider creates and initializes a Provider.  Initializing the provider
// includes making an http request to the provider's issuer for its discovery
// document, which is the only time scopes_supported is consulted.
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options:
//
//	WithVerifier
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with it's background ctx/cancel will
	// allow us to use p.Done() to release any resources when returning errors
	// from this function.
	p := &Provider{
		config:              c,
		logger:              c.logger(),
		clock:               c.clock(),
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HttpClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	p.client = client

	provider, err := oidc.NewProvider(HttpClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	var disc discoveryClaims
	if err := provider.Claims(&disc); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}

	p.scopes = c.scopes()
	if strutils.StrListContains(disc.ScopesSupported, ScopeOfflineAccess) {
		p.scopes = append(p.scopes, ScopeOfflineAccess)
	}
	p.scopes = strutils.RemoveDuplicatesStable(p.scopes, false)

	if c.LogoutIdP {
		switch disc.EndSessionEndpoint {
		case "":
			p.logger.Warn("provider does not advertise an end_session_endpoint, logout will be local only", "issuer", c.Issuer)
		default:
			p.logoutURL = disc.EndSessionEndpoint
		}
	}

	switch {
	case opts.withVerifier != nil:
		p.verifier = opts.withVerifier
	default:
		p.verifier = &discoveryVerifier{
			provider:  provider,
			algs:      c.SupportedSigningAlgs,
			audiences: c.Audiences,
			clock:     p.clock,
		}
	}

	p.logger.Debug("provider discovered", "issuer", c.Issuer, "scopes", p.scopes)
	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created.
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns a copy of the provider's config.
func (p *Provider) Config() Config { return *p.config }

// Scopes returns the scopes requested at login by default.
func (p *Provider) Scopes() []string { return append([]string{}, p.scopes...) }

// LogoutURL returns the provider's end_session_endpoint, or "" when users
// should only be logged out locally.
func (p *Provider) LogoutURL() string { return p.logoutURL }

// Verifier returns the IdentityVerifier used for id_tokens.
func (p *Provider) Verifier() IdentityVerifier { return p.verifier }

// UserAttr returns the id_token claim used as the username.
func (p *Provider) UserAttr() string { return p.config.userAttr() }

// Logger returns the provider's logger.
func (p *Provider) Logger() hclog.Logger { return p.logger }

// Clock returns the provider's clock.
func (p *Provider) Clock() clockwork.Clock { return p.clock }

// NewStateCodec returns a StateCodec using the config's StateKey and
// StateTTL.
func (p *Provider) NewStateCodec() (*StateCodec, error) {
	const op = "Provider.NewStateCodec"
	sc, err := NewStateCodec(p.config.StateKey, WithStateTTL(p.config.stateTTL()), WithClock(p.clock))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sc, nil
}

// Endpoint returns the provider's authorization and token endpoints.
func (p *Provider) Endpoint() oauth2.Endpoint {
	ep := p.provider.Endpoint()
	ep.AuthStyle = oauth2.AuthStyleInParams
	return ep
}

func (p *Provider) oauth2Config(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientId,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectUrl,
		Endpoint:     p.Endpoint(),
		Scopes:       scopes,
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider.  The state is sent as is, so
// it should come from StateCodec.Serialize.
//
// Supported options:
//
//	WithScopes
//	WithLoginHint
//	WithDomainHint
//	WithPrompt
func (p *Provider) AuthURL(ctx context.Context, state string, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	opts := getAuthURLOpts(opt...)
	scopes := p.scopes
	if len(opts.withScopes) > 0 {
		scopes = opts.withScopes
	}
	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "query"),
	}
	if opts.withLoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.withLoginHint))
	}
	if opts.withDomainHint != "" {
		params = append(params, oauth2.SetAuthURLParam("domain_hint", opts.withDomainHint))
	}
	if opts.withPrompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", opts.withPrompt))
	}
	return p.oauth2Config(scopes).AuthCodeURL(state, params...), nil
}

// Exchange will request tokens from the token endpoint using the
// authorizationCode received at the callback.  The id_token is required and is
// verified (signature, issuer, expiry and an audience of the ClientId) before
// Exchange returns.
//
// Errors wrap ErrTokenExchange when the token endpoint refused the code or
// couldn't be reached, and ErrIdTokenVerificationFailed when the returned
// id_token is missing or doesn't verify.
func (p *Provider) Exchange(ctx context.Context, authorizationCode string) (*TokenSet, Claims, error) {
	const op = "Provider.Exchange"
	if authorizationCode == "" {
		return nil, nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrTokenExchange)
	}
	oidcCtx := HttpClientContext(ctx, p.client)

	p.logger.Debug("exchanging code for tokens", "code", TruncateSecret(authorizationCode))
	oauth2Token, err := p.oauth2Config(p.scopes).Exchange(oidcCtx, authorizationCode)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w: %s", op, ErrTokenExchange, describeTokenError(err))
	}

	rawIdToken, _ := oauth2Token.Extra("id_token").(string)
	if rawIdToken == "" {
		return nil, nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, ErrMissingIdToken)
	}
	claims, err := p.verifier.Decode(ctx, IdToken(rawIdToken), WithAudience(p.config.ClientId))
	if err != nil {
		if !errors.Is(err, ErrIdTokenVerificationFailed) {
			err = fmt.Errorf("%w: %w", ErrIdTokenVerificationFailed, err)
		}
		return nil, nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	t, err := newTokenSet(oauth2Token, IdToken(rawIdToken), claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, claims, nil
}

// Refresh exchanges a refresh_token for a new TokenSet.  When the response
// includes an id_token it's decoded to compute the new expiry; its signature
// and audience are verified unless WithInsecureSkipSignatureCheck is used.
// When the provider doesn't rotate the refresh_token, the one passed in is
// carried forward.
//
// Supported options:
//
//	WithScopes
//	WithInsecureSkipSignatureCheck
func (p *Provider) Refresh(ctx context.Context, rt RefreshToken, opt ...Option) (*TokenSet, error) {
	const op = "Provider.Refresh"
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getRefreshOpts(opt...)
	oidcCtx := HttpClientContext(ctx, p.client)

	// clientcredentials honors a grant_type override, which lets it send the
	// optional scope parameter the oauth2 refresh token source can't.
	cc := &clientcredentials.Config{
		ClientID:     p.config.ClientId,
		ClientSecret: string(p.config.ClientSecret),
		TokenURL:     p.Endpoint().TokenURL,
		Scopes:       opts.withScopes,
		AuthStyle:    oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {string(rt)},
		},
	}
	oauth2Token, err := cc.Token(oidcCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrRefreshFailed, describeTokenError(err))
	}

	var claims Claims
	rawIdToken, _ := oauth2Token.Extra("id_token").(string)
	if rawIdToken != "" {
		decodeOpts := []Option{WithAudience(p.config.ClientId), WithSkipExpiryCheck()}
		if opts.withSkipSignature {
			decodeOpts = append(decodeOpts, WithInsecureSkipSignatureCheck())
		}
		if claims, err = p.verifier.Decode(ctx, IdToken(rawIdToken), decodeOpts...); err != nil {
			return nil, fmt.Errorf("%s: refreshed id_token failed verification: %w: %w", op, ErrRefreshFailed, err)
		}
	}
	t, err := newTokenSet(oauth2Token, IdToken(rawIdToken), claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = rt
	}
	return t, nil
}

// newTokenSet builds a TokenSet with its expiry taken from the id_token
// claims, falling back to the token response's expires_in.
func newTokenSet(t *oauth2.Token, id IdToken, claims Claims) (*TokenSet, error) {
	const op = "newTokenSet"
	ts := &TokenSet{
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		IdToken:      id,
		TokenType:    t.TokenType,
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	switch exp, ok := claims.Expiry(); {
	case ok:
		ts.Expiry = exp
	default:
		ts.Expiry = t.Expiry
	}
	if err := ts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// describeTokenError returns the provider's error code and description, when
// there are any, without the raw response body.
func describeTokenError(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
		}
		if re.Response != nil {
			return re.Response.Status
		}
	}
	return err.Error()
}

// providerOptions is the set of available options for NewProvider
type providerOptions struct {
	withVerifier IdentityVerifier
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVerifier replaces the discovery based IdentityVerifier used by a
// Provider.
func WithVerifier(v IdentityVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok {
			o.withVerifier = v
		}
	}
}

// authURLOptions is the set of available options for Provider.AuthURL
type authURLOptions struct {
	withScopes     []string
	withLoginHint  string
	withDomainHint string
	withPrompt     string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLoginHint sends the login_hint parameter with the authorization request.
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithDomainHint sends the domain_hint parameter (an Azure AD extension) with
// the authorization request.
func WithDomainHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withDomainHint = hint
		}
	}
}

// WithPrompt sends the prompt parameter with the authorization request.
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authURLOptions); ok {
			o.withPrompt = prompt
		}
	}
}

// refreshOptions is the set of available options for Provider.Refresh
type refreshOptions struct {
	withScopes        []string
	withSkipSignature bool
}

func getRefreshOpts(opt ...Option) refreshOptions {
	opts := refreshOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
