// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	sdkHttp "github.com/hashicorp/cap-rp/sdk/http"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultUserAttr is the id_token claim used as the username when none
	// is configured.
	DefaultUserAttr = "email"

	// DefaultStateTTL is how long a login attempt may stay outstanding.
	DefaultStateTTL = 60 * time.Second

	// DefaultTimeout bounds every request made to the provider.
	DefaultTimeout = 4 * time.Second

	// ScopeOfflineAccess is requested in addition to the configured scopes
	// when the provider advertises it, which is how some providers (Azure
	// AD) decide to issue refresh tokens.
	ScopeOfflineAccess = "offline_access"
)

// DefaultScopes are requested when the Config has no Scopes.
var DefaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// Config represents the configuration for an OIDC relying party using the
// authorization code flow.
type Config struct {
	// ClientId is the relying party id.
	ClientId string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Scopes is the list of scopes to request of the provider.  When empty,
	// DefaultScopes are used.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.  The provider's discovery
	// document is read from Issuer + "/.well-known/openid-configuration".
	Issuer string

	// RedirectUrl is the absolute URL of the relying party's callback
	// endpoint.  It's sent with both the authorization request and the code
	// exchange, so it must match exactly what is registered with the
	// provider.
	RedirectUrl string

	// UserAttr is the id_token claim used as the username.
	UserAttr string

	// SupportedSigningAlgs is a list of supported signing algorithms. When
	// empty, the algorithms advertised by the provider are accepted.
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings, one of which
	// must be in the id_token's "aud" claim, in addition to the ClientId.
	Audiences []string

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// Timeout bounds every request made to the provider.
	Timeout time.Duration

	// StateKey signs the oidc "state" parameter.  When empty a random key is
	// generated, which means outstanding logins will not survive a restart
	// and are not portable between replicas.
	StateKey []byte

	// StateTTL is how long a login attempt may remain outstanding.
	StateTTL time.Duration

	// LogoutIdP will send users to the provider's end_session_endpoint on
	// logout, when the provider advertises one.
	LogoutIdP bool

	// Logger is an optional logger.
	Logger hclog.Logger

	// Clock is used for every time comparison.
	Clock clockwork.Clock
}

// NewConfig composes a new config for a relying party.
//
// Supported options:
//
//	WithScopes
//	WithUserAttr
//	WithAudiences
//	WithSupportedSigningAlgs
//	WithProviderCA
//	WithTimeout
//	WithStateKey
//	WithStateTTL
//	WithLogoutIdP
//	WithLogger
//	WithClock
func NewConfig(issuer string, clientId string, clientSecret ClientSecret, redirectUrl string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientId:             clientId,
		ClientSecret:         clientSecret,
		RedirectUrl:          redirectUrl,
		Scopes:               opts.withScopes,
		UserAttr:             opts.withUserAttr,
		Audiences:            opts.withAudiences,
		SupportedSigningAlgs: opts.withSupportedAlgs,
		ProviderCA:           opts.withProviderCA,
		Timeout:              opts.withTimeout,
		StateKey:             opts.withStateKey,
		StateTTL:             opts.withStateTTL,
		LogoutIdP:            opts.withLogoutIdP,
		Logger:               opts.withLogger,
		Clock:                opts.withClock,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable via
// an http request.  Every violation is reported, not just the first.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	invalid := func(format string, a ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format+": %w", append(a, ErrInvalidParameter)...))
	}
	if c.ClientId == "" {
		invalid("client id is empty")
	}
	if c.ClientSecret == "" {
		invalid("client secret is empty")
	}
	switch {
	case c.Issuer == "":
		invalid("issuer is empty")
	default:
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("issuer %s is invalid: %w", c.Issuer, ErrInvalidIssuer))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			result = multierror.Append(result, fmt.Errorf("issuer %s scheme is not http or https: %w", c.Issuer, ErrInvalidIssuer))
		}
	}
	switch {
	case c.RedirectUrl == "":
		invalid("redirect URL is empty")
	default:
		u, err := url.Parse(c.RedirectUrl)
		if err != nil || !u.IsAbs() {
			invalid("redirect URL %s is not an absolute URL", c.RedirectUrl)
		}
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			invalid("unsupported algorithm %s", a)
		}
	}
	if c.Timeout < 0 {
		invalid("timeout is negative")
	}
	if c.StateTTL < 0 {
		invalid("state TTL is negative")
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// scopes returns the configured scopes or the defaults.
func (c *Config) scopes() []string {
	if len(c.Scopes) == 0 {
		return append([]string{}, DefaultScopes...)
	}
	return append([]string{}, c.Scopes...)
}

func (c *Config) userAttr() string {
	if c.UserAttr == "" {
		return DefaultUserAttr
	}
	return c.UserAttr
}

func (c *Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Config) stateTTL() time.Duration {
	if c.StateTTL == 0 {
		return DefaultStateTTL
	}
	return c.StateTTL
}

func (c *Config) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

func (c *Config) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}

// HttpClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA, c.timeout())
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.OidcClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes        []string
	withUserAttr      string
	withAudiences     []string
	withSupportedAlgs []Alg
	withProviderCA    string
	withTimeout       time.Duration
	withStateKey      []byte
	withStateTTL      time.Duration
	withLogoutIdP     bool
	withLogger        hclog.Logger
	withClock         clockwork.Clock
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withUserAttr: DefaultUserAttr,
		withTimeout:  DefaultTimeout,
		withStateTTL: DefaultStateTTL,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUserAttr provides an optional id_token claim to use as the username.
func WithUserAttr(claim string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok && claim != "" {
			o.withUserAttr = claim
		}
	}
}

// WithAudiences provides an optional list of audiences for the provider's
// config.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithSupportedSigningAlgs provides an optional list of accepted id_token
// signing algorithms.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedAlgs = algs
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithTimeout provides an optional timeout for requests to the provider.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithStateKey provides an optional key used to sign the oidc "state".
func WithStateKey(key []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withStateKey = key
		}
	}
}

// WithStateTTL provides an optional TTL for outstanding login attempts.
func WithStateTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withStateTTL = d
		case *stateOptions:
			v.withTTL = d
		}
	}
}

// WithLogoutIdP sends users to the provider's end_session_endpoint on logout.
func WithLogoutIdP() Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withLogoutIdP = true
		}
	}
}
