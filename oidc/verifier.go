// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/cap-rp/jwt"
	"github.com/hashicorp/cap-rp/oidc/internal/strutils"
	"github.com/jonboulle/clockwork"
)

// IdentityVerifier decodes an id_token into its claims.  Unless
// WithInsecureSkipSignatureCheck is used the token's signature is verified.
//
// Implementations must return an error wrapping ErrMalformedToken when the
// token isn't structurally a JWT, and an error wrapping
// ErrIdTokenVerificationFailed (along with one of ErrInvalidSignature,
// ErrInvalidAudience or ErrExpiredToken when that's the cause) when a check
// fails.
//
// Supported options:
//
//	WithAudience
//	WithInsecureSkipSignatureCheck
//	WithSkipExpiryCheck
type IdentityVerifier interface {
	Decode(ctx context.Context, t IdToken, opt ...Option) (Claims, error)
}

// discoveryVerifier verifies id_tokens with the keys published by a
// discovered provider.
type discoveryVerifier struct {
	provider  *oidc.Provider
	algs      []Alg
	audiences []string
	clock     clockwork.Clock
}

var _ IdentityVerifier = (*discoveryVerifier)(nil)

// Decode implements IdentityVerifier.  The issuer is always checked against
// the discovered issuer.
func (v *discoveryVerifier) Decode(ctx context.Context, t IdToken, opt ...Option) (Claims, error) {
	const op = "Verifier.Decode"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDecodeOpts(opt...)
	if _, err := jose.ParseSigned(string(t), joseAlgs(nil)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}
	algs := make([]string, 0, len(v.algs))
	for _, a := range v.algs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SkipClientIDCheck:          true,
		SupportedSigningAlgs:       algs,
		SkipExpiryCheck:            opts.withSkipExpiry,
		InsecureSkipSignatureCheck: opts.withSkipSignature,
		Now:                        v.clock.Now,
	}
	idToken, err := v.provider.Verifier(oidcConfig).Verify(ctx, string(t))
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, ErrExpiredToken)
		}
		return nil, fmt.Errorf("%s: %w: %w: %s", op, ErrIdTokenVerificationFailed, ErrInvalidSignature, err)
	}
	if err := checkAudiences(idToken.Audience, opts.withAudience, v.audiences); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode claims: %w", op, ErrMalformedToken)
	}
	return claims, nil
}

// KeySetVerifier verifies id_tokens with a jwt.KeySet, for deployments that
// pin the provider's keys or fetch them from a JWKS URL other than the one
// discovered.
type KeySetVerifier struct {
	keySet    jwt.KeySet
	issuer    string
	audiences []string
	clock     clockwork.Clock
}

var _ IdentityVerifier = (*KeySetVerifier)(nil)

// NewKeySetVerifier creates a KeySetVerifier.  When issuer is not empty, the
// "iss" claim must equal it.
//
// Supported options:
//
//	WithClock
//	WithVerifierAudiences
func NewKeySetVerifier(ks jwt.KeySet, issuer string, opt ...Option) (*KeySetVerifier, error) {
	const op = "NewKeySetVerifier"
	if ks == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	opts := getVerifierOpts(opt...)
	return &KeySetVerifier{
		keySet:    ks,
		issuer:    issuer,
		audiences: opts.withAudiences,
		clock:     opts.withClock,
	}, nil
}

// Decode implements IdentityVerifier.
func (v *KeySetVerifier) Decode(ctx context.Context, t IdToken, opt ...Option) (Claims, error) {
	const op = "KeySetVerifier.Decode"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getDecodeOpts(opt...)

	var claims Claims
	switch {
	case opts.withSkipSignature:
		if err := t.Claims(&claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	default:
		raw, err := v.keySet.VerifySignature(ctx, string(t))
		switch {
		case errors.Is(err, jwt.ErrMalformed):
			return nil, fmt.Errorf("%s: %w", op, ErrMalformedToken)
		case err != nil:
			return nil, fmt.Errorf("%s: %w: %w: %s", op, ErrIdTokenVerificationFailed, ErrInvalidSignature, err)
		}
		claims = raw
	}

	if v.issuer != "" {
		if iss, _ := claims.String("iss"); iss != v.issuer {
			return nil, fmt.Errorf("%s: issuer %q does not match %q: %w", op, iss, v.issuer, ErrIdTokenVerificationFailed)
		}
	}
	if !opts.withSkipExpiry {
		exp, ok := claims.Expiry()
		if !ok {
			return nil, fmt.Errorf("%s: exp claim is missing: %w: %w", op, ErrIdTokenVerificationFailed, ErrMissingExpiry)
		}
		if !v.clock.Now().Before(exp) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrIdTokenVerificationFailed, ErrExpiredToken)
		}
	}
	if err := checkAudiences(claims.Audience(), opts.withAudience, v.audiences); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// checkAudiences requires required (when set) to be in got, and at least one
// of anyOf (when set) to be in got.
func checkAudiences(got []string, required string, anyOf []string) error {
	if required != "" && !strutils.StrListContains(got, required) {
		return fmt.Errorf("audience %q not in %q: %w: %w", required, got, ErrIdTokenVerificationFailed, ErrInvalidAudience)
	}
	if len(anyOf) == 0 {
		return nil
	}
	for _, a := range anyOf {
		if strutils.StrListContains(got, a) {
			return nil
		}
	}
	return fmt.Errorf("none of %q in %q: %w: %w", anyOf, got, ErrIdTokenVerificationFailed, ErrInvalidAudience)
}

// decodeOptions is the set of available options for IdentityVerifier.Decode
type decodeOptions struct {
	withAudience      string
	withSkipSignature bool
	withSkipExpiry    bool
}

func getDecodeOpts(opt ...Option) decodeOptions {
	opts := decodeOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// verifierOptions is the set of available options for NewKeySetVerifier
type verifierOptions struct {
	withAudiences []string
	withClock     clockwork.Clock
}

func verifierDefaults() verifierOptions {
	return verifierOptions{
		withClock: clockwork.NewRealClock(),
	}
}

func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVerifierAudiences requires at least one of auds in the "aud" claim of
// every token a KeySetVerifier decodes.
func WithVerifierAudiences(auds ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifierOptions); ok {
			v.withAudiences = auds
		}
	}
}
