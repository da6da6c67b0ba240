// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// IdToken is an oidc id_token.
// See https://openid.net/specs/openid-connect-core-1_0.html#IDToken.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims WITHOUT verifying the signature.  It
// only fails when the token is structurally malformed.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token
// without verifying the signature.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "UnmarshalClaims"
	algs := append(joseAlgs(nil), jose.HS256, jose.HS384, jose.HS512)
	tok, err := jwt.ParseSigned(rawToken, algs)
	if err != nil {
		return fmt.Errorf("%s: unable to parse JWT: %w", op, ErrMalformedToken)
	}
	if err := tok.UnsafeClaimsWithoutVerification(claims); err != nil {
		return fmt.Errorf("%s: unable to decode JWT payload: %w", op, ErrMalformedToken)
	}
	return nil
}
