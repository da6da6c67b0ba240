// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenSet is the result of a token endpoint request: an access_token and,
// depending on the grant and provider, a refresh_token and id_token.
//
// Expiry is computed from the id_token's "exp" claim, falling back to the
// token response's "expires_in" only when there's no id_token.  A TokenSet
// without an Expiry is invalid and must not be persisted.
type TokenSet struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IdToken      IdToken
	TokenType    string
	Scope        string
	Expiry       time.Time
}

// tokenSetJSON is the persisted form of a TokenSet, which unlike the redacted
// token types, carries the secrets.
type tokenSetJSON struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IdToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Exp          int64  `json:"exp"`
}

// MarshalJSON produces the persisted form of the TokenSet, secrets included.
// Use String() when logging.
func (t TokenSet) MarshalJSON() ([]byte, error) {
	var exp int64
	if !t.Expiry.IsZero() {
		exp = t.Expiry.Unix()
	}
	return json.Marshal(tokenSetJSON{
		AccessToken:  string(t.AccessToken),
		RefreshToken: string(t.RefreshToken),
		IdToken:      string(t.IdToken),
		TokenType:    t.TokenType,
		Scope:        t.Scope,
		Exp:          exp,
	})
}

// UnmarshalJSON reads the persisted form of the TokenSet.
func (t *TokenSet) UnmarshalJSON(data []byte) error {
	var raw tokenSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = TokenSet{
		AccessToken:  AccessToken(raw.AccessToken),
		RefreshToken: RefreshToken(raw.RefreshToken),
		IdToken:      IdToken(raw.IdToken),
		TokenType:    raw.TokenType,
		Scope:        raw.Scope,
	}
	if raw.Exp != 0 {
		t.Expiry = time.Unix(raw.Exp, 0)
	}
	return nil
}

// String redacts every token.
func (t TokenSet) String() string {
	return fmt.Sprintf("TokenSet{AccessToken: %s, RefreshToken: %s, IdToken: %s, Expiry: %s}",
		t.AccessToken, t.RefreshToken, t.IdToken, t.Expiry.UTC().Format(time.RFC3339))
}

// Validate returns an error if the TokenSet can't be persisted.
func (t *TokenSet) Validate() error {
	const op = "TokenSet.Validate"
	switch {
	case t == nil:
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	case t.AccessToken == "":
		return fmt.Errorf("%s: access_token is empty: %w", op, ErrInvalidParameter)
	case t.Expiry.IsZero():
		return fmt.Errorf("%s: %w", op, ErrMissingExpiry)
	}
	return nil
}

// Expired reports whether the TokenSet's expiry has been reached at now.  A
// TokenSet without an expiry is always expired.
func (t *TokenSet) Expired(now time.Time) bool {
	if t == nil || t.Expiry.IsZero() {
		return true
	}
	return !now.Before(t.Expiry)
}

// Refreshable reports whether the TokenSet carries a refresh_token.
func (t *TokenSet) Refreshable() bool {
	return t != nil && t.RefreshToken != ""
}
