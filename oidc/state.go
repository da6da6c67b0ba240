// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"
)

// StatePayload is the data carried through the provider by the oidc "state"
// parameter.  It is the only continuity between sending the user to the
// provider and receiving them back at the callback, so no server side state
// store is needed.
type StatePayload struct {
	// Next is where the user is sent once the login completes.
	Next string

	// Id uniquely identifies the login attempt.  Set by Serialize.
	Id string

	// IssuedAt is when the state was serialized.  Set by Serialize.
	IssuedAt time.Time
}

type stateClaims struct {
	Next string `json:"next,omitempty"`
}

// StateCodec signs and verifies StatePayloads.  The serialized form is a
// compact HS256 JWS, which is safe to use as a URL query parameter.  A
// StateCodec is safe for concurrent use.
type StateCodec struct {
	key    []byte
	signer jose.Signer
	ttl    time.Duration
	clock  clockwork.Clock
}

// NewStateCodec creates a StateCodec.  The key may be any length; it is
// reduced to 32 bytes with SHA-256.  When key is empty a random one is
// generated.
//
// Supported options:
//
//	WithStateTTL
//	WithClock
func NewStateCodec(key []byte, opt ...Option) (*StateCodec, error) {
	const op = "NewStateCodec"
	opts := getStateOpts(opt...)
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl not greater than zero: %w", op, ErrInvalidParameter)
	}
	if len(key) == 0 {
		var err error
		if key, err = uuid.GenerateRandomBytes(32); err != nil {
			return nil, fmt.Errorf("%s: unable to generate state key: %w", op, err)
		}
	}
	sum := sha256.Sum256(key)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: sum[:]},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create state signer: %w", op, err)
	}
	return &StateCodec{
		key:    sum[:],
		signer: signer,
		ttl:    opts.withTTL,
		clock:  opts.withClock,
	}, nil
}

// TTL returns how long a serialized state remains valid.
func (c *StateCodec) TTL() time.Duration { return c.ttl }

// Serialize stamps p with a new Id and the current time, then signs it.
func (c *StateCodec) Serialize(p StatePayload) (string, error) {
	const op = "StateCodec.Serialize"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state id: %w", op, err)
	}
	std := jwt.Claims{
		ID:       id,
		IssuedAt: jwt.NewNumericDate(c.clock.Now()),
	}
	raw, err := jwt.Signed(c.signer).
		Claims(std).
		Claims(stateClaims{Next: p.Next}).
		Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign state: %w", op, err)
	}
	return raw, nil
}

// Deserialize verifies s and returns its payload.  It returns ErrInvalidState
// when s is empty, malformed or its signature doesn't verify, and
// ErrExpiredState when s is older than the codec's TTL.
func (c *StateCodec) Deserialize(s string) (*StatePayload, error) {
	const op = "StateCodec.Deserialize"
	if s == "" {
		return nil, fmt.Errorf("%s: state is empty: %w", op, ErrInvalidState)
	}
	tok, err := jwt.ParseSigned(s, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse state: %w", op, ErrInvalidState)
	}
	var std jwt.Claims
	var custom stateClaims
	if err := tok.Claims(c.key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%s: state signature does not verify: %w", op, ErrInvalidState)
	}
	if std.IssuedAt == nil || std.ID == "" {
		return nil, fmt.Errorf("%s: state is missing required claims: %w", op, ErrInvalidState)
	}
	iat := std.IssuedAt.Time()
	if c.clock.Since(iat) > c.ttl {
		return nil, fmt.Errorf("%s: state issued at %s: %w", op, iat.UTC().Format(time.RFC3339), ErrExpiredState)
	}
	return &StatePayload{
		Next:     custom.Next,
		Id:       std.ID,
		IssuedAt: iat,
	}, nil
}

// stateOptions is the set of available options for StateCodec functions
type stateOptions struct {
	withTTL   time.Duration
	withClock clockwork.Clock
}

// stateDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func stateDefaults() stateOptions {
	return stateOptions{
		withTTL:   DefaultStateTTL,
		withClock: clockwork.NewRealClock(),
	}
}

// getStateOpts gets the state defaults and applies the opt overrides passed in
func getStateOpts(opt ...Option) stateOptions {
	opts := stateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
