// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidIssuer    = errors.New("invalid issuer")

	// ErrProvider is returned when the provider answers the authorization
	// request with an "error" parameter.
	ErrProvider = errors.New("provider returned an authorization error")

	// ErrInvalidState and ErrExpiredState are returned when a "state"
	// parameter is missing, was tampered with, or is older than the
	// configured TTL. Both mean the authentication request was not
	// outstanding.
	ErrInvalidState = errors.New("state is invalid")
	ErrExpiredState = errors.New("state is expired")

	// ErrTokenExchange is returned when the token endpoint rejects an
	// authorization code (or cannot be reached).
	ErrTokenExchange = errors.New("token exchange failed")
	ErrRefreshFailed = errors.New("token refresh failed")

	ErrMissingIdToken            = errors.New("id_token is missing")
	ErrMissingExpiry             = errors.New("token expiry is missing")
	ErrMalformedToken            = errors.New("token is malformed")
	ErrIdTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidSignature          = errors.New("invalid signature")
	ErrInvalidAudience           = errors.New("invalid audience")
	ErrExpiredToken              = errors.New("token is expired")

	// ErrLoginHook is returned when a LoginHook fails during login.
	ErrLoginHook = errors.New("login hook failed")

	// ErrUnauthorized is returned when an authenticated user fails a policy.
	ErrUnauthorized = errors.New("not authorized")

	ErrNotFound = errors.New("not found")
)
