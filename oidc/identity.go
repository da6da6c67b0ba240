// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"strings"
)

// DefaultUsername is used when the id_token doesn't carry the configured
// username claim.
const DefaultUsername = "Authenticated User"

// ReservedClaims are stripped from a user's attributes by DefaultLoginHook.
// They describe the id_token rather than the user.
var ReservedClaims = []string{"aud", "iss", "iat", "nbf", "exp", "aio", "tid", "uti", "ver", "wids"}

// Identity is who a user is once a login completes: a username and the
// attributes (claims) used to authorize them.
type Identity struct {
	Username   string
	Attributes map[string]interface{}
}

// LoginHook transforms an Identity during login.  Hooks run in the order
// they're registered and each sees the previous hook's output.  A hook
// returning an error aborts the login.
type LoginHook func(username string, attrs map[string]interface{}) (string, map[string]interface{}, error)

// NewIdentity derives the initial Identity from id_token claims.  The username
// is the userAttr claim, or DefaultUsername when it's missing or not a string.
func NewIdentity(claims Claims, userAttr string) Identity {
	if userAttr == "" {
		userAttr = DefaultUserAttr
	}
	username, ok := claims.String(userAttr)
	if !ok || username == "" {
		username = DefaultUsername
	}
	return Identity{
		Username:   username,
		Attributes: claims.Copy(),
	}
}

// DefaultLoginHook strips ReservedClaims, reduces an email style username to
// its local part and records the result as the "username" attribute.
func DefaultLoginHook(username string, attrs map[string]interface{}) (string, map[string]interface{}, error) {
	for _, k := range ReservedClaims {
		delete(attrs, k)
	}
	if i := strings.Index(username, "@"); i >= 0 {
		username = username[:i]
	}
	attrs["username"] = username
	return username, attrs, nil
}

// ApplyLoginHooks runs hooks over a copy of id, so id is left untouched when a
// hook fails.  A chain that ends with an empty username fails with
// ErrLoginHook.
func ApplyLoginHooks(id Identity, hooks ...LoginHook) (Identity, error) {
	const op = "ApplyLoginHooks"
	username := id.Username
	attrs := make(map[string]interface{}, len(id.Attributes))
	for k, v := range id.Attributes {
		attrs[k] = v
	}
	for i, h := range hooks {
		if h == nil {
			continue
		}
		var err error
		username, attrs, err = h(username, attrs)
		if err != nil {
			return Identity{}, fmt.Errorf("%s: hook %d: %w: %w", op, i, ErrLoginHook, err)
		}
		if attrs == nil {
			attrs = map[string]interface{}{}
		}
	}
	if username == "" {
		return Identity{}, fmt.Errorf("%s: username is empty: %w", op, ErrLoginHook)
	}
	return Identity{Username: username, Attributes: attrs}, nil
}

// TruncateSecret returns enough of a code or token to correlate log lines
// without disclosing it.
func TruncateSecret(s string) string {
	const keep = 6
	if len(s) <= keep*2 {
		return "[REDACTED]"
	}
	return s[:keep] + "..."
}
