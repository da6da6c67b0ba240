// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"math"
	"time"
)

// Claims are the decoded claims of an id_token.
type Claims map[string]interface{}

// Expiry returns the "exp" claim.
func (c Claims) Expiry() (time.Time, bool) {
	return c.time("exp")
}

// IssuedAt returns the "iat" claim.
func (c Claims) IssuedAt() (time.Time, bool) {
	return c.time("iat")
}

// String returns the claim named key when it's a string.
func (c Claims) String(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Audience returns the "aud" claim, which may be a single string or a list.
func (c Claims) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		auds := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				auds = append(auds, s)
			}
		}
		return auds
	}
	return nil
}

func (c Claims) time(key string) (time.Time, bool) {
	var secs float64
	switch v := c[key].(type) {
	case float64:
		secs = v
	case int64:
		secs = float64(v)
	case int:
		secs = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// Copy returns a shallow copy of the claims.
func (c Claims) Copy() Claims {
	dup := make(Claims, len(c))
	for k, v := range c {
		dup[k] = v
	}
	return dup
}
