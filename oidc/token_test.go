// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactedTypes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{name: "access-token", value: AccessToken("secret-access"), want: RedactedAccessToken},
		{name: "refresh-token", value: RefreshToken("secret-refresh"), want: RedactedRefreshToken},
		{name: "id-token", value: IdToken("secret-id"), want: RedactedIdToken},
		{name: "client-secret", value: ClientSecret("secret-client"), want: RedactedClientSecret},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, fmt.Sprintf("%s", tt.value))
			b, err := json.Marshal(tt.value)
			require.NoError(err)
			assert.JSONEq(fmt.Sprintf("%q", tt.want), string(b))
		})
	}
}

func TestTokenSet_JSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ts := TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		IdToken:      "it",
		TokenType:    "Bearer",
		Scope:        "openid email",
		Expiry:       time.Unix(1700000123, 0),
	}
	b, err := json.Marshal(ts)
	require.NoError(err)
	assert.JSONEq(`{"access_token":"at","refresh_token":"rt","id_token":"it","token_type":"Bearer","scope":"openid email","exp":1700000123}`, string(b))

	var got TokenSet
	require.NoError(json.Unmarshal(b, &got))
	assert.Equal(ts.AccessToken, got.AccessToken)
	assert.Equal(ts.RefreshToken, got.RefreshToken)
	assert.Equal(ts.IdToken, got.IdToken)
	assert.True(ts.Expiry.Equal(got.Expiry))

	var noExp TokenSet
	require.NoError(json.Unmarshal([]byte(`{"access_token":"at"}`), &noExp))
	assert.True(noExp.Expiry.IsZero())
	assert.ErrorIs(noExp.Validate(), ErrMissingExpiry)
}

func TestTokenSet_String(t *testing.T) {
	t.Parallel()
	ts := TokenSet{AccessToken: "at-secret", RefreshToken: "rt-secret", IdToken: "id-secret", Expiry: time.Unix(0, 0)}
	s := ts.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, RedactedAccessToken)
}

func TestTokenSet_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ts      *TokenSet
		wantErr error
	}{
		{name: "nil", wantErr: ErrNilParameter},
		{name: "no-access-token", ts: &TokenSet{Expiry: time.Now()}, wantErr: ErrInvalidParameter},
		{name: "no-expiry", ts: &TokenSet{AccessToken: "at"}, wantErr: ErrMissingExpiry},
		{name: "valid", ts: &TokenSet{AccessToken: "at", Expiry: time.Now()}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ts.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTokenSet_Expired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name string
		ts   *TokenSet
		want bool
	}{
		{name: "nil", want: true},
		{name: "no-expiry", ts: &TokenSet{AccessToken: "at"}, want: true},
		{name: "past", ts: &TokenSet{Expiry: now.Add(-time.Second)}, want: true},
		{name: "now", ts: &TokenSet{Expiry: now}, want: true},
		{name: "future", ts: &TokenSet{Expiry: now.Add(time.Second)}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ts.Expired(now))
		})
	}
	assert.True(t, (&TokenSet{RefreshToken: "rt"}).Refreshable())
	assert.False(t, (&TokenSet{}).Refreshable())
	assert.False(t, (*TokenSet)(nil).Refreshable())
}
