// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		key     []byte
		opt     []Option
		wantTTL time.Duration
		wantErr error
	}{
		{
			name:    "defaults",
			key:     []byte("state-key"),
			wantTTL: DefaultStateTTL,
		},
		{
			name:    "generated-key",
			wantTTL: DefaultStateTTL,
		},
		{
			name:    "with-ttl",
			key:     []byte("state-key"),
			opt:     []Option{WithStateTTL(5 * time.Minute)},
			wantTTL: 5 * time.Minute,
		},
		{
			name:    "zero-ttl",
			key:     []byte("state-key"),
			opt:     []Option{WithStateTTL(0)},
			wantErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewStateCodec(tt.key, tt.opt...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantTTL, got.TTL())
			assert.Len(got.key, 32)
		})
	}
}

func TestStateCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	sc, err := NewStateCodec([]byte("state-key"), WithClock(clock))
	require.NoError(t, err)

	tests := []struct {
		name string
		next string
	}{
		{name: "relative", next: "/reports?id=1&sort=asc"},
		{name: "absolute", next: "https://app.example.com/deep/link#frag"},
		{name: "empty"},
		{name: "unicode", next: "/ünïcødé/päth"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s, err := sc.Serialize(StatePayload{Next: tt.next})
			require.NoError(err)
			assert.NotContains(s, "=")
			assert.Equal(2, strings.Count(s, "."))

			got, err := sc.Deserialize(s)
			require.NoError(err)
			assert.Equal(tt.next, got.Next)
			assert.NotEmpty(got.Id)
			assert.True(got.IssuedAt.Equal(clock.Now()))
		})
	}
}

func TestStateCodec_UniqueIds(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	sc, err := NewStateCodec(nil)
	require.NoError(err)

	s1, err := sc.Serialize(StatePayload{Next: "/"})
	require.NoError(err)
	s2, err := sc.Serialize(StatePayload{Next: "/"})
	require.NoError(err)
	assert.NotEqual(s1, s2)
}

func TestStateCodec_Deserialize(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	sc, err := NewStateCodec([]byte("state-key"), WithStateTTL(60*time.Second), WithClock(clock))
	require.NoError(t, err)
	valid, err := sc.Serialize(StatePayload{Next: "/protected"})
	require.NoError(t, err)

	otherKey, err := NewStateCodec([]byte("another-key"), WithClock(clock))
	require.NoError(t, err)
	forged, err := otherKey.Serialize(StatePayload{Next: "/protected"})
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	sig := []byte(parts[2])
	i := len(sig) / 2
	if sig[i] == 'A' {
		sig[i] = 'B'
	} else {
		sig[i] = 'A'
	}
	tamperedSig := strings.Join([]string{parts[0], parts[1], string(sig)}, ".")

	forgedParts := strings.Split(forged, ".")
	tamperedPayload := strings.Join([]string{parts[0], forgedParts[1], parts[2]}, ".")

	tests := []struct {
		name    string
		s       string
		wantErr error
	}{
		{name: "empty", s: "", wantErr: ErrInvalidState},
		{name: "garbage", s: "not-a-state", wantErr: ErrInvalidState},
		{name: "tampered-signature", s: tamperedSig, wantErr: ErrInvalidState},
		{name: "tampered-payload", s: tamperedPayload, wantErr: ErrInvalidState},
		{name: "wrong-key", s: forged, wantErr: ErrInvalidState},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			got, err := sc.Deserialize(tt.s)
			assert.Nil(got)
			assert.ErrorIs(err, tt.wantErr)
			assert.NotErrorIs(err, ErrExpiredState)
		})
	}
}

func TestStateCodec_Expiry(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	sc, err := NewStateCodec([]byte("state-key"), WithStateTTL(60*time.Second), WithClock(clock))
	require.NoError(err)

	s, err := sc.Serialize(StatePayload{Next: "/"})
	require.NoError(err)

	clock.Advance(60 * time.Second)
	_, err = sc.Deserialize(s)
	require.NoError(err, "exactly ttl old is still valid")

	clock.Advance(1 * time.Second)
	got, err := sc.Deserialize(s)
	assert.Nil(got)
	assert.ErrorIs(err, ErrExpiredState)
	assert.NotErrorIs(err, ErrInvalidState)
}
