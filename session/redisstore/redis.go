// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package redisstore provides a session.Store backed by Redis.  Each session is
// a Redis hash, keyed by the session id, whose fields are the session's keys.
// The hash's expiry is reset on every Set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/cap-rp/session"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to every session id.
const DefaultKeyPrefix = "cap-rp:session:"

// Config contains configuration options for the Redis store
type Config struct {
	// Client is the Redis client instance
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys
	// Default: "cap-rp:session:"
	KeyPrefix string
}

// Store implements session.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ session.Store = (*Store)(nil)

// New creates a new Redis-based session store.
func New(config Config) (*Store, error) {
	const op = "redisstore.New"
	if config.Client == nil {
		return nil, fmt.Errorf("%s: redis client is nil: %w", op, session.ErrNilParameter)
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

func (s *Store) key(id string) string {
	return s.keyPrefix + id
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, id, key string) (json.RawMessage, bool, error) {
	const op = "redisstore.(Store).Get"
	v, err := s.client.HGet(ctx, s.key(id), key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%s: failed to get %q: %w", op, key, err)
	}
	return json.RawMessage(v), true, nil
}

// Set implements session.Store.
func (s *Store) Set(ctx context.Context, id, key string, value json.RawMessage, ttl time.Duration) error {
	const op = "redisstore.(Store).Set"
	redisKey := s.key(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisKey, key, []byte(value))
		if ttl > 0 {
			pipe.Expire(ctx, redisKey, ttl)
		} else {
			pipe.Persist(ctx, redisKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: failed to set %q: %w", op, key, err)
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id, key string) error {
	const op = "redisstore.(Store).Delete"
	if err := s.client.HDel(ctx, s.key(id), key).Err(); err != nil {
		return fmt.Errorf("%s: failed to delete %q: %w", op, key, err)
	}
	return nil
}

// Clear implements session.Store.
func (s *Store) Clear(ctx context.Context, id string) error {
	const op = "redisstore.(Store).Clear"
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%s: failed to clear session: %w", op, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
