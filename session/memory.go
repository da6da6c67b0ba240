// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process Store.  Sessions are lost on restart and aren't
// shared between replicas, so it's suited to development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	clock    clockwork.Clock
}

type memorySession struct {
	values    map[string]json.RawMessage
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore.
//
// Supported options:
//
//	WithClock
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getOpts(opt...)
	return &MemoryStore{
		sessions: map[string]*memorySession{},
		clock:    opts.withClock,
	}
}

// live returns the unexpired session id, removing it when it has expired.
// The caller must hold s.mu.
func (s *MemoryStore) live(id string) (*memorySession, bool) {
	ms, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if !ms.expiresAt.IsZero() && !s.clock.Now().Before(ms.expiresAt) {
		delete(s.sessions, id)
		return nil, false
	}
	return ms, true
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.live(id)
	if !ok {
		return nil, false, nil
	}
	v, ok := ms.values[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage{}, v...), true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, id, key string, value json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.live(id)
	if !ok {
		ms = &memorySession{values: map[string]json.RawMessage{}}
		s.sessions[id] = ms
	}
	ms.values[key] = append(json.RawMessage{}, value...)
	ms.expiresAt = time.Time{}
	if ttl > 0 {
		ms.expiresAt = s.clock.Now().Add(ttl)
	}
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.live(id); ok {
		delete(ms.values, key)
	}
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
