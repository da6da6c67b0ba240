// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package session provides a per-browser key/value session for net/http
// handlers.  A Manager middleware resolves (or issues) the session cookie and
// places the Session in the request's context, where it's retrieved with
// FromContext.  Values are JSON encoded and written through to a Store on
// every Set, so concurrent requests for one session are last-writer-wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoSession is returned when a request's context carries no Session,
	// usually because the handler isn't wrapped by a Manager.
	ErrNoSession = errors.New("no session in context")
)

// Store persists session values by session id.  Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value of key for the session id, and whether it was
	// found.
	Get(ctx context.Context, id, key string) (json.RawMessage, bool, error)

	// Set stores the value of key for the session id.  The whole session
	// expires ttl after its last Set; a ttl of zero never expires.
	Set(ctx context.Context, id, key string, value json.RawMessage, ttl time.Duration) error

	// Delete removes key from the session id.  Deleting a missing key isn't
	// an error.
	Delete(ctx context.Context, id, key string) error

	// Clear removes every key of the session id.
	Clear(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}

// Session is the per-browser key/value session.
type Session interface {
	// ID returns the session's id.
	ID() string

	// Get decodes the value of key into v and reports whether it was found.
	Get(ctx context.Context, key string, v interface{}) (bool, error)

	// Set encodes v and stores it under key.
	Set(ctx context.Context, key string, v interface{}) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Destroy removes every key.
	Destroy(ctx context.Context) error
}

// storeSession is a Session backed by a Store.
type storeSession struct {
	id    string
	store Store
	ttl   time.Duration
}

var _ Session = (*storeSession)(nil)

// New returns a Session with the given id whose values live in store.
func New(id string, store Store, ttl time.Duration) (Session, error) {
	const op = "session.New"
	switch {
	case id == "":
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	return &storeSession{id: id, store: store, ttl: ttl}, nil
}

func (s *storeSession) ID() string { return s.id }

func (s *storeSession) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	const op = "Session.Get"
	raw, ok, err := s.store.Get(ctx, s.id, key)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%s: unable to decode %q: %w", op, key, err)
	}
	return true, nil
}

func (s *storeSession) Set(ctx context.Context, key string, v interface{}) error {
	const op = "Session.Set"
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: unable to encode %q: %w", op, key, err)
	}
	if err := s.store.Set(ctx, s.id, key, raw, s.ttl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *storeSession) Delete(ctx context.Context, key string) error {
	const op = "Session.Delete"
	if err := s.store.Delete(ctx, s.id, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *storeSession) Destroy(ctx context.Context) error {
	const op = "Session.Destroy"
	if err := s.store.Clear(ctx, s.id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the Session carried by ctx.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s != nil
}
