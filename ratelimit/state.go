package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

const defaultBucket = "api"

// Key identifies one CRM throttle bucket. Buckets are per location because
// the CRM enforces burst and daily limits per location token.
type Key struct {
	LocationID string
	Bucket     string
}

// Normalize trims the location and lowercases the bucket, defaulting it to
// "api".
func (k Key) Normalize() Key {
	bucket := strings.ToLower(strings.TrimSpace(k.Bucket))
	if bucket == "" {
		bucket = defaultBucket
	}
	return Key{LocationID: strings.TrimSpace(k.LocationID), Bucket: bucket}
}

func (k Key) String() string {
	k = k.Normalize()
	return k.LocationID + "|" + k.Bucket
}

// State is the last known quota of a bucket.
type State struct {
	Key            Key
	Limit          int
	Remaining      int
	DailyRemaining *int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

// blockedFor reports how long calls must wait at now, if at all.
func (s State) blockedFor(now time.Time) (time.Duration, bool) {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now), true
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now), true
	}
	return 0, false
}

// StateStore persists bucket snapshots. Get returns ErrStateNotFound for
// unknown keys.
type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[key.String()]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = state.Key.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Key.String()] = state
	return nil
}
