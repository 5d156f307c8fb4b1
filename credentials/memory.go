package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]core.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]core.Credential{}}
}

func (s *MemoryStore) Get(_ context.Context, locationID string) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("credentials: memory store is nil")
	}
	locationID = strings.TrimSpace(locationID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[locationID]
	if !ok {
		return core.Credential{}, core.NewCredentialNotFoundError(locationID)
	}
	return record, nil
}

func (s *MemoryStore) Put(_ context.Context, locationID string, credential core.Credential) error {
	if s == nil {
		return fmt.Errorf("credentials: memory store is nil")
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return fmt.Errorf("credentials: location id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[locationID] = credential
	return nil
}

type memoryLock struct {
	owner string
	until time.Time
}

type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	nowFn func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: map[string]memoryLock{},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the expiry clock, for tests.
func (l *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	if l != nil && now != nil {
		l.nowFn = now
	}
	return l
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("credentials: memory locker is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("credentials: lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.locks[key]; ok && now.Before(current.until) {
		return nil, core.NewLockHeldError(key)
	}
	owner := uuid.NewString()
	l.locks[key] = memoryLock{owner: owner, until: now.Add(ttl)}
	return &memoryLockHandle{locker: l, key: key, owner: owner}, nil
}

type memoryLockHandle struct {
	locker *MemoryLocker
	key    string
	owner  string
	once   sync.Once
}

// Release drops the lock only while this handle still owns it, so a handle
// whose TTL lapsed cannot evict a newer owner.
func (h *memoryLockHandle) Release(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		if current, ok := h.locker.locks[h.key]; ok && current.owner == h.owner {
			delete(h.locker.locks, h.key)
		}
	})
	return nil
}

var (
	_ core.CredentialStore = (*MemoryStore)(nil)
	_ core.Locker          = (*MemoryLocker)(nil)
)
