package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultOAuthStateTTL        = 15 * time.Minute
	defaultOAuthStateMaxEntries = 1024
)

// OAuthStateRecord binds an authorization redirect to the tenant that
// started it.
type OAuthStateRecord struct {
	State     string
	TenantID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OAuthStateStore issues single use states. Consume deletes the state and
// rejects unknown or expired ones with a validation error.
type OAuthStateStore interface {
	Save(ctx context.Context, record OAuthStateRecord) error
	Consume(ctx context.Context, state string) (OAuthStateRecord, error)
}

type MemoryOAuthStateStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]OAuthStateRecord
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	return NewMemoryOAuthStateStoreWithLimits(ttl, defaultOAuthStateMaxEntries)
}

func NewMemoryOAuthStateStoreWithLimits(ttl time.Duration, maxEntries int) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultOAuthStateMaxEntries
	}
	return &MemoryOAuthStateStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        func() time.Time { return time.Now().UTC() },
		entries:    map[string]OAuthStateRecord{},
	}
}

// BeginOAuthState creates and saves a fresh state for the tenant.
func BeginOAuthState(ctx context.Context, store OAuthStateStore, tenantID string) (OAuthStateRecord, error) {
	if store == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return OAuthStateRecord{}, NewValidationError("core: tenant id is required")
	}
	state, err := generateOAuthState()
	if err != nil {
		return OAuthStateRecord{}, err
	}
	record := OAuthStateRecord{State: state, TenantID: tenantID}
	if err := store.Save(ctx, record); err != nil {
		return OAuthStateRecord{}, err
	}
	return record, nil
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, record OAuthStateRecord) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return NewValidationError("core: oauth state is required")
	}
	record.State = state

	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = record
	s.prune(now)
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (OAuthStateRecord, error) {
	if s == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return OAuthStateRecord{}, NewValidationError("core: oauth state is required")
	}

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthStateRecord{}, NewValidationError("core: oauth state not found")
	}
	if !record.ExpiresAt.IsZero() && s.now().After(record.ExpiresAt) {
		return OAuthStateRecord{}, NewValidationError("core: oauth state expired")
	}
	return record, nil
}

// prune drops expired entries, then the oldest ones beyond the limit.
func (s *MemoryOAuthStateStore) prune(now time.Time) {
	for key, record := range s.entries {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) <= s.maxEntries {
		return
	}
	records := make([]OAuthStateRecord, 0, len(s.entries))
	for _, record := range s.entries {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	for _, record := range records[:len(records)-s.maxEntries] {
		delete(s.entries, record.State)
	}
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ OAuthStateStore = (*MemoryOAuthStateStore)(nil)
