package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/ratelimit"
)

type stubRateLimitStateStore struct {
	mu          sync.Mutex
	state       ratelimit.State
	getCalls    int
	upsertCalls int
	getErr      error
}

func (s *stubRateLimitStateStore) Get(_ context.Context, _ ratelimit.Key) (ratelimit.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return ratelimit.State{}, s.getErr
	}
	return cloneRateLimitState(s.state), nil
}

func (s *stubRateLimitStateStore) Upsert(_ context.Context, state ratelimit.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.state = cloneRateLimitState(state)
	return nil
}

func TestCachedRateLimitStateStore_Get_MissFetchThenHit(t *testing.T) {
	base := &stubRateLimitStateStore{
		state: ratelimit.State{
			Key:       ratelimit.Key{LocationID: "loc_cache_1", Bucket: "api"},
			Limit:     100,
			Remaining: 99,
			UpdatedAt: time.Now().UTC(),
		},
	}
	store, err := NewCachedRateLimitStateStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}

	key := ratelimit.Key{LocationID: "loc_cache_1", Bucket: "api"}
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected second get to be a cache hit, base get calls=%d", base.getCalls)
	}
}

func TestCachedRateLimitStateStore_Upsert_InvalidatesCachedKey(t *testing.T) {
	base := &stubRateLimitStateStore{
		state: ratelimit.State{Key: ratelimit.Key{LocationID: "loc_1", Bucket: "api"}, Remaining: 10},
	}
	store, err := NewCachedRateLimitStateStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}
	ctx := context.Background()
	key := ratelimit.Key{LocationID: "loc_1", Bucket: "api"}
	if _, err := store.Get(ctx, key); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if err := store.Upsert(ctx, ratelimit.State{Key: key, Remaining: 3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	state, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if state.Remaining != 3 {
		t.Fatalf("expected refreshed remaining=3, got %d", state.Remaining)
	}
	if base.getCalls != 2 {
		t.Fatalf("expected upsert to evict the cached entry, base get calls=%d", base.getCalls)
	}
}

func TestCachedRateLimitStateStore_KeyNormalizationUsesSingleCacheEntry(t *testing.T) {
	base := &stubRateLimitStateStore{state: ratelimit.State{Key: ratelimit.Key{LocationID: "loc_1", Bucket: "api"}}}
	store, err := NewCachedRateLimitStateStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, ratelimit.Key{LocationID: " loc_1 ", Bucket: "API"}); err != nil {
		t.Fatalf("get mixed case: %v", err)
	}
	if _, err := store.Get(ctx, ratelimit.Key{LocationID: "loc_1"}); err != nil {
		t.Fatalf("get default bucket: %v", err)
	}
	if base.getCalls != 1 {
		t.Fatalf("expected normalized keys to share one cache entry, base get calls=%d", base.getCalls)
	}
}

func TestRateLimitStateCacheKey_Contract(t *testing.T) {
	key, err := RateLimitStateCacheKey(ratelimit.Key{LocationID: "loc/1", Bucket: "API"})
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-leadsync::ratelimit_state::v1::loc%2F1::api" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := RateLimitStateCacheKey(ratelimit.Key{Bucket: "api"}); err == nil {
		t.Fatalf("expected missing location error")
	}
}

func TestCachedRateLimitStateStore_PropagatesBaseErrors(t *testing.T) {
	base := &stubRateLimitStateStore{getErr: ratelimit.ErrStateNotFound}
	store, err := NewCachedRateLimitStateStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached state store: %v", err)
	}
	_, err = store.Get(context.Background(), ratelimit.Key{LocationID: "loc_1"})
	if !errors.Is(err, ratelimit.ErrStateNotFound) {
		t.Fatalf("expected not found from base store, got %v", err)
	}
}

type stubTenantStore struct {
	mu       sync.Mutex
	tenants  map[string]core.Tenant
	getCalls int
	locCalls int
}

func newStubTenantStore(tenants ...core.Tenant) *stubTenantStore {
	store := &stubTenantStore{tenants: map[string]core.Tenant{}}
	for _, tenant := range tenants {
		store.tenants[tenant.ID] = tenant
	}
	return store
}

func (s *stubTenantStore) Get(_ context.Context, tenantID string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return cloneTenant(tenant), nil
}

func (s *stubTenantStore) GetByLocation(_ context.Context, locationID string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locCalls++
	for _, tenant := range s.tenants {
		if tenant.Location() == locationID {
			return cloneTenant(tenant), nil
		}
	}
	return core.Tenant{}, core.NewTenantNotFoundError("")
}

func (s *stubTenantStore) Save(_ context.Context, tenant core.Tenant) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = cloneTenant(tenant)
	return cloneTenant(tenant), nil
}

func (s *stubTenantStore) ListConnected(context.Context) ([]core.Tenant, error) {
	return nil, nil
}

func (s *stubTenantStore) SaveConfig(_ context.Context, tenantID string, cfg core.FieldMappingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.tenants[tenantID]
	cloned := cfg.Clone()
	tenant.Config = &cloned
	s.tenants[tenantID] = tenant
	return nil
}

func (s *stubTenantStore) Connect(_ context.Context, tenantID string, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.tenants[tenantID]
	tenant.LocationID = &locationID
	s.tenants[tenantID] = tenant
	return nil
}

func (s *stubTenantStore) Disconnect(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.tenants[tenantID]
	tenant.LocationID = nil
	s.tenants[tenantID] = tenant
	return nil
}

func TestCachedTenantStore_GetHitsCacheUntilConfigChanges(t *testing.T) {
	location := "loc_1"
	base := newStubTenantStore(core.Tenant{ID: "t1", LocationID: &location})
	store, err := NewCachedTenantStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := store.Get(ctx, "t1"); err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
	}
	if base.getCalls != 1 {
		t.Fatalf("expected cached get, base get calls=%d", base.getCalls)
	}

	if err := store.SaveConfig(ctx, "t1", core.FieldMappingConfig{Version: core.CurrentConfigVersion, PipelineID: "p1"}); err != nil {
		t.Fatalf("save config: %v", err)
	}
	tenant, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get after save config: %v", err)
	}
	if tenant.Config == nil || tenant.Config.PipelineID != "p1" {
		t.Fatalf("expected refreshed config after eviction, got %#v", tenant.Config)
	}
}

func TestCachedTenantStore_DisconnectEvictsLocationKey(t *testing.T) {
	location := "loc_1"
	base := newStubTenantStore(core.Tenant{ID: "t1", LocationID: &location})
	store, err := NewCachedTenantStore(base, newTestCacheService(t))
	if err != nil {
		t.Fatalf("new cached tenant store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.GetByLocation(ctx, "loc_1"); err != nil {
		t.Fatalf("prime location cache: %v", err)
	}
	if err := store.Disconnect(ctx, "t1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := store.GetByLocation(ctx, "loc_1"); !core.IsNotFound(err) {
		t.Fatalf("expected tenant not found after disconnect, got %v", err)
	}
	if base.locCalls != 2 {
		t.Fatalf("expected location lookup to reach base store after eviction, calls=%d", base.locCalls)
	}
}

func newTestCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
