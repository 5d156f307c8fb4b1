package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-leadsync/core"
)

const (
	tenantCacheKeyPrefix         = "go-leadsync::tenant::v1"
	tenantLocationCacheKeyPrefix = "go-leadsync::tenant_location::v1"
)

// CachedTenantStore caches tenant reads by id and by location. Every write
// evicts the keys for the tenant's location before and after the write.
type CachedTenantStore struct {
	base  core.TenantStore
	cache repositorycache.CacheService
}

func NewCachedTenantStore(base core.TenantStore, cacheService repositorycache.CacheService) (*CachedTenantStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base tenant store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: tenant cache service is required")
	}
	return &CachedTenantStore{base: base, cache: cacheService}, nil
}

func TenantCacheKey(tenantID string) string {
	return cacheKey(tenantCacheKeyPrefix, strings.TrimSpace(tenantID))
}

func TenantLocationCacheKey(locationID string) string {
	return cacheKey(tenantLocationCacheKeyPrefix, strings.TrimSpace(locationID))
}

func (s *CachedTenantStore) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if err := s.validate(); err != nil {
		return core.Tenant{}, err
	}
	return readThrough(ctx, s.cache, TenantCacheKey(tenantID), func(ctx context.Context) (core.Tenant, error) {
		return s.base.Get(ctx, tenantID)
	}, cloneTenant)
}

func (s *CachedTenantStore) GetByLocation(ctx context.Context, locationID string) (core.Tenant, error) {
	if err := s.validate(); err != nil {
		return core.Tenant{}, err
	}
	return readThrough(ctx, s.cache, TenantLocationCacheKey(locationID), func(ctx context.Context) (core.Tenant, error) {
		return s.base.GetByLocation(ctx, locationID)
	}, cloneTenant)
}

func (s *CachedTenantStore) Save(ctx context.Context, tenant core.Tenant) (core.Tenant, error) {
	if err := s.validate(); err != nil {
		return core.Tenant{}, err
	}
	previous := s.currentLocation(ctx, tenant.ID)
	saved, err := s.base.Save(ctx, tenant)
	if err != nil {
		return core.Tenant{}, err
	}
	if err := s.evict(ctx, saved.ID, previous, saved.Location()); err != nil {
		return core.Tenant{}, err
	}
	return saved, nil
}

// ListConnected is not cached; it feeds the periodic sweep only.
func (s *CachedTenantStore) ListConnected(ctx context.Context) ([]core.Tenant, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s.base.ListConnected(ctx)
}

func (s *CachedTenantStore) SaveConfig(ctx context.Context, tenantID string, config core.FieldMappingConfig) error {
	if err := s.validate(); err != nil {
		return err
	}
	location := s.currentLocation(ctx, tenantID)
	if err := s.base.SaveConfig(ctx, tenantID, config); err != nil {
		return err
	}
	return s.evict(ctx, tenantID, location)
}

func (s *CachedTenantStore) Connect(ctx context.Context, tenantID string, locationID string) error {
	if err := s.validate(); err != nil {
		return err
	}
	previous := s.currentLocation(ctx, tenantID)
	if err := s.base.Connect(ctx, tenantID, locationID); err != nil {
		return err
	}
	return s.evict(ctx, tenantID, previous, locationID)
}

func (s *CachedTenantStore) Disconnect(ctx context.Context, tenantID string) error {
	if err := s.validate(); err != nil {
		return err
	}
	previous := s.currentLocation(ctx, tenantID)
	if err := s.base.Disconnect(ctx, tenantID); err != nil {
		return err
	}
	return s.evict(ctx, tenantID, previous)
}

func (s *CachedTenantStore) currentLocation(ctx context.Context, tenantID string) string {
	if strings.TrimSpace(tenantID) == "" {
		return ""
	}
	tenant, err := s.base.Get(ctx, tenantID)
	if err != nil {
		return ""
	}
	return tenant.Location()
}

func (s *CachedTenantStore) evict(ctx context.Context, tenantID string, locations ...string) error {
	if err := s.cache.Delete(ctx, TenantCacheKey(tenantID)); err != nil {
		return err
	}
	for _, location := range locations {
		if strings.TrimSpace(location) == "" {
			continue
		}
		if err := s.cache.Delete(ctx, TenantLocationCacheKey(location)); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedTenantStore) validate() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached tenant store is not configured")
	}
	return nil
}

func cloneTenant(tenant core.Tenant) core.Tenant {
	cloned := tenant
	if tenant.LocationID != nil {
		location := *tenant.LocationID
		cloned.LocationID = &location
	}
	if tenant.Config != nil {
		cfg := tenant.Config.Clone()
		cloned.Config = &cfg
	}
	return cloned
}
