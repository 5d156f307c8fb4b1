package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// CredentialStore holds token material keyed by external location id. Get
// returns a credential-not-found error for unknown locations.
type CredentialStore interface {
	Get(ctx context.Context, locationID string) (Credential, error)
	Put(ctx context.Context, locationID string, credential Credential) error
}

type LockHandle interface {
	Release(ctx context.Context) error
}

// Locker provides set-if-absent locks with a TTL. Acquire returns a
// lock-held error when another owner holds key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type TenantStore interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	GetByLocation(ctx context.Context, locationID string) (Tenant, error)
	Save(ctx context.Context, tenant Tenant) (Tenant, error)
	ListConnected(ctx context.Context) ([]Tenant, error)
	SaveConfig(ctx context.Context, tenantID string, config FieldMappingConfig) error
	Connect(ctx context.Context, tenantID string, locationID string) error
	Disconnect(ctx context.Context, tenantID string) error
}

// LeadStore is the vault. Upsert fully overwrites the row keyed by lead id.
type LeadStore interface {
	Upsert(ctx context.Context, lead Lead) error
	Get(ctx context.Context, tenantID string, leadID string) (Lead, error)
	Delete(ctx context.Context, tenantID string, leadID string) error
	ListByContact(ctx context.Context, tenantID string, contactID string) ([]Lead, error)
	ListByTenant(ctx context.Context, tenantID string, limit int, offset int) ([]Lead, int, error)
	Count(ctx context.Context, tenantID string) (int, error)
}
