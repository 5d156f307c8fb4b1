package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/ratelimit"
	"github.com/goliatone/go-leadsync/webhooks"
	"github.com/uptrace/bun"
)

// Stores is the SQL vault: tenants, leads, the webhook delivery ledger and
// the rate limit snapshots, all on one bun.DB.
type Stores struct {
	db         *bun.DB
	tenants    *TenantStore
	leads      *LeadStore
	deliveries *WebhookDeliveryStore
	rateLimits *RateLimitStateStore
}

// Open builds every store on client, which is a *bun.DB or anything with a
// DB() *bun.DB method such as a go-persistence-bun client.
func Open(client any) (*Stores, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	stores := &Stores{db: db}
	if stores.tenants, err = NewTenantStore(db); err != nil {
		return nil, err
	}
	if stores.leads, err = NewLeadStore(db); err != nil {
		return nil, err
	}
	if stores.deliveries, err = NewWebhookDeliveryStore(db); err != nil {
		return nil, err
	}
	if stores.rateLimits, err = NewRateLimitStateStore(db); err != nil {
		return nil, err
	}
	return stores, nil
}

func (s *Stores) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Stores) TenantStore() core.TenantStore {
	if s == nil {
		return nil
	}
	return s.tenants
}

func (s *Stores) LeadStore() core.LeadStore {
	if s == nil {
		return nil
	}
	return s.leads
}

func (s *Stores) DeliveryLedger() webhooks.DeliveryLedger {
	if s == nil {
		return nil
	}
	return s.deliveries
}

func (s *Stores) RateLimitStateStore() ratelimit.StateStore {
	if s == nil {
		return nil
	}
	return s.rateLimits
}

func resolveBunDB(client any) (*bun.DB, error) {
	switch typed := client.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		if db := typed.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: persistence client has no bun db")
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client %T", client)
	}
}
