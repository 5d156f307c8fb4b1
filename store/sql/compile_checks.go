package sqlstore

import (
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/ratelimit"
	"github.com/goliatone/go-leadsync/webhooks"
)

var (
	_ core.TenantStore        = (*TenantStore)(nil)
	_ core.TenantStore        = (*CachedTenantStore)(nil)
	_ core.LeadStore          = (*LeadStore)(nil)
	_ webhooks.DeliveryLedger = (*WebhookDeliveryStore)(nil)
	_ ratelimit.StateStore    = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore    = (*CachedRateLimitStateStore)(nil)
)
