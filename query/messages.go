package query

import (
	"strings"

	"github.com/goliatone/go-leadsync/core"
)

const (
	TypeGetAccessToken = "leadsync.query.token.access"
	TypeResolveConfig  = "leadsync.query.config.resolve"
	TypeGetLead        = "leadsync.query.lead.get"
	TypeListLeads      = "leadsync.query.lead.list"

	MaxListLimit = 500
)

type GetAccessTokenMessage struct {
	LocationID string
}

func (GetAccessTokenMessage) Type() string { return TypeGetAccessToken }

func (m GetAccessTokenMessage) Validate() error {
	if strings.TrimSpace(m.LocationID) == "" {
		return core.NewFieldError("query", "location_id", "location id is required")
	}
	return nil
}

type ResolveConfigMessage struct {
	TenantID string
}

func (ResolveConfigMessage) Type() string { return TypeResolveConfig }

func (m ResolveConfigMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("query", "tenant_id", "tenant id is required")
	}
	return nil
}

type GetLeadMessage struct {
	TenantID string
	LeadID   string
}

func (GetLeadMessage) Type() string { return TypeGetLead }

func (m GetLeadMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("query", "tenant_id", "tenant id is required")
	}
	if strings.TrimSpace(m.LeadID) == "" {
		return core.NewFieldError("query", "lead_id", "lead id is required")
	}
	return nil
}

type ListLeadsMessage struct {
	TenantID string
	Limit    int
	Offset   int
}

func (ListLeadsMessage) Type() string { return TypeListLeads }

func (m ListLeadsMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("query", "tenant_id", "tenant id is required")
	}
	if m.Limit < 0 || m.Limit > MaxListLimit {
		return core.NewFieldError("query", "limit", "limit must be between 0 and 500")
	}
	if m.Offset < 0 {
		return core.NewFieldError("query", "offset", "offset must be >= 0")
	}
	return nil
}
