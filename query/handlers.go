package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-leadsync/core"
)

type TokenProvider interface {
	GetAccessToken(ctx context.Context, locationID string) (string, error)
}

type ConfigResolver interface {
	ResolveOrMigrateConfig(ctx context.Context, tenantID string) (core.FieldMappingConfig, error)
}

type LeadReader interface {
	Get(ctx context.Context, tenantID string, leadID string) (core.Lead, error)
	ListByTenant(ctx context.Context, tenantID string, limit int, offset int) ([]core.Lead, int, error)
}

// LeadPage is one window over a tenant's vault rows.
type LeadPage struct {
	Leads  []core.Lead `json:"leads"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type GetAccessTokenQuery struct {
	tokens TokenProvider
}

func NewGetAccessTokenQuery(tokens TokenProvider) *GetAccessTokenQuery {
	return &GetAccessTokenQuery{tokens: tokens}
}

func (q *GetAccessTokenQuery) Query(ctx context.Context, msg GetAccessTokenMessage) (string, error) {
	if q == nil || q.tokens == nil {
		return "", core.NewDependencyError("query: token provider is required")
	}
	return q.tokens.GetAccessToken(ctx, strings.TrimSpace(msg.LocationID))
}

type ResolveConfigQuery struct {
	configs ConfigResolver
}

func NewResolveConfigQuery(configs ConfigResolver) *ResolveConfigQuery {
	return &ResolveConfigQuery{configs: configs}
}

func (q *ResolveConfigQuery) Query(ctx context.Context, msg ResolveConfigMessage) (core.FieldMappingConfig, error) {
	if q == nil || q.configs == nil {
		return core.FieldMappingConfig{}, core.NewDependencyError("query: config resolver is required")
	}
	return q.configs.ResolveOrMigrateConfig(ctx, strings.TrimSpace(msg.TenantID))
}

type GetLeadQuery struct {
	leads LeadReader
}

func NewGetLeadQuery(leads LeadReader) *GetLeadQuery {
	return &GetLeadQuery{leads: leads}
}

func (q *GetLeadQuery) Query(ctx context.Context, msg GetLeadMessage) (core.Lead, error) {
	if q == nil || q.leads == nil {
		return core.Lead{}, core.NewDependencyError("query: lead reader is required")
	}
	return q.leads.Get(ctx, strings.TrimSpace(msg.TenantID), strings.TrimSpace(msg.LeadID))
}

type ListLeadsQuery struct {
	leads LeadReader
}

func NewListLeadsQuery(leads LeadReader) *ListLeadsQuery {
	return &ListLeadsQuery{leads: leads}
}

func (q *ListLeadsQuery) Query(ctx context.Context, msg ListLeadsMessage) (LeadPage, error) {
	if q == nil || q.leads == nil {
		return LeadPage{}, core.NewDependencyError("query: lead reader is required")
	}
	leads, total, err := q.leads.ListByTenant(ctx, strings.TrimSpace(msg.TenantID), msg.Limit, msg.Offset)
	if err != nil {
		return LeadPage{}, err
	}
	if leads == nil {
		leads = []core.Lead{}
	}
	return LeadPage{Leads: leads, Total: total, Limit: msg.Limit, Offset: msg.Offset}, nil
}
