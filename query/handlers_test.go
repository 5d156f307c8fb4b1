package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-leadsync/core"
)

type tokenFunc func(ctx context.Context, locationID string) (string, error)

func (fn tokenFunc) GetAccessToken(ctx context.Context, locationID string) (string, error) {
	return fn(ctx, locationID)
}

type configFunc func(ctx context.Context, tenantID string) (core.FieldMappingConfig, error)

func (fn configFunc) ResolveOrMigrateConfig(ctx context.Context, tenantID string) (core.FieldMappingConfig, error) {
	return fn(ctx, tenantID)
}

type stubLeadReader struct {
	getFn  func(ctx context.Context, tenantID string, leadID string) (core.Lead, error)
	listFn func(ctx context.Context, tenantID string, limit int, offset int) ([]core.Lead, int, error)
}

func (s stubLeadReader) Get(ctx context.Context, tenantID string, leadID string) (core.Lead, error) {
	return s.getFn(ctx, tenantID, leadID)
}

func (s stubLeadReader) ListByTenant(ctx context.Context, tenantID string, limit int, offset int) ([]core.Lead, int, error) {
	return s.listFn(ctx, tenantID, limit, offset)
}

func TestGetAccessTokenQuery_QueryDelegates(t *testing.T) {
	qry := NewGetAccessTokenQuery(tokenFunc(func(_ context.Context, locationID string) (string, error) {
		if locationID != "loc_1" {
			t.Fatalf("expected trimmed location id, got %q", locationID)
		}
		return "at_1", nil
	}))

	token, err := qry.Query(context.Background(), GetAccessTokenMessage{LocationID: " loc_1 "})
	if err != nil {
		t.Fatalf("query access token: %v", err)
	}
	if token != "at_1" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestGetAccessTokenQuery_PropagatesAuthError(t *testing.T) {
	qry := NewGetAccessTokenQuery(tokenFunc(func(context.Context, string) (string, error) {
		return "", core.NewAuthError("token: refresh rejected", nil)
	}))
	if _, err := qry.Query(context.Background(), GetAccessTokenMessage{LocationID: "loc_1"}); !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestResolveConfigQuery_QueryDelegates(t *testing.T) {
	qry := NewResolveConfigQuery(configFunc(func(_ context.Context, tenantID string) (core.FieldMappingConfig, error) {
		return core.FieldMappingConfig{Version: core.CurrentConfigVersion, PipelineID: "pipe_" + tenantID}, nil
	}))

	cfg, err := qry.Query(context.Background(), ResolveConfigMessage{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.PipelineID != "pipe_tenant_1" || cfg.Version != core.CurrentConfigVersion {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestGetLeadQuery_NotFound(t *testing.T) {
	qry := NewGetLeadQuery(stubLeadReader{getFn: func(_ context.Context, _ string, leadID string) (core.Lead, error) {
		return core.Lead{}, core.NewLeadNotFoundError(leadID)
	}})
	if _, err := qry.Query(context.Background(), GetLeadMessage{TenantID: "tenant_1", LeadID: "opp_9"}); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListLeadsQuery_BuildsPage(t *testing.T) {
	qry := NewListLeadsQuery(stubLeadReader{listFn: func(_ context.Context, tenantID string, limit int, offset int) ([]core.Lead, int, error) {
		if tenantID != "tenant_1" || limit != 2 || offset != 4 {
			t.Fatalf("unexpected list args: %q %d %d", tenantID, limit, offset)
		}
		return []core.Lead{{ID: "opp_5", TenantID: tenantID}, {ID: "opp_6", TenantID: tenantID}}, 9, nil
	}})

	page, err := qry.Query(context.Background(), ListLeadsMessage{TenantID: "tenant_1", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if page.Total != 9 || len(page.Leads) != 2 || page.Offset != 4 {
		t.Fatalf("unexpected page: %#v", page)
	}
}

func TestListLeadsQuery_EmptyPageHasNonNilLeads(t *testing.T) {
	qry := NewListLeadsQuery(stubLeadReader{listFn: func(context.Context, string, int, int) ([]core.Lead, int, error) {
		return nil, 0, nil
	}})
	page, err := qry.Query(context.Background(), ListLeadsMessage{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if page.Leads == nil {
		t.Fatalf("expected empty non-nil slice")
	}
}
