package leadsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/token"
)

type memoryTenants struct {
	mu      sync.Mutex
	tenants map[string]core.Tenant
}

func newMemoryTenants(ids ...string) *memoryTenants {
	store := &memoryTenants{tenants: map[string]core.Tenant{}}
	for _, id := range ids {
		store.tenants[id] = core.Tenant{ID: id, Name: "Tenant " + id}
	}
	return store
}

func (s *memoryTenants) Get(_ context.Context, tenantID string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return tenant, nil
}

func (s *memoryTenants) Connect(_ context.Context, tenantID string, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.NewTenantNotFoundError(tenantID)
	}
	tenant.LocationID = &locationID
	s.tenants[tenantID] = tenant
	return nil
}

type stubGrants struct {
	grant token.Grant
	err   error
	codes []string
}

func (s *stubGrants) Connect(_ context.Context, code string) (token.Grant, error) {
	s.codes = append(s.codes, code)
	if s.err != nil {
		return token.Grant{}, s.err
	}
	return s.grant, nil
}

type stubAuthURLs struct{}

func (stubAuthURLs) AuthCodeURL(state string) string {
	return "https://crm.example/oauth/chooselocation?state=" + state
}

type stubConfigs struct {
	calls []string
	err   error
}

func (s *stubConfigs) ResolveOrMigrateConfig(_ context.Context, tenantID string) (core.FieldMappingConfig, error) {
	s.calls = append(s.calls, tenantID)
	if s.err != nil {
		return core.FieldMappingConfig{}, s.err
	}
	return core.FieldMappingConfig{Version: core.CurrentConfigVersion}, nil
}

func newTestConnector(t *testing.T, tenants *memoryTenants, grants *stubGrants, configs *stubConfigs) *Connector {
	t.Helper()
	connector, err := NewConnector(ConnectorDependencies{
		States:   core.NewMemoryOAuthStateStore(time.Minute),
		Grants:   grants,
		AuthURLs: stubAuthURLs{},
		Tenants:  tenants,
		Configs:  configs,
	})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	return connector
}

func TestConnector_BeginThenCompleteBindsLocation(t *testing.T) {
	ctx := context.Background()
	tenants := newMemoryTenants("tenant_1")
	grants := &stubGrants{grant: token.Grant{
		LocationID: "loc_1",
		Credential: core.Credential{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	configs := &stubConfigs{}
	connector := newTestConnector(t, tenants, grants, configs)

	redirect, err := connector.BeginConnect(ctx, "tenant_1")
	if err != nil {
		t.Fatalf("begin connect: %v", err)
	}
	if redirect.State == "" {
		t.Fatalf("expected a generated state")
	}
	if !strings.Contains(redirect.URL, "state="+redirect.State) {
		t.Fatalf("expected consent url to carry state, got %q", redirect.URL)
	}

	tenant, err := connector.CompleteConnect(ctx, redirect.State, "auth-code")
	if err != nil {
		t.Fatalf("complete connect: %v", err)
	}
	if tenant.Location() != "loc_1" {
		t.Fatalf("expected tenant bound to loc_1, got %q", tenant.Location())
	}
	if len(grants.codes) != 1 || grants.codes[0] != "auth-code" {
		t.Fatalf("expected one exchange of auth-code, got %v", grants.codes)
	}
	if len(configs.calls) != 1 || configs.calls[0] != "tenant_1" {
		t.Fatalf("expected config resolution for tenant_1, got %v", configs.calls)
	}
}

func TestConnector_StateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	tenants := newMemoryTenants("tenant_1")
	grants := &stubGrants{grant: token.Grant{LocationID: "loc_1"}}
	connector := newTestConnector(t, tenants, grants, &stubConfigs{})

	redirect, err := connector.BeginConnect(ctx, "tenant_1")
	if err != nil {
		t.Fatalf("begin connect: %v", err)
	}
	if _, err := connector.CompleteConnect(ctx, redirect.State, "code"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err = connector.CompleteConnect(ctx, redirect.State, "code")
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error on reused state, got %v", err)
	}
	if len(grants.codes) != 1 {
		t.Fatalf("expected the reused state to skip the exchange, got %d exchanges", len(grants.codes))
	}
}

func TestConnector_BeginRejectsUnknownTenant(t *testing.T) {
	connector := newTestConnector(t, newMemoryTenants(), &stubGrants{}, &stubConfigs{})
	_, err := connector.BeginConnect(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConnector_ExchangeFailureLeavesTenantUnconnected(t *testing.T) {
	ctx := context.Background()
	tenants := newMemoryTenants("tenant_1")
	grants := &stubGrants{err: core.NewAuthError("token: invalid_grant", nil)}
	connector := newTestConnector(t, tenants, grants, &stubConfigs{})

	redirect, err := connector.BeginConnect(ctx, "tenant_1")
	if err != nil {
		t.Fatalf("begin connect: %v", err)
	}
	if _, err := connector.CompleteConnect(ctx, redirect.State, "bad"); !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	tenant, _ := tenants.Get(ctx, "tenant_1")
	if tenant.Connected() {
		t.Fatalf("expected tenant to stay unconnected")
	}
}

func TestConnector_ConfigFailureDoesNotFailConnect(t *testing.T) {
	ctx := context.Background()
	tenants := newMemoryTenants("tenant_1")
	grants := &stubGrants{grant: token.Grant{LocationID: "loc_9"}}
	configs := &stubConfigs{err: errors.New("crm unavailable")}
	connector := newTestConnector(t, tenants, grants, configs)

	redirect, err := connector.BeginConnect(ctx, "tenant_1")
	if err != nil {
		t.Fatalf("begin connect: %v", err)
	}
	tenant, err := connector.CompleteConnect(ctx, redirect.State, "code")
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if tenant.Location() != "loc_9" {
		t.Fatalf("expected loc_9, got %q", tenant.Location())
	}
}

func TestNewConnector_RequiresCollaborators(t *testing.T) {
	if _, err := NewConnector(ConnectorDependencies{}); err == nil {
		t.Fatalf("expected missing state store to fail")
	}
	if _, err := NewConnector(ConnectorDependencies{States: core.NewMemoryOAuthStateStore(time.Minute)}); err == nil {
		t.Fatalf("expected missing grant connector to fail")
	}
}

func TestConnector_BeginWithoutAuthURLBuilder(t *testing.T) {
	connector, err := NewConnector(ConnectorDependencies{
		States:  core.NewMemoryOAuthStateStore(time.Minute),
		Grants:  &stubGrants{},
		Tenants: newMemoryTenants("tenant_1"),
	})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	if _, err := connector.BeginConnect(context.Background(), "tenant_1"); !core.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}
