package leadsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/token"
)

// GrantConnector exchanges an authorization code and stores the credential.
type GrantConnector interface {
	Connect(ctx context.Context, code string) (token.Grant, error)
}

type AuthURLBuilder interface {
	AuthCodeURL(state string) string
}

type TenantConnector interface {
	Get(ctx context.Context, tenantID string) (core.Tenant, error)
	Connect(ctx context.Context, tenantID string, locationID string) error
}

type ConfigResolver interface {
	ResolveOrMigrateConfig(ctx context.Context, tenantID string) (core.FieldMappingConfig, error)
}

type ConnectorDependencies struct {
	States   core.OAuthStateStore
	Grants   GrantConnector
	AuthURLs AuthURLBuilder
	Tenants  TenantConnector
	Configs  ConfigResolver
	Logger   core.Logger
	Metrics  core.MetricsRecorder
}

// ConnectRedirect is what a caller needs to send a tenant to the CRM
// consent screen.
type ConnectRedirect struct {
	State     string
	URL       string
	ExpiresAt time.Time
}

// Connector runs the OAuth connect flow that binds a CRM location to a
// tenant.
type Connector struct {
	states   core.OAuthStateStore
	grants   GrantConnector
	authURLs AuthURLBuilder
	tenants  TenantConnector
	configs  ConfigResolver
	observer core.Observer
}

func NewConnector(deps ConnectorDependencies) (*Connector, error) {
	if deps.States == nil {
		return nil, fmt.Errorf("leadsync: oauth state store is required")
	}
	if deps.Grants == nil {
		return nil, fmt.Errorf("leadsync: grant connector is required")
	}
	if deps.Tenants == nil {
		return nil, fmt.Errorf("leadsync: tenant store is required")
	}
	return &Connector{
		states:   deps.States,
		grants:   deps.Grants,
		authURLs: deps.AuthURLs,
		tenants:  deps.Tenants,
		configs:  deps.Configs,
		observer: core.NewObserver(deps.Logger, deps.Metrics, "connect"),
	}, nil
}

// BeginConnect issues a single use state for the tenant and returns the
// consent URL carrying it.
func (c *Connector) BeginConnect(ctx context.Context, tenantID string) (ConnectRedirect, error) {
	if c == nil {
		return ConnectRedirect{}, fmt.Errorf("leadsync: connector is nil")
	}
	if c.authURLs == nil {
		return ConnectRedirect{}, core.NewConfigError("leadsync: authorization url builder is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if _, err := c.tenants.Get(ctx, tenantID); err != nil {
		return ConnectRedirect{}, err
	}
	record, err := core.BeginOAuthState(ctx, c.states, tenantID)
	if err != nil {
		return ConnectRedirect{}, err
	}
	return ConnectRedirect{
		State:     record.State,
		URL:       c.authURLs.AuthCodeURL(record.State),
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// CompleteConnect consumes state, exchanges code and binds the granted
// location to the tenant that started the flow. The field config is then
// resolved; a failure there is logged and left to the next sweep.
func (c *Connector) CompleteConnect(ctx context.Context, state string, code string) (core.Tenant, error) {
	if c == nil {
		return core.Tenant{}, fmt.Errorf("leadsync: connector is nil")
	}
	startedAt := time.Now()
	tenant, err := c.completeConnect(ctx, state, code)
	c.observer.Observe(ctx, startedAt, "complete", err, map[string]any{
		"tenant_id":   tenant.ID,
		"location_id": tenant.Location(),
	})
	return tenant, err
}

func (c *Connector) completeConnect(ctx context.Context, state string, code string) (core.Tenant, error) {
	record, err := c.states.Consume(ctx, state)
	if err != nil {
		return core.Tenant{}, err
	}
	grant, err := c.grants.Connect(ctx, code)
	if err != nil {
		return core.Tenant{}, err
	}
	if err := c.tenants.Connect(ctx, record.TenantID, grant.LocationID); err != nil {
		return core.Tenant{}, err
	}

	if c.configs != nil {
		if _, err := c.configs.ResolveOrMigrateConfig(ctx, record.TenantID); err != nil {
			c.observer.Warn(ctx, "leadsync connect could not resolve field config", map[string]any{
				"tenant_id":   record.TenantID,
				"location_id": grant.LocationID,
				"error":       err.Error(),
			})
		}
	}
	return c.tenants.Get(ctx, record.TenantID)
}
