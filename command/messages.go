package command

import (
	"strings"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
)

const (
	TypeReconcileTenant  = "leadsync.command.reconcile.tenant"
	TypeReconcileAll     = "leadsync.command.reconcile.all"
	TypeApplyEvent       = "leadsync.command.event.apply"
	TypeConnectTenant    = "leadsync.command.tenant.connect"
	TypeDisconnectTenant = "leadsync.command.tenant.disconnect"
	TypeReplayDeliveries = "leadsync.command.webhooks.replay"
)

type ReconcileTenantMessage struct {
	TenantID string
}

func (ReconcileTenantMessage) Type() string { return TypeReconcileTenant }

func (m ReconcileTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("command", "tenant_id", "tenant id is required")
	}
	return nil
}

type ReconcileAllMessage struct{}

func (ReconcileAllMessage) Type() string { return TypeReconcileAll }

// ApplyEventMessage carries either a decoded event or the raw webhook
// payload. Event wins when both are set.
type ApplyEventMessage struct {
	TenantID string
	Event    *reconcile.Event
	Payload  []byte
}

func (ApplyEventMessage) Type() string { return TypeApplyEvent }

func (m ApplyEventMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("command", "tenant_id", "tenant id is required")
	}
	if m.Event == nil && len(m.Payload) == 0 {
		return core.NewFieldError("command", "event", "event or payload is required")
	}
	return nil
}

type ConnectTenantMessage struct {
	State string
	Code  string
}

func (ConnectTenantMessage) Type() string { return TypeConnectTenant }

func (m ConnectTenantMessage) Validate() error {
	if strings.TrimSpace(m.State) == "" {
		return core.NewFieldError("command", "state", "state is required")
	}
	if strings.TrimSpace(m.Code) == "" {
		return core.NewFieldError("command", "code", "authorization code is required")
	}
	return nil
}

type DisconnectTenantMessage struct {
	TenantID string
}

func (DisconnectTenantMessage) Type() string { return TypeDisconnectTenant }

func (m DisconnectTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return core.NewFieldError("command", "tenant_id", "tenant id is required")
	}
	return nil
}

// ReplayDeliveriesMessage replays stored webhook deliveries whose retry is
// due. A zero Limit uses the default batch.
type ReplayDeliveriesMessage struct {
	Limit int
}

func (ReplayDeliveriesMessage) Type() string { return TypeReplayDeliveries }

func (m ReplayDeliveriesMessage) Validate() error {
	if m.Limit < 0 {
		return core.NewFieldError("command", "limit", "limit must not be negative")
	}
	return nil
}
