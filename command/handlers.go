package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/goliatone/go-leadsync/webhooks"
)

type TenantReader interface {
	Get(ctx context.Context, tenantID string) (core.Tenant, error)
}

type TenantDisconnector interface {
	Disconnect(ctx context.Context, tenantID string) error
}

type Reconciler interface {
	FullReconcile(ctx context.Context, tenant core.Tenant) (reconcile.Report, error)
	ReconcileAll(ctx context.Context) (map[string]reconcile.Report, error)
}

type EventHandler interface {
	ApplyEvent(ctx context.Context, tenant core.Tenant, payload []byte) (reconcile.EventResult, error)
	HandleEvent(ctx context.Context, tenant core.Tenant, event reconcile.Event) (reconcile.EventResult, error)
}

type DeliveryReplayer interface {
	ReplayDue(ctx context.Context, limit int) (webhooks.ReplayReport, error)
}

type Connector interface {
	CompleteConnect(ctx context.Context, state string, code string) (core.Tenant, error)
}

type ReconcileTenantCommand struct {
	tenants    TenantReader
	reconciler Reconciler
}

func NewReconcileTenantCommand(tenants TenantReader, reconciler Reconciler) *ReconcileTenantCommand {
	return &ReconcileTenantCommand{tenants: tenants, reconciler: reconciler}
}

func (c *ReconcileTenantCommand) Execute(ctx context.Context, msg ReconcileTenantMessage) error {
	if c == nil || c.tenants == nil || c.reconciler == nil {
		return core.NewDependencyError("command: reconcile tenant dependencies are required")
	}
	tenant, err := c.tenants.Get(ctx, strings.TrimSpace(msg.TenantID))
	if err != nil {
		return err
	}
	report, err := c.reconciler.FullReconcile(ctx, tenant)
	storeResult(ctx, report)
	return err
}

type ReconcileAllCommand struct {
	reconciler Reconciler
}

func NewReconcileAllCommand(reconciler Reconciler) *ReconcileAllCommand {
	return &ReconcileAllCommand{reconciler: reconciler}
}

// Execute stores the per-tenant reports even when some tenants failed.
func (c *ReconcileAllCommand) Execute(ctx context.Context, _ ReconcileAllMessage) error {
	if c == nil || c.reconciler == nil {
		return core.NewDependencyError("command: reconciler is required")
	}
	reports, err := c.reconciler.ReconcileAll(ctx)
	if reports != nil {
		storeResult(ctx, reports)
	}
	return err
}

type ApplyEventCommand struct {
	tenants TenantReader
	events  EventHandler
}

func NewApplyEventCommand(tenants TenantReader, events EventHandler) *ApplyEventCommand {
	return &ApplyEventCommand{tenants: tenants, events: events}
}

func (c *ApplyEventCommand) Execute(ctx context.Context, msg ApplyEventMessage) error {
	if c == nil || c.tenants == nil || c.events == nil {
		return core.NewDependencyError("command: apply event dependencies are required")
	}
	tenant, err := c.tenants.Get(ctx, strings.TrimSpace(msg.TenantID))
	if err != nil {
		return err
	}
	var result reconcile.EventResult
	if msg.Event != nil {
		result, err = c.events.HandleEvent(ctx, tenant, *msg.Event)
	} else {
		result, err = c.events.ApplyEvent(ctx, tenant, msg.Payload)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

type ConnectTenantCommand struct {
	connector Connector
}

func NewConnectTenantCommand(connector Connector) *ConnectTenantCommand {
	return &ConnectTenantCommand{connector: connector}
}

func (c *ConnectTenantCommand) Execute(ctx context.Context, msg ConnectTenantMessage) error {
	if c == nil || c.connector == nil {
		return core.NewDependencyError("command: connector is required")
	}
	tenant, err := c.connector.CompleteConnect(ctx, strings.TrimSpace(msg.State), strings.TrimSpace(msg.Code))
	if err != nil {
		return err
	}
	storeResult(ctx, tenant)
	return nil
}

type DisconnectTenantCommand struct {
	tenants TenantDisconnector
}

func NewDisconnectTenantCommand(tenants TenantDisconnector) *DisconnectTenantCommand {
	return &DisconnectTenantCommand{tenants: tenants}
}

func (c *DisconnectTenantCommand) Execute(ctx context.Context, msg DisconnectTenantMessage) error {
	if c == nil || c.tenants == nil {
		return core.NewDependencyError("command: tenant store is required")
	}
	return c.tenants.Disconnect(ctx, strings.TrimSpace(msg.TenantID))
}

type ReplayDeliveriesCommand struct {
	replayer DeliveryReplayer
}

func NewReplayDeliveriesCommand(replayer DeliveryReplayer) *ReplayDeliveriesCommand {
	return &ReplayDeliveriesCommand{replayer: replayer}
}

// Execute stores the replay report; failed deliveries are settled in the
// ledger and only a ledger failure is returned.
func (c *ReplayDeliveriesCommand) Execute(ctx context.Context, msg ReplayDeliveriesMessage) error {
	if c == nil || c.replayer == nil {
		return core.NewDependencyError("command: delivery replayer is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	report, err := c.replayer.ReplayDue(ctx, msg.Limit)
	storeResult(ctx, report)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
