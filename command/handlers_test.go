package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/goliatone/go-leadsync/webhooks"
)

type stubTenants struct {
	getFn        func(ctx context.Context, tenantID string) (core.Tenant, error)
	disconnectFn func(ctx context.Context, tenantID string) error
}

func (s stubTenants) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if s.getFn == nil {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return s.getFn(ctx, tenantID)
}

func (s stubTenants) Disconnect(ctx context.Context, tenantID string) error {
	if s.disconnectFn == nil {
		return nil
	}
	return s.disconnectFn(ctx, tenantID)
}

type stubReconciler struct {
	fullFn func(ctx context.Context, tenant core.Tenant) (reconcile.Report, error)
	allFn  func(ctx context.Context) (map[string]reconcile.Report, error)
}

func (s stubReconciler) FullReconcile(ctx context.Context, tenant core.Tenant) (reconcile.Report, error) {
	return s.fullFn(ctx, tenant)
}

func (s stubReconciler) ReconcileAll(ctx context.Context) (map[string]reconcile.Report, error) {
	return s.allFn(ctx)
}

type stubEvents struct {
	applyFn  func(ctx context.Context, tenant core.Tenant, payload []byte) (reconcile.EventResult, error)
	handleFn func(ctx context.Context, tenant core.Tenant, event reconcile.Event) (reconcile.EventResult, error)
}

func (s stubEvents) ApplyEvent(ctx context.Context, tenant core.Tenant, payload []byte) (reconcile.EventResult, error) {
	return s.applyFn(ctx, tenant, payload)
}

func (s stubEvents) HandleEvent(ctx context.Context, tenant core.Tenant, event reconcile.Event) (reconcile.EventResult, error) {
	return s.handleFn(ctx, tenant, event)
}

type connectorFunc func(ctx context.Context, state string, code string) (core.Tenant, error)

func (fn connectorFunc) CompleteConnect(ctx context.Context, state string, code string) (core.Tenant, error) {
	return fn(ctx, state, code)
}

type replayerFunc func(ctx context.Context, limit int) (webhooks.ReplayReport, error)

func (fn replayerFunc) ReplayDue(ctx context.Context, limit int) (webhooks.ReplayReport, error) {
	return fn(ctx, limit)
}

func connectedTenant(id string) core.Tenant {
	location := "loc_" + id
	return core.Tenant{ID: id, LocationID: &location}
}

func TestReconcileTenantCommand_StoresReport(t *testing.T) {
	tenants := stubTenants{getFn: func(_ context.Context, tenantID string) (core.Tenant, error) {
		if tenantID != "tenant_1" {
			t.Fatalf("expected trimmed tenant id, got %q", tenantID)
		}
		return connectedTenant(tenantID), nil
	}}
	reconciler := stubReconciler{fullFn: func(_ context.Context, tenant core.Tenant) (reconcile.Report, error) {
		return reconcile.Report{TenantID: tenant.ID, Fetched: 3, Upserted: 3}, nil
	}}

	collector := gocmd.NewResult[reconcile.Report]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	cmd := NewReconcileTenantCommand(tenants, reconciler)
	if err := cmd.Execute(ctx, ReconcileTenantMessage{TenantID: " tenant_1 "}); err != nil {
		t.Fatalf("execute reconcile: %v", err)
	}
	report, ok := collector.Load()
	if !ok {
		t.Fatalf("expected stored report")
	}
	if report.TenantID != "tenant_1" || report.Upserted != 3 {
		t.Fatalf("unexpected report: %#v", report)
	}
}

func TestReconcileTenantCommand_StoresPartialReportOnFailure(t *testing.T) {
	tenants := stubTenants{getFn: func(_ context.Context, tenantID string) (core.Tenant, error) {
		return connectedTenant(tenantID), nil
	}}
	failure := core.NewRateLimitError("crm: throttled", 0)
	reconciler := stubReconciler{fullFn: func(_ context.Context, tenant core.Tenant) (reconcile.Report, error) {
		return reconcile.Report{TenantID: tenant.ID, Pages: 1}, failure
	}}

	collector := gocmd.NewResult[reconcile.Report]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewReconcileTenantCommand(tenants, reconciler).Execute(ctx, ReconcileTenantMessage{TenantID: "tenant_1"})
	if !core.IsRateLimitError(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if report, ok := collector.Load(); !ok || report.Pages != 1 {
		t.Fatalf("expected partial report stored, got %#v", report)
	}
}

func TestReconcileTenantCommand_UnknownTenant(t *testing.T) {
	cmd := NewReconcileTenantCommand(stubTenants{}, stubReconciler{})
	err := cmd.Execute(context.Background(), ReconcileTenantMessage{TenantID: "missing"})
	if !core.IsNotFound(err) {
		t.Fatalf("expected tenant not found, got %v", err)
	}
}

func TestReconcileAllCommand_StoresReportsAndError(t *testing.T) {
	joined := errors.Join(core.NewAuthError("crm: unauthorized", nil))
	reconciler := stubReconciler{allFn: func(context.Context) (map[string]reconcile.Report, error) {
		return map[string]reconcile.Report{
			"tenant_1": {TenantID: "tenant_1", Upserted: 2},
			"tenant_2": {TenantID: "tenant_2", Error: "unauthorized"},
		}, joined
	}}

	collector := gocmd.NewResult[map[string]reconcile.Report]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewReconcileAllCommand(reconciler).Execute(ctx, ReconcileAllMessage{})
	if !core.IsAuthError(err) {
		t.Fatalf("expected joined auth error, got %v", err)
	}
	reports, ok := collector.Load()
	if !ok || len(reports) != 2 {
		t.Fatalf("expected both reports stored, got %#v", reports)
	}
}

func TestApplyEventCommand_PrefersDecodedEvent(t *testing.T) {
	tenants := stubTenants{getFn: func(_ context.Context, tenantID string) (core.Tenant, error) {
		return connectedTenant(tenantID), nil
	}}
	handled := 0
	events := stubEvents{
		applyFn: func(context.Context, core.Tenant, []byte) (reconcile.EventResult, error) {
			t.Fatalf("payload path should not run when event is set")
			return reconcile.EventResult{}, nil
		},
		handleFn: func(_ context.Context, _ core.Tenant, event reconcile.Event) (reconcile.EventResult, error) {
			handled++
			return reconcile.EventResult{Type: event.Type, Action: reconcile.ActionDeleted, OpportunityID: event.ID}, nil
		},
	}

	collector := gocmd.NewResult[reconcile.EventResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	err := NewApplyEventCommand(tenants, events).Execute(ctx, ApplyEventMessage{
		TenantID: "tenant_1",
		Event:    &reconcile.Event{Type: reconcile.EventOpportunityDelete, LocationID: "loc_tenant_1", ID: "opp_1"},
		Payload:  []byte(`{"type":"ignored"}`),
	})
	if err != nil {
		t.Fatalf("apply event: %v", err)
	}
	if handled != 1 {
		t.Fatalf("expected one handled event, got %d", handled)
	}
	result, ok := collector.Load()
	if !ok || result.Action != reconcile.ActionDeleted || result.OpportunityID != "opp_1" {
		t.Fatalf("unexpected event result: %#v", result)
	}
}

func TestApplyEventCommand_DecodesPayload(t *testing.T) {
	tenants := stubTenants{getFn: func(_ context.Context, tenantID string) (core.Tenant, error) {
		return connectedTenant(tenantID), nil
	}}
	var received []byte
	events := stubEvents{applyFn: func(_ context.Context, _ core.Tenant, payload []byte) (reconcile.EventResult, error) {
		received = payload
		return reconcile.EventResult{Action: reconcile.ActionIgnored}, nil
	}}

	err := NewApplyEventCommand(tenants, events).Execute(context.Background(), ApplyEventMessage{
		TenantID: "tenant_1",
		Payload:  []byte(`{"type":"AppointmentCreate","locationId":"loc_tenant_1"}`),
	})
	if err != nil {
		t.Fatalf("apply payload: %v", err)
	}
	if len(received) == 0 {
		t.Fatalf("expected payload forwarded")
	}
}

func TestConnectTenantCommand_StoresTenant(t *testing.T) {
	connector := connectorFunc(func(_ context.Context, state string, code string) (core.Tenant, error) {
		if state != "state_1" || code != "code_1" {
			t.Fatalf("unexpected connect args: %q %q", state, code)
		}
		return connectedTenant("tenant_1"), nil
	})

	collector := gocmd.NewResult[core.Tenant]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewConnectTenantCommand(connector).Execute(ctx, ConnectTenantMessage{State: "state_1", Code: " code_1 "}); err != nil {
		t.Fatalf("connect tenant: %v", err)
	}
	tenant, ok := collector.Load()
	if !ok || tenant.Location() != "loc_tenant_1" {
		t.Fatalf("unexpected connected tenant: %#v", tenant)
	}
}

func TestDisconnectTenantCommand_Delegates(t *testing.T) {
	called := ""
	tenants := stubTenants{disconnectFn: func(_ context.Context, tenantID string) error {
		called = tenantID
		return nil
	}}
	if err := NewDisconnectTenantCommand(tenants).Execute(context.Background(), DisconnectTenantMessage{TenantID: "tenant_1"}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if called != "tenant_1" {
		t.Fatalf("expected disconnect for tenant_1, got %q", called)
	}
}

func TestCommands_ExecuteWithoutCollector(t *testing.T) {
	reconciler := stubReconciler{allFn: func(context.Context) (map[string]reconcile.Report, error) {
		return map[string]reconcile.Report{}, nil
	}}
	if err := NewReconcileAllCommand(reconciler).Execute(context.Background(), ReconcileAllMessage{}); err != nil {
		t.Fatalf("expected execute without collector to succeed, got %v", err)
	}
}

func TestReplayDeliveriesCommand_StoresReport(t *testing.T) {
	gotLimit := -1
	replayer := replayerFunc(func(_ context.Context, limit int) (webhooks.ReplayReport, error) {
		gotLimit = limit
		return webhooks.ReplayReport{Due: 3, Processed: 2, Failed: 1}, nil
	})

	collector := gocmd.NewResult[webhooks.ReplayReport]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := NewReplayDeliveriesCommand(replayer).Execute(ctx, ReplayDeliveriesMessage{Limit: 25}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if gotLimit != 25 {
		t.Fatalf("expected limit passed through, got %d", gotLimit)
	}
	report, ok := collector.Load()
	if !ok || report.Processed != 2 || report.Failed != 1 {
		t.Fatalf("expected report stored, got %#v", report)
	}
}

func TestReplayDeliveriesCommand_RejectsNegativeLimit(t *testing.T) {
	replayer := replayerFunc(func(context.Context, int) (webhooks.ReplayReport, error) {
		t.Fatalf("replayer must not run")
		return webhooks.ReplayReport{}, nil
	})
	err := NewReplayDeliveriesCommand(replayer).Execute(context.Background(), ReplayDeliveriesMessage{Limit: -1})
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
