package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReconcileTenantMessage]  = (*ReconcileTenantCommand)(nil)
	_ gocmd.Commander[ReconcileAllMessage]     = (*ReconcileAllCommand)(nil)
	_ gocmd.Commander[ApplyEventMessage]       = (*ApplyEventCommand)(nil)
	_ gocmd.Commander[ConnectTenantMessage]    = (*ConnectTenantCommand)(nil)
	_ gocmd.Commander[DisconnectTenantMessage] = (*DisconnectTenantCommand)(nil)
	_ gocmd.Commander[ReplayDeliveriesMessage] = (*ReplayDeliveriesCommand)(nil)
)
