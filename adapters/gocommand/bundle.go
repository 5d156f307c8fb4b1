package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	leadcommand "github.com/goliatone/go-leadsync/command"
	"github.com/goliatone/go-leadsync/core"
	leadquery "github.com/goliatone/go-leadsync/query"
)

// Bundle groups the leadsync handlers exposed on the dispatcher. Nil
// entries are skipped.
type Bundle struct {
	ReconcileTenant  *leadcommand.ReconcileTenantCommand
	ReconcileAll     *leadcommand.ReconcileAllCommand
	ApplyEvent       *leadcommand.ApplyEventCommand
	ConnectTenant    *leadcommand.ConnectTenantCommand
	DisconnectTenant *leadcommand.DisconnectTenantCommand
	ReplayDeliveries *leadcommand.ReplayDeliveriesCommand

	GetAccessToken *leadquery.GetAccessTokenQuery
	ResolveConfig  *leadquery.ResolveConfigQuery
	GetLead        *leadquery.GetLeadQuery
	ListLeads      *leadquery.ListLeadsQuery
}

type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterBundle registers and subscribes every configured handler. On
// failure the subscriptions made so far are removed.
func RegisterBundle(adapter *RegistryAdapter, bundle Bundle, runnerOpts ...runner.Option) (Subscriptions, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	subs := Subscriptions{}
	add := func(name string, register func() (commanddispatcher.Subscription, error)) error {
		sub, err := register()
		if err != nil {
			return fmt.Errorf("gocommand: register %s: %w", name, err)
		}
		subs = append(subs, sub)
		return nil
	}

	steps := []struct {
		name    string
		enabled bool
		fn      func() (commanddispatcher.Subscription, error)
	}{
		{leadcommand.TypeReconcileTenant, bundle.ReconcileTenant != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.ReconcileTenantMessage](adapter, bundle.ReconcileTenant, runnerOpts...)
		}},
		{leadcommand.TypeReconcileAll, bundle.ReconcileAll != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.ReconcileAllMessage](adapter, bundle.ReconcileAll, runnerOpts...)
		}},
		{leadcommand.TypeApplyEvent, bundle.ApplyEvent != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.ApplyEventMessage](adapter, bundle.ApplyEvent, runnerOpts...)
		}},
		{leadcommand.TypeConnectTenant, bundle.ConnectTenant != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.ConnectTenantMessage](adapter, bundle.ConnectTenant, runnerOpts...)
		}},
		{leadcommand.TypeDisconnectTenant, bundle.DisconnectTenant != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.DisconnectTenantMessage](adapter, bundle.DisconnectTenant, runnerOpts...)
		}},
		{leadcommand.TypeReplayDeliveries, bundle.ReplayDeliveries != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[leadcommand.ReplayDeliveriesMessage](adapter, bundle.ReplayDeliveries, runnerOpts...)
		}},
		{leadquery.TypeGetAccessToken, bundle.GetAccessToken != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[leadquery.GetAccessTokenMessage, string](adapter, bundle.GetAccessToken, runnerOpts...)
		}},
		{leadquery.TypeResolveConfig, bundle.ResolveConfig != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[leadquery.ResolveConfigMessage, core.FieldMappingConfig](adapter, bundle.ResolveConfig, runnerOpts...)
		}},
		{leadquery.TypeGetLead, bundle.GetLead != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[leadquery.GetLeadMessage, core.Lead](adapter, bundle.GetLead, runnerOpts...)
		}},
		{leadquery.TypeListLeads, bundle.ListLeads != nil, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[leadquery.ListLeadsMessage, leadquery.LeadPage](adapter, bundle.ListLeads, runnerOpts...)
		}},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		if err := add(step.name, step.fn); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}
