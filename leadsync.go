// Package leadsync wires the token manager, the CRM client, the field
// mapping and reconciliation engines, webhook intake and the command and
// query handlers into one System.
package leadsync

import (
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/goliatone/go-leadsync/token"
)

type Config = core.Config

type Tenant = core.Tenant
type Lead = core.Lead
type Credential = core.Credential
type FieldMappingConfig = core.FieldMappingConfig

type OAuthStateStore = core.OAuthStateStore
type CredentialStore = core.CredentialStore
type Locker = core.Locker
type TenantStore = core.TenantStore
type LeadStore = core.LeadStore

type Report = reconcile.Report
type Event = reconcile.Event
type EventResult = reconcile.EventResult
type Grant = token.Grant

func DefaultConfig() Config {
	return core.DefaultConfig()
}
