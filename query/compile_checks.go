package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-leadsync/core"
)

var (
	_ gocmd.Querier[GetAccessTokenMessage, string]                 = (*GetAccessTokenQuery)(nil)
	_ gocmd.Querier[ResolveConfigMessage, core.FieldMappingConfig] = (*ResolveConfigQuery)(nil)
	_ gocmd.Querier[GetLeadMessage, core.Lead]                     = (*GetLeadQuery)(nil)
	_ gocmd.Querier[ListLeadsMessage, LeadPage]                    = (*ListLeadsQuery)(nil)

	_ LeadReader = core.LeadStore(nil)
)
