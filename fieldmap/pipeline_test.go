package fieldmap

import (
	"testing"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPipeline_Precedence(t *testing.T) {
	pipelines := []crm.Pipeline{
		{ID: "p_1", Name: "Sales"},
		{ID: "p_2", Name: "Inbound Leads"},
		{ID: "p_3", Name: "LeadSync Pipeline"},
	}

	selected, err := SelectPipeline(pipelines, "LeadSync Pipeline", "lead")
	require.NoError(t, err)
	assert.Equal(t, "p_3", selected.ID, "exact name wins")

	selected, err = SelectPipeline(pipelines, "Missing", "LEAD")
	require.NoError(t, err)
	assert.Equal(t, "p_2", selected.ID, "keyword match is case insensitive")

	selected, err = SelectPipeline(pipelines, "Missing", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "p_1", selected.ID, "first pipeline is the fallback")
}

func TestSelectPipeline_ExactNameIsCaseSensitive(t *testing.T) {
	pipelines := []crm.Pipeline{{ID: "p_1", Name: "Sales"}, {ID: "p_2", Name: "leadsync pipeline"}}

	selected, err := SelectPipeline(pipelines, "LeadSync Pipeline", "")
	require.NoError(t, err)
	assert.Equal(t, "p_1", selected.ID)
}

func TestSelectPipeline_NoPipelinesIsConfigError(t *testing.T) {
	_, err := SelectPipeline(nil, "LeadSync Pipeline", "lead")
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
}

func TestResolveStages_NameKeywordAndPosition(t *testing.T) {
	stages := []crm.Stage{
		{ID: "s_4", Name: "Scheduled", Position: 3},
		{ID: "s_1", Name: "new lead", Position: 0},
		{ID: "s_2", Name: "Call Attempted", Position: 1},
		{ID: "s_3", Name: "Estimate Sent", Position: 2},
	}

	resolved, err := ResolveStages(stages, nil)
	require.NoError(t, err)

	assert.Equal(t, "s_1", resolved[core.StatusNewLead], "exact name ignores case")
	assert.Equal(t, "s_2", resolved[core.StatusContacted], "positional default after sorting")
	assert.Equal(t, "s_3", resolved[core.StatusQuoteSent], "keyword match")
	assert.Equal(t, "s_4", resolved[core.StatusBooked], "keyword match on schedul")
	assert.Equal(t, "s_4", resolved[core.StatusJobComplete], "default index clamps to last stage")
	assert.Equal(t, "s_4", resolved[core.StatusLost])
	for _, status := range core.CanonicalStatuses() {
		assert.NotEmpty(t, resolved[status], "status %s must be mapped", status)
	}
}

func TestResolveStages_EmptyPipelineIsConfigError(t *testing.T) {
	_, err := ResolveStages(nil, nil)
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))
}

func TestWithExtraStageNames_LeavesRulesUntouched(t *testing.T) {
	rules := DefaultStageRules()
	merged := WithExtraStageNames(rules, map[string][]string{string(core.StatusBooked): {"Scheduled Visit"}})

	for i, rule := range merged {
		if rule.Status == core.StatusBooked {
			assert.Equal(t, []string{"Scheduled Visit", "Booked"}, rule.Names)
			assert.Equal(t, []string{"Booked"}, rules[i].Names)
			continue
		}
		assert.Equal(t, rules[i].Names, rule.Names)
	}
}
