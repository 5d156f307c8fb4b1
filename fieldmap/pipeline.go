package fieldmap

import (
	"sort"
	"strings"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
)

// StageRule drives stage resolution for one canonical status: exact names
// first, then keyword substrings, then a positional default.
type StageRule struct {
	Status       core.CanonicalStatus
	Names        []string
	Keywords     []string
	DefaultIndex int
}

func DefaultStageRules() []StageRule {
	return []StageRule{
		{Status: core.StatusNewLead, Names: []string{"New Lead", "New"}, Keywords: []string{"new"}, DefaultIndex: 0},
		{Status: core.StatusContacted, Names: []string{"Contacted"}, Keywords: []string{"contact"}, DefaultIndex: 1},
		{Status: core.StatusQuoteSent, Names: []string{"Quote Sent"}, Keywords: []string{"quote", "estimate"}, DefaultIndex: 2},
		{Status: core.StatusBooked, Names: []string{"Booked"}, Keywords: []string{"book", "schedul"}, DefaultIndex: 3},
		{Status: core.StatusJobComplete, Names: []string{"Job Complete", "Completed"}, Keywords: []string{"complete", "done"}, DefaultIndex: 4},
		{Status: core.StatusReviewRequested, Names: []string{"Review Requested"}, Keywords: []string{"review"}, DefaultIndex: 5},
		{Status: core.StatusLost, Names: []string{"Lost"}, Keywords: []string{"lost", "abandon"}, DefaultIndex: 6},
	}
}

// WithExtraStageNames returns a copy of rules where the names configured for
// a status are tried before the rule's own names. Unknown statuses are
// ignored.
func WithExtraStageNames(rules []StageRule, names map[string][]string) []StageRule {
	out := make([]StageRule, len(rules))
	for i, rule := range rules {
		extra := names[string(rule.Status)]
		rule.Names = append(append([]string(nil), extra...), rule.Names...)
		rule.Keywords = append([]string(nil), rule.Keywords...)
		out[i] = rule
	}
	return out
}

// SelectPipeline picks the app pipeline by exact name, then by a case
// insensitive keyword match, then the first listed pipeline.
func SelectPipeline(pipelines []crm.Pipeline, appName, keyword string) (crm.Pipeline, error) {
	if len(pipelines) == 0 {
		return crm.Pipeline{}, core.NewConfigError("fieldmap: location has no pipelines")
	}
	appName = strings.TrimSpace(appName)
	if appName != "" {
		for _, pipeline := range pipelines {
			if strings.TrimSpace(pipeline.Name) == appName {
				return pipeline, nil
			}
		}
	}
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword != "" {
		for _, pipeline := range pipelines {
			if strings.Contains(strings.ToLower(pipeline.Name), keyword) {
				return pipeline, nil
			}
		}
	}
	return pipelines[0], nil
}

// ResolveStages maps every canonical status onto a stage of the pipeline.
// Stages are ordered by position before the positional default applies, and
// the default index is clamped to the last stage.
func ResolveStages(stages []crm.Stage, rules []StageRule) (map[core.CanonicalStatus]string, error) {
	if len(stages) == 0 {
		return nil, core.NewConfigError("fieldmap: pipeline has no stages")
	}
	if len(rules) == 0 {
		rules = DefaultStageRules()
	}
	ordered := append([]crm.Stage(nil), stages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	out := make(map[core.CanonicalStatus]string, len(rules))
	for _, rule := range rules {
		out[rule.Status] = resolveStage(ordered, rule)
	}
	return out, nil
}

func resolveStage(stages []crm.Stage, rule StageRule) string {
	for _, name := range rule.Names {
		for _, stage := range stages {
			if strings.EqualFold(strings.TrimSpace(stage.Name), strings.TrimSpace(name)) {
				return stage.ID
			}
		}
	}
	for _, keyword := range rule.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		for _, stage := range stages {
			if strings.Contains(strings.ToLower(stage.Name), keyword) {
				return stage.ID
			}
		}
	}
	index := rule.DefaultIndex
	if index < 0 {
		index = 0
	}
	if index >= len(stages) {
		index = len(stages) - 1
	}
	return stages[index].ID
}
