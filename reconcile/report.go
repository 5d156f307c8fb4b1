package reconcile

import (
	"time"

	"github.com/goliatone/go-leadsync/core"
)

// Report summarizes one full sweep of a tenant.
type Report struct {
	TenantID  string        `json:"tenantId"`
	Pages     int           `json:"pages"`
	Fetched   int           `json:"fetched"`
	Upserted  int           `json:"upserted"`
	Skipped   int           `json:"skipped"`
	Failures  []ItemFailure `json:"failures,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

type ItemFailure struct {
	OpportunityID string `json:"opportunityId"`
	Code          string `json:"code"`
	Error         string `json:"error"`
}

func (r *Report) recordFailure(opportunityID string, err error) {
	r.Skipped++
	failure := ItemFailure{OpportunityID: opportunityID, Error: err.Error()}
	if rich := core.MapError(err); rich != nil {
		failure.Code = rich.TextCode
	}
	r.Failures = append(r.Failures, failure)
}
