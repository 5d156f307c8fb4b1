package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customValue(id, property, raw string) crm.CustomFieldValue {
	return crm.CustomFieldValue{ID: id, Properties: map[string]json.RawMessage{
		"id":     json.RawMessage(`"` + id + `"`),
		property: json.RawMessage(raw),
	}}
}

func TestNormalizeStatus_LostAndAbandonedInAnyCase(t *testing.T) {
	cfg := testConfig()
	for _, raw := range []string{"lost", "LOST", "Lost", "abandoned", "Abandoned", "aBaNdOnEd", " lost "} {
		assert.Equal(t, core.StatusLost, NormalizeStatus(raw, "s_booked", cfg), raw)
	}
}

func TestNormalizeStatus_StageLookupAndDefault(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, core.StatusBooked, NormalizeStatus("open", "s_booked", cfg))
	assert.Equal(t, core.StatusNewLead, NormalizeStatus("open", "unknown", cfg))
	assert.Equal(t, core.StatusNewLead, NormalizeStatus("won", "", cfg))
}

func TestNormalizeStatus_TieBreaksByCanonicalOrder(t *testing.T) {
	cfg := testConfig()
	cfg.StageMap[core.StatusJobComplete] = "shared"
	cfg.StageMap[core.StatusContacted] = "shared"

	assert.Equal(t, core.StatusContacted, NormalizeStatus("open", "shared", cfg))
}

func TestNormalizeName_SplitsOpportunityNameOverSentinels(t *testing.T) {
	first, last := NormalizeName(nil, "John Smith")
	assert.Equal(t, "John", first)
	assert.Equal(t, "Smith", last)

	first, last = NormalizeName(&crm.Contact{FirstName: "New", LastName: "Lead"}, "Mary Ann Jones")
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Ann Jones", last)

	first, last = NormalizeName(nil, "Madonna")
	assert.Equal(t, "Madonna", first)
	assert.Equal(t, DefaultLastName, last)
}

func TestNormalizeName_SentinelsPreservedWithoutName(t *testing.T) {
	first, last := NormalizeName(nil, "")
	assert.Equal(t, DefaultFirstName, first)
	assert.Equal(t, DefaultLastName, last)

	first, last = NormalizeName(&crm.Contact{}, "   ")
	assert.Equal(t, DefaultFirstName, first)
	assert.Equal(t, DefaultLastName, last)
}

func TestNormalizeName_ContactWinsAndDigitsReset(t *testing.T) {
	first, last := NormalizeName(&crm.Contact{FirstName: " Ana ", LastName: "Lopez"}, "John Smith")
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "Lopez", last)

	first, last = NormalizeName(nil, "555 1234")
	assert.Equal(t, DefaultFirstName, first)
	assert.Equal(t, DefaultLastName, last)

	first, last = NormalizeName(&crm.Contact{FirstName: "R2D2", LastName: "Droid"}, "")
	assert.Equal(t, DefaultFirstName, first)
	assert.Equal(t, DefaultLastName, last)
}

func TestNormalizeSource_Precedence(t *testing.T) {
	labels := DefaultSourceLabels()

	assert.Equal(t, "Yelp", NormalizeSource(crm.Opportunity{Source: "Yelp"}, &crm.Contact{Source: "Google"}, "", labels))
	assert.Equal(t, "Google", NormalizeSource(crm.Opportunity{}, &crm.Contact{Source: "Google"}, "", labels))

	contact := &crm.Contact{CustomFields: []crm.CustomFieldValue{
		customValue("f_other", "value", `"blue"`),
		customValue("f_src", "value", `"google ads"`),
	}}
	assert.Equal(t, "Google Ads", NormalizeSource(crm.Opportunity{}, contact, "", labels))
	assert.Equal(t, SourceManual, NormalizeSource(crm.Opportunity{}, nil, "", labels))
}

func TestNormalizeSource_RecaptureTagBecomesMissedCall(t *testing.T) {
	labels := DefaultSourceLabels()
	contact := &crm.Contact{Tags: []string{"vip", "ReCapture"}}

	assert.Equal(t, SourceMissedCall, NormalizeSource(crm.Opportunity{}, contact, "recapture", labels))
	assert.Equal(t, "Referral", NormalizeSource(crm.Opportunity{Source: "Referral"}, contact, "recapture", labels))
	assert.Equal(t, SourceManual, NormalizeSource(crm.Opportunity{}, contact, "", labels))

	embedded := crm.Opportunity{Contact: &crm.OpportunityContact{Tags: []string{"recapture"}}}
	assert.Equal(t, SourceMissedCall, NormalizeSource(embedded, nil, "recapture", labels))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+16502530000", NormalizePhone("(650) 253-0000", "US"))
	assert.Equal(t, "+16502530000", NormalizePhone("+1 650 253 0000", ""))
	assert.Equal(t, "", NormalizePhone("not a phone", "US"))
	assert.Equal(t, "", NormalizePhone("", "US"))
}

func TestExtractCustomValues_ReadsRecordedModel(t *testing.T) {
	cfg := testConfig()
	opp := crm.Opportunity{CustomFields: []crm.CustomFieldValue{
		customValue("f_job", "fieldValue", `"Roofing"`),
		customValue("f_addr", "value", `"wrong namespace"`),
	}}
	contact := &crm.Contact{CustomFields: []crm.CustomFieldValue{
		customValue("f_addr", "value", `"12 Main St"`),
	}}

	values := ExtractCustomValues(opp, contact, cfg)
	assert.Equal(t, "Roofing", values[core.FieldJobType])
	assert.Equal(t, "12 Main St", values[core.FieldJobAddress])
	_, ok := values[core.FieldAppointmentDate]
	assert.False(t, ok)
}

func TestParseRemoteTime(t *testing.T) {
	expected := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-05-01", "2026-05-01T00:00:00Z", "05/01/2026", "1777593600000"} {
		parsed := ParseRemoteTime(raw)
		require.NotNil(t, parsed, raw)
		assert.True(t, expected.Equal(*parsed), "%s parsed as %s", raw, parsed)
	}
	assert.Nil(t, ParseRemoteTime("someday"))
}

func TestNormalize_BuildsCompleteLead(t *testing.T) {
	value := decimal.RequireFromString("1499.99")
	updated := time.Date(2026, 2, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
	in := Input{
		Opportunity: crm.Opportunity{
			ID:              "opp_1",
			Name:            "John Smith",
			MonetaryValue:   &value,
			PipelineStageID: "s_review",
			Status:          "open",
			ContactID:       "c_1",
			UpdatedAt:       &updated,
			CustomFields: []crm.CustomFieldValue{
				customValue("f_job", "value", `"Gutters"`),
				customValue("f_appt", "value", `"2026-05-01"`),
			},
		},
		Contact: &crm.Contact{ID: "c_1", FirstName: "New", LastName: "Lead", Email: " John@Example.com ", Phone: "650-253-0000"},
		Notes:   []crm.Note{{ID: "n_1"}, {ID: "n_2"}},
	}
	opts := NormalizeOptions{TenantID: "t_1", RecaptureTag: "recapture", Now: fixedNow}

	lead := Normalize(in, testConfig(), opts)

	assert.Equal(t, "opp_1", lead.ID)
	assert.Equal(t, "t_1", lead.TenantID)
	assert.Equal(t, "c_1", lead.ContactID)
	assert.Equal(t, "John", lead.FirstName)
	assert.Equal(t, "Smith", lead.LastName)
	assert.Equal(t, "john@example.com", lead.Email)
	assert.Equal(t, "+16502530000", lead.PhoneE164)
	assert.True(t, value.Equal(lead.MonetaryValue))
	assert.Equal(t, core.StatusReviewRequested, lead.Status)
	require.NotNil(t, lead.ReviewRequestedAt)
	assert.Equal(t, time.UTC, lead.ReviewRequestedAt.Location())
	assert.Equal(t, SourceManual, lead.Source)
	assert.Equal(t, "Gutters", lead.JobType)
	require.NotNil(t, lead.AppointmentAt)
	assert.Equal(t, 2, lead.NotesCount)
	assert.Equal(t, fixedNow, lead.SyncedAt)

	assert.Equal(t, lead, Normalize(in, testConfig(), opts), "normalization is deterministic")
}

func TestNormalize_MissingValueIsZero(t *testing.T) {
	lead := Normalize(Input{Opportunity: crm.Opportunity{ID: "opp_1"}}, testConfig(), NormalizeOptions{})
	assert.True(t, lead.MonetaryValue.IsZero())
	assert.Equal(t, DefaultFirstName, lead.FirstName)
	assert.Equal(t, core.StatusNewLead, lead.Status)
	assert.Nil(t, lead.ReviewRequestedAt)
}
