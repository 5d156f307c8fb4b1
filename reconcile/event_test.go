package reconcile

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_TrimsAndKeepsIDs(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":" OpportunityStageUpdate ","locationId":" loc_1 ","id":"opp_1","contactId":"c_1","webhookId":"wh_1"}`))
	require.NoError(t, err)

	assert.Equal(t, EventOpportunityStageUpdate, event.Type)
	assert.Equal(t, "loc_1", event.LocationID)
	assert.Equal(t, "opp_1", event.ID)
	assert.Equal(t, "c_1", event.ContactID)
	assert.Equal(t, "wh_1", event.WebhookID)
	assert.True(t, event.Type.RefetchesOpportunity())
}

func TestDecodeEvent_UnknownTypeNeedsNoID(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"AppointmentCreate","locationId":"loc_1"}`))
	require.NoError(t, err)
	assert.False(t, event.Type.Known())
}

func TestDecodeEvent_ReportsFieldNames(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"id":"opp_1"}`))
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	fields := map[string]string{}
	for _, fe := range rich.AllValidationErrors() {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "is required", fields["type"])
	assert.Equal(t, "is required", fields["locationId"])
}

func TestEventType_Classification(t *testing.T) {
	assert.True(t, EventOpportunityDelete.Known())
	assert.False(t, EventOpportunityDelete.RefetchesOpportunity())
	assert.True(t, EventContactUpdate.Known())
	assert.False(t, EventContactUpdate.RefetchesOpportunity())
	assert.False(t, EventType("").Known())
}
