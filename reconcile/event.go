package reconcile

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-leadsync/core"
)

type EventType string

const (
	EventOpportunityCreate       EventType = "OpportunityCreate"
	EventOpportunityUpdate       EventType = "OpportunityUpdate"
	EventOpportunityStatusUpdate EventType = "OpportunityStatusUpdate"
	EventOpportunityStageUpdate  EventType = "OpportunityStageUpdate"
	EventOpportunityDelete       EventType = "OpportunityDelete"
	EventContactUpdate           EventType = "ContactUpdate"
)

// RefetchesOpportunity reports whether the event is answered by a full
// opportunity re-fetch.
func (t EventType) RefetchesOpportunity() bool {
	switch t {
	case EventOpportunityCreate, EventOpportunityUpdate, EventOpportunityStatusUpdate, EventOpportunityStageUpdate:
		return true
	}
	return false
}

func (t EventType) Known() bool {
	return t.RefetchesOpportunity() || t == EventOpportunityDelete || t == EventContactUpdate
}

// Event is the subset of a CRM webhook the engine acts on. For contact
// events ID is the contact id; ContactID is only set on opportunity events.
type Event struct {
	Type       EventType `json:"type" validate:"required"`
	LocationID string    `json:"locationId" validate:"required"`
	ID         string    `json:"id"`
	ContactID  string    `json:"contactId"`
	WebhookID  string    `json:"webhookId"`
}

type Action string

const (
	ActionIgnored  Action = "ignored"
	ActionUpserted Action = "upserted"
	ActionDeleted  Action = "deleted"
	ActionUpdated  Action = "updated"
	// ActionQueued marks an event handed to a job queue instead of applied
	// inline.
	ActionQueued   Action = "queued"
)

type EventResult struct {
	Type          EventType `json:"type"`
	Action        Action    `json:"action"`
	OpportunityID string    `json:"opportunityId,omitempty"`
	ContactID     string    `json:"contactId,omitempty"`
	LeadsUpdated  int       `json:"leadsUpdated,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

// DecodeEvent parses and validates a webhook payload. Known types also need
// an entity id; unknown types decode successfully so callers can ignore them.
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, core.NewValidationError("reconcile: malformed event payload", goerrors.FieldError{
			Field:   "payload",
			Message: err.Error(),
		})
	}
	event.Type = EventType(strings.TrimSpace(string(event.Type)))
	event.LocationID = strings.TrimSpace(event.LocationID)
	event.ID = strings.TrimSpace(event.ID)
	event.ContactID = strings.TrimSpace(event.ContactID)

	v := eventValidator()
	if err := v.Struct(event); err != nil {
		return Event{}, validationError(err)
	}
	if event.Type.Known() {
		if err := v.Var(event.ID, "required"); err != nil {
			return Event{}, core.NewValidationError("reconcile: invalid event", goerrors.FieldError{
				Field:   "id",
				Message: "is required",
			})
		}
	}
	return event, nil
}

func validationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return core.NewValidationError("reconcile: invalid event: " + err.Error())
	}
	fields := make([]goerrors.FieldError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		message := "failed " + fe.Tag()
		if fe.Tag() == "required" {
			message = "is required"
		}
		fields = append(fields, goerrors.FieldError{Field: fe.Field(), Message: message})
	}
	return core.NewValidationError("reconcile: invalid event", fields...)
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
