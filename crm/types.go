package crm

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/shopspring/decimal"
)

// Auth scopes a call to one connected location.
type Auth struct {
	LocationID string
}

type Opportunity struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	MonetaryValue   *decimal.Decimal    `json:"monetaryValue,omitempty"`
	PipelineID      string              `json:"pipelineId"`
	PipelineStageID string              `json:"pipelineStageId"`
	Status          string              `json:"status"`
	Source          string              `json:"source"`
	ContactID       string              `json:"contactId"`
	LocationID      string              `json:"locationId"`
	CustomFields    []CustomFieldValue  `json:"customFields"`
	Contact         *OpportunityContact `json:"contact,omitempty"`
	CreatedAt       *time.Time          `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time          `json:"updatedAt,omitempty"`
}

// OpportunityContact is the contact summary embedded in search results.
type OpportunityContact struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Phone string   `json:"phone"`
	Tags  []string `json:"tags"`
}

// ContactIDOrEmbedded resolves the contact id from the top level field or the
// embedded summary.
func (o Opportunity) ContactIDOrEmbedded() string {
	if id := strings.TrimSpace(o.ContactID); id != "" {
		return id
	}
	if o.Contact != nil {
		return strings.TrimSpace(o.Contact.ID)
	}
	return ""
}

type Contact struct {
	ID           string             `json:"id"`
	FirstName    string             `json:"firstName"`
	LastName     string             `json:"lastName"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone"`
	Source       string             `json:"source"`
	Tags         []string           `json:"tags"`
	CustomFields []CustomFieldValue `json:"customFields"`
}

type Note struct {
	ID        string     `json:"id"`
	Body      string     `json:"body"`
	DateAdded *time.Time `json:"dateAdded,omitempty"`
}

// CustomField is a field definition in one entity namespace.
type CustomField struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	FieldKey string           `json:"fieldKey"`
	DataType string           `json:"dataType"`
	Model    core.EntityModel `json:"model"`
}

type CreateCustomFieldRequest struct {
	Name     string           `json:"name"`
	DataType string           `json:"dataType"`
	Model    core.EntityModel `json:"model"`
}

const DataTypeText = "TEXT"

type Pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

type Stage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type SearchMeta struct {
	Total       int    `json:"total"`
	NextPageURL string `json:"nextPageUrl"`
}

type SearchPage struct {
	Opportunities []Opportunity `json:"opportunities"`
	Meta          SearchMeta    `json:"meta"`
}

// CustomFieldValue keeps the raw properties of a custom field entry. The CRM
// uses different property names for the value depending on the entity, so
// the entry is read through FieldValue.
type CustomFieldValue struct {
	ID         string
	Properties map[string]json.RawMessage
}

func (v *CustomFieldValue) UnmarshalJSON(data []byte) error {
	props := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &props); err != nil {
		return err
	}
	v.Properties = props
	v.ID = ""
	for _, key := range []string{"id", "fieldId"} {
		raw, ok := props[key]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(raw, &id); err == nil && strings.TrimSpace(id) != "" {
			v.ID = strings.TrimSpace(id)
			break
		}
	}
	return nil
}

func (v CustomFieldValue) MarshalJSON() ([]byte, error) {
	props := make(map[string]json.RawMessage, len(v.Properties)+1)
	for key, value := range v.Properties {
		props[key] = value
	}
	if v.ID != "" {
		id, err := json.Marshal(v.ID)
		if err != nil {
			return nil, err
		}
		props["id"] = id
	}
	return json.Marshal(props)
}

// FindCustomField returns the entry with the given field id.
func FindCustomField(values []CustomFieldValue, fieldID string) (CustomFieldValue, bool) {
	fieldID = strings.TrimSpace(fieldID)
	if fieldID == "" {
		return CustomFieldValue{}, false
	}
	for _, value := range values {
		if value.ID == fieldID {
			return value, true
		}
	}
	return CustomFieldValue{}, false
}
