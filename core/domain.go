package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrentConfigVersion is the field mapping schema version produced by this
// build. Persisted configs below this version are migrated on load.
const CurrentConfigVersion = 3

type CanonicalStatus string

const (
	StatusNewLead         CanonicalStatus = "new-lead"
	StatusContacted       CanonicalStatus = "contacted"
	StatusQuoteSent       CanonicalStatus = "quote-sent"
	StatusBooked          CanonicalStatus = "booked"
	StatusJobComplete     CanonicalStatus = "job-complete"
	StatusReviewRequested CanonicalStatus = "review-requested"
	StatusLost            CanonicalStatus = "lost"
)

// CanonicalStatuses lists every status in pipeline order. Reverse lookups
// break ties using this order.
func CanonicalStatuses() []CanonicalStatus {
	return []CanonicalStatus{
		StatusNewLead,
		StatusContacted,
		StatusQuoteSent,
		StatusBooked,
		StatusJobComplete,
		StatusReviewRequested,
		StatusLost,
	}
}

func (s CanonicalStatus) Valid() bool {
	for _, known := range CanonicalStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

type EntityModel string

const (
	EntityContact     EntityModel = "contact"
	EntityOpportunity EntityModel = "opportunity"
)

func (m EntityModel) Valid() bool {
	return m == EntityContact || m == EntityOpportunity
}

// Other returns the opposite custom field namespace.
func (m EntityModel) Other() EntityModel {
	if m == EntityContact {
		return EntityOpportunity
	}
	return EntityContact
}

// CustomFieldKey describes one canonical custom field and the display name
// used to find or create it in the CRM.
type CustomFieldKey struct {
	Key          string
	Name         string
	DefaultModel EntityModel
}

const (
	FieldJobType         = "job_type"
	FieldJobAddress      = "job_address"
	FieldAppointmentDate = "appointment_date"
	FieldReviewRating    = "review_rating"
	FieldLeadSource      = "lead_source"
)

func CanonicalCustomFields() []CustomFieldKey {
	return []CustomFieldKey{
		{Key: FieldJobType, Name: "Job Type", DefaultModel: EntityOpportunity},
		{Key: FieldJobAddress, Name: "Job Address", DefaultModel: EntityContact},
		{Key: FieldAppointmentDate, Name: "Appointment Date", DefaultModel: EntityOpportunity},
		{Key: FieldReviewRating, Name: "Review Rating", DefaultModel: EntityOpportunity},
		{Key: FieldLeadSource, Name: "Lead Source", DefaultModel: EntityContact},
	}
}

func LookupCustomField(key string) (CustomFieldKey, bool) {
	for _, field := range CanonicalCustomFields() {
		if field.Key == key {
			return field, true
		}
	}
	return CustomFieldKey{}, false
}

type FieldRef struct {
	ExternalFieldID string      `json:"externalFieldId"`
	EntityModel     EntityModel `json:"entityModel"`
}

type FieldMappingConfig struct {
	Version        int                        `json:"version"`
	PipelineID     string                     `json:"pipelineId"`
	StageMap       map[CanonicalStatus]string `json:"stageMap"`
	CustomFieldMap map[string]FieldRef        `json:"customFieldMap"`
}

func (c FieldMappingConfig) Outdated() bool {
	return c.Version < CurrentConfigVersion
}

// StageID resolves the external stage for a status. Unmapped statuses fall
// back to the new-lead stage, then to the first mapped stage in canonical
// order.
func (c FieldMappingConfig) StageID(status CanonicalStatus) string {
	if id := strings.TrimSpace(c.StageMap[status]); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.StageMap[StatusNewLead]); id != "" {
		return id
	}
	for _, candidate := range CanonicalStatuses() {
		if id := strings.TrimSpace(c.StageMap[candidate]); id != "" {
			return id
		}
	}
	return ""
}

// StatusForStage reverse-maps an external stage id. The boolean is false when
// no canonical status points at the stage.
func (c FieldMappingConfig) StatusForStage(stageID string) (CanonicalStatus, bool) {
	stageID = strings.TrimSpace(stageID)
	if stageID == "" {
		return "", false
	}
	for _, status := range CanonicalStatuses() {
		if c.StageMap[status] == stageID {
			return status, true
		}
	}
	return "", false
}

func (c FieldMappingConfig) Clone() FieldMappingConfig {
	out := FieldMappingConfig{
		Version:        c.Version,
		PipelineID:     c.PipelineID,
		StageMap:       make(map[CanonicalStatus]string, len(c.StageMap)),
		CustomFieldMap: make(map[string]FieldRef, len(c.CustomFieldMap)),
	}
	for key, value := range c.StageMap {
		out.StageMap[key] = value
	}
	for key, value := range c.CustomFieldMap {
		out.CustomFieldMap[key] = value
	}
	return out
}

type Tenant struct {
	ID           string
	Name         string
	LocationID   *string
	Config       *FieldMappingConfig
	RecaptureTag string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t Tenant) Connected() bool {
	return t.LocationID != nil && strings.TrimSpace(*t.LocationID) != ""
}

func (t Tenant) Location() string {
	if t.LocationID == nil {
		return ""
	}
	return strings.TrimSpace(*t.LocationID)
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	return nil
}

type Credential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// FreshFor reports whether the access token outlives now by more than buffer.
func (c Credential) FreshFor(now time.Time, buffer time.Duration) bool {
	if strings.TrimSpace(c.AccessToken) == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Sub(now) > buffer
}

func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt.IsZero() || !c.ExpiresAt.After(now)
}

// Lead is the vault projection of one remote opportunity and its contact.
type Lead struct {
	ID                string
	TenantID          string
	ContactID         string
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	PhoneE164         string
	OpportunityName   string
	MonetaryValue     decimal.Decimal
	Status            CanonicalStatus
	RawStatus         string
	StageID           string
	Source            string
	JobType           string
	JobAddress        string
	AppointmentAt     *time.Time
	ReviewRequestedAt *time.Time
	ReviewRating      string
	CustomValues      map[string]string
	NotesCount        int
	RemoteCreatedAt   *time.Time
	RemoteUpdatedAt   *time.Time
	SyncedAt          time.Time
}

// ContactIdentity is the subset of lead fields owned by the contact record.
type ContactIdentity struct {
	ContactID string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	PhoneE164 string
}

func (l *Lead) ApplyIdentity(identity ContactIdentity) {
	if l == nil {
		return
	}
	l.ContactID = identity.ContactID
	l.FirstName = identity.FirstName
	l.LastName = identity.LastName
	l.Email = identity.Email
	l.Phone = identity.Phone
	l.PhoneE164 = identity.PhoneE164
}

func (l Lead) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("core: lead id is required")
	}
	if strings.TrimSpace(l.TenantID) == "" {
		return fmt.Errorf("core: lead tenant id is required")
	}
	return nil
}
