package sqlstore

import (
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type tenantRecord struct {
	bun.BaseModel `bun:"table:leadsync_tenants,alias:lt"`

	ID            string                   `bun:"id,pk"`
	Name          string                   `bun:"name,notnull"`
	LocationID    *string                  `bun:"location_id"`
	FieldConfig   *core.FieldMappingConfig `bun:"field_config,type:jsonb"`
	ConfigVersion int                      `bun:"config_version,notnull"`
	RecaptureTag  string                   `bun:"recapture_tag,notnull"`
	CreatedAt     time.Time                `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time                `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type leadRecord struct {
	bun.BaseModel `bun:"table:leadsync_leads,alias:ll"`

	ID                string            `bun:"id,pk"`
	TenantID          string            `bun:"tenant_id,pk"`
	ContactID         string            `bun:"contact_id,notnull"`
	FirstName         string            `bun:"first_name,notnull"`
	LastName          string            `bun:"last_name,notnull"`
	Email             string            `bun:"email,notnull"`
	Phone             string            `bun:"phone,notnull"`
	PhoneE164         string            `bun:"phone_e164,notnull"`
	OpportunityName   string            `bun:"opportunity_name,notnull"`
	MonetaryValue     decimal.Decimal   `bun:"monetary_value,notnull"`
	Status            string            `bun:"status,notnull"`
	RawStatus         string            `bun:"raw_status,notnull"`
	StageID           string            `bun:"stage_id,notnull"`
	Source            string            `bun:"source,notnull"`
	JobType           string            `bun:"job_type,notnull"`
	JobAddress        string            `bun:"job_address,notnull"`
	AppointmentAt     *time.Time        `bun:"appointment_at,nullzero"`
	ReviewRequestedAt *time.Time        `bun:"review_requested_at,nullzero"`
	ReviewRating      string            `bun:"review_rating,notnull"`
	CustomValues      map[string]string `bun:"custom_values,type:jsonb,notnull"`
	NotesCount        int               `bun:"notes_count,notnull"`
	RemoteCreatedAt   *time.Time        `bun:"remote_created_at,nullzero"`
	RemoteUpdatedAt   *time.Time        `bun:"remote_updated_at,nullzero"`
	SyncedAt          time.Time         `bun:"synced_at,notnull"`
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:leadsync_webhook_deliveries,alias:lwd"`

	ID            string     `bun:"id,pk"`
	ClaimID       string     `bun:"claim_id,notnull"`
	LocationID    string     `bun:"location_id,notnull"`
	DeliveryID    string     `bun:"delivery_id,notnull"`
	Status        string     `bun:"status,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	LastError     string     `bun:"last_error,notnull"`
	NextAttemptAt *time.Time `bun:"next_attempt_at,nullzero"`
	Payload       []byte     `bun:"payload"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:leadsync_rate_limit_state,alias:lrs"`

	ID             string     `bun:"id,pk"`
	LocationID     string     `bun:"location_id,notnull"`
	Bucket         string     `bun:"bucket,notnull"`
	RequestLimit   int        `bun:"request_limit,notnull"`
	Remaining      int        `bun:"remaining,notnull"`
	DailyRemaining *int       `bun:"daily_remaining"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	RetryAfterMS   *int64     `bun:"retry_after_ms"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	LastStatus     int        `bun:"last_status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
