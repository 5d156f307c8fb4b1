package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/uptrace/bun"
)

const defaultLeadPageSize = 100

// LeadStore is the vault. Rows are keyed by (tenant_id, id) where id is the
// remote opportunity id.
type LeadStore struct {
	db *bun.DB
}

func NewLeadStore(db *bun.DB) (*LeadStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &LeadStore{db: db}, nil
}

// Upsert overwrites every column of the row, so the stored lead always
// equals the last normalized projection.
func (s *LeadStore) Upsert(ctx context.Context, lead core.Lead) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: lead store is not configured")
	}
	if err := lead.Validate(); err != nil {
		return core.NewValidationError(err.Error())
	}
	record := newLeadRecord(lead)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (tenant_id, id) DO UPDATE").
		Exec(ctx)
	return err
}

func (s *LeadStore) Get(ctx context.Context, tenantID string, leadID string) (core.Lead, error) {
	if s == nil || s.db == nil {
		return core.Lead{}, fmt.Errorf("sqlstore: lead store is not configured")
	}
	record := &leadRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.id = ?", strings.TrimSpace(leadID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Lead{}, core.NewLeadNotFoundError(leadID)
		}
		return core.Lead{}, err
	}
	return record.toDomain(), nil
}

// Delete removes the lead. Deleting an absent lead is not an error.
func (s *LeadStore) Delete(ctx context.Context, tenantID string, leadID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: lead store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*leadRecord)(nil)).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("id = ?", strings.TrimSpace(leadID)).
		Exec(ctx)
	return err
}

func (s *LeadStore) ListByContact(ctx context.Context, tenantID string, contactID string) ([]core.Lead, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: lead store is not configured")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return nil, nil
	}
	var records []*leadRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.contact_id = ?", contactID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return leadsToDomain(records), nil
}

// ListByTenant pages through the vault ordered by id and reports the total.
func (s *LeadStore) ListByTenant(ctx context.Context, tenantID string, limit int, offset int) ([]core.Lead, int, error) {
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("sqlstore: lead store is not configured")
	}
	if limit <= 0 {
		limit = defaultLeadPageSize
	}
	if offset < 0 {
		offset = 0
	}
	var records []*leadRecord
	total, err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return leadsToDomain(records), total, nil
}

func (s *LeadStore) Count(ctx context.Context, tenantID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: lead store is not configured")
	}
	return s.db.NewSelect().
		Model((*leadRecord)(nil)).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Count(ctx)
}

func newLeadRecord(lead core.Lead) *leadRecord {
	custom := make(map[string]string, len(lead.CustomValues))
	for key, value := range lead.CustomValues {
		custom[key] = value
	}
	syncedAt := lead.SyncedAt.UTC()
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	return &leadRecord{
		ID:                strings.TrimSpace(lead.ID),
		TenantID:          strings.TrimSpace(lead.TenantID),
		ContactID:         lead.ContactID,
		FirstName:         lead.FirstName,
		LastName:          lead.LastName,
		Email:             lead.Email,
		Phone:             lead.Phone,
		PhoneE164:         lead.PhoneE164,
		OpportunityName:   lead.OpportunityName,
		MonetaryValue:     lead.MonetaryValue,
		Status:            string(lead.Status),
		RawStatus:         lead.RawStatus,
		StageID:           lead.StageID,
		Source:            lead.Source,
		JobType:           lead.JobType,
		JobAddress:        lead.JobAddress,
		AppointmentAt:     copyTimePointer(lead.AppointmentAt),
		ReviewRequestedAt: copyTimePointer(lead.ReviewRequestedAt),
		ReviewRating:      lead.ReviewRating,
		CustomValues:      custom,
		NotesCount:        lead.NotesCount,
		RemoteCreatedAt:   copyTimePointer(lead.RemoteCreatedAt),
		RemoteUpdatedAt:   copyTimePointer(lead.RemoteUpdatedAt),
		SyncedAt:          syncedAt,
	}
}

func (r *leadRecord) toDomain() core.Lead {
	if r == nil {
		return core.Lead{}
	}
	custom := make(map[string]string, len(r.CustomValues))
	for key, value := range r.CustomValues {
		custom[key] = value
	}
	return core.Lead{
		ID:                r.ID,
		TenantID:          r.TenantID,
		ContactID:         r.ContactID,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Email:             r.Email,
		Phone:             r.Phone,
		PhoneE164:         r.PhoneE164,
		OpportunityName:   r.OpportunityName,
		MonetaryValue:     r.MonetaryValue,
		Status:            core.CanonicalStatus(r.Status),
		RawStatus:         r.RawStatus,
		StageID:           r.StageID,
		Source:            r.Source,
		JobType:           r.JobType,
		JobAddress:        r.JobAddress,
		AppointmentAt:     copyTimePointer(r.AppointmentAt),
		ReviewRequestedAt: copyTimePointer(r.ReviewRequestedAt),
		ReviewRating:      r.ReviewRating,
		CustomValues:      custom,
		NotesCount:        r.NotesCount,
		RemoteCreatedAt:   copyTimePointer(r.RemoteCreatedAt),
		RemoteUpdatedAt:   copyTimePointer(r.RemoteUpdatedAt),
		SyncedAt:          r.SyncedAt.UTC(),
	}
}

func leadsToDomain(records []*leadRecord) []core.Lead {
	out := make([]core.Lead, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
