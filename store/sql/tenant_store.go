package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-leadsync/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TenantStore struct {
	db   *bun.DB
	repo repository.Repository[*tenantRecord]
}

func NewTenantStore(db *bun.DB) (*TenantStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tenantRecord](db, tenantHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tenant repository wiring: %w", err)
		}
	}
	return &TenantStore{db: db, repo: repo}, nil
}

func (s *TenantStore) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.Tenant{}, core.NewValidationError("sqlstore: tenant id is required")
	}
	record, err := s.findOne(ctx, "id", tenantID)
	if err != nil {
		return core.Tenant{}, err
	}
	if record == nil {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return record.toDomain(), nil
}

func (s *TenantStore) GetByLocation(ctx context.Context, locationID string) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return core.Tenant{}, core.NewValidationError("sqlstore: location id is required")
	}
	record, err := s.findOne(ctx, "location_id", locationID)
	if err != nil {
		return core.Tenant{}, err
	}
	if record == nil {
		return core.Tenant{}, core.NewTenantNotFoundError("").WithMetadata(map[string]any{"location_id": locationID})
	}
	return record.toDomain(), nil
}

// Save creates the tenant when its id is empty or unknown and updates it
// otherwise. The stored config is written as given.
func (s *TenantStore) Save(ctx context.Context, tenant core.Tenant) (core.Tenant, error) {
	if s == nil || s.repo == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	now := time.Now().UTC()
	tenant.ID = strings.TrimSpace(tenant.ID)
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	if err := tenant.Validate(); err != nil {
		return core.Tenant{}, core.NewValidationError(err.Error())
	}

	existing, err := s.findOne(ctx, "id", tenant.ID)
	if err != nil {
		return core.Tenant{}, err
	}
	record := newTenantRecord(tenant)
	record.UpdatedAt = now
	if existing == nil {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		created, createErr := s.repo.Create(ctx, record)
		if createErr != nil {
			return core.Tenant{}, createErr
		}
		return created.toDomain(), nil
	}
	record.CreatedAt = existing.CreatedAt
	updated, err := s.repo.Update(ctx, record, repository.UpdateByID(record.ID))
	if err != nil {
		return core.Tenant{}, err
	}
	return updated.toDomain(), nil
}

// ListConnected returns every tenant with a location, oldest first.
func (s *TenantStore) ListConnected(ctx context.Context) ([]core.Tenant, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.location_id IS NOT NULL").
				Where("?TableAlias.location_id <> ''")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Tenant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// SaveConfig stores config unless the row already holds a newer version. A
// stale write is a no-op so concurrent migrations converge on the newest
// config.
func (s *TenantStore) SaveConfig(ctx context.Context, tenantID string, config core.FieldMappingConfig) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.NewValidationError("sqlstore: tenant id is required")
	}
	raw, err := json.Marshal(config.Clone())
	if err != nil {
		return fmt.Errorf("sqlstore: encode field config: %w", err)
	}
	err = s.updateColumns(ctx, tenantID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("field_config = ?", string(raw)).
			Set("config_version = ?", config.Version).
			Where("config_version <= ?", config.Version)
	})
	if !core.IsNotFound(err) {
		return err
	}
	// Nothing matched: either the tenant is gone or it holds a newer config.
	existing, findErr := s.findOne(ctx, "id", tenantID)
	if findErr != nil {
		return findErr
	}
	if existing == nil {
		return err
	}
	return nil
}

// Connect binds a location to the tenant. A location belongs to at most one
// tenant.
func (s *TenantStore) Connect(ctx context.Context, tenantID string, locationID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	locationID = strings.TrimSpace(locationID)
	if tenantID == "" || locationID == "" {
		return core.NewValidationError("sqlstore: tenant id and location id are required")
	}
	owner, err := s.findOne(ctx, "location_id", locationID)
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != tenantID {
		return core.NewValidationError(fmt.Sprintf("sqlstore: location %q is connected to another tenant", locationID))
	}
	return s.updateColumns(ctx, tenantID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("location_id = ?", locationID)
	})
}

// Disconnect clears the location. The field config is kept so reconnecting
// the same location does not rebuild it.
func (s *TenantStore) Disconnect(ctx context.Context, tenantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.NewValidationError("sqlstore: tenant id is required")
	}
	return s.updateColumns(ctx, tenantID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("location_id = NULL")
	})
}

func (s *TenantStore) updateColumns(
	ctx context.Context,
	tenantID string,
	apply func(*bun.UpdateQuery) *bun.UpdateQuery,
) error {
	query := s.db.NewUpdate().
		Model((*tenantRecord)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", tenantID)
	result, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.NewTenantNotFoundError(tenantID)
	}
	return nil
}

func (s *TenantStore) findOne(ctx context.Context, column string, value string) (*tenantRecord, error) {
	record := &tenantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func newTenantRecord(tenant core.Tenant) *tenantRecord {
	record := &tenantRecord{
		ID:           tenant.ID,
		Name:         strings.TrimSpace(tenant.Name),
		RecaptureTag: strings.TrimSpace(tenant.RecaptureTag),
		CreatedAt:    tenant.CreatedAt.UTC(),
	}
	if location := tenant.Location(); location != "" {
		record.LocationID = &location
	}
	if tenant.Config != nil {
		cfg := tenant.Config.Clone()
		record.FieldConfig = &cfg
		record.ConfigVersion = cfg.Version
	}
	return record
}

func (r *tenantRecord) toDomain() core.Tenant {
	if r == nil {
		return core.Tenant{}
	}
	tenant := core.Tenant{
		ID:           r.ID,
		Name:         r.Name,
		RecaptureTag: r.RecaptureTag,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LocationID != nil && strings.TrimSpace(*r.LocationID) != "" {
		location := strings.TrimSpace(*r.LocationID)
		tenant.LocationID = &location
	}
	if r.FieldConfig != nil {
		cfg := r.FieldConfig.Clone()
		tenant.Config = &cfg
	}
	return tenant
}
