package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/webhooks"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WebhookDeliveryStore is the durable DeliveryLedger. Every state change is
// a compare-and-set on the attempt counter, so replicas racing on one
// delivery cannot both win a claim or settle a superseded one.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &WebhookDeliveryStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *WebhookDeliveryStore) Claim(ctx context.Context, locationID, deliveryID string, payload []byte, lease time.Duration) (webhooks.DeliveryRecord, bool, error) {
	if err := s.ready(); err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	locationID = strings.TrimSpace(locationID)
	deliveryID = strings.TrimSpace(deliveryID)
	if locationID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: location id and delivery id are required")
	}

	var (
		out     webhooks.DeliveryRecord
		claimed bool
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.clock()
		if _, err := tx.NewInsert().
			Model(&webhookDeliveryRecord{
				ID:         uuid.NewString(),
				LocationID: locationID,
				DeliveryID: deliveryID,
				Status:     webhooks.DeliveryStatusPending,
				Payload:    append([]byte(nil), payload...),
				CreatedAt:  now,
				UpdatedAt:  now,
			}).
			On("CONFLICT (location_id, delivery_id) DO NOTHING").
			Exec(ctx); err != nil {
			return err
		}

		records, err := s.find(ctx, tx, "location_id", locationID, "delivery_id", deliveryID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("sqlstore: webhook delivery %q vanished during claim", deliveryID)
		}
		current := records[0].toDomain()
		out = current
		if !current.Claimable(now) {
			return nil
		}

		next := current.Begin(now, lease)
		ok, err := s.swap(ctx, tx, current, next)
		if err != nil || !ok {
			return err
		}
		out, claimed = next, true
		return nil
	})
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	return out, claimed, nil
}

func (s *WebhookDeliveryStore) Get(ctx context.Context, locationID, deliveryID string) (webhooks.DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	records, err := s.find(ctx, nil, "location_id", strings.TrimSpace(locationID), "delivery_id", strings.TrimSpace(deliveryID))
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	if len(records) == 0 {
		return webhooks.DeliveryRecord{}, fmt.Errorf("%w: location %q delivery %q", webhooks.ErrDeliveryNotFound, locationID, deliveryID)
	}
	return records[0].toDomain(), nil
}

// ListDue returns retry_ready rows and processing rows whose lease ran out,
// ordered by next_attempt_at.
func (s *WebhookDeliveryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]webhooks.DeliveryRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = webhooks.DefaultReplayBatch
	}
	records, _, err := s.repo.List(ctx, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.status IN (?)", bun.In([]string{
			webhooks.DeliveryStatusRetryReady,
			webhooks.DeliveryStatusProcessing,
		})).
			Where("?TableAlias.next_attempt_at <= ?", now.UTC()).
			OrderExpr("?TableAlias.next_attempt_at ASC").
			Limit(limit)
	}))
	if err != nil {
		return nil, err
	}
	due := make([]webhooks.DeliveryRecord, 0, len(records))
	for _, record := range records {
		if domain := record.toDomain(); domain.Due(now) {
			due = append(due, domain)
		}
	}
	webhooks.SortDue(due)
	return due, nil
}

func (s *WebhookDeliveryStore) Complete(ctx context.Context, claimID string) error {
	return s.settle(ctx, claimID, func(record webhooks.DeliveryRecord, now time.Time) webhooks.DeliveryRecord {
		return record.Succeed(now)
	})
}

func (s *WebhookDeliveryStore) Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	return s.settle(ctx, claimID, func(record webhooks.DeliveryRecord, now time.Time) webhooks.DeliveryRecord {
		return record.Settle(cause, nextAttemptAt, maxAttempts, now)
	})
}

// settle moves the claimed attempt to fn's result. Superseded claims are
// ignored.
func (s *WebhookDeliveryStore) settle(ctx context.Context, claimID string, fn func(webhooks.DeliveryRecord, time.Time) webhooks.DeliveryRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, _, err := webhooks.ParseClaimID(claimID); err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		records, err := s.find(ctx, tx, "claim_id", strings.TrimSpace(claimID))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("%w: claim %q", webhooks.ErrDeliveryNotFound, claimID)
		}
		current := records[0].toDomain()
		if current.Status != webhooks.DeliveryStatusProcessing {
			return nil
		}
		_, err = s.swap(ctx, tx, current, fn(current, s.clock()))
		return err
	})
}

// swap writes next over current when the row still holds current's attempt
// and claim. It reports whether the row changed.
func (s *WebhookDeliveryStore) swap(ctx context.Context, tx bun.Tx, current, next webhooks.DeliveryRecord) (bool, error) {
	result, err := tx.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", next.Status).
		Set("attempts = ?", next.Attempts).
		Set("claim_id = ?", next.ClaimID).
		Set("last_error = ?", next.LastError).
		Set("next_attempt_at = ?", nullableTime(next.NextAttemptAt)).
		Set("updated_at = ?", next.UpdatedAt.UTC()).
		Where("id = ?", current.ID).
		Where("attempts = ?", current.Attempts).
		Where("claim_id = ?", current.ClaimID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// find lists rows matching the column/value pairs, inside tx when given.
func (s *WebhookDeliveryStore) find(ctx context.Context, tx bun.IDB, pairs ...string) ([]*webhookDeliveryRecord, error) {
	where := func(q *bun.SelectQuery) *bun.SelectQuery {
		for i := 0; i+1 < len(pairs); i += 2 {
			q = q.Where("?TableAlias.? = ?", bun.Ident(pairs[i]), pairs[i+1])
		}
		return q.Limit(1)
	}
	if tx == nil {
		records, _, err := s.repo.List(ctx, repository.SelectRawProcessor(where))
		return records, err
	}
	var records []*webhookDeliveryRecord
	err := where(tx.NewSelect().Model(&records)).Scan(ctx)
	return records, err
}

func (s *WebhookDeliveryStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	return nil
}

func (s *WebhookDeliveryStore) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func (r *webhookDeliveryRecord) toDomain() webhooks.DeliveryRecord {
	if r == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            r.ID,
		ClaimID:       r.ClaimID,
		LocationID:    r.LocationID,
		DeliveryID:    r.DeliveryID,
		Status:        r.Status,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		NextAttemptAt: copyTimePointer(r.NextAttemptAt),
		Payload:       append([]byte(nil), r.Payload...),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
