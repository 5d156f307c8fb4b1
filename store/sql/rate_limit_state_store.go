package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// rateLimitMutableColumns are rewritten when a snapshot for an existing
// (location, bucket) pair arrives. id and created_at stay put.
var rateLimitMutableColumns = []string{
	"request_limit",
	"remaining",
	"daily_remaining",
	"reset_at",
	"retry_after_ms",
	"throttled_until",
	"last_status",
	"attempts",
	"updated_at",
}

// RateLimitStateStore keeps one snapshot row per location and bucket.
type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	if s == nil || s.repo == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = key.Normalize()
	if err := validateRateLimitKey(key); err != nil {
		return ratelimit.State{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.location_id = ?", key.LocationID).
				Where("?TableAlias.bucket = ?", key.Bucket).
				Limit(1)
		}),
	)
	if err != nil {
		return ratelimit.State{}, err
	}
	if len(records) == 0 {
		return ratelimit.State{}, ratelimit.ErrStateNotFound
	}
	return records[0].toDomain(), nil
}

// Upsert writes the snapshot in a single statement, relying on the
// (location_id, bucket) unique constraint.
func (s *RateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	state.Key = state.Key.Normalize()
	if err := validateRateLimitKey(state.Key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	query := s.db.NewInsert().
		Model(newRateLimitStateRecord(state)).
		On("CONFLICT (location_id, bucket) DO UPDATE")
	for _, column := range rateLimitMutableColumns {
		query = query.Set("? = EXCLUDED.?", bun.Ident(column), bun.Ident(column))
	}
	_, err := query.Exec(ctx)
	return err
}

func newRateLimitStateRecord(state ratelimit.State) *rateLimitStateRecord {
	updatedAt := state.UpdatedAt.UTC()
	return &rateLimitStateRecord{
		ID:             uuid.NewString(),
		LocationID:     state.Key.LocationID,
		Bucket:         state.Key.Bucket,
		RequestLimit:   state.Limit,
		Remaining:      state.Remaining,
		DailyRemaining: copyIntPointer(state.DailyRemaining),
		ResetAt:        copyTimePointer(state.ResetAt),
		RetryAfterMS:   durationToMillisPointer(state.RetryAfter),
		ThrottledUntil: copyTimePointer(state.ThrottledUntil),
		LastStatus:     state.LastStatus,
		Attempts:       state.Attempts,
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (r *rateLimitStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Key:            ratelimit.Key{LocationID: r.LocationID, Bucket: r.Bucket},
		Limit:          r.RequestLimit,
		Remaining:      r.Remaining,
		DailyRemaining: copyIntPointer(r.DailyRemaining),
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Attempts:       r.Attempts,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfterMS != nil && *r.RetryAfterMS > 0 {
		retryAfter := time.Duration(*r.RetryAfterMS) * time.Millisecond
		state.RetryAfter = &retryAfter
	}
	return state
}

func validateRateLimitKey(key ratelimit.Key) error {
	if strings.TrimSpace(key.LocationID) == "" {
		return fmt.Errorf("sqlstore: rate-limit location id is required")
	}
	if strings.TrimSpace(key.Bucket) == "" {
		return fmt.Errorf("sqlstore: rate-limit bucket is required")
	}
	return nil
}

func copyIntPointer(input *int) *int {
	if input == nil {
		return nil
	}
	value := *input
	return &value
}

// durationToMillisPointer rounds sub-millisecond positive durations up to 1ms.
func durationToMillisPointer(input *time.Duration) *int64 {
	if input == nil || *input <= 0 {
		return nil
	}
	millis := max(input.Milliseconds(), 1)
	return &millis
}
