package webhooks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

const (
	DefaultClaimLease  = 30 * time.Second
	DefaultMaxAttempts = 5
)

var ErrDeliveryNotFound = errors.New("webhooks: delivery not found")

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	LocationID    string
	DeliveryID    string
	EventType     string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	Payload       []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger deduplicates deliveries per location. Claim returns false
// when the delivery already completed, died, or is leased to another worker.
// Complete and Fail ignore claims a later attempt has superseded. ListDue
// returns up to limit deliveries whose retry is due or whose lease expired,
// oldest first.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		locationID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, locationID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]DeliveryRecord, error)
}

const DefaultReplayBatch = 50

// Due reports whether an unfinished attempt should be replayed at now.
// Pending records are excluded since their first attempt never began.
func (r DeliveryRecord) Due(now time.Time) bool {
	switch r.Status {
	case DeliveryStatusRetryReady, DeliveryStatusProcessing:
		return r.Claimable(now)
	default:
		return false
	}
}

// SortDue orders records by the time their next attempt became due.
func SortDue(records []DeliveryRecord) {
	slices.SortStableFunc(records, func(a, b DeliveryRecord) int {
		return dueAt(a).Compare(dueAt(b))
	})
}

func dueAt(r DeliveryRecord) time.Time {
	if r.NextAttemptAt != nil {
		return r.NextAttemptAt.UTC()
	}
	return r.UpdatedAt.UTC()
}

// Claimable reports whether a new attempt may start at now. Finished
// deliveries never are; retries and live leases wait for NextAttemptAt.
func (r DeliveryRecord) Claimable(now time.Time) bool {
	switch r.Status {
	case DeliveryStatusProcessed, DeliveryStatusDead:
		return false
	case DeliveryStatusRetryReady, DeliveryStatusProcessing:
		return r.NextAttemptAt == nil || !now.Before(r.NextAttemptAt.UTC())
	default:
		return true
	}
}

// Begin starts the next attempt, leased until now+lease.
func (r DeliveryRecord) Begin(now time.Time, lease time.Duration) DeliveryRecord {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	until := now.Add(lease)
	r.Status = DeliveryStatusProcessing
	r.Attempts++
	r.ClaimID = ClaimID(r.ID, r.Attempts)
	r.NextAttemptAt = &until
	r.UpdatedAt = now
	return r
}

func (r DeliveryRecord) Succeed(now time.Time) DeliveryRecord {
	r.Status = DeliveryStatusProcessed
	r.NextAttemptAt = nil
	r.LastError = ""
	r.UpdatedAt = now
	return r
}

// Settle records a failed attempt. The delivery retries at next, or is dead
// once Attempts reaches maxAttempts.
func (r DeliveryRecord) Settle(cause error, next time.Time, maxAttempts int, now time.Time) DeliveryRecord {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if cause != nil {
		r.LastError = cause.Error()
	}
	r.UpdatedAt = now
	if r.Attempts >= maxAttempts {
		r.Status = DeliveryStatusDead
		r.NextAttemptAt = nil
		return r
	}
	if next.IsZero() {
		next = now
	}
	next = next.UTC()
	r.Status = DeliveryStatusRetryReady
	r.NextAttemptAt = &next
	return r
}

// ClaimID names one attempt of a delivery record.
func ClaimID(recordID string, attempt int) string {
	return recordID + "|" + strconv.Itoa(attempt)
}

func ParseClaimID(claimID string) (string, int, error) {
	recordID, raw, ok := strings.Cut(strings.TrimSpace(claimID), "|")
	if !ok || recordID == "" {
		return "", 0, fmt.Errorf("webhooks: invalid claim id %q", claimID)
	}
	attempt, err := strconv.Atoi(raw)
	if err != nil || attempt <= 0 {
		return "", 0, fmt.Errorf("webhooks: invalid claim id %q", claimID)
	}
	return recordID, attempt, nil
}
