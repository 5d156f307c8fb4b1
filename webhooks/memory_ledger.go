package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryLedger is a process local DeliveryLedger for tests and single node
// deployments.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]DeliveryRecord
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: map[string]DeliveryRecord{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the ledger clock and returns the ledger.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	if l != nil && now != nil {
		l.now = now
	}
	return l
}

func (l *MemoryLedger) Claim(_ context.Context, locationID, deliveryID string, payload []byte, lease time.Duration) (DeliveryRecord, bool, error) {
	locationID = strings.TrimSpace(locationID)
	deliveryID = strings.TrimSpace(deliveryID)
	if locationID == "" || deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: location id and delivery id are required")
	}
	key := locationID + ":" + deliveryID

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	record, ok := l.records[key]
	if !ok {
		record = DeliveryRecord{
			ID:         key,
			LocationID: locationID,
			DeliveryID: deliveryID,
			Status:     DeliveryStatusPending,
			Payload:    append([]byte(nil), payload...),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		l.records[key] = record
	}
	if !record.Claimable(now) {
		return record, false, nil
	}
	record = record.Begin(now, lease)
	l.records[key] = record
	return record, true, nil
}

func (l *MemoryLedger) Get(_ context.Context, locationID, deliveryID string) (DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[strings.TrimSpace(locationID)+":"+strings.TrimSpace(deliveryID)]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("%w: %q", ErrDeliveryNotFound, deliveryID)
	}
	return record, nil
}

func (l *MemoryLedger) ListDue(_ context.Context, now time.Time, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = DefaultReplayBatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []DeliveryRecord
	for _, record := range l.records {
		if record.Due(now) {
			record.Payload = append([]byte(nil), record.Payload...)
			due = append(due, record)
		}
	}
	SortDue(due)
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (l *MemoryLedger) Complete(_ context.Context, claimID string) error {
	return l.settle(claimID, func(record DeliveryRecord, now time.Time) DeliveryRecord {
		return record.Succeed(now)
	})
}

func (l *MemoryLedger) Fail(_ context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	return l.settle(claimID, func(record DeliveryRecord, now time.Time) DeliveryRecord {
		return record.Settle(cause, nextAttemptAt, maxAttempts, now)
	})
}

// settle applies fn to the record claimID refers to. Superseded claims are
// ignored.
func (l *MemoryLedger) settle(claimID string, fn func(DeliveryRecord, time.Time) DeliveryRecord) error {
	key, attempt, err := ParseClaimID(claimID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[key]
	if !ok {
		return fmt.Errorf("%w: claim %q", ErrDeliveryNotFound, claimID)
	}
	if record.Status != DeliveryStatusProcessing || record.Attempts != attempt {
		return nil
	}
	l.records[key] = fn(record, l.clock())
	return nil
}

func (l *MemoryLedger) clock() time.Time {
	if l.now != nil {
		return l.now().UTC()
	}
	return time.Now().UTC()
}

var _ DeliveryLedger = (*MemoryLedger)(nil)
