package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDeliveryRecord_Lifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := DeliveryRecord{ID: "row_1", Status: DeliveryStatusPending}
	if !record.Claimable(now) {
		t.Fatalf("expected pending delivery to be claimable")
	}

	leased := record.Begin(now, 0)
	if leased.Attempts != 1 || leased.ClaimID != "row_1|1" || leased.Status != DeliveryStatusProcessing {
		t.Fatalf("unexpected leased record %#v", leased)
	}
	if got := leased.NextAttemptAt.Sub(now); got != DefaultClaimLease {
		t.Fatalf("expected default lease, got %s", got)
	}
	if leased.Claimable(now.Add(time.Second)) {
		t.Fatalf("expected live lease to block claims")
	}
	if !leased.Claimable(now.Add(DefaultClaimLease)) {
		t.Fatalf("expected expired lease to be claimable")
	}

	retry := leased.Settle(errors.New("upstream 502"), time.Time{}, 3, now)
	if retry.Status != DeliveryStatusRetryReady || retry.LastError != "upstream 502" || !retry.NextAttemptAt.Equal(now) {
		t.Fatalf("unexpected retry record %#v", retry)
	}

	dead := leased.Settle(errors.New("revoked"), now.Add(time.Minute), 1, now)
	if dead.Status != DeliveryStatusDead || dead.NextAttemptAt != nil || dead.Claimable(now.Add(time.Hour)) {
		t.Fatalf("expected dead delivery, got %#v", dead)
	}

	done := leased.Succeed(now)
	if done.Status != DeliveryStatusProcessed || done.NextAttemptAt != nil || done.Claimable(now) {
		t.Fatalf("expected processed delivery, got %#v", done)
	}
}

func TestParseClaimID(t *testing.T) {
	id, attempt, err := ParseClaimID(ClaimID("loc_1:wh_1", 4))
	if err != nil || id != "loc_1:wh_1" || attempt != 4 {
		t.Fatalf("unexpected parse %q %d %v", id, attempt, err)
	}
	for _, raw := range []string{"", "row_1", "row_1|x", "|2", "row_1|0"} {
		if _, _, err := ParseClaimID(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestMemoryLedger_IgnoresSupersededClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger().WithClock(func() time.Time { return now })

	first, claimed, err := ledger.Claim(ctx, "loc_1", "wh_1", nil, time.Second)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%t err=%v", claimed, err)
	}
	now = now.Add(2 * time.Second)
	second, claimed, err := ledger.Claim(ctx, "loc_1", "wh_1", nil, time.Minute)
	if err != nil || !claimed || second.Attempts != 2 {
		t.Fatalf("expected expired lease to be reclaimed: claimed=%t err=%v record=%#v", claimed, err, second)
	}

	if err := ledger.Complete(ctx, first.ClaimID); err != nil {
		t.Fatalf("stale complete: %v", err)
	}
	record, err := ledger.Get(ctx, "loc_1", "wh_1")
	if err != nil || record.Status != DeliveryStatusProcessing {
		t.Fatalf("expected stale claim to be ignored, got %#v err=%v", record, err)
	}

	if _, err := ledger.Get(ctx, "loc_1", "wh_missing"); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestMemoryLedger_ListDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewMemoryLedger().WithClock(func() time.Time { return now })
	claim := func(deliveryID string, lease time.Duration) DeliveryRecord {
		record, claimed, err := ledger.Claim(ctx, "loc_1", deliveryID, []byte(`{"id":"`+deliveryID+`"}`), lease)
		if err != nil || !claimed {
			t.Fatalf("claim %s: claimed=%t err=%v", deliveryID, claimed, err)
		}
		return record
	}

	done := claim("wh_done", time.Minute)
	if err := ledger.Complete(ctx, done.ClaimID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	late := claim("wh_late", time.Minute)
	if err := ledger.Fail(ctx, late.ClaimID, errors.New("502"), now.Add(30*time.Second), 5); err != nil {
		t.Fatalf("fail late: %v", err)
	}
	soon := claim("wh_soon", time.Minute)
	if err := ledger.Fail(ctx, soon.ClaimID, errors.New("502"), now.Add(5*time.Second), 5); err != nil {
		t.Fatalf("fail soon: %v", err)
	}
	claim("wh_stuck", 10*time.Second)
	claim("wh_live", time.Hour)

	now = now.Add(time.Minute)
	due, err := ledger.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	var ids []string
	for _, record := range due {
		ids = append(ids, record.DeliveryID)
	}
	want := []string{"wh_soon", "wh_stuck", "wh_late"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v due, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v due in order, got %v", want, ids)
		}
	}
	if string(due[0].Payload) != `{"id":"wh_soon"}` {
		t.Fatalf("expected stored payload, got %q", due[0].Payload)
	}

	limited, _ := ledger.ListDue(ctx, now, 1)
	if len(limited) != 1 || limited[0].DeliveryID != "wh_soon" {
		t.Fatalf("expected limit to keep the oldest, got %+v", limited)
	}
}
