package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-leadsync/reconcile"
)

func TestDebouncer_EmptyKeyAlwaysAllows(t *testing.T) {
	debouncer := NewDebouncer(time.Minute)
	for i := 0; i < 3; i++ {
		decision, err := debouncer.Allow(context.Background(), "  ")
		if err != nil || !decision.Allow {
			t.Fatalf("expected allow for empty key, got %+v %v", decision, err)
		}
	}
}

func TestDebouncer_WindowSlidesWithSuppressedHits(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	controller := NewDebouncer(2*time.Second, WithDebounceClock(func() time.Time { return now }))
	allow := func() bool {
		decision, err := controller.Allow(context.Background(), "key")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		return decision.Allow
	}

	if !allow() {
		t.Fatalf("expected first hit allowed")
	}
	now = now.Add(1500 * time.Millisecond)
	if allow() {
		t.Fatalf("expected hit inside window suppressed")
	}
	now = now.Add(1500 * time.Millisecond)
	if allow() {
		t.Fatalf("expected window to restart from the suppressed hit")
	}
	now = now.Add(2 * time.Second)
	if !allow() {
		t.Fatalf("expected hit after quiet period allowed")
	}
}

func TestDebouncer_EvictsBeyondCapacity(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	debouncer := NewDebouncer(time.Minute,
		WithDebounceClock(func() time.Time { return now }),
		WithDebounceKeys(2),
	)
	for _, key := range []string{"a", "b", "c"} {
		if decision, _ := debouncer.Allow(context.Background(), key); !decision.Allow {
			t.Fatalf("expected first hit of %s allowed", key)
		}
		now = now.Add(time.Second)
	}
	if len(debouncer.quietUntil) != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", len(debouncer.quietUntil))
	}
	if _, tracked := debouncer.quietUntil["a"]; tracked {
		t.Fatalf("expected oldest key evicted")
	}
	if decision, _ := debouncer.Allow(context.Background(), "a"); !decision.Allow {
		t.Fatalf("expected evicted key to be allowed again")
	}
}

func TestContactBurstKey(t *testing.T) {
	key, ok := ContactBurstKey(reconcile.Event{Type: reconcile.EventContactUpdate, LocationID: "Loc_1", ID: "C_1"})
	if !ok || key != "loc_1:contact:c_1" {
		t.Fatalf("unexpected contact key %q %v", key, ok)
	}
	if _, ok := ContactBurstKey(reconcile.Event{Type: reconcile.EventOpportunityUpdate, LocationID: "loc_1", ID: "opp_1"}); ok {
		t.Fatalf("expected opportunity events to have no burst key")
	}
}

func TestDebouncer_DeferKeepsOnlyLatestRun(t *testing.T) {
	debouncer := NewDebouncer(30 * time.Millisecond)
	if decision, _ := debouncer.Allow(context.Background(), "k"); !decision.Allow {
		t.Fatalf("expected leading hit allowed")
	}

	ran := make(chan string, 2)
	dropped := make(chan string, 2)
	for _, name := range []string{"first", "second"} {
		if decision, _ := debouncer.Allow(context.Background(), "k"); decision.Allow {
			t.Fatalf("expected %s hit suppressed", name)
		}
		if !debouncer.Defer("k", func() { ran <- name }, func() { dropped <- name }) {
			t.Fatalf("expected %s run deferred", name)
		}
	}
	if got := <-dropped; got != "first" {
		t.Fatalf("expected first run dropped, got %q", got)
	}
	if debouncer.Pending() != 1 {
		t.Fatalf("expected one pending key, got %d", debouncer.Pending())
	}

	select {
	case got := <-ran:
		if got != "second" {
			t.Fatalf("expected latest run, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected deferred run after the quiet window")
	}
	if debouncer.Pending() != 0 {
		t.Fatalf("expected no pending keys after the run")
	}
}

func TestDebouncer_MaxWaitBoundsSteadyStream(t *testing.T) {
	debouncer := NewDebouncer(50*time.Millisecond, WithDebounceMaxWait(120*time.Millisecond))
	var (
		mu   sync.Mutex
		runs int
	)
	stop := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(stop) {
		decision, _ := debouncer.Allow(context.Background(), "k")
		if !decision.Allow {
			debouncer.Defer("k", func() {
				mu.Lock()
				runs++
				mu.Unlock()
			}, nil)
		}
		time.Sleep(20 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if runs < 2 {
		t.Fatalf("expected max wait to release runs during a steady stream, got %d", runs)
	}
}

func TestDebouncer_FlushRunsPending(t *testing.T) {
	debouncer := NewDebouncer(time.Minute)
	debouncer.Allow(context.Background(), "k")
	debouncer.Allow(context.Background(), "k")
	ran := false
	if !debouncer.Defer("k", func() { ran = true }, nil) {
		t.Fatalf("expected run deferred")
	}
	debouncer.Flush()
	if !ran || debouncer.Pending() != 0 {
		t.Fatalf("expected flush to run the pending event")
	}
}
