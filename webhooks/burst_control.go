package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-leadsync/reconcile"
)

const (
	DefaultDebounceWindow = 2 * time.Second
	defaultDebounceKeys   = 4096
)

type BurstDecision struct {
	Allow    bool
	Metadata map[string]any
}

// BurstController decides whether an event grouped under key should run.
type BurstController interface {
	Allow(ctx context.Context, key string) (BurstDecision, error)
}

// BurstDeferrer holds the latest suppressed event of a key and runs it once
// the key goes quiet. Defer replaces any run already pending for key and
// calls the replaced run's drop. It returns false when the run was not
// accepted and the caller must apply the event itself.
type BurstDeferrer interface {
	Defer(key string, run func(), drop func()) bool
}

// BurstKeyExtractor returns the key events are grouped under, or false when
// the event is never suppressed.
type BurstKeyExtractor func(event reconcile.Event) (string, bool)

type DebounceOption func(*Debouncer)

func WithDebounceClock(now func() time.Time) DebounceOption {
	return func(d *Debouncer) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDebounceMaxWait bounds how long a pending run waits while its key
// keeps receiving events.
func WithDebounceMaxWait(wait time.Duration) DebounceOption {
	return func(d *Debouncer) {
		if wait > 0 {
			d.maxWait = wait
		}
	}
}

// WithDebounceKeys bounds how many keys are tracked at once.
func WithDebounceKeys(max int) DebounceOption {
	return func(d *Debouncer) {
		if max > 0 {
			d.maxKeys = max
		}
	}
}

// Debouncer lets the first event of a key through and suppresses the rest
// until the key has been quiet for one window. Every hit, suppressed or not,
// pushes the quiet deadline forward. The last suppressed event of a burst is
// deferred and runs when the key goes quiet, or after maxWait at the latest.
type Debouncer struct {
	window  time.Duration
	maxWait time.Duration
	maxKeys int
	now     func() time.Time

	mu         sync.Mutex
	quietUntil map[string]time.Time
	pending    map[string]*pendingRun
}

type pendingRun struct {
	since time.Time
	run   func()
	drop  func()
	timer *time.Timer
}

func NewDebouncer(window time.Duration, opts ...DebounceOption) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	d := &Debouncer{
		window:     window,
		maxWait:    5 * window,
		maxKeys:    defaultDebounceKeys,
		now:        func() time.Time { return time.Now().UTC() },
		quietUntil: map[string]time.Time{},
		pending:    map[string]*pendingRun{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Debouncer) Allow(_ context.Context, key string) (BurstDecision, error) {
	key = strings.TrimSpace(key)
	if d == nil || key == "" {
		return BurstDecision{Allow: true}, nil
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	deadline, tracked := d.quietUntil[key]
	d.quietUntil[key] = now.Add(d.window)
	if !tracked || !now.Before(deadline) {
		d.evict(now)
		return BurstDecision{Allow: true}, nil
	}
	return BurstDecision{Metadata: map[string]any{
		"debounced":       true,
		"burst_key":       key,
		"burst_window_ms": d.window.Milliseconds(),
	}}, nil
}

func (d *Debouncer) Defer(key string, run func(), drop func()) bool {
	key = strings.TrimSpace(key)
	if d == nil || key == "" || run == nil {
		return false
	}
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok {
		if len(d.pending) >= d.maxKeys {
			d.mu.Unlock()
			return false
		}
		current = &pendingRun{since: d.now()}
		d.pending[key] = current
	}
	replaced := current.drop
	current.run, current.drop = run, drop
	if current.timer == nil {
		current.timer = time.AfterFunc(d.dueIn(key, current, d.now()), func() { d.fire(key) })
	}
	d.mu.Unlock()

	if ok && replaced != nil {
		replaced()
	}
	return true
}

// Flush runs every pending event now. Used on shutdown.
func (d *Debouncer) Flush() {
	if d == nil {
		return
	}
	d.mu.Lock()
	runs := make([]func(), 0, len(d.pending))
	for key, current := range d.pending {
		if current.timer != nil {
			current.timer.Stop()
		}
		runs = append(runs, current.run)
		delete(d.pending, key)
	}
	d.mu.Unlock()
	for _, run := range runs {
		run()
	}
}

// Pending reports how many keys hold a deferred event.
func (d *Debouncer) Pending() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	current, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	if wait := d.dueIn(key, current, d.now()); wait > 0 {
		current.timer.Reset(wait)
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	current.run()
}

// dueIn is the time until the pending run of key may start: the quiet
// deadline, capped at maxWait after the run was first deferred. An evicted
// key has gone quiet. Caller holds mu.
func (d *Debouncer) dueIn(key string, current *pendingRun, now time.Time) time.Duration {
	deadline, ok := d.quietUntil[key]
	if !ok {
		return 0
	}
	due := current.since.Add(d.maxWait)
	if deadline.Before(due) {
		due = deadline
	}
	return max(due.Sub(now), 0)
}

// evict drops quiet keys, then the keys closest to going quiet while the
// map is over capacity. Caller holds mu.
func (d *Debouncer) evict(now time.Time) {
	for key, deadline := range d.quietUntil {
		if !now.Before(deadline) {
			delete(d.quietUntil, key)
		}
	}
	for len(d.quietUntil) > d.maxKeys {
		var oldest string
		var oldestAt time.Time
		for key, deadline := range d.quietUntil {
			if oldest == "" || deadline.Before(oldestAt) {
				oldest, oldestAt = key, deadline
			}
		}
		delete(d.quietUntil, oldest)
	}
}

// ContactBurstKey groups contact updates by location and contact. Other
// events are never suppressed.
func ContactBurstKey(event reconcile.Event) (string, bool) {
	if event.Type != reconcile.EventContactUpdate {
		return "", false
	}
	location := strings.ToLower(strings.TrimSpace(event.LocationID))
	contact := strings.ToLower(strings.TrimSpace(event.ID))
	if location == "" || contact == "" {
		return "", false
	}
	return location + ":contact:" + contact, true
}

var (
	_ BurstController = (*Debouncer)(nil)
	_ BurstDeferrer   = (*Debouncer)(nil)
)
