// Package ratelimit tracks CRM quota headers per location and refuses calls
// locally while a bucket is known to be exhausted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-leadsync/core"
)

type ThrottledError struct {
	LocationID string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: location %q bucket %q throttled for %s", e.LocationID, e.Bucket, e.RetryAfter)
}

// ToServiceError converts the local throttle into the shared rate limit
// envelope so callers handle it like a remote 429.
func (e ThrottledError) ToServiceError() *goerrors.Error {
	err := core.NewRateLimitError(e.Error(), e.RetryAfter)
	if err.Metadata == nil {
		err.Metadata = map[string]any{}
	}
	err.Metadata["location_id"] = e.LocationID
	err.Metadata["bucket"] = e.Bucket
	return err
}

// AdaptivePolicy learns from each response. A 429 without Retry-After opens
// a window that doubles per consecutive throttle, capped at MaxBackoff.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall rejects a call with ThrottledError while the bucket is blocked.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, key.Normalize())
	if errors.Is(err, ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if wait, blocked := state.blockedFor(p.now()); blocked {
		return ThrottledError{LocationID: state.Key.LocationID, Bucket: state.Key.Bucket, RetryAfter: wait}
	}
	return nil
}

// AfterCall folds the response quota into the stored state.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = key.Normalize()
	state, err := p.Store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		state = State{Key: key}
	case err != nil:
		return err
	}
	now := p.now()
	return p.Store.Upsert(ctx, p.apply(state, readQuota(res, now), res.StatusCode, now))
}

func (p *AdaptivePolicy) apply(state State, q quota, status int, now time.Time) State {
	state.LastStatus = status
	state.UpdatedAt = now
	if q.hasLimit {
		state.Limit = q.limit
	}
	if q.hasRemaining {
		state.Remaining = q.remaining
	}
	if q.hasDaily {
		daily := q.daily
		state.DailyRemaining = &daily
	}
	if q.hasResetAt {
		resetAt := q.resetAt
		state.ResetAt = &resetAt
	}
	state.RetryAfter = nil
	if q.hasRetryAfter {
		retryAfter := q.retryAfter
		state.RetryAfter = &retryAfter
	}

	if !q.exhausted(status) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return state
	}
	state.Attempts++
	var delay time.Duration
	switch {
	case q.hasRetryAfter:
		delay = q.retryAfter
	case status != http.StatusTooManyRequests && q.hasResetAt && q.resetAt.After(now):
		delay = q.resetAt.Sub(now)
	default:
		delay = p.backoff(state.Attempts)
	}
	until := now.Add(delay)
	state.ThrottledUntil = &until
	return state
}

// backoff is InitialBackoff * 2^(attempt-1), capped at MaxBackoff.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	delay, ceiling := p.InitialBackoff, p.MaxBackoff
	if delay <= 0 {
		delay = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

func (p *AdaptivePolicy) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
