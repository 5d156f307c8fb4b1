package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-leadsync/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateLimitStateCacheKeyPrefix = "go-leadsync::ratelimit_state::v1"

// CachedRateLimitStateStore serves rate limit snapshots from cache between
// CRM responses. Upsert evicts the bucket so the next read sees the write.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(base ratelimit.StateStore, cacheService repositorycache.CacheService) (*CachedRateLimitStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitStateCacheKey is go-leadsync::ratelimit_state::v1::<location>::<bucket>
// over the normalized key, with each segment path-escaped.
func RateLimitStateCacheKey(key ratelimit.Key) (string, error) {
	key = key.Normalize()
	if err := validateRateLimitKey(key); err != nil {
		return "", err
	}
	return cacheKey(rateLimitStateCacheKeyPrefix, key.LocationID, key.Bucket), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	key = key.Normalize()
	entry, err := RateLimitStateCacheKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	return readThrough(ctx, s.cache, entry, func(ctx context.Context) (ratelimit.State, error) {
		return s.base.Get(ctx, key)
	}, cloneRateLimitState)
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rate-limit state store is not configured")
	}
	state.Key = state.Key.Normalize()
	entry, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, entry)
}

// readThrough fetches key through cache and hands callers a clone so cached
// values are never shared.
func readThrough[T any](
	ctx context.Context,
	cache repositorycache.CacheService,
	key string,
	fetch func(context.Context) (T, error),
	clone func(T) T,
) (T, error) {
	value, err := repositorycache.GetOrFetch(ctx, cache, key, func(ctx context.Context) (T, error) {
		fetched, err := fetch(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		return clone(fetched), nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return clone(value), nil
}

func cacheKey(prefix string, segments ...string) string {
	parts := append([]string{prefix}, segments...)
	for i := 1; i < len(parts); i++ {
		parts[i] = url.PathEscape(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, "::")
}

func cloneRateLimitState(state ratelimit.State) ratelimit.State {
	cloned := state
	cloned.Key = state.Key.Normalize()
	cloned.DailyRemaining = copyIntPointer(state.DailyRemaining)
	cloned.ResetAt = copyTimePointer(state.ResetAt)
	cloned.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	if state.RetryAfter != nil {
		retryAfter := *state.RetryAfter
		cloned.RetryAfter = &retryAfter
	}
	return cloned
}
