package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStateKeyPrefix = "leadsync:ratelimit:"
	defaultStateTTL       = 24 * time.Hour
)

// RedisStateStore shares throttle windows across worker processes.
type RedisStateStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStateStore(client redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{
		client: client,
		prefix: defaultStateKeyPrefix,
		ttl:    defaultStateTTL,
	}
}

func (s *RedisStateStore) Get(ctx context.Context, key Key) (State, error) {
	if s == nil || s.client == nil {
		return State{}, fmt.Errorf("ratelimit: redis state store is not configured")
	}
	payload, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("ratelimit: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("ratelimit: decode state: %w", err)
	}
	return state, nil
}

func (s *RedisStateStore) Upsert(ctx context.Context, state State) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("ratelimit: redis state store is not configured")
	}
	state.Key = state.Key.Normalize()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ratelimit: encode state: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(state.Key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("ratelimit: write state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) redisKey(key Key) string {
	return strings.TrimSpace(s.prefix) + key.String()
}

var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
