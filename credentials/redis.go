package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/goliatone/go-leadsync/core"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL        = 15 * time.Second
	DefaultCredentialTTL  = 90 * 24 * time.Hour
	defaultCredentialKeys = "leadsync:credential:"
)

// NewRedisClient builds a client from config.
func NewRedisClient(cfg core.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisStore keeps credentials as JSON values. Entries carry a long TTL so
// abandoned locations age out; reads never extend it.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	sealer Sealer
}

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithCredentialTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSealer encrypts every stored payload. Unsealed values already in
// redis become unreadable and read as decode errors.
func WithSealer(sealer Sealer) RedisStoreOption {
	return func(s *RedisStore) {
		if sealer != nil {
			s.sealer = sealer
		}
	}
}

func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultCredentialKeys,
		ttl:    DefaultCredentialTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) Get(ctx context.Context, locationID string) (core.Credential, error) {
	if s == nil || s.client == nil {
		return core.Credential{}, fmt.Errorf("credentials: redis store is not configured")
	}
	locationID = strings.TrimSpace(locationID)
	raw, err := s.client.Get(ctx, s.key(locationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Credential{}, core.NewCredentialNotFoundError(locationID)
		}
		return core.Credential{}, fmt.Errorf("credentials: read %q: %w", locationID, err)
	}
	if s.sealer != nil {
		if raw, err = s.sealer.Open(ctx, raw); err != nil {
			return core.Credential{}, fmt.Errorf("credentials: unseal %q: %w", locationID, err)
		}
	}
	var credential core.Credential
	if err := json.Unmarshal(raw, &credential); err != nil {
		return core.Credential{}, fmt.Errorf("credentials: decode %q: %w", locationID, err)
	}
	return credential, nil
}

func (s *RedisStore) Put(ctx context.Context, locationID string, credential core.Credential) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("credentials: redis store is not configured")
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return fmt.Errorf("credentials: location id is required")
	}
	payload, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("credentials: encode %q: %w", locationID, err)
	}
	if s.sealer != nil {
		if payload, err = s.sealer.Seal(ctx, payload); err != nil {
			return fmt.Errorf("credentials: seal %q: %w", locationID, err)
		}
	}
	if err := s.client.Set(ctx, s.key(locationID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("credentials: write %q: %w", locationID, err)
	}
	return nil
}

func (s *RedisStore) key(locationID string) string {
	return s.prefix + locationID
}

// RedisLocker acquires SET NX PX locks through redislock. Obtain is called
// without retries; contention handling belongs to the caller.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redislock.RedisClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("credentials: redis locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("credentials: lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, core.NewLockHeldError(key)
		}
		return nil, fmt.Errorf("credentials: obtain lock %q: %w", key, err)
	}
	return redisLockHandle{lock: lock}, nil
}

type redisLockHandle struct {
	lock *redislock.Lock
}

func (h redisLockHandle) Release(ctx context.Context) error {
	if h.lock == nil {
		return nil
	}
	if err := h.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("credentials: release lock %q: %w", h.lock.Key(), err)
	}
	return nil
}

var (
	_ core.CredentialStore = (*RedisStore)(nil)
	_ core.Locker          = (*RedisLocker)(nil)
)
