package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	glog "github.com/goliatone/go-logger/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSafetyBuffer = 5 * time.Minute
	DefaultLockTTL      = 15 * time.Second
	lockKeyPrefix       = "leadsync:token-lock:"
)

type Manager struct {
	store        core.CredentialStore
	locker       core.Locker
	refresher    Refresher
	exchanger    Exchanger
	safetyBuffer time.Duration
	lockTTL      time.Duration
	contention   ContentionPolicy
	now          func() time.Time
	sleep        func(ctx context.Context, delay time.Duration) error
	observer     core.Observer
	tracer       trace.Tracer
}

type Option func(*Manager)

func WithSafetyBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		if buffer >= 0 {
			m.safetyBuffer = buffer
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

func WithContentionPolicy(policy ContentionPolicy) Option {
	return func(m *Manager) {
		m.contention = policy.normalize()
	}
}

func WithExchanger(exchanger Exchanger) Option {
	return func(m *Manager) {
		m.exchanger = exchanger
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSleep replaces the contention wait, for tests.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(m *Manager) {
		m.observer = core.NewObserver(logger, m.observer.Metrics, "token")
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(m *Manager) {
		m.observer = core.NewObserver(m.observer.Logger, recorder, "token")
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithConfig applies the token section of the runtime config.
func WithConfig(cfg core.TokenConfig) Option {
	return func(m *Manager) {
		if cfg.SafetyBuffer > 0 {
			m.safetyBuffer = cfg.SafetyBuffer
		}
		if cfg.LockTTL > 0 {
			m.lockTTL = cfg.LockTTL
		}
		m.contention = ContentionPolicyFromConfig(cfg.Contention)
	}
}

func NewManager(store core.CredentialStore, locker core.Locker, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		locker:       locker,
		refresher:    refresher,
		safetyBuffer: DefaultSafetyBuffer,
		lockTTL:      DefaultLockTTL,
		contention:   DefaultContentionPolicy(),
		now:          func() time.Time { return time.Now().UTC() },
		sleep:        waitWithContext,
		observer:     core.NewObserver(nil, nil, "token"),
		tracer:       otel.Tracer("github.com/goliatone/go-leadsync/token"),
	}
	if exchanger, ok := refresher.(Exchanger); ok {
		m.exchanger = exchanger
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// GetAccessToken returns a token valid beyond the safety buffer, refreshing
// it under the location lock when needed.
func (m *Manager) GetAccessToken(ctx context.Context, locationID string) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return "", core.NewValidationError("token: location id is required")
	}

	cred, err := m.store.Get(ctx, locationID)
	if err != nil {
		return "", err
	}
	if cred.FreshFor(m.now(), m.safetyBuffer) {
		return cred.AccessToken, nil
	}

	ctx, span := m.tracer.Start(ctx, "token.refresh", trace.WithAttributes(
		attribute.String("leadsync.location_id", locationID),
	))
	defer span.End()

	accessToken, err := m.refreshUnderLock(ctx, locationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return accessToken, nil
}

func (m *Manager) refreshUnderLock(ctx context.Context, locationID string) (string, error) {
	lock, err := m.locker.Acquire(ctx, LockKey(locationID), m.lockTTL)
	if err != nil {
		if core.IsLockHeld(err) {
			return m.awaitRefresh(ctx, locationID)
		}
		return "", fmt.Errorf("token: acquire refresh lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			m.observer.Warn(ctx, "token refresh lock release failed", map[string]any{
				"location_id": locationID,
				"error":       releaseErr.Error(),
			})
		}
	}()

	// Another process may have rotated the grant between our read and the
	// lock. The old refresh token is already invalid in that case.
	cred, err := m.store.Get(ctx, locationID)
	if err != nil {
		return "", err
	}
	if cred.FreshFor(m.now(), m.safetyBuffer) {
		return cred.AccessToken, nil
	}

	startedAt := time.Now()
	refreshed, err := m.rotate(ctx, locationID, cred)
	fields := map[string]any{"location_id": locationID}
	if err == nil {
		fields["expires_at"] = refreshed.ExpiresAt.Format(time.RFC3339)
	}
	m.observer.Observe(ctx, startedAt, "refresh_token", err, fields)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// rotate exchanges the refresh token and persists the result. The provider
// invalidates the old refresh token as soon as it answers, so the exchange
// and the write run detached from the caller and are bounded by the lock
// ttl instead.
func (m *Manager) rotate(ctx context.Context, locationID string, cred core.Credential) (core.Credential, error) {
	rotateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lockTTL)
	defer cancel()

	refreshed, err := m.refresher.Refresh(rotateCtx, cred.RefreshToken)
	if err != nil {
		return core.Credential{}, err
	}
	if strings.TrimSpace(refreshed.RefreshToken) == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := m.store.Put(rotateCtx, locationID, refreshed); err != nil {
		return core.Credential{}, err
	}
	return refreshed, nil
}

func (m *Manager) awaitRefresh(ctx context.Context, locationID string) (string, error) {
	policy := m.contention.normalize()
	var last core.Credential
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := m.sleep(ctx, policy.Delay(attempt)); err != nil {
			return "", err
		}
		cred, err := m.store.Get(ctx, locationID)
		if err != nil {
			return "", err
		}
		last = cred
		if cred.FreshFor(m.now(), m.safetyBuffer) {
			return cred.AccessToken, nil
		}
	}
	if strings.TrimSpace(last.AccessToken) != "" && !last.Expired(m.now()) {
		m.observer.Warn(ctx, "token contention fallback served near-expiry token", map[string]any{
			"location_id": locationID,
			"expires_at":  last.ExpiresAt.Format(time.RFC3339),
		})
		return last.AccessToken, nil
	}
	return "", core.NewTokenUnavailableError(locationID)
}

// Connect exchanges an authorization code and stores the resulting grant.
func (m *Manager) Connect(ctx context.Context, code string) (Grant, error) {
	if m == nil || m.store == nil {
		return Grant{}, fmt.Errorf("token: manager is not configured")
	}
	if m.exchanger == nil {
		return Grant{}, fmt.Errorf("token: authorization code exchange is not configured")
	}
	startedAt := time.Now()
	grant, err := m.exchanger.Exchange(ctx, code)
	if err == nil {
		err = m.store.Put(ctx, grant.LocationID, grant.Credential)
	}
	m.observer.Observe(ctx, startedAt, "connect", err, map[string]any{"location_id": grant.LocationID})
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Store seeds or replaces the credential for a location.
func (m *Manager) Store(ctx context.Context, locationID string, cred core.Credential) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("token: manager is not configured")
	}
	return m.store.Put(ctx, strings.TrimSpace(locationID), cred)
}

func (m *Manager) validate() error {
	if m == nil {
		return fmt.Errorf("token: manager is nil")
	}
	if m.store == nil {
		return fmt.Errorf("token: credential store is required")
	}
	if m.locker == nil {
		return fmt.Errorf("token: locker is required")
	}
	if m.refresher == nil {
		return fmt.Errorf("token: refresher is required")
	}
	return nil
}

func LockKey(locationID string) string {
	return lockKeyPrefix + strings.TrimSpace(locationID)
}
