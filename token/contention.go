package token

import (
	"context"
	"math"
	"time"

	"github.com/goliatone/go-leadsync/core"
)

const (
	DefaultContentionWait        = time.Second
	DefaultContentionMaxAttempts = 3
	DefaultContentionMultiplier  = 2.0
	DefaultContentionMaxWait     = 4 * time.Second
)

// ContentionPolicy governs callers that lose the refresh lock. Each attempt
// waits then re-reads the credential store. When the bound is exhausted the
// caller accepts any still-unexpired token, even one inside the safety
// buffer, and otherwise reports the token as temporarily unavailable.
type ContentionPolicy struct {
	Wait        time.Duration
	MaxAttempts int
	Multiplier  float64
	MaxWait     time.Duration
}

func DefaultContentionPolicy() ContentionPolicy {
	return ContentionPolicy{
		Wait:        DefaultContentionWait,
		MaxAttempts: DefaultContentionMaxAttempts,
		Multiplier:  DefaultContentionMultiplier,
		MaxWait:     DefaultContentionMaxWait,
	}
}

func ContentionPolicyFromConfig(cfg core.ContentionConfig) ContentionPolicy {
	return ContentionPolicy{
		Wait:        cfg.Wait,
		MaxAttempts: cfg.MaxAttempts,
		Multiplier:  cfg.Multiplier,
		MaxWait:     cfg.MaxWait,
	}.normalize()
}

func (p ContentionPolicy) normalize() ContentionPolicy {
	if p.Wait <= 0 {
		p.Wait = DefaultContentionWait
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxWait <= 0 || p.MaxWait < p.Wait {
		p.MaxWait = p.Wait
	}
	return p
}

// Delay returns the wait before the given 1-based attempt.
func (p ContentionPolicy) Delay(attempt int) time.Duration {
	p = p.normalize()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Wait) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay >= float64(p.MaxWait) {
		return p.MaxWait
	}
	return time.Duration(delay)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
