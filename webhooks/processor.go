package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/google/uuid"
)

const (
	OutcomeProcessed = "processed"
	OutcomeDeduped   = "deduped"
	OutcomeDebounced = "debounced"
	OutcomeIgnored   = "ignored"
)

// deliveryNamespace seeds content derived delivery ids for payloads that
// carry no webhook id.
var deliveryNamespace = uuid.MustParse("6f1b7c8e-3a52-4d07-9c1e-2b5f0a9d4e61")

type Inbound struct {
	Headers map[string]string
	Body    []byte
}

type Verifier interface {
	Verify(ctx context.Context, in Inbound) error
}

type TenantResolver interface {
	GetByLocation(ctx context.Context, locationID string) (core.Tenant, error)
}

type EventApplier interface {
	HandleEvent(ctx context.Context, tenant core.Tenant, event reconcile.Event) (reconcile.EventResult, error)
}

type DeliveryIDExtractor func(in Inbound, event reconcile.Event) string

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type Result struct {
	Outcome    string
	DeliveryID string
	TenantID   string
	Event      reconcile.EventResult
	Metadata   map[string]any
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

type Processor struct {
	Verifier    Verifier
	Ledger      DeliveryLedger
	Tenants     TenantResolver
	Applier     EventApplier
	ExtractID   DeliveryIDExtractor
	Burst       BurstController
	BurstKey    BurstKeyExtractor
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Observer    core.Observer
	Now         func() time.Time
}

// ReplayReport counts the outcome of one replay pass.
type ReplayReport struct {
	Due       int
	Processed int
	Failed    int
	Skipped   int
}

func NewProcessor(tenants TenantResolver, ledger DeliveryLedger, applier EventApplier) *Processor {
	defaults := core.DefaultConfig().Webhooks
	return &Processor{
		Tenants:     tenants,
		Ledger:      ledger,
		Applier:     applier,
		ExtractID:   DefaultDeliveryIDExtractor,
		BurstKey:    ContactBurstKey,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  defaults.ClaimLease,
		MaxAttempts: defaults.MaxAttempts,
		Observer:    core.NewObserver(nil, nil, "webhooks"),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process verifies, decodes, dedupes and applies one delivery. Unknown event
// types are ignored before touching the ledger. Failures that cannot succeed
// on retry mark the delivery dead.
func (p *Processor) Process(ctx context.Context, in Inbound) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, in); err != nil {
			return Result{}, core.NewAuthError("webhooks: delivery signature rejected", err)
		}
	}

	event, err := reconcile.DecodeEvent(in.Body)
	if err != nil {
		return Result{}, err
	}
	if !event.Type.Known() {
		return Result{
			Outcome: OutcomeIgnored,
			Event:   reconcile.EventResult{Type: event.Type, Action: reconcile.ActionIgnored},
		}, nil
	}

	tenant, err := p.Tenants.GetByLocation(ctx, event.LocationID)
	if err != nil {
		return Result{}, err
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID := extractor(in, event)

	delivery, claimed, err := p.Ledger.Claim(ctx, event.LocationID, deliveryID, in.Body, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	base := Result{DeliveryID: deliveryID, TenantID: tenant.ID}
	if !claimed {
		base.Outcome = OutcomeDeduped
		base.Metadata = map[string]any{"status": delivery.Status, "deduped": true}
		return base, nil
	}

	if p.Burst != nil {
		if key, ok := p.burstKey()(event); ok {
			decision, burstErr := p.Burst.Allow(ctx, key)
			if burstErr != nil {
				return Result{}, burstErr
			}
			if !decision.Allow {
				return p.suppress(ctx, key, decision, tenant, event, delivery, base)
			}
		}
	}
	return p.apply(ctx, tenant, event, delivery, base)
}

// suppress holds a debounced delivery. With a deferring controller the
// delivery stays claimed and is applied when its key goes quiet; a delivery
// replaced by a later one of the same burst completes without applying.
// Otherwise it completes at once.
func (p *Processor) suppress(
	ctx context.Context,
	key string,
	decision BurstDecision,
	tenant core.Tenant,
	event reconcile.Event,
	delivery DeliveryRecord,
	base Result,
) (Result, error) {
	base.Outcome = OutcomeDebounced
	base.Metadata = ensureMetadata(decision.Metadata)

	deferrer, ok := p.Burst.(BurstDeferrer)
	if !ok {
		if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
			return Result{}, err
		}
		return base, nil
	}

	detached := context.WithoutCancel(ctx)
	run := func() {
		startedAt := time.Now()
		result, err := p.apply(detached, tenant, event, delivery, base)
		p.Observer.Observe(detached, startedAt, "deferred_event", err, map[string]any{
			"tenant_id":   tenant.ID,
			"delivery_id": delivery.DeliveryID,
			"burst_key":   key,
			"outcome":     result.Outcome,
		})
	}
	drop := func() {
		if err := p.Ledger.Complete(detached, delivery.ClaimID); err != nil {
			p.Observer.Warn(detached, "webhooks superseded delivery not completed", map[string]any{
				"delivery_id": delivery.DeliveryID,
				"error":       err.Error(),
			})
		}
	}
	if !deferrer.Defer(key, run, drop) {
		return p.apply(ctx, tenant, event, delivery, base)
	}
	base.Metadata["deferred"] = true
	return base, nil
}

// apply runs the event for a claimed delivery and settles the claim.
func (p *Processor) apply(ctx context.Context, tenant core.Tenant, event reconcile.Event, delivery DeliveryRecord, base Result) (Result, error) {
	applied, err := p.Applier.HandleEvent(ctx, tenant, event)
	if err != nil {
		p.fail(ctx, delivery, err)
		return base, err
	}
	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{}, err
	}
	base.Outcome = OutcomeProcessed
	base.Event = applied
	return base, nil
}

func (p *Processor) fail(ctx context.Context, delivery DeliveryRecord, cause error) {
	maxAttempts := p.maxAttempts()
	if permanentFailure(cause) {
		maxAttempts = delivery.Attempts
	}
	nextAttemptAt := p.now().Add(p.retryDelay(delivery.Attempts, cause))
	_ = p.Ledger.Fail(ctx, delivery.ClaimID, cause, nextAttemptAt, maxAttempts)
}

// ReplayDue re-runs up to limit deliveries whose retry is due or whose lease
// expired. Each replay settles its own delivery in the ledger, so only a
// failure to list the ledger is returned.
func (p *Processor) ReplayDue(ctx context.Context, limit int) (ReplayReport, error) {
	var report ReplayReport
	if err := p.validate(); err != nil {
		return report, err
	}
	due, err := p.Ledger.ListDue(ctx, p.now(), limit)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	for _, record := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, err := p.Redeliver(ctx, record)
		switch {
		case err != nil:
			report.Failed++
		case result.Outcome == OutcomeProcessed:
			report.Processed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

// Redeliver claims a stored delivery again and applies its payload. The
// signature was checked when the delivery arrived and is not checked again.
// Burst control does not apply to replays.
func (p *Processor) Redeliver(ctx context.Context, record DeliveryRecord) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	delivery, claimed, err := p.Ledger.Claim(ctx, record.LocationID, record.DeliveryID, record.Payload, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	base := Result{DeliveryID: record.DeliveryID}
	if !claimed {
		base.Outcome = OutcomeDeduped
		base.Metadata = map[string]any{"status": delivery.Status, "deduped": true}
		return base, nil
	}

	event, err := reconcile.DecodeEvent(record.Payload)
	if err != nil {
		p.fail(ctx, delivery, err)
		return base, err
	}
	tenant, err := p.Tenants.GetByLocation(ctx, event.LocationID)
	if err != nil {
		if core.IsNotFound(err) {
			err = core.NewConfigError(fmt.Sprintf("webhooks: location %q has no tenant", event.LocationID))
		}
		p.fail(ctx, delivery, err)
		return base, err
	}
	base.TenantID = tenant.ID
	return p.apply(ctx, tenant, event, delivery, base)
}

func (p *Processor) validate() error {
	if p == nil || p.Applier == nil || p.Ledger == nil || p.Tenants == nil {
		return fmt.Errorf("webhooks: processor requires tenants, ledger and applier")
	}
	return nil
}

// Flush runs every deferred event now.
func (p *Processor) Flush() {
	if p == nil {
		return
	}
	if flusher, ok := p.Burst.(interface{ Flush() }); ok {
		flusher.Flush()
	}
}

// DefaultDeliveryIDExtractor prefers the webhook id of the payload, then a
// delivery header, then an id derived from the payload bytes.
func DefaultDeliveryIDExtractor(in Inbound, event reconcile.Event) string {
	if value := strings.TrimSpace(event.WebhookID); value != "" {
		return value
	}
	for _, key := range []string{"x-webhook-id", "x-delivery-id", "x-request-id"} {
		if value := headerValue(in.Headers, key); value != "" {
			return value
		}
	}
	return uuid.NewSHA1(deliveryNamespace, in.Body).String()
}

func permanentFailure(err error) bool {
	return core.IsAuthError(err) || core.IsConfigError(err) || core.IsValidationError(err)
}

func (p *Processor) retryDelay(attempt int, err error) time.Duration {
	if delay := core.RetryAfter(err); delay > 0 {
		return delay
	}
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy.NextDelay(attempt)
	}
	return ExponentialRetryPolicy{}.NextDelay(attempt)
}

func (p *Processor) burstKey() BurstKeyExtractor {
	if p != nil && p.BurstKey != nil {
		return p.BurstKey
	}
	return ContactBurstKey
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return DefaultClaimLease
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
