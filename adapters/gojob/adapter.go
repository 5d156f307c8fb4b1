package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-leadsync/core"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       2 * time.Second,
		MaxDelay:        5 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// Backoff doubles BaseDelay per attempt, bounded by MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Classify turns a job failure into nack options. Failures that no retry can
// fix go straight to the dead letter queue; throttling honors the upstream
// retry hint.
func (p RetryPolicy) Classify(err error, attempt int) queue.NackOptions {
	if err == nil {
		return queue.NackOptions{}
	}
	reason := err.Error()
	if rich := core.MapError(err); rich != nil && rich.TextCode != "" {
		reason = rich.TextCode + ": " + reason
	}
	switch {
	case core.IsAuthError(err), core.IsConfigError(err), core.IsValidationError(err), core.IsNotFound(err):
		return p.NormalizeAttempt(queue.NackOptions{DeadLetter: true, Reason: reason}, attempt)
	case core.IsRateLimitError(err):
		delay := core.RetryAfter(err)
		if delay <= 0 {
			delay = p.Backoff(attempt)
		}
		return p.NormalizeAttempt(queue.NackOptions{Requeue: true, Delay: delay, Reason: reason}, attempt)
	default:
		return p.NormalizeAttempt(queue.NackOptions{Requeue: true, Delay: p.Backoff(attempt), Reason: reason}, attempt)
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	if _, ok := knownJobs[strings.TrimSpace(msg.JobID)]; !ok {
		return core.NewValidationError(fmt.Sprintf("gojob: unknown job id %q", msg.JobID))
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

func (a *EnqueuerAdapter) EnqueueReconcileTenant(ctx context.Context, tenantID string) error {
	msg, err := ReconcileTenantJob(tenantID)
	if err != nil {
		return err
	}
	return a.Enqueue(ctx, msg)
}

func (a *EnqueuerAdapter) EnqueueReconcileAll(ctx context.Context, runID string) error {
	return a.Enqueue(ctx, ReconcileAllJob(runID))
}

// DequeuerAdapter counts redeliveries per idempotency key so nacks can be
// bounded by RetryPolicy. Counts live in process memory.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
	attempts *attemptCounter
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy, attempts: newAttemptCounter()}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (*DeliveryAdapter, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	key := deliveryKey(delivery.Message())
	return &DeliveryAdapter{
		delivery: delivery,
		policy:   a.policy,
		attempt:  a.attempts.next(key),
		done:     func() { a.attempts.clear(key) },
	}, nil
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
	attempt  int
	done     func()
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy, attempt int) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy, attempt: attempt}
}

func (d *DeliveryAdapter) Message() *job.ExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return d.delivery.Message()
}

func (d *DeliveryAdapter) Attempt() int {
	if d == nil || d.attempt < 1 {
		return 1
	}
	return d.attempt
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if err := d.delivery.Ack(ctx); err != nil {
		return err
	}
	d.finish()
	return nil
}

// Fail nacks the delivery with options derived from err.
func (d *DeliveryAdapter) Fail(ctx context.Context, err error) (queue.NackOptions, error) {
	if d == nil || d.delivery == nil {
		return queue.NackOptions{}, fmt.Errorf("gojob: delivery is not configured")
	}
	opts := d.policy.Classify(err, d.Attempt())
	if nackErr := d.delivery.Nack(ctx, opts); nackErr != nil {
		return opts, nackErr
	}
	if !opts.Requeue {
		d.finish()
	}
	return opts, nil
}

func (d *DeliveryAdapter) finish() {
	if d.done != nil {
		d.done()
	}
}

var _ worker.Hook = (*ObservingHook)(nil)

// ObservingHook logs worker lifecycle events for leadsync jobs.
type ObservingHook struct {
	observer core.Observer
}

func NewObservingHook(logger core.Logger, metrics core.MetricsRecorder) *ObservingHook {
	return &ObservingHook{observer: core.NewObserver(logger, metrics, "jobs")}
}

func (h *ObservingHook) OnStart(ctx context.Context, event worker.Event) {
	h.observer.Debug(ctx, "job started", workerFields(event))
}

func (h *ObservingHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observer.Observe(ctx, event.StartedAt, jobOperation(event), nil, workerFields(event))
}

func (h *ObservingHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observer.Observe(ctx, event.StartedAt, jobOperation(event), event.Err, workerFields(event))
}

func (h *ObservingHook) OnRetry(ctx context.Context, event worker.Event) {
	fields := workerFields(event)
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.observer.Warn(ctx, "job retry scheduled", fields)
}

func eventMessage(event worker.Event) *job.ExecutionMessage {
	if event.Message != nil {
		return event.Message
	}
	if event.Delivery != nil {
		return event.Delivery.Message()
	}
	return nil
}

func jobOperation(event worker.Event) string {
	if msg := eventMessage(event); msg != nil && strings.TrimSpace(msg.JobID) != "" {
		return strings.ReplaceAll(strings.TrimSpace(msg.JobID), ".", "_")
	}
	return "job"
}

func workerFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if event.Delay > 0 {
		fields["delay_ms"] = event.Delay.Milliseconds()
	}
	if msg := eventMessage(event); msg != nil {
		fields["job_id"] = msg.JobID
		fields["idempotency_key"] = msg.IdempotencyKey
		if tenantID := stringParam(msg.Parameters, ParamTenantID); tenantID != "" {
			fields["tenant_id"] = tenantID
		}
	}
	return fields
}
