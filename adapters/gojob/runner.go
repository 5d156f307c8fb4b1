package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-leadsync/command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
)

// Handlers are the commands a Runner dispatches leadsync jobs to.
type Handlers struct {
	ReconcileTenant  gocmd.Commander[command.ReconcileTenantMessage]
	ReconcileAll     gocmd.Commander[command.ReconcileAllMessage]
	ApplyEvent       gocmd.Commander[command.ApplyEventMessage]
	ReplayDeliveries gocmd.Commander[command.ReplayDeliveriesMessage]
}

type Runner struct {
	handlers Handlers
	dequeuer *DequeuerAdapter
	hook     worker.Hook
	idle     time.Duration
	now      func() time.Time
}

type RunnerOption func(*Runner)

func WithHook(hook worker.Hook) RunnerOption {
	return func(r *Runner) {
		if hook != nil {
			r.hook = hook
		}
	}
}

// WithIdleDelay sets how long Run waits after an empty or failed dequeue.
func WithIdleDelay(delay time.Duration) RunnerOption {
	return func(r *Runner) {
		if delay > 0 {
			r.idle = delay
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRunner(handlers Handlers, dequeuer *DequeuerAdapter, opts ...RunnerOption) *Runner {
	r := &Runner{
		handlers: handlers,
		dequeuer: dequeuer,
		hook:     NewObservingHook(nil, nil),
		idle:     time.Second,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Execute maps one job to its command.
func (r *Runner) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if r == nil {
		return fmt.Errorf("gojob: runner is nil")
	}
	if msg == nil {
		return core.NewValidationError("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDReconcileTenant:
		if r.handlers.ReconcileTenant == nil {
			return fmt.Errorf("gojob: reconcile tenant handler is not configured")
		}
		cmd := command.ReconcileTenantMessage{TenantID: stringParam(msg.Parameters, ParamTenantID)}
		if err := cmd.Validate(); err != nil {
			return err
		}
		return r.handlers.ReconcileTenant.Execute(ctx, cmd)
	case JobIDReconcileAll:
		if r.handlers.ReconcileAll == nil {
			return fmt.Errorf("gojob: reconcile all handler is not configured")
		}
		return r.handlers.ReconcileAll.Execute(ctx, command.ReconcileAllMessage{})
	case JobIDApplyEvent:
		if r.handlers.ApplyEvent == nil {
			return fmt.Errorf("gojob: apply event handler is not configured")
		}
		tenantID, event, err := EventFromParameters(msg.Parameters)
		if err != nil {
			return err
		}
		cmd := command.ApplyEventMessage{TenantID: tenantID, Event: &event}
		if err := cmd.Validate(); err != nil {
			return err
		}
		return r.handlers.ApplyEvent.Execute(ctx, cmd)
	case JobIDReplayDeliveries:
		if r.handlers.ReplayDeliveries == nil {
			return fmt.Errorf("gojob: replay deliveries handler is not configured")
		}
		limit, err := intParam(msg.Parameters, ParamLimit)
		if err != nil {
			return err
		}
		cmd := command.ReplayDeliveriesMessage{Limit: limit}
		if err := cmd.Validate(); err != nil {
			return err
		}
		return r.handlers.ReplayDeliveries.Execute(ctx, cmd)
	default:
		return core.NewValidationError(fmt.Sprintf("gojob: unknown job id %q", msg.JobID))
	}
}

// Deliver runs one delivery and settles it: ack on success, nack per the
// retry policy otherwise. The returned error is the job error.
func (r *Runner) Deliver(ctx context.Context, delivery *DeliveryAdapter) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	msg := delivery.Message()
	event := worker.Event{Message: msg, Attempt: delivery.Attempt(), StartedAt: r.now()}
	r.hook.OnStart(ctx, event)

	err := r.Execute(ctx, msg)
	event.Duration = r.now().Sub(event.StartedAt)
	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			event.Err = ackErr
			r.hook.OnFailure(ctx, event)
			return ackErr
		}
		r.hook.OnSuccess(ctx, event)
		return nil
	}

	event.Err = err
	opts, nackErr := delivery.Fail(ctx, err)
	if opts.Requeue {
		event.Delay = opts.Delay
		r.hook.OnRetry(ctx, event)
	} else {
		r.hook.OnFailure(ctx, event)
	}
	if nackErr != nil {
		return errors.Join(err, nackErr)
	}
	return err
}

// RunOnce dequeues and settles a single delivery.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r == nil || r.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return r.Deliver(ctx, delivery)
}

// Run settles deliveries until ctx is done. Job failures are settled on the
// queue and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := r.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if waitErr := wait(ctx, r.idle); waitErr != nil {
				return nil
			}
			continue
		}
		_ = r.Deliver(ctx, delivery)
	}
}

// QueueingApplier hands webhook events to the job queue instead of
// applying them inline.
type QueueingApplier struct {
	enqueuer *EnqueuerAdapter
}

func NewQueueingApplier(enqueuer *EnqueuerAdapter) *QueueingApplier {
	return &QueueingApplier{enqueuer: enqueuer}
}

func (a *QueueingApplier) HandleEvent(ctx context.Context, tenant core.Tenant, event reconcile.Event) (reconcile.EventResult, error) {
	result := reconcile.EventResult{Type: event.Type, Action: reconcile.ActionIgnored}
	if !event.Type.Known() {
		return result, nil
	}
	msg, err := ApplyEventJob(tenant.ID, event)
	if err != nil {
		return result, err
	}
	if a == nil {
		return result, fmt.Errorf("gojob: queueing applier is nil")
	}
	if err := a.enqueuer.Enqueue(ctx, msg); err != nil {
		return result, err
	}
	result.Action = reconcile.ActionQueued
	if event.Type == reconcile.EventContactUpdate {
		result.ContactID = event.ID
	} else {
		result.OpportunityID = event.ID
		result.ContactID = event.ContactID
	}
	return result, nil
}

func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
