package gojob

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/reconcile"
	"github.com/google/uuid"
)

const (
	JobIDReconcileTenant  = "leadsync.reconcile.tenant"
	JobIDReconcileAll     = "leadsync.reconcile.all"
	JobIDApplyEvent       = "leadsync.event.apply"
	JobIDReplayDeliveries = "leadsync.webhooks.replay"
)

const (
	ParamTenantID   = "tenant_id"
	ParamRunID      = "run_id"
	ParamEventType  = "event_type"
	ParamLocationID = "location_id"
	ParamEntityID   = "entity_id"
	ParamContactID  = "contact_id"
	ParamWebhookID  = "webhook_id"
	ParamLimit      = "limit"
)

// Dedup policies understood by go-job queues.
const (
	DedupDrop  job.DeduplicationPolicy = "drop"
	DedupMerge job.DeduplicationPolicy = "merge"
)

var knownJobs = map[string]struct{}{
	JobIDReconcileTenant:  {},
	JobIDReconcileAll:     {},
	JobIDApplyEvent:       {},
	JobIDReplayDeliveries: {},
}

// ReconcileTenantJob builds a full sweep job for one tenant. Pending sweeps
// for the same tenant collapse into one.
func ReconcileTenantJob(tenantID string) (*job.ExecutionMessage, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, core.NewValidationError("gojob: tenant id is required")
	}
	return &job.ExecutionMessage{
		JobID:          JobIDReconcileTenant,
		ScriptPath:     JobIDReconcileTenant,
		Parameters:     map[string]any{ParamTenantID: tenantID},
		IdempotencyKey: JobIDReconcileTenant + ":" + tenantID,
		DedupPolicy:    DedupMerge,
	}, nil
}

// ReconcileAllJob builds a sweep over every connected tenant. An empty run
// id gets a random one.
func ReconcileAllJob(runID string) *job.ExecutionMessage {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = uuid.NewString()
	}
	return &job.ExecutionMessage{
		JobID:          JobIDReconcileAll,
		ScriptPath:     JobIDReconcileAll,
		Parameters:     map[string]any{ParamRunID: runID},
		IdempotencyKey: JobIDReconcileAll + ":" + runID,
		DedupPolicy:    DedupDrop,
	}
}

// ReplayDeliveriesJob builds a pass over webhook deliveries due for retry.
// A zero limit uses the processor default.
func ReplayDeliveriesJob(limit int, runID string) (*job.ExecutionMessage, error) {
	if limit < 0 {
		return nil, core.NewValidationError("gojob: replay limit must not be negative")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = uuid.NewString()
	}
	return &job.ExecutionMessage{
		JobID:          JobIDReplayDeliveries,
		ScriptPath:     JobIDReplayDeliveries,
		Parameters:     map[string]any{ParamRunID: runID, ParamLimit: limit},
		IdempotencyKey: JobIDReplayDeliveries + ":" + runID,
		DedupPolicy:    DedupDrop,
	}, nil
}

// ApplyEventJob builds an incremental job for one webhook event. Deliveries
// of the same webhook are dropped by the queue.
func ApplyEventJob(tenantID string, event reconcile.Event) (*job.ExecutionMessage, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, core.NewValidationError("gojob: tenant id is required")
	}
	if strings.TrimSpace(string(event.Type)) == "" || strings.TrimSpace(event.LocationID) == "" {
		return nil, core.NewValidationError("gojob: event type and location id are required")
	}
	params := map[string]any{
		ParamTenantID:   tenantID,
		ParamEventType:  string(event.Type),
		ParamLocationID: strings.TrimSpace(event.LocationID),
		ParamEntityID:   strings.TrimSpace(event.ID),
	}
	if contactID := strings.TrimSpace(event.ContactID); contactID != "" {
		params[ParamContactID] = contactID
	}
	key := strings.TrimSpace(event.WebhookID)
	if key != "" {
		params[ParamWebhookID] = key
	} else {
		key = fmt.Sprintf("%s:%s", event.Type, strings.TrimSpace(event.ID))
	}
	return &job.ExecutionMessage{
		JobID:          JobIDApplyEvent,
		ScriptPath:     JobIDApplyEvent,
		Parameters:     params,
		IdempotencyKey: JobIDApplyEvent + ":" + strings.TrimSpace(event.LocationID) + ":" + key,
		DedupPolicy:    DedupDrop,
	}, nil
}

// EventFromParameters rebuilds the event carried by an apply-event job.
func EventFromParameters(params map[string]any) (string, reconcile.Event, error) {
	tenantID := stringParam(params, ParamTenantID)
	event := reconcile.Event{
		Type:       reconcile.EventType(stringParam(params, ParamEventType)),
		LocationID: stringParam(params, ParamLocationID),
		ID:         stringParam(params, ParamEntityID),
		ContactID:  stringParam(params, ParamContactID),
		WebhookID:  stringParam(params, ParamWebhookID),
	}
	if tenantID == "" {
		return "", reconcile.Event{}, core.NewValidationError("gojob: job parameter tenant_id is required")
	}
	if event.Type == "" || event.LocationID == "" {
		return "", reconcile.Event{}, core.NewValidationError("gojob: job parameters event_type and location_id are required")
	}
	return tenantID, event, nil
}

func stringParam(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	switch value := params[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func intParam(params map[string]any, key string) (int, error) {
	switch value := params[key].(type) {
	case nil:
		return 0, nil
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		if value != float64(int(value)) {
			return 0, core.NewValidationError(fmt.Sprintf("gojob: job parameter %s must be an integer", key))
		}
		return int(value), nil
	default:
		raw := stringParam(params, key)
		if raw == "" {
			return 0, nil
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return 0, core.NewValidationError(fmt.Sprintf("gojob: job parameter %s must be an integer", key))
		}
		return parsed, nil
	}
}

func deliveryKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

type attemptCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newAttemptCounter() *attemptCounter {
	return &attemptCounter{counts: map[string]int{}}
}

func (c *attemptCounter) next(key string) int {
	if key == "" {
		return 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key]
}

func (c *attemptCounter) clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
}
