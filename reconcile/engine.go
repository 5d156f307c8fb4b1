package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
	glog "github.com/goliatone/go-logger/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize         = 5
	DefaultBatchDelay        = 250 * time.Millisecond
	DefaultTenantConcurrency = 4
)

// API is the CRM surface the engine reads from.
type API interface {
	SearchAPI
	GetOpportunity(ctx context.Context, auth crm.Auth, opportunityID string) (crm.Opportunity, error)
	GetContact(ctx context.Context, auth crm.Auth, contactID string) (crm.Contact, error)
	ListNotes(ctx context.Context, auth crm.Auth, contactID string) ([]crm.Note, error)
}

type ConfigResolver interface {
	ResolveOrMigrateConfig(ctx context.Context, tenantID string) (core.FieldMappingConfig, error)
}

type TenantLister interface {
	ListConnected(ctx context.Context) ([]core.Tenant, error)
}

type Engine struct {
	api               API
	leads             core.LeadStore
	configs           ConfigResolver
	tenants           TenantLister
	batchSize         int
	batchDelay        time.Duration
	tenantConcurrency int
	tenantTimeout     time.Duration
	maxPages          int
	region            string
	sourceLabels      []string
	now               func() time.Time
	sleep             func(ctx context.Context, delay time.Duration) error
	observer          core.Observer
	tracer            trace.Tracer
}

type Option func(*Engine)

func WithConfig(cfg core.ReconcileConfig) Option {
	return func(e *Engine) {
		if cfg.BatchSize > 0 {
			e.batchSize = cfg.BatchSize
		}
		if cfg.BatchDelay > 0 {
			e.batchDelay = cfg.BatchDelay
		}
		if cfg.TenantConcurrency > 0 {
			e.tenantConcurrency = cfg.TenantConcurrency
		}
		if cfg.TenantTimeout > 0 {
			e.tenantTimeout = cfg.TenantTimeout
		}
		WithMaxPages(cfg.MaxPages)(e)
		WithSourceLabels(cfg.SourceLabels)(e)
	}
}

func WithTenants(tenants TenantLister) Option {
	return func(e *Engine) {
		e.tenants = tenants
	}
}

func WithDefaultRegion(region string) Option {
	return func(e *Engine) {
		if region = strings.TrimSpace(region); region != "" {
			e.region = region
		}
	}
}

func WithSourceLabels(labels []string) Option {
	return func(e *Engine) {
		if len(labels) > 0 {
			e.sourceLabels = append([]string(nil), labels...)
		}
	}
}

func WithMaxPages(maxPages int) Option {
	return func(e *Engine) {
		if maxPages > 0 {
			e.maxPages = maxPages
		}
	}
}

// WithTenantTimeout bounds each tenant's FullReconcile inside ReconcileAll.
func WithTenantTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.tenantTimeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep replaces the inter-batch wait, for tests.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(e *Engine) {
		e.observer = core.NewObserver(logger, e.observer.Metrics, "reconcile")
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(e *Engine) {
		e.observer = core.NewObserver(e.observer.Logger, recorder, "reconcile")
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

func NewEngine(api API, leads core.LeadStore, configs ConfigResolver, opts ...Option) *Engine {
	e := &Engine{
		api:               api,
		leads:             leads,
		configs:           configs,
		batchSize:         DefaultBatchSize,
		batchDelay:        DefaultBatchDelay,
		tenantConcurrency: DefaultTenantConcurrency,
		maxPages:          DefaultMaxPages,
		region:            DefaultRegionCode,
		sourceLabels:      DefaultSourceLabels(),
		now:               func() time.Time { return time.Now().UTC() },
		sleep:             sleepWithContext,
		observer:          core.NewObserver(nil, nil, "reconcile"),
		tracer:            otel.Tracer("github.com/goliatone/go-leadsync/reconcile"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// FullReconcile walks every opportunity of the tenant and overwrites the
// matching vault leads. Individual failures are recorded and skipped; a rate
// limit or auth failure stops the sweep after the current batch.
func (e *Engine) FullReconcile(ctx context.Context, tenant core.Tenant) (Report, error) {
	report := Report{TenantID: tenant.ID, StartedAt: e.now()}
	if err := e.validate(); err != nil {
		return report, err
	}
	if !tenant.Connected() {
		return report, core.NewConfigError("reconcile: tenant has no connected location")
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.full", trace.WithAttributes(
		attribute.String("leadsync.tenant_id", tenant.ID),
		attribute.String("leadsync.location_id", tenant.Location()),
	))
	defer span.End()

	startedAt := time.Now()
	err := e.fullReconcile(ctx, tenant, &report)
	report.Duration = time.Since(startedAt)
	if err != nil {
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("leadsync.pages", report.Pages),
		attribute.Int("leadsync.upserted", report.Upserted),
		attribute.Int("leadsync.skipped", report.Skipped),
	)
	e.observer.Observe(ctx, startedAt, "full_reconcile", err, map[string]any{
		"tenant_id":   tenant.ID,
		"location_id": tenant.Location(),
		"pages":       report.Pages,
		"fetched":     report.Fetched,
		"upserted":    report.Upserted,
		"skipped":     report.Skipped,
	})
	return report, err
}

func (e *Engine) fullReconcile(ctx context.Context, tenant core.Tenant, report *Report) error {
	cfg, err := e.configs.ResolveOrMigrateConfig(ctx, tenant.ID)
	if err != nil {
		return err
	}
	auth := crm.Auth{LocationID: tenant.Location()}

	walk, err := WalkOpportunities(ctx, e.api, auth, e.maxPages)
	report.Pages = walk.Pages
	if err != nil {
		return err
	}
	report.Fetched = len(walk.Opportunities)
	if walk.Truncated {
		e.observer.Warn(ctx, "reconcile pagination stopped early", map[string]any{
			"tenant_id": tenant.ID,
			"pages":     walk.Pages,
		})
	}

	for start := 0; start < len(walk.Opportunities); start += e.batchSize {
		if start > 0 {
			if err := e.sleep(ctx, e.batchDelay); err != nil {
				return err
			}
		}
		end := min(start+e.batchSize, len(walk.Opportunities))
		if err := e.processBatch(ctx, tenant, auth, cfg, walk.Opportunities[start:end], report); err != nil {
			return err
		}
	}
	return nil
}

// processBatch deep-fetches one batch concurrently. The returned error is
// the first rate limit or auth failure of the batch, after every item of
// the batch has finished.
func (e *Engine) processBatch(
	ctx context.Context,
	tenant core.Tenant,
	auth crm.Auth,
	cfg core.FieldMappingConfig,
	batch []crm.Opportunity,
	report *Report,
) error {
	var (
		mu    sync.Mutex
		group errgroup.Group
	)
	for _, opp := range batch {
		group.Go(func() error {
			err := e.syncOpportunity(ctx, tenant, auth, cfg, opp.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Upserted++
				return nil
			}
			report.recordFailure(opp.ID, err)
			if core.IsRateLimitError(err) || core.IsAuthError(err) {
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// syncOpportunity re-fetches an opportunity with its contact and notes,
// normalizes it and overwrites the vault lead.
func (e *Engine) syncOpportunity(ctx context.Context, tenant core.Tenant, auth crm.Auth, cfg core.FieldMappingConfig, opportunityID string) error {
	input, err := e.fetchInput(ctx, auth, opportunityID)
	if err != nil {
		return err
	}
	lead := Normalize(input, cfg, e.normalizeOptions(tenant))
	return e.leads.Upsert(ctx, lead)
}

func (e *Engine) fetchInput(ctx context.Context, auth crm.Auth, opportunityID string) (Input, error) {
	opp, err := e.api.GetOpportunity(ctx, auth, opportunityID)
	if err != nil {
		return Input{}, err
	}
	input := Input{Opportunity: opp}
	contactID := opp.ContactIDOrEmbedded()
	if contactID == "" {
		return input, nil
	}

	contact, err := e.api.GetContact(ctx, auth, contactID)
	switch {
	case err == nil:
		input.Contact = &contact
	case core.IsRemoteNotFound(err):
		return input, nil
	default:
		return Input{}, err
	}

	notes, err := e.api.ListNotes(ctx, auth, contactID)
	if err != nil && !core.IsRemoteNotFound(err) {
		return Input{}, err
	}
	input.Notes = notes
	return input, nil
}

// ApplyEvent handles one webhook payload for the tenant. Unknown event
// types are ignored; a malformed payload is a validation error.
func (e *Engine) ApplyEvent(ctx context.Context, tenant core.Tenant, payload []byte) (EventResult, error) {
	if err := e.validate(); err != nil {
		return EventResult{}, err
	}
	event, err := DecodeEvent(payload)
	if err != nil {
		return EventResult{}, err
	}
	return e.HandleEvent(ctx, tenant, event)
}

// HandleEvent applies an already decoded event.
func (e *Engine) HandleEvent(ctx context.Context, tenant core.Tenant, event Event) (EventResult, error) {
	if err := e.validate(); err != nil {
		return EventResult{}, err
	}
	result := EventResult{Type: event.Type, Action: ActionIgnored}
	if !event.Type.Known() {
		e.observer.Debug(ctx, "reconcile ignored event", map[string]any{
			"tenant_id": tenant.ID,
			"event":     string(event.Type),
		})
		return result, nil
	}
	if !tenant.Connected() {
		return result, core.NewConfigError("reconcile: tenant has no connected location")
	}
	if event.LocationID != tenant.Location() {
		return result, core.NewValidationError("reconcile: event location does not match tenant")
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.event", trace.WithAttributes(
		attribute.String("leadsync.tenant_id", tenant.ID),
		attribute.String("leadsync.event", string(event.Type)),
		attribute.String("leadsync.entity_id", event.ID),
	))
	defer span.End()

	startedAt := time.Now()
	result, err := e.handleEvent(ctx, tenant, event, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("leadsync.action", string(result.Action)))
	e.observer.Observe(ctx, startedAt, "apply_event", err, map[string]any{
		"tenant_id":   tenant.ID,
		"location_id": tenant.Location(),
		"event":       string(event.Type),
		"entity_id":   event.ID,
		"action":      string(result.Action),
	})
	return result, err
}

func (e *Engine) handleEvent(ctx context.Context, tenant core.Tenant, event Event, result EventResult) (EventResult, error) {
	auth := crm.Auth{LocationID: tenant.Location()}
	switch {
	case event.Type == EventOpportunityDelete:
		result.OpportunityID = event.ID
		if err := e.leads.Delete(ctx, tenant.ID, event.ID); err != nil && !core.IsNotFound(err) {
			return result, err
		}
		result.Action = ActionDeleted
		return result, nil

	case event.Type == EventContactUpdate:
		result.ContactID = event.ID
		updated, err := e.refreshContact(ctx, tenant, auth, event.ID)
		result.LeadsUpdated = updated
		if err != nil {
			return result, err
		}
		if updated > 0 {
			result.Action = ActionUpdated
		}
		return result, nil

	case event.Type.RefetchesOpportunity():
		result.OpportunityID = event.ID
		cfg, err := e.configs.ResolveOrMigrateConfig(ctx, tenant.ID)
		if err != nil {
			return result, err
		}
		err = e.syncOpportunity(ctx, tenant, auth, cfg, event.ID)
		if core.IsRemoteNotFound(err) {
			if deleteErr := e.leads.Delete(ctx, tenant.ID, event.ID); deleteErr != nil && !core.IsNotFound(deleteErr) {
				return result, deleteErr
			}
			result.Action = ActionDeleted
			return result, nil
		}
		if err != nil {
			return result, err
		}
		result.Action = ActionUpserted
		return result, nil
	}
	return result, nil
}

// refreshContact rewrites the identity fields of every lead owned by the
// contact. A contact that no longer exists leaves the leads untouched.
func (e *Engine) refreshContact(ctx context.Context, tenant core.Tenant, auth crm.Auth, contactID string) (int, error) {
	leads, err := e.leads.ListByContact(ctx, tenant.ID, contactID)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		return 0, nil
	}
	contact, err := e.api.GetContact(ctx, auth, contactID)
	if err != nil {
		if core.IsRemoteNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if strings.TrimSpace(contact.ID) == "" {
		contact.ID = contactID
	}

	updated := 0
	for _, lead := range leads {
		lead.ApplyIdentity(Identity(contact, lead.OpportunityName, e.region))
		lead.SyncedAt = e.now()
		if err := e.leads.Upsert(ctx, lead); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// ReconcileAll sweeps every connected tenant with bounded parallelism. A
// failing tenant does not stop the others; its report carries the error and
// the joined error names every failed tenant. Each tenant runs under the
// tenant timeout when one is set, and every tenant still waiting when ctx
// ends is reported with ctx's error.
func (e *Engine) ReconcileAll(ctx context.Context) (map[string]Report, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if e.tenants == nil {
		return nil, fmt.Errorf("reconcile: tenant lister is required")
	}
	tenants, err := e.tenants.ListConnected(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		reports  = make(map[string]Report, len(tenants))
		failures []error
		group    errgroup.Group
	)
	group.SetLimit(e.tenantConcurrency)
	for _, tenant := range tenants {
		group.Go(func() error {
			var (
				report Report
				err    error
			)
			if err = ctx.Err(); err != nil {
				report = Report{TenantID: tenant.ID, StartedAt: e.now(), Error: err.Error()}
			} else {
				report, err = e.reconcileTenant(ctx, tenant)
			}
			mu.Lock()
			defer mu.Unlock()
			reports[tenant.ID] = report
			if err != nil {
				failures = append(failures, fmt.Errorf("tenant %s: %w", tenant.ID, err))
			}
			return nil
		})
	}
	_ = group.Wait()
	return reports, errors.Join(failures...)
}

func (e *Engine) reconcileTenant(ctx context.Context, tenant core.Tenant) (Report, error) {
	if e.tenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.tenantTimeout)
		defer cancel()
	}
	return e.FullReconcile(ctx, tenant)
}

func (e *Engine) normalizeOptions(tenant core.Tenant) NormalizeOptions {
	return NormalizeOptions{
		TenantID:      tenant.ID,
		RecaptureTag:  tenant.RecaptureTag,
		DefaultRegion: e.region,
		SourceLabels:  e.sourceLabels,
		Now:           e.now(),
	}
}

func (e *Engine) validate() error {
	if e == nil {
		return fmt.Errorf("reconcile: engine is nil")
	}
	if e.api == nil {
		return fmt.Errorf("reconcile: crm api is required")
	}
	if e.leads == nil {
		return fmt.Errorf("reconcile: lead store is required")
	}
	if e.configs == nil {
		return fmt.Errorf("reconcile: config resolver is required")
	}
	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
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
