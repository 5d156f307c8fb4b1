package fieldmap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/crm"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// FieldAPI is the CRM surface the engine needs.
type FieldAPI interface {
	ListCustomFields(ctx context.Context, auth crm.Auth, model core.EntityModel) ([]crm.CustomField, error)
	CreateCustomField(ctx context.Context, auth crm.Auth, req crm.CreateCustomFieldRequest) (crm.CustomField, error)
	ListPipelines(ctx context.Context, auth crm.Auth) ([]crm.Pipeline, error)
}

type ConfigStore interface {
	Get(ctx context.Context, tenantID string) (core.Tenant, error)
	SaveConfig(ctx context.Context, tenantID string, cfg core.FieldMappingConfig) error
}

type Engine struct {
	api        FieldAPI
	store      ConfigStore
	appName    string
	keyword    string
	stageRules []StageRule
	observer   core.Observer
	inflight   singleflight.Group
}

type Option func(*Engine)

func WithConfig(cfg core.FieldMapConfig) Option {
	return func(e *Engine) {
		if name := strings.TrimSpace(cfg.AppPipelineName); name != "" {
			e.appName = name
		}
		if keyword := strings.TrimSpace(cfg.PipelineKeyword); keyword != "" {
			e.keyword = keyword
		}
		if len(cfg.StageNames) > 0 {
			e.stageRules = WithExtraStageNames(e.stageRules, cfg.StageNames)
		}
	}
}

func WithStageRules(rules []StageRule) Option {
	return func(e *Engine) {
		if len(rules) > 0 {
			e.stageRules = append([]StageRule(nil), rules...)
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(e *Engine) {
		e.observer = core.NewObserver(logger, e.observer.Metrics, "fieldmap")
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(e *Engine) {
		e.observer = core.NewObserver(e.observer.Logger, recorder, "fieldmap")
	}
}

func NewEngine(api FieldAPI, store ConfigStore, opts ...Option) *Engine {
	defaults := core.DefaultConfig().FieldMap
	e := &Engine{
		api:        api,
		store:      store,
		appName:    defaults.AppPipelineName,
		keyword:    defaults.PipelineKeyword,
		stageRules: DefaultStageRules(),
		observer:   core.NewObserver(nil, nil, "fieldmap"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ResolveField returns the external field for a canonical key, creating a
// TEXT field in the preferred namespace when neither namespace has one.
func (e *Engine) ResolveField(ctx context.Context, auth crm.Auth, key string, preferred core.EntityModel) (core.FieldRef, error) {
	if err := e.validateAPI(); err != nil {
		return core.FieldRef{}, err
	}
	field, ok := core.LookupCustomField(key)
	if !ok {
		return core.FieldRef{}, core.NewValidationError(fmt.Sprintf("fieldmap: unknown custom field key %q", key))
	}
	return e.resolveField(ctx, newCatalog(e.api, auth), field, preferred)
}

func (e *Engine) resolveField(ctx context.Context, cat *catalog, field core.CustomFieldKey, preferred core.EntityModel) (core.FieldRef, error) {
	if !preferred.Valid() {
		preferred = field.DefaultModel
	}
	for _, model := range []core.EntityModel{preferred, preferred.Other()} {
		existing, found, err := cat.find(ctx, model, field.Name)
		if err != nil {
			return core.FieldRef{}, err
		}
		if found {
			return core.FieldRef{ExternalFieldID: existing.ID, EntityModel: model}, nil
		}
	}

	created, err := e.api.CreateCustomField(ctx, cat.auth, crm.CreateCustomFieldRequest{
		Name:     field.Name,
		DataType: crm.DataTypeText,
		Model:    preferred,
	})
	if err != nil {
		return core.FieldRef{}, err
	}
	created.Model = preferred
	cat.add(created)
	e.observer.Info(ctx, "fieldmap created custom field", map[string]any{
		"location_id": cat.auth.LocationID,
		"key":         field.Key,
		"field_id":    created.ID,
		"model":       string(preferred),
	})
	return core.FieldRef{ExternalFieldID: created.ID, EntityModel: preferred}, nil
}

// BuildInitialConfig discovers the pipeline, its stages and every canonical
// custom field for a freshly connected location.
func (e *Engine) BuildInitialConfig(ctx context.Context, auth crm.Auth) (core.FieldMappingConfig, error) {
	if err := e.validateAPI(); err != nil {
		return core.FieldMappingConfig{}, err
	}
	startedAt := time.Now()
	cfg, err := e.buildInitialConfig(ctx, auth)
	e.observer.Observe(ctx, startedAt, "build_initial_config", err, map[string]any{
		"location_id": auth.LocationID,
		"pipeline_id": cfg.PipelineID,
	})
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	return cfg, nil
}

func (e *Engine) buildInitialConfig(ctx context.Context, auth crm.Auth) (core.FieldMappingConfig, error) {
	pipelines, err := e.api.ListPipelines(ctx, auth)
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	pipeline, err := SelectPipeline(pipelines, e.appName, e.keyword)
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	stageMap, err := ResolveStages(pipeline.Stages, e.stageRules)
	if err != nil {
		return core.FieldMappingConfig{}, err
	}

	cat := newCatalog(e.api, auth)
	fieldMap := make(map[string]core.FieldRef, len(core.CanonicalCustomFields()))
	for _, field := range core.CanonicalCustomFields() {
		ref, err := e.resolveField(ctx, cat, field, field.DefaultModel)
		if err != nil {
			return core.FieldMappingConfig{}, fmt.Errorf("fieldmap: resolve %s: %w", field.Key, err)
		}
		fieldMap[field.Key] = ref
	}

	return core.FieldMappingConfig{
		Version:        core.CurrentConfigVersion,
		PipelineID:     pipeline.ID,
		StageMap:       stageMap,
		CustomFieldMap: fieldMap,
	}, nil
}

// MigrateConfig re-resolves the custom field map of an outdated config and
// persists it under the current version. Pipeline and stage choices carry
// over untouched. A key that fails keeps its previous entry.
func (e *Engine) MigrateConfig(ctx context.Context, tenant core.Tenant, current core.FieldMappingConfig) (core.FieldMappingConfig, error) {
	if err := e.validateAPI(); err != nil {
		return core.FieldMappingConfig{}, err
	}
	if !current.Outdated() {
		return current, nil
	}
	if e.store == nil {
		return core.FieldMappingConfig{}, fmt.Errorf("fieldmap: config store is required")
	}
	locationID := tenant.Location()
	if locationID == "" {
		return core.FieldMappingConfig{}, core.NewConfigError("fieldmap: tenant is not connected")
	}

	startedAt := time.Now()
	next := current.Clone()
	cat := newCatalog(e.api, crm.Auth{LocationID: locationID})
	failed := 0
	for _, field := range core.CanonicalCustomFields() {
		preferred := field.DefaultModel
		previous, hadPrevious := current.CustomFieldMap[field.Key]
		if hadPrevious && previous.EntityModel.Valid() {
			preferred = previous.EntityModel
		}
		ref, err := e.resolveField(ctx, cat, field, preferred)
		if err != nil {
			failed++
			e.observer.Warn(ctx, "fieldmap migration kept previous field", map[string]any{
				"tenant_id":    tenant.ID,
				"location_id":  locationID,
				"key":          field.Key,
				"had_previous": hadPrevious,
				"error":        err.Error(),
			})
			if hadPrevious {
				next.CustomFieldMap[field.Key] = previous
			}
			continue
		}
		next.CustomFieldMap[field.Key] = ref
	}
	next.Version = core.CurrentConfigVersion

	err := e.store.SaveConfig(ctx, tenant.ID, next)
	e.observer.Observe(ctx, startedAt, "migrate_config", err, map[string]any{
		"tenant_id":    tenant.ID,
		"location_id":  locationID,
		"from_version": current.Version,
		"to_version":   next.Version,
		"failed_keys":  failed,
	})
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	return next, nil
}

// ResolveOrMigrateConfig returns a current config for the tenant, building
// or migrating it as needed. Concurrent calls for one tenant share a single
// resolution.
func (e *Engine) ResolveOrMigrateConfig(ctx context.Context, tenantID string) (core.FieldMappingConfig, error) {
	if err := e.validateAPI(); err != nil {
		return core.FieldMappingConfig{}, err
	}
	if e.store == nil {
		return core.FieldMappingConfig{}, fmt.Errorf("fieldmap: config store is required")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.FieldMappingConfig{}, core.NewValidationError("fieldmap: tenant id is required")
	}
	value, err, _ := e.inflight.Do(tenantID, func() (any, error) {
		return e.resolveOrMigrate(ctx, tenantID)
	})
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	return value.(core.FieldMappingConfig).Clone(), nil
}

func (e *Engine) resolveOrMigrate(ctx context.Context, tenantID string) (core.FieldMappingConfig, error) {
	tenant, err := e.store.Get(ctx, tenantID)
	if err != nil {
		return core.FieldMappingConfig{}, err
	}
	if !tenant.Connected() {
		return core.FieldMappingConfig{}, core.NewConfigError("fieldmap: tenant has no connected location")
	}
	if tenant.Config == nil {
		cfg, err := e.BuildInitialConfig(ctx, crm.Auth{LocationID: tenant.Location()})
		if err != nil {
			return core.FieldMappingConfig{}, err
		}
		if err := e.store.SaveConfig(ctx, tenant.ID, cfg); err != nil {
			return core.FieldMappingConfig{}, err
		}
		return cfg, nil
	}
	if tenant.Config.Outdated() {
		return e.MigrateConfig(ctx, tenant, *tenant.Config)
	}
	return *tenant.Config, nil
}

func (e *Engine) validateAPI() error {
	if e == nil {
		return fmt.Errorf("fieldmap: engine is nil")
	}
	if e.api == nil {
		return fmt.Errorf("fieldmap: crm api is required")
	}
	return nil
}
