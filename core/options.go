package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// ResolveConfig loads configuration through provider and layers runtime
// overrides on top with resolver. Nil collaborators fall back to the cfgx
// provider and the go-options resolver.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// YAMLFileLoader reads a YAML document. A missing file yields an empty map
// when Optional is set.
type YAMLFileLoader struct {
	Path     string
	Optional bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	return normalizeDurations(raw), nil
}

var configSections = []string{"token", "crm", "reconcile", "fieldmap", "webhooks", "redis", "database", "http"}

// EnvConfigLoader maps PREFIX_SECTION_KEY variables onto config keys, for
// example LEADSYNC_CRM_CLIENT_ID to crm.client_id.
type EnvConfigLoader struct {
	Prefix  string
	Environ func() []string
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := strings.ToUpper(strings.TrimSpace(l.Prefix))
	if prefix == "" {
		prefix = "LEADSYNC"
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	raw := map[string]any{}
	for _, entry := range environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, prefix+"_") {
			continue
		}
		path := strings.ToLower(strings.TrimPrefix(name, prefix+"_"))
		if path == "service_name" {
			raw["service_name"] = value
			continue
		}
		for _, section := range configSections {
			key, found := strings.CutPrefix(path, section+"_")
			if !found || key == "" {
				continue
			}
			sectionMap, _ := raw[section].(map[string]any)
			if sectionMap == nil {
				sectionMap = map[string]any{}
				raw[section] = sectionMap
			}
			if nested, isContention := strings.CutPrefix(key, "contention_"); section == "token" && isContention {
				contention, _ := sectionMap["contention"].(map[string]any)
				if contention == nil {
					contention = map[string]any{}
					sectionMap["contention"] = contention
				}
				contention[nested] = value
				break
			}
			sectionMap[key] = value
			break
		}
	}
	return normalizeScalars(normalizeDurations(raw)), nil
}

// LayeredRawConfigLoader deep-merges loaders in order; later loaders win.
type LayeredRawConfigLoader []RawConfigLoader

func (l LayeredRawConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, loader := range l {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeRaw(out, raw)
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// layer collects non-zero values unless includeZero is set.
type layer struct {
	values      map[string]any
	includeZero bool
}

func (l layer) set(key string, value any, zero bool) {
	if l.includeZero || !zero {
		l.values[key] = value
	}
}

func (l layer) section(parent map[string]any, key string) {
	if len(l.values) > 0 || l.includeZero {
		parent[key] = l.values
	}
}

func newLayer(includeZero bool) layer {
	return layer{values: map[string]any{}, includeZero: includeZero}
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	out := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		out["service_name"] = cfg.ServiceName
	}

	contention := newLayer(includeZero)
	contention.set("wait", cfg.Token.Contention.Wait, cfg.Token.Contention.Wait == 0)
	contention.set("max_attempts", cfg.Token.Contention.MaxAttempts, cfg.Token.Contention.MaxAttempts == 0)
	contention.set("multiplier", cfg.Token.Contention.Multiplier, cfg.Token.Contention.Multiplier == 0)
	contention.set("max_wait", cfg.Token.Contention.MaxWait, cfg.Token.Contention.MaxWait == 0)

	token := newLayer(includeZero)
	token.set("safety_buffer", cfg.Token.SafetyBuffer, cfg.Token.SafetyBuffer == 0)
	token.set("lock_ttl", cfg.Token.LockTTL, cfg.Token.LockTTL == 0)
	contention.section(token.values, "contention")
	token.section(out, "token")

	crm := newLayer(includeZero)
	crm.set("base_url", cfg.CRM.BaseURL, strings.TrimSpace(cfg.CRM.BaseURL) == "")
	crm.set("api_version", cfg.CRM.APIVersion, strings.TrimSpace(cfg.CRM.APIVersion) == "")
	crm.set("client_id", cfg.CRM.ClientID, strings.TrimSpace(cfg.CRM.ClientID) == "")
	crm.set("client_secret", cfg.CRM.ClientSecret, strings.TrimSpace(cfg.CRM.ClientSecret) == "")
	crm.set("redirect_url", cfg.CRM.RedirectURL, strings.TrimSpace(cfg.CRM.RedirectURL) == "")
	crm.set("timeout", cfg.CRM.Timeout, cfg.CRM.Timeout == 0)
	crm.set("page_limit", cfg.CRM.PageLimit, cfg.CRM.PageLimit == 0)
	crm.set("default_region", cfg.CRM.DefaultRegion, strings.TrimSpace(cfg.CRM.DefaultRegion) == "")
	crm.section(out, "crm")

	reconcile := newLayer(includeZero)
	reconcile.set("batch_size", cfg.Reconcile.BatchSize, cfg.Reconcile.BatchSize == 0)
	reconcile.set("batch_delay", cfg.Reconcile.BatchDelay, cfg.Reconcile.BatchDelay == 0)
	reconcile.set("tenant_concurrency", cfg.Reconcile.TenantConcurrency, cfg.Reconcile.TenantConcurrency == 0)
	reconcile.set("sweep_schedule", cfg.Reconcile.SweepSchedule, strings.TrimSpace(cfg.Reconcile.SweepSchedule) == "")
	reconcile.section(out, "reconcile")

	fieldmap := newLayer(includeZero)
	fieldmap.set("app_pipeline_name", cfg.FieldMap.AppPipelineName, strings.TrimSpace(cfg.FieldMap.AppPipelineName) == "")
	fieldmap.set("pipeline_keyword", cfg.FieldMap.PipelineKeyword, strings.TrimSpace(cfg.FieldMap.PipelineKeyword) == "")
	fieldmap.section(out, "fieldmap")

	webhooks := newLayer(includeZero)
	webhooks.set("claim_lease", cfg.Webhooks.ClaimLease, cfg.Webhooks.ClaimLease == 0)
	webhooks.set("max_attempts", cfg.Webhooks.MaxAttempts, cfg.Webhooks.MaxAttempts == 0)
	webhooks.set("debounce_window", cfg.Webhooks.DebounceWindow, cfg.Webhooks.DebounceWindow == 0)
	webhooks.section(out, "webhooks")

	redis := newLayer(includeZero)
	redis.set("addr", cfg.Redis.Addr, strings.TrimSpace(cfg.Redis.Addr) == "")
	redis.set("password", cfg.Redis.Password, cfg.Redis.Password == "")
	redis.set("db", cfg.Redis.DB, cfg.Redis.DB == 0)
	redis.section(out, "redis")

	database := newLayer(includeZero)
	database.set("driver", cfg.Database.Driver, strings.TrimSpace(cfg.Database.Driver) == "")
	database.set("dsn", cfg.Database.DSN, strings.TrimSpace(cfg.Database.DSN) == "")
	database.set("debug", cfg.Database.Debug, !cfg.Database.Debug)
	database.section(out, "database")

	httpLayer := newLayer(includeZero)
	httpLayer.set("addr", cfg.HTTP.Addr, strings.TrimSpace(cfg.HTTP.Addr) == "")
	httpLayer.section(out, "http")

	return out
}

var durationKeys = map[string]struct{}{
	"safety_buffer":   {},
	"lock_ttl":        {},
	"wait":            {},
	"max_wait":        {},
	"timeout":         {},
	"batch_delay":     {},
	"claim_lease":     {},
	"debounce_window": {},
}

func normalizeDurations(raw map[string]any) map[string]any {
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			raw[key] = normalizeDurations(typed)
		case string:
			if _, ok := durationKeys[key]; !ok {
				continue
			}
			if parsed, err := time.ParseDuration(strings.TrimSpace(typed)); err == nil {
				raw[key] = parsed
			}
		}
	}
	return raw
}

var (
	intKeys   = map[string]struct{}{"max_attempts": {}, "page_limit": {}, "batch_size": {}, "tenant_concurrency": {}, "db": {}}
	floatKeys = map[string]struct{}{"multiplier": {}}
	boolKeys  = map[string]struct{}{"debug": {}}
)

// normalizeScalars converts string values of numeric and boolean keys. Env
// sourced values arrive as strings.
func normalizeScalars(raw map[string]any) map[string]any {
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			raw[key] = normalizeScalars(typed)
		case string:
			trimmed := strings.TrimSpace(typed)
			if _, ok := intKeys[key]; ok {
				if parsed, err := strconv.Atoi(trimmed); err == nil {
					raw[key] = parsed
				}
			}
			if _, ok := floatKeys[key]; ok {
				if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
					raw[key] = parsed
				}
			}
			if _, ok := boolKeys[key]; ok {
				if parsed, err := strconv.ParseBool(trimmed); err == nil {
					raw[key] = parsed
				}
			}
		}
	}
	return raw
}

func mergeRaw(dst map[string]any, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeRaw(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}
