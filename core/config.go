package core

import (
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultCRMBaseURL    = "https://services.leadconnectorhq.com"
	DefaultCRMAPIVersion = "2021-07-28"
)

type ContentionConfig struct {
	Wait        time.Duration `koanf:"wait" mapstructure:"wait"`
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	Multiplier  float64       `koanf:"multiplier" mapstructure:"multiplier"`
	MaxWait     time.Duration `koanf:"max_wait" mapstructure:"max_wait"`
}

type TokenConfig struct {
	SafetyBuffer time.Duration    `koanf:"safety_buffer" mapstructure:"safety_buffer"`
	LockTTL      time.Duration    `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	Contention   ContentionConfig `koanf:"contention" mapstructure:"contention"`
}

type CRMConfig struct {
	BaseURL       string        `koanf:"base_url" mapstructure:"base_url"`
	APIVersion    string        `koanf:"api_version" mapstructure:"api_version"`
	ClientID      string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret  string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURL   string        `koanf:"redirect_url" mapstructure:"redirect_url"`
	Timeout       time.Duration `koanf:"timeout" mapstructure:"timeout"`
	PageLimit     int           `koanf:"page_limit" mapstructure:"page_limit"`
	DefaultRegion string        `koanf:"default_region" mapstructure:"default_region"`
}

type ReconcileConfig struct {
	BatchSize         int           `koanf:"batch_size" mapstructure:"batch_size"`
	BatchDelay        time.Duration `koanf:"batch_delay" mapstructure:"batch_delay"`
	TenantConcurrency int           `koanf:"tenant_concurrency" mapstructure:"tenant_concurrency"`
	SweepSchedule     string        `koanf:"sweep_schedule" mapstructure:"sweep_schedule"`
	// SweepTimeout bounds one scheduled sweep over every tenant.
	SweepTimeout time.Duration `koanf:"sweep_timeout" mapstructure:"sweep_timeout"`
	// TenantTimeout bounds each tenant inside ReconcileAll.
	TenantTimeout time.Duration `koanf:"tenant_timeout" mapstructure:"tenant_timeout"`
	MaxPages      int           `koanf:"max_pages" mapstructure:"max_pages"`
	SourceLabels  []string      `koanf:"source_labels" mapstructure:"source_labels"`
}

type FieldMapConfig struct {
	AppPipelineName string `koanf:"app_pipeline_name" mapstructure:"app_pipeline_name"`
	PipelineKeyword string `koanf:"pipeline_keyword" mapstructure:"pipeline_keyword"`
	// StageNames adds exact stage names per canonical status, tried before
	// the built in names.
	StageNames map[string][]string `koanf:"stage_names" mapstructure:"stage_names"`
}

type WebhookConfig struct {
	ClaimLease      time.Duration `koanf:"claim_lease" mapstructure:"claim_lease"`
	MaxAttempts     int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	DebounceWindow  time.Duration `koanf:"debounce_window" mapstructure:"debounce_window"`
	DebounceMaxWait time.Duration `koanf:"debounce_max_wait" mapstructure:"debounce_max_wait"`
	ReplaySchedule  string        `koanf:"replay_schedule" mapstructure:"replay_schedule"`
	ReplayBatch     int           `koanf:"replay_batch" mapstructure:"replay_batch"`
	// SigningSecret enables HMAC verification of inbound deliveries when set.
	SigningSecret string `koanf:"signing_secret" mapstructure:"signing_secret"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr" mapstructure:"addr"`
	Password string `koanf:"password" mapstructure:"password"`
	DB       int    `koanf:"db" mapstructure:"db"`

	// CredentialKey seals credentials at rest when set.
	CredentialKey string `koanf:"credential_key" mapstructure:"credential_key"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Token       TokenConfig     `koanf:"token" mapstructure:"token"`
	CRM         CRMConfig       `koanf:"crm" mapstructure:"crm"`
	Reconcile   ReconcileConfig `koanf:"reconcile" mapstructure:"reconcile"`
	FieldMap    FieldMapConfig  `koanf:"fieldmap" mapstructure:"fieldmap"`
	Webhooks    WebhookConfig   `koanf:"webhooks" mapstructure:"webhooks"`
	Redis       RedisConfig     `koanf:"redis" mapstructure:"redis"`
	Database    DatabaseConfig  `koanf:"database" mapstructure:"database"`
	HTTP        HTTPConfig      `koanf:"http" mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "leadsync",
		Token: TokenConfig{
			SafetyBuffer: 5 * time.Minute,
			LockTTL:      15 * time.Second,
			Contention: ContentionConfig{
				Wait:        time.Second,
				MaxAttempts: 3,
				Multiplier:  2,
				MaxWait:     4 * time.Second,
			},
		},
		CRM: CRMConfig{
			BaseURL:       DefaultCRMBaseURL,
			APIVersion:    DefaultCRMAPIVersion,
			Timeout:       30 * time.Second,
			PageLimit:     100,
			DefaultRegion: "US",
		},
		Reconcile: ReconcileConfig{
			BatchSize:         5,
			BatchDelay:        250 * time.Millisecond,
			TenantConcurrency: 4,
			SweepSchedule:     "@every 30m",
			SweepTimeout:      25 * time.Minute,
			TenantTimeout:     10 * time.Minute,
			MaxPages:          1000,
		},
		FieldMap: FieldMapConfig{
			AppPipelineName: "LeadSync Pipeline",
			PipelineKeyword: "lead",
		},
		Webhooks: WebhookConfig{
			ClaimLease:      time.Minute,
			MaxAttempts:     5,
			DebounceWindow:  2 * time.Second,
			DebounceMaxWait: 10 * time.Second,
			ReplaySchedule:  "@every 30s",
			ReplayBatch:     50,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:leadsync.db?cache=shared&_foreign_keys=on",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

func (c Config) Validate() error {
	var fields []goerrors.FieldError
	add := func(field, message string) {
		fields = append(fields, goerrors.FieldError{Field: field, Message: message})
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		add("service_name", "is required")
	}
	if c.Token.SafetyBuffer < 0 {
		add("token.safety_buffer", "must not be negative")
	}
	if c.Token.LockTTL <= 0 {
		add("token.lock_ttl", "must be positive")
	}
	if c.Token.Contention.MaxAttempts < 0 {
		add("token.contention.max_attempts", "must not be negative")
	}
	if c.Token.Contention.Multiplier != 0 && c.Token.Contention.Multiplier < 1 {
		add("token.contention.multiplier", "must be at least 1")
	}
	if raw := strings.TrimSpace(c.CRM.BaseURL); raw == "" {
		add("crm.base_url", "is required")
	} else if parsed, err := url.Parse(raw); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		add("crm.base_url", "must be an absolute url")
	}
	if c.CRM.PageLimit <= 0 {
		add("crm.page_limit", "must be positive")
	}
	if c.Reconcile.BatchSize <= 0 {
		add("reconcile.batch_size", "must be positive")
	}
	if c.Reconcile.BatchDelay < 0 {
		add("reconcile.batch_delay", "must not be negative")
	}
	if c.Reconcile.TenantConcurrency <= 0 {
		add("reconcile.tenant_concurrency", "must be positive")
	}
	if c.Reconcile.SweepTimeout < 0 {
		add("reconcile.sweep_timeout", "must not be negative")
	}
	if c.Reconcile.TenantTimeout < 0 {
		add("reconcile.tenant_timeout", "must not be negative")
	}
	if c.Reconcile.MaxPages < 0 {
		add("reconcile.max_pages", "must not be negative")
	}
	if c.Webhooks.DebounceMaxWait < 0 {
		add("webhooks.debounce_max_wait", "must not be negative")
	}
	if c.Webhooks.ReplayBatch < 0 {
		add("webhooks.replay_batch", "must not be negative")
	}
	for status := range c.FieldMap.StageNames {
		if !CanonicalStatus(status).Valid() {
			add("fieldmap.stage_names."+status, "is not a canonical status")
		}
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "", "sqlite3", "postgres":
	default:
		add("database.driver", "must be sqlite3 or postgres")
	}
	if len(fields) > 0 {
		return NewValidationError("core: invalid config", fields...)
	}
	return nil
}
