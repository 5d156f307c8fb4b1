package leadsync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-leadsync/adapters/gocommand"
	"github.com/goliatone/go-leadsync/adapters/gojob"
	"github.com/goliatone/go-leadsync/adapters/gologger"
	leadcommand "github.com/goliatone/go-leadsync/command"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/credentials"
	"github.com/goliatone/go-leadsync/crm"
	"github.com/goliatone/go-leadsync/fieldmap"
	"github.com/goliatone/go-leadsync/httpapi"
	leadquery "github.com/goliatone/go-leadsync/query"
	"github.com/goliatone/go-leadsync/ratelimit"
	"github.com/goliatone/go-leadsync/reconcile"
	sqlstore "github.com/goliatone/go-leadsync/store/sql"
	"github.com/goliatone/go-leadsync/token"
	"github.com/goliatone/go-leadsync/webhooks"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

const defaultOAuthStateTTL = 15 * time.Minute

// StoreProvider exposes the vault stores. The sqlstore repository factory
// satisfies it; DeliveryLedger and RateLimitStateStore are picked up when
// the provider also offers them.
type StoreProvider interface {
	TenantStore() core.TenantStore
	LeadStore() core.LeadStore
}

type Option func(*builder)

type builder struct {
	runtime         Config
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	tracer         trace.Tracer

	persistenceClient any
	stores            StoreProvider
	tenants           core.TenantStore
	leads             core.LeadStore
	ledger            webhooks.DeliveryLedger
	rateLimitStore    ratelimit.StateStore
	tenantCache       repositorycache.CacheService

	credentials core.CredentialStore
	locker      core.Locker
	oauthStates core.OAuthStateStore
	refresher   token.Refresher
	httpClient  *http.Client
	enqueuer    queue.Enqueuer
}

func WithRuntimeConfig(cfg Config) Option {
	return func(b *builder) { b.runtime = cfg }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *builder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *builder) { b.optionsResolver = resolver }
}

func WithLogger(logger core.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *builder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *builder) { b.metrics = recorder }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(b *builder) { b.tracer = tracer }
}

// WithPersistenceClient builds the sql stores from a *bun.DB or a
// go-persistence-bun client.
func WithPersistenceClient(client any) Option {
	return func(b *builder) { b.persistenceClient = client }
}

func WithStoreProvider(provider StoreProvider) Option {
	return func(b *builder) { b.stores = provider }
}

func WithTenantStore(store core.TenantStore) Option {
	return func(b *builder) { b.tenants = store }
}

func WithLeadStore(store core.LeadStore) Option {
	return func(b *builder) { b.leads = store }
}

func WithDeliveryLedger(ledger webhooks.DeliveryLedger) Option {
	return func(b *builder) { b.ledger = ledger }
}

func WithRateLimitStateStore(store ratelimit.StateStore) Option {
	return func(b *builder) { b.rateLimitStore = store }
}

// WithTenantCache puts a read-through cache in front of the tenant store and,
// when it is SQL backed, the rate limit state store.
func WithTenantCache(cache repositorycache.CacheService) Option {
	return func(b *builder) { b.tenantCache = cache }
}

func WithCredentialStore(store core.CredentialStore) Option {
	return func(b *builder) { b.credentials = store }
}

func WithLocker(locker core.Locker) Option {
	return func(b *builder) { b.locker = locker }
}

func WithOAuthStateStore(store core.OAuthStateStore) Option {
	return func(b *builder) { b.oauthStates = store }
}

// WithRefresher replaces the OAuth token endpoint client. A refresher that
// also implements token.Exchanger and AuthURLBuilder serves the connect flow.
func WithRefresher(refresher token.Refresher) Option {
	return func(b *builder) { b.refresher = refresher }
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *builder) { b.httpClient = client }
}

// WithJobQueue hands webhook events to the queue instead of applying them
// inline.
func WithJobQueue(enqueuer queue.Enqueuer) Option {
	return func(b *builder) { b.enqueuer = enqueuer }
}

type Commands struct {
	ReconcileTenant  *leadcommand.ReconcileTenantCommand
	ReconcileAll     *leadcommand.ReconcileAllCommand
	ApplyEvent       *leadcommand.ApplyEventCommand
	ConnectTenant    *leadcommand.ConnectTenantCommand
	DisconnectTenant *leadcommand.DisconnectTenantCommand
	ReplayDeliveries *leadcommand.ReplayDeliveriesCommand
}

type Queries struct {
	GetAccessToken *leadquery.GetAccessTokenQuery
	ResolveConfig  *leadquery.ResolveConfigQuery
	GetLead        *leadquery.GetLeadQuery
	ListLeads      *leadquery.ListLeadsQuery
}

// System is the wired bridge.
type System struct {
	config     Config
	logger     core.Logger
	loggers    gologger.Set
	tenants    core.TenantStore
	leads      core.LeadStore
	tokens     *token.Manager
	crm        *crm.Client
	fieldmap   *fieldmap.Engine
	reconciler *reconcile.Engine
	webhooks   *webhooks.Processor
	connector  *Connector
	enqueuer   *gojob.EnqueuerAdapter
	handler    http.Handler
	health     httpapi.HealthCheck
	commands   Commands
	queries    Queries
}

func Setup(cfg Config, opts ...Option) (*System, error) {
	return NewSystem(cfg, opts...)
}

// NewSystem resolves configuration and builds every subsystem. cfg is
// layered over the loaded configuration as runtime overrides.
func NewSystem(cfg Config, opts ...Option) (*System, error) {
	b := builder{runtime: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}

	finalConfig, err := core.ResolveConfig(context.Background(), b.runtime, b.configProvider, b.optionsResolver)
	if err != nil {
		return nil, err
	}
	if err := finalConfig.Validate(); err != nil {
		return nil, err
	}

	loggers := gologger.Resolve(gologger.DefaultName, b.loggerProvider, b.logger)
	named := loggers.Component
	if b.metrics == nil {
		b.metrics = core.NopMetricsRecorder{}
	}

	if err := b.resolveStores(); err != nil {
		return nil, err
	}
	if b.tenants == nil || b.leads == nil {
		return nil, fmt.Errorf("leadsync: tenant and lead stores are required")
	}
	if b.tenantCache != nil {
		cached, err := sqlstore.NewCachedTenantStore(b.tenants, b.tenantCache)
		if err != nil {
			return nil, err
		}
		b.tenants = cached
	}
	if b.ledger == nil {
		b.ledger = webhooks.NewMemoryLedger()
	}
	if b.rateLimitStore == nil {
		b.rateLimitStore = ratelimit.NewMemoryStateStore()
	}
	if _, sqlBacked := b.rateLimitStore.(*sqlstore.RateLimitStateStore); sqlBacked && b.tenantCache != nil {
		cached, err := sqlstore.NewCachedRateLimitStateStore(b.rateLimitStore, b.tenantCache)
		if err != nil {
			return nil, err
		}
		b.rateLimitStore = cached
	}
	if b.credentials == nil {
		b.credentials = credentials.NewMemoryStore()
	}
	if b.locker == nil {
		b.locker = credentials.NewMemoryLocker()
	}
	if b.oauthStates == nil {
		b.oauthStates = core.NewMemoryOAuthStateStore(defaultOAuthStateTTL)
	}
	if b.refresher == nil {
		b.refresher = token.NewOAuthRefresher(finalConfig.CRM, b.httpClient)
	}

	tokenOpts := []token.Option{
		token.WithConfig(finalConfig.Token),
		token.WithLogger(named("token")),
		token.WithMetricsRecorder(b.metrics),
	}
	if b.tracer != nil {
		tokenOpts = append(tokenOpts, token.WithTracer(b.tracer))
	}
	tokens := token.NewManager(b.credentials, b.locker, b.refresher, tokenOpts...)

	crmOpts := []crm.Option{
		crm.WithRateLimitPolicy(ratelimit.NewAdaptivePolicy(b.rateLimitStore)),
		crm.WithLogger(named("crm")),
		crm.WithMetricsRecorder(b.metrics),
	}
	if b.httpClient != nil {
		crmOpts = append(crmOpts, crm.WithHTTPClient(b.httpClient))
	}
	client, err := crm.NewClient(finalConfig.CRM, tokens, crmOpts...)
	if err != nil {
		return nil, err
	}

	fields := fieldmap.NewEngine(client, b.tenants,
		fieldmap.WithConfig(finalConfig.FieldMap),
		fieldmap.WithLogger(named("fieldmap")),
		fieldmap.WithMetricsRecorder(b.metrics),
	)

	reconcileOpts := []reconcile.Option{
		reconcile.WithConfig(finalConfig.Reconcile),
		reconcile.WithTenants(b.tenants),
		reconcile.WithDefaultRegion(finalConfig.CRM.DefaultRegion),
		reconcile.WithLogger(named("reconcile")),
		reconcile.WithMetricsRecorder(b.metrics),
	}
	if b.tracer != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithTracer(b.tracer))
	}
	reconciler := reconcile.NewEngine(client, b.leads, fields, reconcileOpts...)

	var applier webhooks.EventApplier = reconciler
	var enqueuer *gojob.EnqueuerAdapter
	if b.enqueuer != nil {
		enqueuer = gojob.NewEnqueuerAdapter(b.enqueuer)
		applier = gojob.NewQueueingApplier(enqueuer)
	}
	processor := webhooks.NewProcessor(b.tenants, b.ledger, applier)
	if lease := finalConfig.Webhooks.ClaimLease; lease > 0 {
		processor.ClaimLease = lease
	}
	if attempts := finalConfig.Webhooks.MaxAttempts; attempts > 0 {
		processor.MaxAttempts = attempts
	}
	if window := finalConfig.Webhooks.DebounceWindow; window > 0 {
		processor.Burst = webhooks.NewDebouncer(window, webhooks.WithDebounceMaxWait(finalConfig.Webhooks.DebounceMaxWait))
	}
	processor.Observer = core.NewObserver(named("webhooks"), b.metrics, "webhooks")
	if secret := finalConfig.Webhooks.SigningSecret; secret != "" {
		processor.Verifier = webhooks.NewHMACVerifier(secret)
	}

	authURLs, _ := b.refresher.(AuthURLBuilder)
	connector, err := NewConnector(ConnectorDependencies{
		States:   b.oauthStates,
		Grants:   tokens,
		AuthURLs: authURLs,
		Tenants:  b.tenants,
		Configs:  fields,
		Logger:   named("connect"),
		Metrics:  b.metrics,
	})
	if err != nil {
		return nil, err
	}

	health := healthCheck(b.stores, b.persistenceClient)
	router := httpapi.NewRouter(httpapi.Options{
		Webhooks:  processor,
		Connector: connector,
		Health:    health,
		Logger:    named("http"),
		Metrics:   b.metrics,
	})

	system := &System{
		config:     finalConfig,
		logger:     loggers.Logger,
		loggers:    loggers,
		tenants:    b.tenants,
		leads:      b.leads,
		tokens:     tokens,
		crm:        client,
		fieldmap:   fields,
		reconciler: reconciler,
		webhooks:   processor,
		connector:  connector,
		enqueuer:   enqueuer,
		handler:    router,
		health:     health,
	}
	system.commands = Commands{
		ReconcileTenant:  leadcommand.NewReconcileTenantCommand(b.tenants, reconciler),
		ReconcileAll:     leadcommand.NewReconcileAllCommand(reconciler),
		ApplyEvent:       leadcommand.NewApplyEventCommand(b.tenants, reconciler),
		ConnectTenant:    leadcommand.NewConnectTenantCommand(connector),
		DisconnectTenant: leadcommand.NewDisconnectTenantCommand(b.tenants),
		ReplayDeliveries: leadcommand.NewReplayDeliveriesCommand(processor),
	}
	system.queries = Queries{
		GetAccessToken: leadquery.NewGetAccessTokenQuery(tokens),
		ResolveConfig:  leadquery.NewResolveConfigQuery(fields),
		GetLead:        leadquery.NewGetLeadQuery(b.leads),
		ListLeads:      leadquery.NewListLeadsQuery(b.leads),
	}
	return system, nil
}

// resolveStores fills unset stores from the persistence client or the store
// provider. Explicit stores always win.
func (b *builder) resolveStores() error {
	if b.stores == nil && b.persistenceClient != nil {
		stores, err := sqlstore.Open(b.persistenceClient)
		if err != nil {
			return err
		}
		b.stores = stores
	}
	if b.stores == nil {
		return nil
	}
	if b.tenants == nil {
		b.tenants = b.stores.TenantStore()
	}
	if b.leads == nil {
		b.leads = b.stores.LeadStore()
	}
	if b.ledger == nil {
		if provider, ok := b.stores.(interface{ DeliveryLedger() webhooks.DeliveryLedger }); ok {
			b.ledger = provider.DeliveryLedger()
		}
	}
	if b.rateLimitStore == nil {
		if provider, ok := b.stores.(interface{ RateLimitStateStore() ratelimit.StateStore }); ok {
			b.rateLimitStore = provider.RateLimitStateStore()
		}
	}
	return nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthCheck(candidates ...any) httpapi.HealthCheck {
	for _, candidate := range candidates {
		switch value := candidate.(type) {
		case interface{ DB() *bun.DB }:
			if db := value.DB(); db != nil {
				return db.PingContext
			}
		case pinger:
			return value.PingContext
		}
	}
	return nil
}

func (s *System) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *System) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *System) Queries() Queries {
	if s == nil {
		return Queries{}
	}
	return s.queries
}

// Bundle returns every handler for registration on the go-command
// dispatcher.
func (s *System) Bundle() gocommand.Bundle {
	if s == nil {
		return gocommand.Bundle{}
	}
	return gocommand.Bundle{
		ReconcileTenant:  s.commands.ReconcileTenant,
		ReconcileAll:     s.commands.ReconcileAll,
		ApplyEvent:       s.commands.ApplyEvent,
		ConnectTenant:    s.commands.ConnectTenant,
		DisconnectTenant: s.commands.DisconnectTenant,
		ReplayDeliveries: s.commands.ReplayDeliveries,
		GetAccessToken:   s.queries.GetAccessToken,
		ResolveConfig:    s.queries.ResolveConfig,
		GetLead:          s.queries.GetLead,
		ListLeads:        s.queries.ListLeads,
	}
}

// JobHandlers returns the commands the job runner executes.
func (s *System) JobHandlers() gojob.Handlers {
	if s == nil {
		return gojob.Handlers{}
	}
	return gojob.Handlers{
		ReconcileTenant:  s.commands.ReconcileTenant,
		ReconcileAll:     s.commands.ReconcileAll,
		ApplyEvent:       s.commands.ApplyEvent,
		ReplayDeliveries: s.commands.ReplayDeliveries,
	}
}

// GetAccessToken is the entry point for collaborators that call the CRM
// directly.
func (s *System) GetAccessToken(ctx context.Context, locationID string) (string, error) {
	if s == nil || s.tokens == nil {
		return "", fmt.Errorf("leadsync: system is not configured")
	}
	return s.tokens.GetAccessToken(ctx, locationID)
}

func (s *System) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.handler
}

// Serve runs the HTTP surface until ctx is cancelled.
func (s *System) Serve(ctx context.Context) error {
	if s == nil || s.handler == nil {
		return fmt.Errorf("leadsync: system is not configured")
	}
	return httpapi.Serve(ctx, s.config.HTTP.Addr, s.handler)
}

// Health checks the vault connection when one is known.
func (s *System) Health(ctx context.Context) error {
	if s == nil || s.health == nil {
		return nil
	}
	return s.health(ctx)
}

func (s *System) Logger() core.Logger           { return s.logger }
func (s *System) Tenants() core.TenantStore     { return s.tenants }
func (s *System) Leads() core.LeadStore         { return s.leads }
func (s *System) Tokens() *token.Manager        { return s.tokens }
func (s *System) CRM() *crm.Client              { return s.crm }
func (s *System) FieldMap() *fieldmap.Engine    { return s.fieldmap }
func (s *System) Reconciler() *reconcile.Engine { return s.reconciler }
func (s *System) Webhooks() *webhooks.Processor { return s.webhooks }
func (s *System) Connector() *Connector         { return s.connector }

// JobLoggers bridges the system's loggers for a go-job worker.
func (s *System) JobLoggers() job.LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggers.JobProvider()
}

// Enqueuer is non-nil when a job queue was configured.
func (s *System) Enqueuer() *gojob.EnqueuerAdapter { return s.enqueuer }
