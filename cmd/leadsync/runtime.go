package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	leadsync "github.com/goliatone/go-leadsync"
	"github.com/goliatone/go-leadsync/core"
	"github.com/goliatone/go-leadsync/credentials"
	"github.com/goliatone/go-leadsync/ratelimit"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/redis/go-redis/v9"
)

// runtimeFlags are the wiring switches shared by serve and reconcile.
type runtimeFlags struct {
	NoRedis        bool
	AutoMigrate    bool
	TenantCacheTTL time.Duration

	metrics core.MetricsRecorder
}

// runtime owns the connections behind a leadsync.System.
type runtime struct {
	config core.Config
	logger core.Logger
	db     *persistence.Client
	redis  *redis.Client
	system *leadsync.System
}

func openRuntime(ctx context.Context, opts *rootOptions, flags runtimeFlags) (*runtime, error) {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, opts.Verbose)
	rt := &runtime{config: cfg, logger: logger}

	rt.db, err = openDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if flags.AutoMigrate {
		if err := migrate(ctx, rt.db, cfg.Database.Driver); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	setupOpts := []leadsync.Option{
		leadsync.WithLogger(logger),
		leadsync.WithPersistenceClient(rt.db),
	}
	if flags.metrics != nil {
		setupOpts = append(setupOpts, leadsync.WithMetricsRecorder(flags.metrics))
	}
	if !flags.NoRedis {
		rt.redis = credentials.NewRedisClient(cfg.Redis)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		var storeOpts []credentials.RedisStoreOption
		if cfg.Redis.CredentialKey != "" {
			sealer, err := credentials.NewAppKeySealer(cfg.Redis.CredentialKey, "")
			if err != nil {
				_ = rt.Close()
				return nil, err
			}
			storeOpts = append(storeOpts, credentials.WithSealer(sealer))
		}
		setupOpts = append(setupOpts,
			leadsync.WithCredentialStore(credentials.NewRedisStore(rt.redis, storeOpts...)),
			leadsync.WithLocker(credentials.NewRedisLocker(rt.redis)),
			leadsync.WithRateLimitStateStore(ratelimit.NewRedisStateStore(rt.redis)),
		)
	}
	if flags.TenantCacheTTL > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = flags.TenantCacheTTL
		cache, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("new tenant cache: %w", err)
		}
		setupOpts = append(setupOpts, leadsync.WithTenantCache(cache))
	}

	rt.system, err = leadsync.Setup(cfg, setupOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}
