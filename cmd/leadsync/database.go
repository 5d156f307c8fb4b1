package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-leadsync/core"
	leadsyncmigrations "github.com/goliatone/go-leadsync/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"
)

// persistenceConfig adapts the database section to go-persistence-bun.
type persistenceConfig struct {
	cfg core.DatabaseConfig
}

func (c persistenceConfig) GetDebug() bool                { return c.cfg.Debug }
func (c persistenceConfig) GetDriver() string             { return normalizeDriver(c.cfg.Driver) }
func (c persistenceConfig) GetServer() string             { return c.cfg.DSN }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "leadsync" }

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return driverPostgres
	default:
		return driverSQLite
	}
}

func openDatabase(cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver := normalizeDriver(cfg.Driver)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, core.NewConfigError("leadsync: database.dsn is required")
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	var client *persistence.Client
	if driver == driverPostgres {
		client, err = persistence.New(persistenceConfig{cfg: cfg}, sqlDB, pgdialect.New())
	} else {
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(persistenceConfig{cfg: cfg}, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("new persistence client: %w", err)
	}
	return client, nil
}

func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	dialect := leadsyncmigrations.DialectForDriver(driver)
	err := leadsyncmigrations.RegisterDialect(ctx, dialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		return fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
