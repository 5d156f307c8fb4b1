// Package migrations exposes the embedded leadsync SQL trees per dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	leadsync "github.com/goliatone/go-leadsync"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies leadsync migrations to the registering client.
	SourceLabel = "go-leadsync"

	treeRoot = "data/sql/migrations"
)

// Tree is one dialect's migration directory.
type Tree struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type registration struct {
	targets []string
	root    fs.FS
}

type Option func(*registration)

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(dialects ...string) Option {
	return func(r *registration) {
		var targets []string
		for _, dialect := range dialects {
			dialect = normalize(dialect)
			if dialect != "" && !slices.Contains(targets, dialect) {
				targets = append(targets, dialect)
			}
		}
		if len(targets) > 0 {
			r.targets = targets
		}
	}
}

// WithRoot swaps the embedded tree for another filesystem laid out the same
// way.
func WithRoot(root fs.FS) Option {
	return func(r *registration) {
		if root != nil {
			r.root = root
		}
	}
}

// DialectForDriver maps a database/sql driver name onto its tree.
func DialectForDriver(driver string) string {
	switch normalize(driver) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

// Trees returns the postgres tree at the root and the sqlite tree under
// sqlite/. Every tree must hold at least one *.up.sql file.
func Trees(sources ...fs.FS) ([]Tree, error) {
	root := leadsync.GetMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, treeRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", treeRoot, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	trees := []Tree{
		{Dialect: DialectPostgres, Path: treeRoot, FS: base},
		{Dialect: DialectSQLite, Path: treeRoot + "/sqlite", FS: sqliteFS},
	}
	for _, tree := range trees {
		matches, err := fs.Glob(tree.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", tree.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", tree.Dialect, tree.Path)
		}
	}
	return trees, nil
}

// Register hands each targeted tree to registerFn. Both dialects are
// targeted unless WithValidationTargets narrows them.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Tree, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	reg := registration{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	trees, err := Trees(reg.root)
	if err != nil {
		return nil, err
	}
	registered := make([]Tree, 0, len(reg.targets))
	for _, tree := range trees {
		if !slices.Contains(reg.targets, tree.Dialect) {
			continue
		}
		if err := registerFn(ctx, tree.Dialect, SourceLabel, tree.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", tree.Dialect, err)
		}
		registered = append(registered, tree)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no tree matches %v", reg.targets)
	}
	return registered, nil
}

// RegisterDialect registers only the tree for dialect through add, which
// is typically a persistence client's RegisterSQLMigrations.
func RegisterDialect(ctx context.Context, dialect string, add func(fs.FS)) error {
	if add == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	_, err := Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		add(fsys)
		return nil
	}, WithValidationTargets(dialect))
	return err
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
