package main

import (
	"context"
	"fmt"
	"io"

	leadsyncmigrations "github.com/goliatone/go-leadsync/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded vault migrations",
		Long: `Apply the embedded SQL migrations for the configured database driver
(postgres or sqlite3). Already applied migrations are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}
}

func runMigrate(ctx context.Context, opts *rootOptions, out io.Writer) error {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	client, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := migrate(ctx, client, cfg.Database.Driver); err != nil {
		return err
	}
	fmt.Fprintf(out, "migrations applied (%s)\n", leadsyncmigrations.DialectForDriver(cfg.Database.Driver))
	return nil
}
