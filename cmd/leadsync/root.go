package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/goliatone/go-leadsync/core"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envPrefix        = "LEADSYNC"
	defaultEnvFile   = ".env"
	configFileEnvVar = "LEADSYNC_CONFIG"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	ConfigFile string
	EnvFile    string
	Verbose    bool
	// Environ replaces os.Environ, for tests.
	Environ func() []string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "leadsync",
		Short: "Keep the lead vault in sync with the CRM",
		Long: `leadsync bridges a multi-tenant lead vault with the CRM: it manages OAuth
credentials per location, discovers field mappings and reconciles
opportunities through webhooks and a periodic sweep.

Configuration is layered: built-in defaults, then the YAML file given by
--config, then LEADSYNC_* environment variables (a .env file is loaded
first when present).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.EnvFile, cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "path to a YAML config file (default $LEADSYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", defaultEnvFile, "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing default file is not an error; a missing explicit one is.
func loadEnvFile(path string, explicit bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// loadConfig resolves defaults, the optional YAML file and LEADSYNC_*
// variables, then validates the result.
func loadConfig(ctx context.Context, opts *rootOptions) (core.Config, error) {
	path := strings.TrimSpace(opts.ConfigFile)
	explicit := path != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv(configFileEnvVar))
	}

	provider := core.NewCfgxConfigProvider(core.LayeredRawConfigLoader{
		core.YAMLFileLoader{Path: path, Optional: !explicit},
		core.EnvConfigLoader{Prefix: envPrefix, Environ: opts.Environ},
	})
	cfg, err := core.ResolveConfig(ctx, core.Config{}, provider, core.GoOptionsResolver{})
	if err != nil {
		return core.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}
