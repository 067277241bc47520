/*
Package cli implements the merit-ledger command line.

COMMANDS:
  serve       Run the HTTP API
  migrate     Apply database migrations
  reconcile   Recompute every cached balance from the ledger
  token       Issue a bearer token for a person
  person add  Create or update a directory entry
  seed        Load a demo scenario

Every command reads the same configuration (see package config). The
--config flag points at an optional TOML file.

SEE ALSO:
  - config/config.go: Settings and environment variables
  - cmd/server/main.go: Entry point
*/
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/config"
	"github.com/warp/merit-ledger/logging"
	"github.com/warp/merit-ledger/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "merit-ledger",
	Short: "Merit points and overtime ledger",
	Long: `merit-ledger records merit points and overtime minutes for a unit,
routes them through verification and approval, and keeps every person's
available balance ready for redemption.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads and validates the configuration and builds the logger.
func setup(serving bool) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(serving); err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Logging()
	logCfg.Component = logging.ComponentCLI
	logger := logging.New(logCfg)
	logging.SetDefault(logger)
	return cfg, logger, nil
}

// openStore opens the configured database.
func openStore(cfg *config.Config, logger *logging.Logger) (*sqlite.Store, error) {
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DB.Path, err)
	}
	logger.Debug("database opened", "path", cfg.DB.Path, "schema_version", db.SchemaVersion())
	return db, nil
}
