package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Bring the configured SQLite database up to the latest schema version. Safe to run repeatedly.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(false)
	if err != nil {
		return err
	}

	version, err := sqlite.Migrate(cfg.DB.Path)
	if err != nil {
		return err
	}
	logger.Info("database migrated", "path", cfg.DB.Path, "version", version)
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
