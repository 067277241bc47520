package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/ledger"
)

// reconcile repairs cached balances that drifted from the ledger, for
// example after a manual database edit.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every cached balance from the ledger",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Int("concurrency", 0, "Parallel refreshes (overrides config)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(false)
	if err != nil {
		return err
	}
	concurrency := cfg.Reconcile.Concurrency
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		concurrency = n
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := ledger.NewEngine(db, ledger.WithLogger(logger))
	n, err := engine.Reconcile(cmd.Context(), concurrency)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d balances\n", n)
	return nil
}
