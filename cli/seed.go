package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/api"
	"github.com/warp/merit-ledger/ledger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo scenario",
	Long: `Load one of the demo scenarios into the database. Scenarios add data
and should be loaded into an empty database. Run without --scenario to
list them.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringP("scenario", "s", "", "Scenario to load")
}

func runSeed(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("scenario")
	if id == "" {
		for _, sc := range api.Scenarios() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-15s %s\n", sc.ID, sc.Description)
		}
		return nil
	}

	cfg, logger, err := setup(false)
	if err != nil {
		return err
	}
	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := ledger.NewEngine(db, ledger.WithLogger(logger))
	if err := api.LoadScenario(cmd.Context(), engine, db, id); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	logger.Info("scenario loaded", "scenario", id)
	fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", id)
	return nil
}
