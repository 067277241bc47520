package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/api"
	"github.com/warp/merit-ledger/ledger"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a person",
	Long: `Issue a signed bearer token for an existing, active person. The token
is printed on stdout and is accepted by the API until it expires.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("sub", "", "Service number of the person (required)")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to the configured TTL)")
	_ = tokenCmd.MarkFlagRequired("sub")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(true)
	if err != nil {
		return err
	}
	sub, _ := cmd.Flags().GetString("sub")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL.Duration
	}

	db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	person, err := db.GetPerson(cmd.Context(), ledger.PersonID(sub))
	if err != nil {
		return err
	}
	if person == nil || !person.Active() {
		return fmt.Errorf("person %q does not exist", sub)
	}

	tokens := api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL.Duration)
	token, err := tokens.IssueFor(person.ID, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	logger.Info("token issued", "person_id", person.ID, "ttl", ttl)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
