package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/merit-ledger/ledger"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage directory entries",
}

var personAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a person",
	Long: `Create a person, or update the name, role and permissions of an existing
one. Cached balances of an existing person are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runPersonAdd,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personAddCmd)

	personAddCmd.Flags().String("id", "", "Service number (required)")
	personAddCmd.Flags().String("name", "", "Display name (required)")
	personAddCmd.Flags().String("role", string(ledger.RoleEnlisted), "enlisted or cadre")
	personAddCmd.Flags().StringSlice("perm", nil, "Permission, repeatable (Nco, Approver, Admin, Commander, UserAdmin)")
	_ = personAddCmd.MarkFlagRequired("id")
	_ = personAddCmd.MarkFlagRequired("name")
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")
	perms, _ := cmd.Flags().GetStringSlice("perm")

	person, err := buildPerson(id, name, role, perms)
	if err != nil {
		return err
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

	if err := db.SavePerson(cmd.Context(), person); err != nil {
		return err
	}
	logger.Info("person saved", "person_id", person.ID, "role", person.Role, "permissions", perms)
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", person.ID, person.Role)
	return nil
}

func buildPerson(id, name, role string, perms []string) (ledger.Person, error) {
	p := ledger.Person{
		ID:   ledger.PersonID(id),
		Name: name,
		Role: ledger.Role(role),
	}
	if id == "" || name == "" {
		return p, fmt.Errorf("id and name are required")
	}
	if !p.Role.Valid() {
		return p, fmt.Errorf("unknown role %q: must be enlisted or cadre", role)
	}
	for _, s := range perms {
		perm := ledger.Permission(s)
		if !perm.Valid() {
			return p, fmt.Errorf("unknown permission %q", s)
		}
		p.Permissions = append(p.Permissions, perm)
	}
	return p, nil
}
