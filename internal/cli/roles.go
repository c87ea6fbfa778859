package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/roles"
)

var (
	rolesIdentity string
	rolesDefaults bool
)

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesValidateCmd)
	rolesCmd.AddCommand(rolesExportCmd)
	rolesCmd.PersistentFlags().StringVar(&rolesIdentity, "identity", "", "Identity whose stored roles to read (default first configured identity)")
	rolesExportCmd.Flags().BoolVar(&rolesDefaults, "defaults", false, "Export the built-in role constitutions instead of the stored ones")
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect and validate role constitutions",
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the role constitutions stored for an identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := storedRoles(cmd)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLE\tVERSION\tMAX TIER\tDOMAINS")
		for _, p := range policies {
			fmt.Fprintf(w, "%s\t%d\t%s\t%v\n", p.Role, p.Version, p.AuthorityCeiling.MaxTier, p.Jurisdiction.Domains)
		}
		return w.Flush()
	},
}

var rolesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a roles YAML file",
	Args:  cobra.ExactArgs(1),
	// validation needs no config or store.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := roles.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d roles\n", len(policies))
		return nil
	},
}

var rolesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print role constitutions as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		policies := roles.DefaultRoles()
		if !rolesDefaults {
			var err error
			if policies, err = storedRoles(cmd); err != nil {
				return err
			}
		}
		out, err := roles.Marshal(policies)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func storedRoles(cmd *cobra.Command) ([]model.RolePolicy, error) {
	rt, err := openRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.store.Roles.Load(cmd.Context(), identityOr(rolesIdentity))
}

func identityOr(flag string) string {
	if flag != "" || len(cfg.Identities) == 0 {
		return flag
	}
	return cfg.Identities[0]
}
