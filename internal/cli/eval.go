package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	evalRunIdentity string
	evalRunTasks    []string
	evalRunJSON     bool
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.AddCommand(evalRunCmd)
	evalRunCmd.Flags().StringVar(&evalRunIdentity, "identity", "", "Identity to evaluate (default first configured identity)")
	evalRunCmd.Flags().StringSliceVar(&evalRunTasks, "task", nil, "Run only these battery task IDs (default the active rotation)")
	evalRunCmd.Flags().BoolVar(&evalRunJSON, "json", false, "Output JSON")
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Governance evaluation battery",
}

var evalRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the evaluation battery and record the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		run, err := rt.srv.Pipeline().Harness().Run(cmd.Context(), identityOr(evalRunIdentity), evalRunTasks)
		if err != nil {
			return err
		}
		if evalRunJSON {
			return printJSON(cmd, run)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "passed %d/%d (%.0f%%), baseline %.0f%%\n",
			run.Passed, run.Total, run.PassRate*100, run.Baseline*100)
		return nil
	},
}
