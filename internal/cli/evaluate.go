package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/client"
	"github.com/ppiankov/agentgov/internal/model"
)

var (
	evalIdentity string
	evalRemote   string
	evalStrict   bool
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVar(&evalIdentity, "identity", "", "Identity to evaluate under (default first configured identity)")
	evaluateCmd.Flags().StringVar(&evalRemote, "remote", "", "Evaluate against a running server at this gRPC address")
	evaluateCmd.Flags().BoolVar(&evalStrict, "strict", false, "Exit non-zero unless the action is allowed")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [file]",
	Short: "Evaluate an agent runtime context",
	Long:  "Reads an agent runtime context as JSON from a file or stdin and prints\nthe governance decision.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEvaluate,
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(cmd.InOrStdin())
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to read runtime context: %w", err)
	}
	var rc model.AgentRuntimeContext
	if err := model.DecodeStrict(data, &rc); err != nil {
		return err
	}
	identity := identityOr(evalIdentity)

	var decision model.RuntimeGovernanceDecision
	if evalRemote != "" {
		c, err := client.New(evalRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		decision = c.Evaluate(cmd.Context(), identity, &rc)
	} else {
		rt, err := openRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		decision, err = rt.srv.Pipeline().Evaluate(cmd.Context(), identity, &rc)
		if err != nil {
			logger.Sugar().Warnw("evaluation failed closed", "error", err)
		}
	}

	if err := printJSON(cmd, decision); err != nil {
		return err
	}
	if evalStrict && !decision.Allowed {
		return fmt.Errorf("not allowed: %s", decision.Reason)
	}
	return nil
}
