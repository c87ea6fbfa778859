package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/agentgov/internal/audit"
)

var (
	replayIdentity string
	replayAgent    string
	replayFrom     string
	replayTo       string
	replayJSON     bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditReplayCmd.Flags().StringVar(&replayIdentity, "identity", "", "Only entries for this identity")
	auditReplayCmd.Flags().StringVar(&replayAgent, "agent", "", "Only entries for this agent")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start of range (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End of range (RFC3339)")
	auditReplayCmd.Flags().BoolVar(&replayJSON, "json", false, "Output JSON instead of a timeline")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and replaying the hash-chained governance audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and checks every entry's prev_hash against the\nSHA-256 of the previous line. Defaults to the configured audit log.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [path]",
	Short: "Replay governance decisions as a timeline",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditReplay,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.AuditLog == "" {
		return "", fmt.Errorf("no audit log configured; pass a path")
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if !result.Valid {
		return fmt.Errorf("audit chain broken at line %d: %s", result.ErrorLine, result.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	filter := audit.ReplayFilter{Identity: replayIdentity, AgentID: replayAgent}
	if filter.From, err = parseOptionalTime(replayFrom); err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	if filter.To, err = parseOptionalTime(replayTo); err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	if replayJSON {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	return nil
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
