package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	agentmcp "github.com/ppiankov/agentgov/internal/mcp"
)

var (
	mcpIdentity string
	mcpAgent    string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpIdentity, "identity", "", "Identity used when a tool call names none (default first configured identity)")
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Pin every tool call to this agent ID")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs agentgov as an MCP (Model Context Protocol) server over stdio.\nExposes governance tools: governance_evaluate, governance_check_role, governance_pending.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	identity := identityOr(mcpIdentity)
	srv, err := agentmcp.New(agentmcp.Config{
		Pipeline: rt.srv.Pipeline(),
		Control:  rt.srv.Control(),
		Logger:   logger,
		Identity: identity,
		AgentID:  mcpAgent,
		Version:  version,
	})
	if err != nil {
		return err
	}

	logger.Info("mcp server running on stdio", zap.String("identity", identity), zap.String("agent", mcpAgent))
	return srv.Run(ctx)
}
