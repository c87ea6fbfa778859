// Package mcp exposes governance checks to agents as MCP tools over stdio.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/governance"
)

// Config holds MCP server configuration.
type Config struct {
	Pipeline *governance.Pipeline
	Control  *controlroom.Service
	Logger   *zap.Logger

	// Identity is used when a tool call names none.
	Identity string
	// AgentID pins every call to one agent. Calls naming another agent are refused.
	AgentID string
	Version string
}

// Server wraps the MCP SDK server with the governance tools.
type Server struct {
	mcpServer *mcpsdk.Server
	pipeline  *governance.Pipeline
	control   *controlroom.Service
	log       *zap.Logger
	identity  string
	agentID   string
}

// New creates an MCP server with the governance tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Control == nil {
		return nil, errors.New("mcp: pipeline and control room required")
	}
	s := &Server{
		pipeline: cfg.Pipeline,
		control:  cfg.Control,
		log:      cfg.Logger,
		identity: cfg.Identity,
		agentID:  cfg.AgentID,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.identity == "" {
		s.identity = "default"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "agentgov",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all governance tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "governance_evaluate",
		Description: "Run an intended action through the full governance pipeline before acting. Denied or escalated actions must not be performed.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "governance_check_role",
		Description: "Check an action against the agent's role constitution only (jurisdiction, authority ceiling, escalation rules).",
	}, s.handleCheckRole)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "governance_pending",
		Description: "List items waiting on a human: improvement candidates, rules, goal conflicts, escalated disagreements and freezes.",
	}, s.handlePending)
}
