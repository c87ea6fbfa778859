package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/governance"
	"github.com/ppiankov/agentgov/internal/improve"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "acme"

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	st   *store.Store
	p    *governance.Pipeline
	ctl  *controlroom.Service
	loop *improve.Loop
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.Fake(start)

	seeds := governance.DefaultSeeds(start)
	seeds.Agents = []model.AgentProfile{{
		AgentID:           "s1",
		Role:              "support",
		MaxPermissionTier: model.TierExecute,
		Scope: model.AgentScope{
			Domains:        []string{"support"},
			DecisionScopes: []string{"ticket_reply", "refund_issue", "close_account"},
			AllowedTools:   []string{"ticket_reply", "refund_issue"},
		},
	}}
	_, err := st.Bootstrap(ctx, tenant, seeds)
	require.NoError(t, err)
	require.NoError(t, st.Goals.Upsert(ctx, tenant, model.Goal{ID: "g1", Title: "Keep support backlog under a day", Priority: 5, CreatedAt: start}))

	p, err := governance.New(governance.Config{Store: st, Clock: clk})
	require.NoError(t, err)
	loop := improve.New(improve.Config{Store: st, Clock: clk})
	ctl := controlroom.New(controlroom.Config{Store: st, Improve: loop, Goals: p.Goals(), Referee: p.Referee(), Clock: clk})
	return &fixture{st: st, p: p, ctl: ctl, loop: loop}
}

func (f *fixture) server(t *testing.T, agentID string) *Server {
	t.Helper()
	s, err := New(Config{Pipeline: f.p, Control: f.ctl, Identity: tenant, AgentID: agentID})
	require.NoError(t, err)
	return s
}

func ticketReply() EvaluateInput {
	return EvaluateInput{
		Domain:          "support",
		DecisionType:    "ticket_reply",
		Action:          "ticket_reply",
		Tool:            "ticket_reply",
		GoalID:          "g1",
		TaskType:        "ticket_reply",
		TaskDescription: "answer ticket 42 about a late delivery",
		RequestedTier:   "suggest",
		Impact:          "reversible",
		Confidence: &model.ConfidenceDisclosure{
			Score:                  0.85,
			UncertaintyExplanation: "customer history is short",
			EvidenceRefs:           []string{"ticket:42"},
		},
		Novelty: 0.1,
	}
}

func TestEvaluateAllowed(t *testing.T) {
	s := newFixture(t).server(t, "s1")

	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, ticketReply())
	require.NoError(t, err)
	require.Nil(t, result)
	require.True(t, out.Allowed, "reason: %s", out.Reason)
	require.Equal(t, model.ReasonAllowed, out.Reason)
	require.NotEmpty(t, out.DecisionID)
}

func TestEvaluateUnknownAgent(t *testing.T) {
	s := newFixture(t).server(t, "")

	in := ticketReply()
	in.AgentID = "ghost"
	_, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, in)
	require.NoError(t, err)
	require.False(t, out.Allowed)
	require.Equal(t, model.ReasonAgentNotRegistered, out.Reason)
}

func TestEvaluateAgentBinding(t *testing.T) {
	s := newFixture(t).server(t, "s1")

	in := ticketReply()
	in.AgentID = "c1"
	result, out, err := s.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, in)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.IsError)
	require.False(t, out.Allowed)

	unbound := newFixture(t).server(t, "")
	result, _, err = unbound.handleEvaluate(context.Background(), &mcpsdk.CallToolRequest{}, ticketReply())
	require.NoError(t, err)
	require.True(t, result.IsError, "an unbound session must name the agent")
}

func TestCheckRole(t *testing.T) {
	s := newFixture(t).server(t, "s1")
	ctx := context.Background()

	tests := []struct {
		action   string
		decision model.Decision
		reason   string
	}{
		{"ticket_reply", model.Allow, model.ReasonRolePolicyOK},
		{"close_account", model.Deny, model.ReasonJurisdictionActionDenied},
		{"refund_issue", model.Escalate, model.ReasonEscalationRuleAction},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			_, out, err := s.handleCheckRole(ctx, &mcpsdk.CallToolRequest{}, CheckRoleInput{
				Domain:        "support",
				DecisionType:  tt.action,
				Action:        tt.action,
				Tool:          tt.action,
				RequestedTier: "suggest",
				Impact:        "reversible",
			})
			require.NoError(t, err)
			require.Equal(t, string(tt.decision), out.Decision)
			require.Equal(t, tt.reason, out.ReasonCode)
			require.Equal(t, tt.decision != model.Allow, out.RequiresHumanReview)
		})
	}
}

func TestPendingListsCandidates(t *testing.T) {
	f := newFixture(t)
	s := f.server(t, "")
	_, _, err := f.loop.Propose(context.Background(), tenant, improve.Proposal{
		Target:      "prompt:refunds",
		Kind:        improve.KindManual,
		Description: "tighten refund wording",
	})
	require.NoError(t, err)

	_, out, err := s.handlePending(context.Background(), &mcpsdk.CallToolRequest{}, PendingInput{})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	require.Equal(t, "candidate", out.Items[0].Kind)
	require.Equal(t, "tighten refund wording", out.Items[0].Summary)
	require.False(t, out.EmergencyStop)
}

func TestToolsOverInMemoryTransport(t *testing.T) {
	s := newFixture(t).server(t, "s1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverT, clientT := mcpsdk.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	require.True(t, names["governance_evaluate"])
	require.True(t, names["governance_check_role"])
	require.True(t, names["governance_pending"])

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "governance_pending", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)
}
