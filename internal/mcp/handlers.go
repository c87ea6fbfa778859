package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/roles"
)

// --- Input/Output types ---

// EvaluateInput defines parameters for the governance_evaluate tool.
type EvaluateInput struct {
	Identity           string                        `json:"identity,omitempty" jsonschema:"tenant identity, defaults to the server's"`
	AgentID            string                        `json:"agent_id,omitempty" jsonschema:"acting agent id"`
	Domain             string                        `json:"domain" jsonschema:"business domain of the action"`
	DecisionType       string                        `json:"decision_type" jsonschema:"kind of decision being made"`
	Action             string                        `json:"action,omitempty" jsonschema:"concrete action, defaults to decision_type"`
	Tool               string                        `json:"tool,omitempty" jsonschema:"tool the action uses"`
	GoalID             string                        `json:"goal_id,omitempty" jsonschema:"goal the action serves"`
	TaskID             string                        `json:"task_id,omitempty"`
	TaskType           string                        `json:"task_type,omitempty"`
	TaskDescription    string                        `json:"task_description,omitempty"`
	RequestedTier      string                        `json:"requested_tier" jsonschema:"draft, suggest or execute"`
	TaskClass          string                        `json:"task_class,omitempty" jsonschema:"routine, novel or high_risk"`
	Impact             string                        `json:"impact" jsonschema:"reversible, difficult or irreversible"`
	EstimatedCostCents int64                         `json:"estimated_cost_cents,omitempty"`
	DataCategories     []string                      `json:"data_categories,omitempty"`
	Confidence         *model.ConfidenceDisclosure   `json:"confidence,omitempty" jsonschema:"confidence disclosure"`
	Explainability     *model.ExplainabilitySnapshot `json:"explainability,omitempty" jsonschema:"explanation of the decision"`
	Novelty            float64                       `json:"novelty,omitempty" jsonschema:"0..1, how unlike past work this is"`
	AmbiguityCount     int                           `json:"ambiguity_count,omitempty"`
	ExplorationMode    bool                          `json:"exploration_mode,omitempty"`
	CommitmentDays     int                           `json:"commitment_days,omitempty"`
}

// EvaluateOutput contains the governance decision.
type EvaluateOutput struct {
	DecisionID          string `json:"decision_id,omitempty"`
	Allowed             bool   `json:"allowed"`
	Reason              string `json:"reason"`
	RequiresHumanReview bool   `json:"requires_human_review"`
	EffectiveTier       string `json:"effective_tier,omitempty"`
	ModelTier           string `json:"model_tier,omitempty"`
	Error               string `json:"error,omitempty"`
}

// CheckRoleInput defines parameters for the governance_check_role tool.
type CheckRoleInput struct {
	Identity           string   `json:"identity,omitempty"`
	AgentID            string   `json:"agent_id,omitempty"`
	Domain             string   `json:"domain"`
	DecisionType       string   `json:"decision_type"`
	Action             string   `json:"action,omitempty"`
	Tool               string   `json:"tool,omitempty"`
	DataCategories     []string `json:"data_categories,omitempty"`
	RequestedTier      string   `json:"requested_tier"`
	TaskClass          string   `json:"task_class,omitempty"`
	Impact             string   `json:"impact,omitempty"`
	EstimatedCostCents int64    `json:"estimated_cost_cents,omitempty"`
}

// CheckRoleOutput contains the role constitution decision.
type CheckRoleOutput struct {
	Decision            string   `json:"decision"`
	ReasonCode          string   `json:"reason_code"`
	Reasons             []string `json:"reasons,omitempty"`
	RequiresHumanReview bool     `json:"requires_human_review"`
	PolicyVersion       int      `json:"policy_version,omitempty"`
}

// PendingInput defines parameters for the governance_pending tool.
type PendingInput struct {
	Identity string `json:"identity,omitempty"`
}

// PendingItem is one thing waiting on a human.
type PendingItem struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Summary string `json:"summary,omitempty"`
}

// PendingOutput lists pending items.
type PendingOutput struct {
	Items            []PendingItem `json:"items"`
	EmergencyStop    bool          `json:"emergency_stop"`
	ReaffirmationDue bool          `json:"reaffirmation_due"`
}

// --- Handlers ---

func (s *Server) resolveAgent(requested string) (string, error) {
	if s.agentID == "" {
		if requested == "" {
			return "", fmt.Errorf("agent_id required")
		}
		return requested, nil
	}
	if requested != "" && requested != s.agentID {
		return "", fmt.Errorf("this session is bound to agent %q", s.agentID)
	}
	return s.agentID, nil
}

func (s *Server) resolveIdentity(requested string) string {
	if requested != "" {
		return requested
	}
	return s.identity
}

func errorResult(msg string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}},
	}
}

func (s *Server) handleEvaluate(ctx context.Context, req *mcpsdk.CallToolRequest, input EvaluateInput) (*mcpsdk.CallToolResult, EvaluateOutput, error) {
	agentID, err := s.resolveAgent(input.AgentID)
	if err != nil {
		out := EvaluateOutput{Reason: model.ReasonContextInvalid, RequiresHumanReview: true, Error: err.Error()}
		return errorResult(err.Error()), out, nil
	}
	identity := s.resolveIdentity(input.Identity)

	d, err := s.pipeline.Evaluate(ctx, identity, input.runtimeContext(agentID))
	out := EvaluateOutput{
		DecisionID:          d.ID,
		Allowed:             d.Allowed,
		Reason:              d.Reason,
		RequiresHumanReview: d.RequiresHumanReview,
		EffectiveTier:       string(d.EffectiveTier),
		ModelTier:           string(d.ModelTier),
	}
	if err != nil {
		s.log.Error("governance_evaluate failed", zap.String("identity", identity), zap.Error(err))
		out.Allowed = false
		out.Error = err.Error()
		return errorResult(err.Error()), out, nil
	}
	return nil, out, nil
}

func (in EvaluateInput) runtimeContext(agentID string) *model.AgentRuntimeContext {
	return &model.AgentRuntimeContext{
		AgentID:            agentID,
		Domain:             in.Domain,
		DecisionType:       in.DecisionType,
		Action:             in.Action,
		Tool:               in.Tool,
		GoalID:             in.GoalID,
		TaskID:             in.TaskID,
		TaskType:           in.TaskType,
		TaskDescription:    in.TaskDescription,
		RequestedTier:      model.PermissionTier(in.RequestedTier),
		TaskClass:          model.TaskClass(in.TaskClass),
		Impact:             model.ActionImpact(in.Impact),
		EstimatedCostCents: in.EstimatedCostCents,
		DataCategories:     in.DataCategories,
		Confidence:         in.Confidence,
		Explainability:     in.Explainability,
		Novelty:            in.Novelty,
		AmbiguityCount:     in.AmbiguityCount,
		ExplorationMode:    in.ExplorationMode,
		CommitmentDays:     in.CommitmentDays,
	}
}

func (s *Server) handleCheckRole(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckRoleInput) (*mcpsdk.CallToolResult, CheckRoleOutput, error) {
	agentID, err := s.resolveAgent(input.AgentID)
	if err != nil {
		return errorResult(err.Error()), CheckRoleOutput{Decision: string(model.Deny)}, nil
	}
	identity := s.resolveIdentity(input.Identity)

	agent, found, err := s.pipeline.Directory().Lookup(ctx, identity, agentID)
	if err != nil {
		return nil, CheckRoleOutput{}, fmt.Errorf("look up agent %s: %w", agentID, err)
	}
	if !found {
		return nil, CheckRoleOutput{
			Decision:            string(model.Deny),
			ReasonCode:          model.ReasonAgentNotRegistered,
			RequiresHumanReview: true,
		}, nil
	}

	res, err := s.pipeline.Roles().Evaluate(ctx, identity, roles.Request{
		Agent:              agent,
		Domain:             input.Domain,
		DecisionType:       input.DecisionType,
		Action:             input.Action,
		Tool:               input.Tool,
		DataCategories:     input.DataCategories,
		Tier:               model.PermissionTier(input.RequestedTier),
		TaskClass:          model.TaskClass(input.TaskClass),
		Impact:             model.ActionImpact(input.Impact),
		EstimatedCostCents: input.EstimatedCostCents,
	})
	out := CheckRoleOutput{
		Decision:            string(res.Decision),
		ReasonCode:          res.ReasonCode,
		Reasons:             res.Reasons,
		RequiresHumanReview: res.RequiresHumanReview,
		PolicyVersion:       res.PolicyVersion,
	}
	if err != nil {
		s.log.Error("governance_check_role failed", zap.String("identity", identity), zap.Error(err))
		out.Decision = string(model.Deny)
		out.RequiresHumanReview = true
		return errorResult(err.Error()), out, nil
	}
	return nil, out, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	p, err := s.control.ListPending(ctx, s.resolveIdentity(input.Identity))
	if err != nil {
		return nil, PendingOutput{}, err
	}

	out := PendingOutput{
		Items:            []PendingItem{},
		EmergencyStop:    p.EmergencyStop,
		ReaffirmationDue: p.ReaffirmationDue,
	}
	for _, c := range p.Candidates {
		out.Items = append(out.Items, PendingItem{Kind: "candidate", ID: c.ID, Summary: c.Description})
	}
	for _, r := range p.Rules {
		out.Items = append(out.Items, PendingItem{Kind: "rule", ID: r.ID, Summary: r.Statement})
	}
	for _, gc := range p.GoalConflicts {
		out.Items = append(out.Items, PendingItem{Kind: "goal_conflict", ID: gc.ID, Summary: gc.GoalA + " vs " + gc.GoalB})
	}
	for _, d := range p.Disagreements {
		out.Items = append(out.Items, PendingItem{Kind: "disagreement", ID: d.ID, Summary: d.Subject})
	}
	for _, f := range p.Freezes {
		out.Items = append(out.Items, PendingItem{Kind: "freeze", ID: f.ID, Summary: f.Reason})
	}
	return nil, out, nil
}
