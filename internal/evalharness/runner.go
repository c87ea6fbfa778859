package evalharness

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/roles"
	"github.com/ppiankov/agentgov/internal/store"
	"github.com/ppiankov/agentgov/internal/trust"
)

// evalIdentity scopes the scratch store role tasks are evaluated in.
const evalIdentity = "evaluation"

// validatable is any record with a structural contract.
type validatable interface{ Validate() error }

// contractTypes maps contract task type names to fresh decode targets.
var contractTypes = map[string]func() validatable{
	"RolePolicy":             func() validatable { return &model.RolePolicy{} },
	"AgentProfile":           func() validatable { return &model.AgentProfile{} },
	"CostBudget":             func() validatable { return &model.CostBudget{} },
	"CostRoutingCap":         func() validatable { return &model.CostRoutingCap{} },
	"ConfidenceDisclosure":   func() validatable { return &model.ConfidenceDisclosure{} },
	"ExplainabilitySnapshot": func() validatable { return &model.ExplainabilitySnapshot{} },
	"HandoffContract":        func() validatable { return &model.HandoffContract{} },
	"AgentProposal":          func() validatable { return &model.AgentProposal{} },
	"Goal":                   func() validatable { return &model.Goal{} },
	"SchedulingPolicy":       func() validatable { return &model.SchedulingPolicy{} },
}

// runner executes battery tasks. Role tasks run against a copy of the
// identity's role constitutions so evaluation never writes tenant audit.
type runner struct {
	engine *roles.Engine
	trust  trust.Thresholds
}

func newRunner(ctx context.Context, policies []model.RolePolicy, th trust.Thresholds, c clock.Clock) (*runner, error) {
	scratch := store.NewMemory()
	if _, err := scratch.Roles.ReplaceAll(ctx, evalIdentity, policies); err != nil {
		return nil, fmt.Errorf("seed evaluation roles: %w", err)
	}
	return &runner{
		engine: roles.NewEngine(roles.Config{Store: scratch, Clock: c}),
		trust:  th,
	}, nil
}

func (r *runner) run(ctx context.Context, t Task) model.EvaluationResult {
	res := model.EvaluationResult{TaskID: t.ID, Category: t.Category, Weight: t.Weight}
	var err error
	switch t.Kind {
	case KindRole:
		err = r.runRole(ctx, t)
	case KindContract:
		err = runContract(t)
	case KindEscalation:
		err = runEscalation(t)
	case KindPromotion:
		err = r.runPromotion(t)
	default:
		err = fmt.Errorf("unknown kind %q", t.Kind)
	}
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

func (r *runner) runRole(ctx context.Context, t Task) error {
	c := t.Role
	agent := model.AgentProfile{AgentID: "eval-" + c.Role, Role: c.Role, MaxPermissionTier: model.TierExecute}
	req := roles.Request{
		Agent:              agent,
		Domain:             c.Domain,
		DecisionType:       c.DecisionType,
		Action:             c.Action,
		Tool:               c.Tool,
		DataCategories:     c.DataCategories,
		Tier:               model.PermissionTier(c.Tier),
		TaskClass:          model.TaskClass(c.TaskClass),
		Impact:             model.ActionImpact(c.Impact),
		EstimatedCostCents: c.EstimatedCostCents,
		TaskID:             t.ID,
	}
	if c.HandoffFrom != "" {
		req.Handoff = &model.HandoffContract{
			ID:          "eval-handoff-" + t.ID,
			FromAgentID: "eval-" + c.HandoffFrom,
			FromRole:    c.HandoffFrom,
			ToAgentID:   agent.AgentID,
			ToRole:      c.Role,
			Domain:      c.Domain,
			Action:      c.Action,
			Purpose:     "evaluation",
		}
	}
	got, err := r.engine.Evaluate(ctx, evalIdentity, req)
	if err != nil {
		return err
	}
	if want := model.ParseDecision(t.Expect.Decision); t.Expect.Decision != "" && got.Decision != want {
		return fmt.Errorf("expected %s, got %s (%s)", want, got.Decision, got.ReasonCode)
	}
	if t.Expect.Reason != "" && got.ReasonCode != t.Expect.Reason {
		return fmt.Errorf("expected reason %s, got %s", t.Expect.Reason, got.ReasonCode)
	}
	return nil
}

func runContract(t Task) error {
	newTarget, ok := contractTypes[t.Contract.Type]
	if !ok {
		return fmt.Errorf("unknown contract type %q", t.Contract.Type)
	}
	target := newTarget()
	err := model.DecodeStrict([]byte(t.Contract.Payload), target)
	if err == nil {
		err = target.Validate()
	}
	valid := err == nil
	if t.Expect.Valid != nil && valid != *t.Expect.Valid {
		if err != nil {
			return fmt.Errorf("expected valid, got %v", err)
		}
		return fmt.Errorf("expected %s payload to be rejected", t.Contract.Type)
	}
	return nil
}

func runEscalation(t Task) error {
	c := t.Escalation
	got := trust.ShouldEscalate(
		trust.Signal{
			Confidence:      c.Confidence,
			Novelty:         c.Novelty,
			Impact:          model.ActionImpact(c.Impact),
			AmbiguityCount:  c.AmbiguityCount,
			ExplorationMode: c.Exploration,
		},
		trust.Policy{MinConfidence: c.MinConfidence, NoveltyThreshold: c.NoveltyThreshold, MaxAmbiguity: c.MaxAmbiguity},
	)
	if t.Expect.Escalate != nil && got.Escalate != *t.Expect.Escalate {
		return fmt.Errorf("expected escalate=%v, got %v (%s)", *t.Expect.Escalate, got.Escalate, strings.Join(got.Reasons, "; "))
	}
	return nil
}

func (r *runner) runPromotion(t Task) error {
	c := t.Promotion
	current, err := model.ParseTier(c.Current)
	if err != nil {
		return err
	}
	got := trust.CanPromoteAutonomy(current, trust.PromotionSignals{
		PassRate:            c.PassRate,
		UncertaintyVariance: c.UncertaintyVariance,
		RollbackRate:        c.RollbackRate,
		StableRuns:          c.StableRuns,
		FailureDebt:         model.DebtStatus(c.FailureDebt),
	}, r.trust)
	if t.Expect.Eligible != nil && got.Eligible != *t.Expect.Eligible {
		return fmt.Errorf("expected eligible=%v, got %v (%s)", *t.Expect.Eligible, got.Eligible, strings.Join(got.Reasons, "; "))
	}
	if t.Expect.NextTier != "" && string(got.NextTier) != t.Expect.NextTier {
		return fmt.Errorf("expected next tier %s, got %s", t.Expect.NextTier, got.NextTier)
	}
	if got.NextTier.Rank()-current.Rank() > 1 {
		return fmt.Errorf("promotion skipped a tier: %s to %s", current, got.NextTier)
	}
	return nil
}
