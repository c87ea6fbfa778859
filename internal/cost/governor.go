package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// Request is one action's cost context.
type Request struct {
	AgentID            string
	GoalID             string
	TaskType           string
	EstimatedCostCents int64
	Tier               model.PermissionTier
	ModelTier          model.ModelTier
	// MaxModelTier is the human control profile's cap; empty means uncapped.
	MaxModelTier model.ModelTier
}

// Result is the cost governance outcome. Blocked is terminal; demotion and
// model capping are not.
type Result struct {
	Blocked             bool                    `json:"blocked"`
	Reason              string                  `json:"reason,omitempty"`
	Tier                model.PermissionTier    `json:"tier"`
	ModelTier           model.ModelTier         `json:"modelTier"`
	Demoted             bool                    `json:"demoted"`
	Capped              bool                    `json:"capped"`
	RequiresHumanReview bool                    `json:"requiresHumanReview"`
	Budgets             []CheckResult           `json:"budgets,omitempty"`
	Events              []model.CostEventRecord `json:"events,omitempty"`
}

// Config configures a Governor.
type Config struct {
	Store  *store.Store
	Clock  clock.Clock
	Logger *zap.Logger
}

// Governor evaluates budgets and routing caps.
type Governor struct {
	store *store.Store
	clock clock.Clock
	log   *zap.Logger
}

// NewGovernor creates a Governor.
func NewGovernor(cfg Config) *Governor {
	g := &Governor{store: cfg.Store, clock: clock.OrReal(cfg.Clock), log: cfg.Logger}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	return g
}

// Evaluate checks every budget matching req, then routing caps.
//
// A hard-limit overshoot blocks. A soft-limit overshoot demotes the tier one
// step. An active routing cap or the human model-tier cap below the requested
// model tier forces the cheaper tier. Each of these appends a cost event.
func (g *Governor) Evaluate(ctx context.Context, identity string, req Request) (Result, error) {
	now := g.clock.Now()
	res := Result{Tier: req.Tier, ModelTier: req.ModelTier}
	if res.ModelTier == "" {
		res.ModelTier = model.ModelStandard
	}

	budgets, err := g.store.Budgets.Load(ctx, identity)
	if err != nil {
		return res, fmt.Errorf("load budgets: %w", err)
	}
	ledger, err := g.store.CostLedger.Load(ctx, identity)
	if err != nil {
		return res, fmt.Errorf("load cost ledger: %w", err)
	}

	var soft []CheckResult
	for _, b := range budgets {
		if !b.Matches(req.GoalID, req.AgentID, req.TaskType) {
			continue
		}
		check := Check(spentWithin(ledger, b, now), req.EstimatedCostCents, b)
		res.Budgets = append(res.Budgets, check)

		switch check.Level {
		case OverHard:
			res.Blocked = true
			res.Reason = model.ReasonCostHardLimit
			res.RequiresHumanReview = true
			if err := g.emit(ctx, identity, &res, req, model.CostEventHardLimit, check, check.Reason); err != nil {
				return res, err
			}
			g.log.Info("cost hard limit exceeded",
				zap.String("identity", identity),
				zap.String("agent", req.AgentID),
				zap.String("budget", b.ID))
			return res, nil
		case OverSoft:
			soft = append(soft, check)
		}
	}

	if len(soft) > 0 {
		for _, check := range soft {
			if err := g.emit(ctx, identity, &res, req, model.CostEventSoftLimit, check, check.Reason); err != nil {
				return res, err
			}
		}
		demoted := req.Tier.Prev()
		if demoted != req.Tier {
			res.Tier = demoted
			res.Demoted = true
			res.Reason = model.ReasonCostSoftLimitDemoted
			detail := fmt.Sprintf("tier %s demoted to %s", req.Tier, demoted)
			if err := g.emit(ctx, identity, &res, req, model.CostEventTierDemoted, soft[0], detail); err != nil {
				return res, err
			}
		}
		res.RequiresHumanReview = true
	}

	capTier, capSource, err := g.modelCap(ctx, identity, req, now)
	if err != nil {
		return res, err
	}
	if capTier != "" && res.ModelTier.Exceeds(capTier) {
		detail := fmt.Sprintf("model tier %s capped to %s by %s", res.ModelTier, capTier, capSource)
		res.ModelTier = capTier
		res.Capped = true
		if res.Reason == "" {
			res.Reason = model.ReasonCostModelTierCapped
		}
		if err := g.emit(ctx, identity, &res, req, model.CostEventModelCapped, CheckResult{}, detail); err != nil {
			return res, err
		}
	}
	return res, nil
}

// modelCap returns the lowest active cap applying to req and where it came from.
func (g *Governor) modelCap(ctx context.Context, identity string, req Request, now time.Time) (model.ModelTier, string, error) {
	capTier, source := req.MaxModelTier, "human control profile"
	caps, err := g.store.RoutingCaps.Load(ctx, identity)
	if err != nil {
		return "", "", fmt.Errorf("load routing caps: %w", err)
	}
	for _, c := range caps {
		if !c.Active(now) || (c.TaskType != "" && c.TaskType != req.TaskType) {
			continue
		}
		if capTier == "" || capTier.Exceeds(c.MaxModelTier) {
			capTier, source = c.MaxModelTier, "routing cap "+c.ID
		}
	}
	return capTier, source, nil
}

func (g *Governor) emit(ctx context.Context, identity string, res *Result, req Request, kind model.CostEventKind, check CheckResult, detail string) error {
	ev := model.CostEventRecord{
		ID:             uuid.NewString(),
		Kind:           kind,
		BudgetID:       check.BudgetID,
		AgentID:        req.AgentID,
		GoalID:         req.GoalID,
		TaskType:       req.TaskType,
		SpentCents:     check.Spent,
		EstimatedCents: req.EstimatedCostCents,
		LimitCents:     check.Limit,
		Detail:         detail,
		CreatedAt:      g.clock.Now(),
	}
	if err := g.store.CostEvents.Append(ctx, identity, ev); err != nil {
		return fmt.Errorf("append cost event: %w", err)
	}
	res.Events = append(res.Events, ev)
	return nil
}

// Record appends spend for an allowed action to the ledger.
func (g *Governor) Record(ctx context.Context, identity string, agentID, goalID, taskType string, amountCents int64) error {
	if amountCents <= 0 {
		return nil
	}
	entry := model.CostLedgerEntry{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		GoalID:      goalID,
		TaskType:    taskType,
		AmountCents: amountCents,
		CreatedAt:   g.clock.Now(),
	}
	if err := g.store.CostLedger.Append(ctx, identity, entry); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	return nil
}

// Status reports current spend against every budget.
func (g *Governor) Status(ctx context.Context, identity string) ([]CheckResult, error) {
	budgets, err := g.store.Budgets.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	ledger, err := g.store.CostLedger.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	now := g.clock.Now()
	out := make([]CheckResult, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, Check(spentWithin(ledger, b, now), 0, b))
	}
	return out, nil
}

// spentWithin sums ledger spend attributable to b inside its period window.
func spentWithin(ledger []model.CostLedgerEntry, b model.CostBudget, now time.Time) int64 {
	var since time.Time
	if b.PeriodHours > 0 {
		since = now.Add(-time.Duration(b.PeriodHours) * time.Hour)
	}
	var total int64
	for _, e := range ledger {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		if b.Matches(e.GoalID, e.AgentID, e.TaskType) {
			total += e.AmountCents
		}
	}
	return total
}
