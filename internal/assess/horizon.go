package assess

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// HorizonLimits bound how far an agent may commit the future.
type HorizonLimits struct {
	MaxIrreversibleDays int `yaml:"max_irreversible_days"`
	MaxDebtPoints       int `yaml:"max_debt_points"`
}

// DefaultHorizonLimits returns the limits used when none are configured.
func DefaultHorizonLimits() HorizonLimits {
	return HorizonLimits{MaxIrreversibleDays: 90, MaxDebtPoints: 365}
}

// DebtPoints is the long-horizon debt of committing days at impact.
// Reversible commitments carry none.
func DebtPoints(impact model.ActionImpact, days int) int {
	switch impact {
	case model.ImpactDifficult:
		return days
	case model.ImpactIrreversible:
		return 2 * days
	}
	return 0
}

// Horizon is the result of Horizons.Check.
type Horizon struct {
	Blocked         bool   `json:"blocked"`
	Reason          string `json:"reason,omitempty"`
	Detail          string `json:"detail,omitempty"`
	CommitmentDays  int    `json:"commitmentDays"`
	OutstandingDebt int    `json:"outstandingDebt"`
	ProjectedDebt   int    `json:"projectedDebt"`
}

// Horizons checks and records long-horizon commitments.
type Horizons struct {
	store  *store.Store
	clock  clock.Clock
	limits HorizonLimits
}

// NewHorizons creates Horizons. Zero limits fall back to defaults.
func NewHorizons(st *store.Store, c clock.Clock, limits HorizonLimits) *Horizons {
	if limits == (HorizonLimits{}) {
		limits = DefaultHorizonLimits()
	}
	return &Horizons{store: st, clock: clock.OrReal(c), limits: limits}
}

// Check caps the commitment length of irreversible actions and the agent's
// outstanding debt. A commitment stops counting once its days have elapsed.
func (h *Horizons) Check(ctx context.Context, identity, agentID string, impact model.ActionImpact, days int) (Horizon, error) {
	r := Horizon{CommitmentDays: days}
	if impact == model.ImpactIrreversible && days > h.limits.MaxIrreversibleDays {
		r.Blocked = true
		r.Reason = model.ReasonHorizonCommitmentExceeded
		r.Detail = fmt.Sprintf("irreversible commitment of %d days exceeds %d", days, h.limits.MaxIrreversibleDays)
		return r, nil
	}

	outstanding, err := h.Outstanding(ctx, identity, agentID)
	if err != nil {
		return r, err
	}
	r.OutstandingDebt = outstanding
	r.ProjectedDebt = outstanding + DebtPoints(impact, days)
	if h.limits.MaxDebtPoints > 0 && r.ProjectedDebt > h.limits.MaxDebtPoints {
		r.Blocked = true
		r.Reason = model.ReasonHorizonDebtExceeded
		r.Detail = fmt.Sprintf("projected debt %d exceeds %d", r.ProjectedDebt, h.limits.MaxDebtPoints)
	}
	return r, nil
}

// Outstanding sums the debt of the agent's commitments still in force.
func (h *Horizons) Outstanding(ctx context.Context, identity, agentID string) (int, error) {
	commitments, err := h.store.Commitments.Load(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("load commitments: %w", err)
	}
	now := h.clock.Now()
	total := 0
	for _, c := range commitments {
		if c.AgentID != agentID {
			continue
		}
		if now.Before(c.CreatedAt.Add(time.Duration(c.CommitmentDays) * 24 * time.Hour)) {
			total += c.DebtPoints
		}
	}
	return total, nil
}

// RecordDebt appends the commitment of an allowed action. Commitments with
// no debt are not recorded.
func (h *Horizons) RecordDebt(ctx context.Context, identity, agentID, goalID, action string, impact model.ActionImpact, days int) (*model.LongHorizonCommitment, error) {
	points := DebtPoints(impact, days)
	if points == 0 {
		return nil, nil
	}
	c := model.LongHorizonCommitment{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		GoalID:         goalID,
		Action:         action,
		Impact:         impact,
		CommitmentDays: days,
		DebtPoints:     points,
		CreatedAt:      h.clock.Now(),
	}
	if err := h.store.Commitments.Append(ctx, identity, c); err != nil {
		return nil, fmt.Errorf("record commitment: %w", err)
	}
	return &c, nil
}
