// Package goals enforces that every action serves an active goal and that
// conflicting goals are arbitrated before either proceeds.
package goals

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/store"
)

// Result is the outcome of Resolver.Check.
type Result struct {
	Allowed        bool             `json:"allowed"`
	Reason         string           `json:"reason,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	GoalID         string           `json:"goalId,omitempty"`
	Status         model.GoalStatus `json:"status,omitempty"`
	ConflictID     string           `json:"conflictId,omitempty"`
	DisagreementID string           `json:"disagreementId,omitempty"`
	Arbitration    string           `json:"arbitration,omitempty"`
}

// Config configures a Resolver.
type Config struct {
	Store   *store.Store
	Referee *referee.Referee
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Resolver checks goals and arbitrates their conflicts.
type Resolver struct {
	store   *store.Store
	referee *referee.Referee
	clock   clock.Clock
	log     *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{store: cfg.Store, referee: cfg.Referee, clock: clock.OrReal(cfg.Clock), log: cfg.Logger}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Check requires goalID to name an active goal with no open conflict.
//
// An open conflict that has not been arbitrated yet is sent to the referee.
// A clear referee decision closes the conflict; otherwise it waits for a
// human. Either way the current request halts. A goal that lost a closed
// conflict stays halted.
func (r *Resolver) Check(ctx context.Context, identity, goalID string) (Result, error) {
	res := Result{GoalID: goalID}
	if goalID == "" {
		res.Reason = model.ReasonGoalRequired
		return res, nil
	}
	goal, ok, err := r.store.Goals.Get(ctx, identity, goalID)
	if err != nil {
		return res, fmt.Errorf("load goal: %w", err)
	}
	if !ok {
		res.Reason = model.ReasonGoalNotFound
		return res, nil
	}
	now := r.clock.Now()
	res.Status = model.ResolveGoalStatus(goal, now)
	switch res.Status {
	case model.GoalExpired:
		res.Reason = model.ReasonGoalExpired
		res.Detail = fmt.Sprintf("goal %s expired at %s", goal.ID, goal.ExpiresAt.Format(time.RFC3339))
		return res, nil
	case model.GoalSuspended:
		res.Reason = model.ReasonGoalSuspended
		return res, nil
	}

	conflicts, err := r.store.GoalConflicts.Load(ctx, identity)
	if err != nil {
		return res, fmt.Errorf("load goal conflicts: %w", err)
	}
	for _, c := range conflicts {
		if !c.Involves(goalID) {
			continue
		}
		if c.Resolved {
			if c.WinningGoal != "" && c.WinningGoal != goalID {
				res.Reason = model.ReasonGoalConflict
				res.ConflictID = c.ID
				res.Detail = fmt.Sprintf("goal %s lost arbitration to %s", goalID, c.WinningGoal)
				return res, nil
			}
			continue
		}
		res.Reason = model.ReasonGoalConflict
		res.ConflictID = c.ID
		res.DisagreementID = c.DisagreementID
		if c.DisagreementID != "" {
			res.Detail = "conflict awaits human arbitration"
			return res, nil
		}
		arb, err := r.arbitrate(ctx, identity, c)
		if err != nil {
			return res, err
		}
		res.DisagreementID = arb.DisagreementID
		res.Arbitration = arb.Resolution
		res.Detail = arb.Detail
		return res, nil
	}

	res.Allowed = true
	return res, nil
}

type arbitration struct {
	DisagreementID string
	Resolution     string
	Detail         string
}

// arbitrate puts both goals to the referee, weighting each by priority, and
// records the outcome on the conflict.
func (r *Resolver) arbitrate(ctx context.Context, identity string, c model.GoalConflict) (arbitration, error) {
	var arb arbitration
	a, _, err := r.store.Goals.Get(ctx, identity, c.GoalA)
	if err != nil {
		return arb, fmt.Errorf("load goal %s: %w", c.GoalA, err)
	}
	b, _, err := r.store.Goals.Get(ctx, identity, c.GoalB)
	if err != nil {
		return arb, fmt.Errorf("load goal %s: %w", c.GoalB, err)
	}
	top := max(a.Priority, b.Priority)
	weight := func(p int) float64 {
		if top == 0 {
			return 0.5
		}
		return float64(p) / float64(top)
	}
	proposals := []model.AgentProposal{
		{ID: c.GoalA, AgentID: "goal:" + c.GoalA, Action: "pursue:" + c.GoalA, Summary: a.Title, Confidence: weight(a.Priority), Impact: model.ImpactReversible},
		{ID: c.GoalB, AgentID: "goal:" + c.GoalB, Action: "pursue:" + c.GoalB, Summary: b.Title, Confidence: weight(b.Priority), Impact: model.ImpactReversible},
	}
	res, err := r.referee.Resolve(ctx, identity, "goal conflict "+c.ID, proposals)
	if err != nil {
		return arb, fmt.Errorf("arbitrate goal conflict: %w", err)
	}
	rec := res.Record
	arb.DisagreementID = rec.ID
	arb.Resolution = string(rec.Resolution)

	_, err = r.store.GoalConflicts.Update(ctx, identity, c.ID, func(gc *model.GoalConflict) error {
		gc.DisagreementID = rec.ID
		gc.Resolution = rec.Rationale
		if rec.Resolution == model.ResolveSelect && !rec.RequiresHumanReview {
			now := r.clock.Now()
			gc.Resolved = true
			gc.WinningGoal = rec.SelectedProposalIDs[0]
			gc.ResolvedAt = &now
		}
		return nil
	})
	if err != nil {
		return arb, fmt.Errorf("record arbitration: %w", err)
	}
	arb.Detail = fmt.Sprintf("referee %s: %s", rec.Resolution, rec.Rationale)
	r.log.Info("goal conflict arbitrated",
		zap.String("identity", identity),
		zap.String("conflict", c.ID),
		zap.String("resolution", arb.Resolution))
	return arb, nil
}

// Resolve closes a conflict by human decision. winningGoal may be empty when
// both goals may proceed.
func (r *Resolver) Resolve(ctx context.Context, identity, conflictID, winningGoal, note string) (model.GoalConflict, error) {
	return r.store.GoalConflicts.Update(ctx, identity, conflictID, func(gc *model.GoalConflict) error {
		if winningGoal != "" && !gc.Involves(winningGoal) {
			return fmt.Errorf("goal %s is not part of conflict %s", winningGoal, conflictID)
		}
		now := r.clock.Now()
		gc.Resolved = true
		gc.WinningGoal = winningGoal
		gc.Resolution = note
		gc.ResolvedAt = &now
		return nil
	})
}
