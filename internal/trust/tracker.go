package trust

import (
	"context"
	"fmt"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// maxSamples bounds the confidence history kept per agent.
const maxSamples = 20

// Tracker maintains per-agent tier state.
type Tracker struct {
	store *store.Store
	clock clock.Clock
}

// NewTracker creates a Tracker.
func NewTracker(st *store.Store, c clock.Clock) *Tracker {
	return &Tracker{store: st, clock: clock.OrReal(c)}
}

// State returns the agent's tier state. Agents without one start at initial.
func (t *Tracker) State(ctx context.Context, identity, agentID string, initial model.PermissionTier) (model.AgentTierState, error) {
	s, ok, err := t.store.TierStates.Get(ctx, identity, agentID)
	if err != nil {
		return s, fmt.Errorf("load tier state: %w", err)
	}
	if !ok {
		s = model.AgentTierState{AgentID: agentID, CurrentTier: initial, UpdatedAt: t.clock.Now()}
	}
	return s, nil
}

// RecordRun counts a completed run. A stable run extends the streak.
func (t *Tracker) RecordRun(ctx context.Context, identity, agentID string, initial model.PermissionTier, confidence float64, stable bool) (model.AgentTierState, error) {
	return t.update(ctx, identity, agentID, initial, func(s *model.AgentTierState) {
		s.TotalRuns++
		if stable {
			s.StableRuns++
		} else {
			s.StableRuns = 0
		}
		s.ConfidenceSamples = append(s.ConfidenceSamples, confidence)
		if len(s.ConfidenceSamples) > maxSamples {
			s.ConfidenceSamples = s.ConfidenceSamples[len(s.ConfidenceSamples)-maxSamples:]
		}
	})
}

// RecordRollback counts a rolled back run and resets the streak.
func (t *Tracker) RecordRollback(ctx context.Context, identity, agentID string, initial model.PermissionTier) (model.AgentTierState, error) {
	return t.update(ctx, identity, agentID, initial, func(s *model.AgentTierState) {
		if s.Rollbacks < s.TotalRuns {
			s.Rollbacks++
		}
		s.StableRuns = 0
	})
}

// Promote applies an eligible promotion and restarts the streak.
func (t *Tracker) Promote(ctx context.Context, identity, agentID string, p Promotion) (model.AgentTierState, error) {
	if !p.Eligible {
		return model.AgentTierState{}, fmt.Errorf("promotion of %s not eligible", agentID)
	}
	return t.update(ctx, identity, agentID, p.CurrentTier, func(s *model.AgentTierState) {
		now := t.clock.Now()
		s.CurrentTier = s.CurrentTier.Next()
		s.StableRuns = 0
		s.LastPromotedAt = &now
	})
}

func (t *Tracker) update(ctx context.Context, identity, agentID string, initial model.PermissionTier, fn func(*model.AgentTierState)) (model.AgentTierState, error) {
	var out model.AgentTierState
	err := t.store.TierStates.Mutate(ctx, identity, agentID, func(s *model.AgentTierState, exists bool) error {
		if !exists {
			*s = model.AgentTierState{AgentID: agentID, CurrentTier: initial}
		}
		fn(s)
		s.UpdatedAt = t.clock.Now()
		out = *s
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("update tier state: %w", err)
	}
	return out, nil
}
