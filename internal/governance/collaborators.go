package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/agentgov/internal/assess"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/roles"
	"github.com/ppiankov/agentgov/internal/store"
)

// AgentDirectory resolves agent ids to profiles.
type AgentDirectory interface {
	Lookup(ctx context.Context, identity, agentID string) (model.AgentProfile, bool, error)
}

// CostContextChecker asserts that a request carries what cost attribution needs.
// A non-nil error denies the request.
type CostContextChecker interface {
	CheckCostContext(ctx context.Context, identity string, rc *model.AgentRuntimeContext) error
}

// StoreDirectory looks agents up in the identity's agent collection.
type StoreDirectory struct {
	Store *store.Store
}

func (d StoreDirectory) Lookup(ctx context.Context, identity, agentID string) (model.AgentProfile, bool, error) {
	return d.Store.Agents.Get(ctx, identity, agentID)
}

// AttributionCheck is the default CostContextChecker: spend must be
// attributable to a goal and a task type.
type AttributionCheck struct{}

func (AttributionCheck) CheckCostContext(_ context.Context, _ string, rc *model.AgentRuntimeContext) error {
	if rc.EstimatedCostCents < 0 {
		return fmt.Errorf("estimated cost %d is negative", rc.EstimatedCostCents)
	}
	if rc.EstimatedCostCents > 0 && rc.GoalID == "" {
		return fmt.Errorf("spend of %d cents has no goal to attribute to", rc.EstimatedCostCents)
	}
	if rc.TaskType == "" {
		return fmt.Errorf("task type required for cost attribution")
	}
	return nil
}

// DefaultSeeds are the records Bootstrap writes for a new identity.
func DefaultSeeds(now time.Time) store.Seeds {
	profile := model.DefaultControlProfile(now)
	anchor := model.DefaultValueAnchor(now)
	return store.Seeds{
		Roles:          roles.DefaultRoles(),
		ControlProfile: &profile,
		ValueAnchor:    &anchor,
		Norms:          assess.DefaultNorms(),
	}
}
