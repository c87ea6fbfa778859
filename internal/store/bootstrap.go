package store

import (
	"context"
	"fmt"

	"github.com/ppiankov/agentgov/internal/model"
)

// Seeds are the default records written by Bootstrap.
type Seeds struct {
	Roles          []model.RolePolicy
	Agents         []model.AgentProfile
	ControlProfile *model.HumanControlProfile
	ValueAnchor    *model.ValueAnchor
	Budgets        []model.CostBudget
	Norms          []model.NormRule
}

// BootstrapReport counts records written by one Bootstrap call.
type BootstrapReport struct {
	Written int
	Skipped int
}

// Bootstrap seeds identity with defaults. Records whose id already exists are
// left untouched, so seeding twice never duplicates or overwrites human edits.
func (s *Store) Bootstrap(ctx context.Context, identity string, seeds Seeds) (BootstrapReport, error) {
	var rep BootstrapReport
	count := func(inserted bool, err error) error {
		if err != nil {
			return err
		}
		if inserted {
			rep.Written++
		} else {
			rep.Skipped++
		}
		return nil
	}

	for _, r := range seeds.Roles {
		if err := count(s.Roles.InsertIfAbsent(ctx, identity, r)); err != nil {
			return rep, fmt.Errorf("seed role %s: %w", r.Role, err)
		}
	}
	for _, a := range seeds.Agents {
		if err := count(s.Agents.InsertIfAbsent(ctx, identity, a)); err != nil {
			return rep, fmt.Errorf("seed agent %s: %w", a.AgentID, err)
		}
	}
	if p := seeds.ControlProfile; p != nil {
		if err := count(s.ControlProfiles.InsertIfAbsent(ctx, identity, *p)); err != nil {
			return rep, fmt.Errorf("seed control profile: %w", err)
		}
	}
	if a := seeds.ValueAnchor; a != nil {
		if err := count(s.ValueAnchors.InsertIfAbsent(ctx, identity, *a)); err != nil {
			return rep, fmt.Errorf("seed value anchor: %w", err)
		}
	}
	for _, b := range seeds.Budgets {
		if err := count(s.Budgets.InsertIfAbsent(ctx, identity, b)); err != nil {
			return rep, fmt.Errorf("seed budget %s: %w", b.ID, err)
		}
	}
	for _, n := range seeds.Norms {
		if err := count(s.Norms.InsertIfAbsent(ctx, identity, n)); err != nil {
			return rep, fmt.Errorf("seed norm %s: %w", n.ID, err)
		}
	}
	return rep, nil
}
