// Package cost implements cost governance: scoped budgets with soft and hard
// limits, tier demotion, model routing caps and append-only cost events.
package cost

import (
	"fmt"

	"github.com/ppiankov/agentgov/internal/model"
)

// Level is how far a projected spend overshoots a budget.
type Level int

const (
	WithinBudget Level = iota
	OverSoft
	OverHard
)

// CheckResult is the outcome of checking one budget.
type CheckResult struct {
	BudgetID  string `json:"budgetId"`
	Level     Level  `json:"level"`
	Spent     int64  `json:"spentCents"`
	Projected int64  `json:"projectedCents"`
	Limit     int64  `json:"limitCents,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Check compares spent plus estimate against b. Hard is checked before soft.
// Zero limits are unlimited.
func Check(spent, estimate int64, b model.CostBudget) CheckResult {
	projected := spent + estimate
	res := CheckResult{BudgetID: b.ID, Spent: spent, Projected: projected}
	if b.HardLimitCents > 0 && projected > b.HardLimitCents {
		res.Level = OverHard
		res.Limit = b.HardLimitCents
		res.Reason = fmt.Sprintf("budget %s: projected %d > hard limit %d", b.ID, projected, b.HardLimitCents)
		return res
	}
	if b.SoftLimitCents > 0 && projected > b.SoftLimitCents {
		res.Level = OverSoft
		res.Limit = b.SoftLimitCents
		res.Reason = fmt.Sprintf("budget %s: projected %d > soft limit %d", b.ID, projected, b.SoftLimitCents)
	}
	return res
}
