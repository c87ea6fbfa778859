// Package trust decides when an agent may act more autonomously and when a
// request must go to a human instead.
package trust

import (
	"fmt"

	"github.com/ppiankov/agentgov/internal/model"
)

// Thresholds gate autonomy promotion.
type Thresholds struct {
	MinPassRate            float64 `yaml:"min_pass_rate"`
	MaxUncertaintyVariance float64 `yaml:"max_uncertainty_variance"`
	MaxRollbackRate        float64 `yaml:"max_rollback_rate"`
	MinStableRuns          int     `yaml:"min_stable_runs"`
}

// DefaultThresholds returns the promotion thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{MinPassRate: 0.9, MaxUncertaintyVariance: 0.05, MaxRollbackRate: 0.1, MinStableRuns: 5}
}

// PromotionSignals is the evidence a promotion is judged on.
type PromotionSignals struct {
	PassRate            float64          `json:"passRate"`
	UncertaintyVariance float64          `json:"uncertaintyVariance"`
	RollbackRate        float64          `json:"rollbackRate"`
	StableRuns          int              `json:"stableRuns"`
	FailureDebt         model.DebtStatus `json:"failureDebt"`
}

// Promotion is the result of CanPromoteAutonomy.
type Promotion struct {
	Eligible    bool                 `json:"eligible"`
	CurrentTier model.PermissionTier `json:"currentTier"`
	NextTier    model.PermissionTier `json:"nextTier"`
	Reasons     []string             `json:"reasons,omitempty"`
}

// CanPromoteAutonomy reports whether an agent at current may move up exactly
// one tier. Every failing signal is listed in Reasons.
func CanPromoteAutonomy(current model.PermissionTier, s PromotionSignals, th Thresholds) Promotion {
	p := Promotion{CurrentTier: current, NextTier: current}
	next := current.Next()
	if next == current {
		p.Reasons = append(p.Reasons, fmt.Sprintf("tier %s is already the highest", current))
		return p
	}
	if s.PassRate < th.MinPassRate {
		p.Reasons = append(p.Reasons, fmt.Sprintf("pass rate %.2f below %.2f", s.PassRate, th.MinPassRate))
	}
	if s.UncertaintyVariance > th.MaxUncertaintyVariance {
		p.Reasons = append(p.Reasons, fmt.Sprintf("uncertainty variance %.3f above %.3f", s.UncertaintyVariance, th.MaxUncertaintyVariance))
	}
	if s.RollbackRate > th.MaxRollbackRate {
		p.Reasons = append(p.Reasons, fmt.Sprintf("rollback rate %.2f above %.2f", s.RollbackRate, th.MaxRollbackRate))
	}
	if s.StableRuns < th.MinStableRuns {
		p.Reasons = append(p.Reasons, fmt.Sprintf("%d stable runs, need %d", s.StableRuns, th.MinStableRuns))
	}
	if s.FailureDebt.Blocks() {
		p.Reasons = append(p.Reasons, fmt.Sprintf("failure debt is %s", s.FailureDebt))
	}
	if len(p.Reasons) == 0 {
		p.Eligible = true
		p.NextTier = next
	}
	return p
}
