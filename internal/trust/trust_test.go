package trust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func goodSignals() PromotionSignals {
	return PromotionSignals{PassRate: 0.95, UncertaintyVariance: 0.01, RollbackRate: 0, StableRuns: 8, FailureDebt: model.DebtOK}
}

func TestPromotionEligible(t *testing.T) {
	p := CanPromoteAutonomy(model.TierDraft, goodSignals(), DefaultThresholds())
	require.True(t, p.Eligible)
	require.Equal(t, model.TierSuggest, p.NextTier)
	require.Empty(t, p.Reasons)
}

func TestPromotionBlockedBySignals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PromotionSignals)
	}{
		{"pass rate", func(s *PromotionSignals) { s.PassRate = 0.5 }},
		{"variance", func(s *PromotionSignals) { s.UncertaintyVariance = 0.2 }},
		{"rollbacks", func(s *PromotionSignals) { s.RollbackRate = 0.5 }},
		{"streak", func(s *PromotionSignals) { s.StableRuns = 1 }},
		{"blocking debt", func(s *PromotionSignals) { s.FailureDebt = model.DebtBlocking }},
		{"escalated debt", func(s *PromotionSignals) { s.FailureDebt = model.DebtEscalated }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := goodSignals()
			tt.mutate(&s)
			p := CanPromoteAutonomy(model.TierSuggest, s, DefaultThresholds())
			require.False(t, p.Eligible)
			require.Equal(t, model.TierSuggest, p.NextTier)
			require.Len(t, p.Reasons, 1)
		})
	}
}

func TestPromotionWarningDebtAllowed(t *testing.T) {
	s := goodSignals()
	s.FailureDebt = model.DebtWarning
	require.True(t, CanPromoteAutonomy(model.TierDraft, s, DefaultThresholds()).Eligible)
}

func TestPromotionOneStep(t *testing.T) {
	for _, tier := range []model.PermissionTier{model.TierDraft, model.TierSuggest, model.TierExecute} {
		p := CanPromoteAutonomy(tier, goodSignals(), DefaultThresholds())
		require.LessOrEqual(t, p.NextTier.Rank()-tier.Rank(), 1, "tier %s", tier)
	}
	p := CanPromoteAutonomy(model.TierExecute, goodSignals(), DefaultThresholds())
	require.False(t, p.Eligible)
	require.Equal(t, model.TierExecute, p.NextTier)
}

func TestShouldEscalate(t *testing.T) {
	pol := Policy{MinConfidence: 0.7, NoveltyThreshold: 0.6, MaxAmbiguity: 2}
	calm := Signal{Confidence: 0.9, Novelty: 0.1, Impact: model.ImpactReversible}
	require.False(t, ShouldEscalate(calm, pol).Escalate)

	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"low confidence", func(s *Signal) { s.Confidence = 0.5 }},
		{"novelty at threshold", func(s *Signal) { s.Novelty = 0.6 }},
		{"irreversible", func(s *Signal) { s.Impact = model.ImpactIrreversible }},
		{"ambiguity", func(s *Signal) { s.AmbiguityCount = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := calm
			tt.mutate(&s)
			require.True(t, ShouldEscalate(s, pol).Escalate)
		})
	}
}

func TestExplorationIgnoresNovelty(t *testing.T) {
	pol := Policy{MinConfidence: 0.7, NoveltyThreshold: 0.6, MaxAmbiguity: 2}
	s := Signal{Confidence: 0.9, Novelty: 0.95, Impact: model.ImpactReversible, ExplorationMode: true}
	require.False(t, ShouldEscalate(s, pol).Escalate)
}

func TestEffectivePolicyTightensOnly(t *testing.T) {
	profile := model.DefaultControlProfile(epoch)
	zero := 0
	expired := epoch.Add(-time.Hour)
	overrides := []model.EscalationOverride{
		{ID: "global", MinConfidence: 0.8, CreatedAt: epoch},
		{ID: "loosen", MinConfidence: 0.1, NoveltyThreshold: 0.9, CreatedAt: epoch},
		{ID: "refunds", TaskType: "refund", NoveltyThreshold: 0.3, MaxAmbiguity: &zero, CreatedAt: epoch},
		{ID: "stale", MinConfidence: 0.99, ExpiresAt: &expired, CreatedAt: epoch},
	}

	p := EffectivePolicy(profile, overrides, "refund", epoch)
	require.Equal(t, 0.8, p.MinConfidence)
	require.Equal(t, 0.3, p.NoveltyThreshold)
	require.Equal(t, 0, p.MaxAmbiguity)
	require.ElementsMatch(t, []string{"global", "loosen", "refunds"}, p.Overrides)

	other := EffectivePolicy(profile, overrides, "triage", epoch)
	require.Equal(t, profile.NoveltyThreshold, other.NoveltyThreshold)
	require.Equal(t, profile.MaxAmbiguity, other.MaxAmbiguity)
}

func TestTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.Fake(epoch)
	tr := NewTracker(st, clk)

	s, err := tr.State(ctx, "t1", "agent-1", model.TierDraft)
	require.NoError(t, err)
	require.Equal(t, model.TierDraft, s.CurrentTier)

	for i := 0; i < 5; i++ {
		s, err = tr.RecordRun(ctx, "t1", "agent-1", model.TierDraft, 0.9, true)
		require.NoError(t, err)
	}
	require.Equal(t, 5, s.StableRuns)
	require.Equal(t, 5, s.TotalRuns)

	s, err = tr.RecordRollback(ctx, "t1", "agent-1", model.TierDraft)
	require.NoError(t, err)
	require.Equal(t, 0, s.StableRuns)
	require.InDelta(t, 0.2, s.RollbackRate(), 1e-9)

	p := Promotion{Eligible: true, CurrentTier: model.TierDraft, NextTier: model.TierSuggest}
	s, err = tr.Promote(ctx, "t1", "agent-1", p)
	require.NoError(t, err)
	require.Equal(t, model.TierSuggest, s.CurrentTier)
	require.NotNil(t, s.LastPromotedAt)

	_, err = tr.Promote(ctx, "t1", "agent-1", Promotion{})
	require.Error(t, err)
}

func TestTrackerCapsSamples(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(store.NewMemory(), clock.Fake(epoch))
	var s model.AgentTierState
	for i := 0; i < maxSamples+5; i++ {
		s, _ = tr.RecordRun(ctx, "t1", "agent-1", model.TierDraft, 0.5, true)
	}
	require.Len(t, s.ConfidenceSamples, maxSamples)
}
