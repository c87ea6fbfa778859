package improve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "t1"

func newLoop(t *testing.T) (*Loop, *store.Store, *clock.FakeClock) {
	t.Helper()
	st := store.NewMemory()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Config{Store: st, Clock: clk}), st, clk
}

func seedRun(t *testing.T, st *store.Store, clk *clock.FakeClock) model.EvaluationRun {
	t.Helper()
	run := model.EvaluationRun{
		ID:         "run-1",
		RotationID: "r1",
		Total:      3,
		Passed:     1,
		PassRate:   1.0 / 3,
		Baseline:   0.9,
		Results: []model.EvaluationResult{
			{TaskID: "role_denied_action", Category: "role_safety", Passed: false, Weight: 2, Detail: "got allow"},
			{TaskID: "contract_strict", Category: "contract", Passed: true, Weight: 1},
			{TaskID: "escalate_irreversible", Category: "escalation", Passed: false, Weight: 1, Detail: "no escalation"},
		},
		StartedAt:   clk.Now(),
		CompletedAt: clk.Now(),
	}
	require.NoError(t, st.EvaluationRuns.Append(context.Background(), tenant, run))
	return run
}

func TestProposeFromEvaluation(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newLoop(t)
	run := seedRun(t, st, clk)

	got, err := l.ProposeFromEvaluation(ctx, tenant, run)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "battery:role_denied_action", got[0].Target)
	require.Equal(t, model.CandidateProposed, got[0].Status)

	// open candidates suppress duplicates
	again, err := l.ProposeFromEvaluation(ctx, tenant, run)
	require.NoError(t, err)
	require.Empty(t, again)

	all, err := st.Candidates.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestApplyBuildsCausalChain(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newLoop(t)
	run := seedRun(t, st, clk)
	cands, err := l.ProposeFromEvaluation(ctx, tenant, run)
	require.NoError(t, err)

	chain, err := l.Apply(ctx, tenant, cands[0].ID, "alice", "")
	require.NoError(t, err)
	require.Equal(t, model.ChainComplete, chain.Status)
	require.False(t, chain.RequiresHumanReview)
	require.Len(t, chain.Triggers, 1)
	require.NotEmpty(t, chain.Counterfactuals)
	require.NotEmpty(t, chain.Alternatives)

	c, _, err := st.Candidates.Get(ctx, tenant, cands[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.CandidateApplied, c.Status)
	require.Equal(t, "alice", c.DecidedBy)

	_, err = l.Apply(ctx, tenant, cands[0].ID, "alice", "")
	require.True(t, errors.Is(err, ErrCandidateClosed))
}

func TestApplyWithoutExplanationNeedsNote(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newLoop(t)
	c, written, err := l.Propose(ctx, tenant, Proposal{Target: "prompt:refunds", Description: "tighten refund prompt"})
	require.NoError(t, err)
	require.True(t, written)

	chain, err := l.Apply(ctx, tenant, c.ID, "alice", "")
	require.ErrorIs(t, err, ErrExplanationRequired)
	require.Equal(t, model.ChainExplanationFailed, chain.Status)
	require.True(t, chain.RequiresHumanReview)

	stored, _, err := st.Candidates.Get(ctx, tenant, c.ID)
	require.NoError(t, err)
	require.Equal(t, model.CandidateProposed, stored.Status)

	_, err = l.Apply(ctx, tenant, c.ID, "alice", "reviewed the refund transcripts by hand")
	require.NoError(t, err)

	chains, err := st.CausalChains.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, chains, 2, "one chain per application attempt")

	latest, found, err := l.LatestChain(ctx, tenant, c.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.ChainExplanationFailed, latest.Status)
}

func TestRejectStartsCooldown(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newLoop(t)
	c, _, err := l.Propose(ctx, tenant, Proposal{Target: "battery:x"})
	require.NoError(t, err)

	rejected, err := l.Reject(ctx, tenant, c.ID, "bob", "not now")
	require.NoError(t, err)
	require.Equal(t, model.CandidateRejected, rejected.Status)
	require.NotNil(t, rejected.CooldownUntil)

	skipped, written, err := l.Propose(ctx, tenant, Proposal{Target: "battery:x"})
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, model.CandidateSkipped, skipped.Status)

	clk.Advance(DefaultCooldown + time.Minute)
	fresh, _, err := l.Propose(ctx, tenant, Proposal{Target: "battery:x"})
	require.NoError(t, err)
	require.Equal(t, model.CandidateProposed, fresh.Status)
}

func TestRollbackRecordsTrustRollback(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newLoop(t)
	run := seedRun(t, st, clk)
	require.NoError(t, st.TierStates.Upsert(ctx, tenant, model.AgentTierState{
		AgentID: "a1", CurrentTier: model.TierSuggest, StableRuns: 4, TotalRuns: 4, UpdatedAt: clk.Now(),
	}))
	c, _, err := l.Propose(ctx, tenant, Proposal{Target: "battery:role_denied_action", AgentID: "a1", SourceRunID: run.ID})
	require.NoError(t, err)

	_, err = l.Rollback(ctx, tenant, c.ID, "bob", "")
	require.ErrorIs(t, err, ErrCandidateClosed)

	_, err = l.Apply(ctx, tenant, c.ID, "bob", "")
	require.NoError(t, err)
	rolled, err := l.Rollback(ctx, tenant, c.ID, "bob", "regressed refunds")
	require.NoError(t, err)
	require.Equal(t, model.CandidateRolledBack, rolled.Status)

	state, _, err := st.TierStates.Get(ctx, tenant, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, state.Rollbacks)
	require.Equal(t, 0, state.StableRuns)

	all, err := st.Candidates.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, all, 1, "candidates are never deleted")
}

func TestUnknownCandidate(t *testing.T) {
	l, _, _ := newLoop(t)
	_, err := l.Apply(context.Background(), tenant, "missing", "bob", "")
	require.ErrorIs(t, err, ErrCandidateNotFound)
	_, err = l.Reject(context.Background(), tenant, "missing", "bob", "")
	require.ErrorIs(t, err, ErrCandidateNotFound)
}

func TestDistillRules(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newLoop(t)
	for i, reason := range []string{
		model.ReasonDeniedAction, model.ReasonDeniedAction, model.ReasonDeniedAction,
		model.ReasonToolAccessDenied,
	} {
		require.NoError(t, st.DecisionLog.Append(ctx, tenant, model.DecisionLogEntry{
			ID: string(rune('a' + i)), AgentID: "a1", TaskType: "refund", Outcome: model.OutcomeDenied,
			Reason: reason, CreatedAt: clk.Now(),
		}))
	}
	require.NoError(t, st.DecisionLog.Append(ctx, tenant, model.DecisionLogEntry{
		ID: "z", AgentID: "a1", TaskType: "refund", Outcome: model.OutcomeAllowed, Reason: model.ReasonAllowed, CreatedAt: clk.Now(),
	}))

	rules, err := l.DistillRules(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "rule:refund:denied_action", rules[0].ID)
	require.Len(t, rules[0].Evidence, 3)

	again, err := l.DistillRules(ctx, tenant)
	require.NoError(t, err)
	require.Empty(t, again)

	approved, err := l.DecideRule(ctx, tenant, rules[0].ID, true, "carol", "")
	require.NoError(t, err)
	require.Equal(t, model.RuleApproved, approved.Status)

	_, err = l.DecideRule(ctx, tenant, rules[0].ID, false, "carol", "")
	require.Error(t, err)
	_, err = l.DecideRule(ctx, tenant, "rule:none", true, "carol", "")
	require.ErrorIs(t, err, ErrRuleNotFound)
}
