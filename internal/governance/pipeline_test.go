package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/drift"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "acme"

var start = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) kinds() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.entries {
		out[e.Kind]++
	}
	return out
}

type fixture struct {
	p     *Pipeline
	st    *store.Store
	clk   *clock.FakeClock
	audit *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.Fake(start)

	seeds := DefaultSeeds(start)
	seeds.Agents = []model.AgentProfile{
		{
			AgentID:           "s1",
			Role:              "support",
			MaxPermissionTier: model.TierExecute,
			Scope: model.AgentScope{
				Domains:        []string{"support"},
				DecisionScopes: []string{"ticket_reply", "refund_issue", "close_account"},
				AllowedTools:   []string{"ticket_reply", "refund_issue"},
			},
		},
		{
			AgentID:           "c1",
			Role:              "ceo",
			MaxPermissionTier: model.TierExecute,
			Scope: model.AgentScope{
				Domains:        []string{"*"},
				DecisionScopes: []string{"*"},
				AllowedTools:   []string{"*"},
			},
		},
	}
	_, err := st.Bootstrap(ctx, tenant, seeds)
	require.NoError(t, err)
	require.NoError(t, st.Goals.Upsert(ctx, tenant, model.Goal{ID: "g1", Title: "Keep support backlog under a day", Priority: 5, CreatedAt: start}))

	rec := &recorder{}
	p, err := New(Config{Store: st, Clock: clk, Audit: rec})
	require.NoError(t, err)
	return &fixture{p: p, st: st, clk: clk, audit: rec}
}

func ticketReply() *model.AgentRuntimeContext {
	return &model.AgentRuntimeContext{
		AgentID:         "s1",
		Domain:          "support",
		DecisionType:    "ticket_reply",
		Action:          "ticket_reply",
		Tool:            "ticket_reply",
		GoalID:          "g1",
		TaskType:        "ticket_reply",
		TaskDescription: "answer ticket 42 about a late delivery",
		RequestedTier:   model.TierSuggest,
		Impact:          model.ImpactReversible,
		Confidence: &model.ConfidenceDisclosure{
			Score:                  0.85,
			UncertaintyExplanation: "customer history is short",
			EvidenceRefs:           []string{"ticket:42"},
		},
		Novelty: 0.1,
	}
}

func (f *fixture) evaluate(t *testing.T, rc *model.AgentRuntimeContext) model.RuntimeGovernanceDecision {
	t.Helper()
	d, err := f.p.Evaluate(context.Background(), tenant, rc)
	require.NoError(t, err)
	return d
}

func TestAllowedRequestRunsEveryStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.evaluate(t, ticketReply())
	require.True(t, d.Allowed, "reason %s", d.Reason)
	require.Equal(t, model.ReasonAllowed, d.Reason)
	require.False(t, d.RequiresHumanReview)
	require.Equal(t, model.TierSuggest, d.EffectiveTier)

	for _, key := range []string{
		"context", "humanControls", "autonomyCeiling", "roleConstitution", "drift",
		"disclosure", "scope", "handoff", "cooperation", "goal", "task", "costContext",
		"epistemic", "effects", "evaluation", "cost", "permission", "escalation",
		"scheduling", "record", "outcome",
	} {
		require.Contains(t, d.Details, key)
	}

	log, err := f.st.DecisionLog.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, log, 1)
	require.Equal(t, model.OutcomeAllowed, log[0].Outcome)

	history, err := f.st.TaskHistory.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, history, 1)

	state, found, err := f.st.TierStates.Get(ctx, tenant, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, state.TotalRuns)
	require.Equal(t, 1, state.StableRuns)

	kinds := f.audit.kinds()
	require.Equal(t, 1, kinds[audit.KindPipeline])
	require.Equal(t, 1, kinds[audit.KindRoleConstitution])
}

func TestMissingContextAndUnknownAgent(t *testing.T) {
	f := newFixture(t)

	d := f.evaluate(t, nil)
	require.False(t, d.Allowed)
	require.Equal(t, model.ReasonContextMissing, d.Reason)
	require.True(t, d.RequiresHumanReview)

	rc := ticketReply()
	rc.AgentID = "ghost"
	d = f.evaluate(t, rc)
	require.Equal(t, model.ReasonAgentNotRegistered, d.Reason)

	rc = ticketReply()
	rc.Domain = ""
	d = f.evaluate(t, rc)
	require.Equal(t, model.ReasonContextInvalid, d.Reason)
}

func TestEvaluateDoesNotMutateCallerContext(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.TaskType = ""
	f.evaluate(t, rc)
	require.Empty(t, rc.TaskType)
}

func TestEmergencyStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.EmergencyStop = true
		p.EmergencyReason = "incident 7"
		return nil
	})
	require.NoError(t, err)

	d := f.evaluate(t, ticketReply())
	require.Equal(t, model.ReasonEmergencyStop, d.Reason)

	rc := ticketReply()
	rc.Initiator = model.InitiatorHuman
	d = f.evaluate(t, rc)
	require.True(t, d.Allowed, "human initiators pass the emergency stop, got %s", d.Reason)

	until := start.Add(time.Hour)
	_, err = f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.EmergencyUntil = &until
		return nil
	})
	require.NoError(t, err)
	f.clk.Advance(2 * time.Hour)
	d = f.evaluate(t, ticketReply())
	require.True(t, d.Allowed, "expired stop is not honored, got %s", d.Reason)
}

func TestMissingHumanControlsIsFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.ControlProfiles.Clear(context.Background(), tenant))

	d, err := f.p.Evaluate(context.Background(), tenant, ticketReply())
	require.True(t, errors.Is(err, ErrMissingHumanControls))
	require.False(t, d.Allowed)
}

func TestAutonomyCeiling(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.RequestedTier = model.TierExecute
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonAutonomyCeilingExceeded, d.Reason)
}

func TestRoleConstitutionShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := ticketReply()
	rc.AgentID, rc.Domain, rc.DecisionType, rc.Action, rc.Tool = "c1", "strategy", "system_override", "", ""
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonDeniedAction, d.Reason)

	rc = ticketReply()
	rc.Action, rc.DecisionType, rc.Tool = "close_account", "close_account", ""
	require.Equal(t, model.ReasonJurisdictionActionDenied, f.evaluate(t, rc).Reason)

	rc = ticketReply()
	rc.Action, rc.DecisionType, rc.Tool = "refund_issue", "refund_issue", "refund_issue"
	d = f.evaluate(t, rc)
	require.Equal(t, model.ReasonEscalationRuleAction, d.Reason)
	require.True(t, d.RequiresHumanReview)

	log, err := f.st.DecisionLog.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, log, 3)
	require.Equal(t, model.OutcomeDenied, log[0].Outcome)
	require.Equal(t, model.OutcomeEscalated, log[2].Outcome)
}

func TestDriftFreeze(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.st.Freezes.Append(context.Background(), tenant, model.BehaviorFreeze{
		ID: "drift-1", Kind: model.FreezeDrift, Reason: "drift high", CreatedAt: start,
	}))

	d := f.evaluate(t, ticketReply())
	require.Equal(t, model.ReasonValueDriftFreeze, d.Reason)

	rc := ticketReply()
	rc.Initiator = model.InitiatorHuman
	d = f.evaluate(t, rc)
	require.True(t, d.Allowed, "got %s", d.Reason)
}

func TestDriftThrottleBlocksAgentExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.AutonomyCeiling = model.TierExecute
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.st.TierStates.Upsert(ctx, tenant, model.AgentTierState{
		AgentID: "s1", CurrentTier: model.TierExecute, UpdatedAt: start,
	}))
	// 45% allowed and 35% denied against a 70/10 baseline is a total
	// variation of 0.25: medium.
	outcomes := map[string]int{
		model.OutcomeAllowed:   9,
		model.OutcomeDenied:    7,
		model.OutcomeEscalated: 3,
		model.OutcomeDeferred:  1,
	}
	i := 0
	for outcome, n := range outcomes {
		for j := 0; j < n; j++ {
			i++
			require.NoError(t, f.st.DecisionLog.Append(ctx, tenant, model.DecisionLogEntry{
				ID:        fmt.Sprintf("seed-%d", i),
				AgentID:   "s9",
				Outcome:   outcome,
				Reason:    "seeded",
				CreatedAt: start.Add(time.Duration(i) * time.Minute),
			}))
		}
	}
	f.clk.Advance(time.Hour)

	rc := ticketReply()
	rc.RequestedTier = model.TierExecute
	d := f.evaluate(t, rc)
	require.False(t, d.Allowed)
	require.Equal(t, model.ReasonValueDriftThrottle, d.Reason)
	gate, ok := d.Details["drift"].(drift.Gate)
	require.True(t, ok)
	require.Equal(t, model.DriftMedium, gate.Severity)
	require.True(t, gate.Throttle)

	rc = ticketReply()
	rc.RequestedTier = model.TierExecute
	rc.Initiator = model.InitiatorHuman
	d = f.evaluate(t, rc)
	require.NotEqual(t, model.ReasonValueDriftThrottle, d.Reason)
	require.NotEqual(t, model.ReasonValueDriftFreeze, d.Reason)

	d = f.evaluate(t, ticketReply())
	require.NotEqual(t, model.ReasonValueDriftThrottle, d.Reason, "throttle only blocks execute")
}

func TestDisclosureAndExplainability(t *testing.T) {
	f := newFixture(t)

	rc := ticketReply()
	rc.Confidence = nil
	require.Equal(t, model.ReasonConfidenceMissing, f.evaluate(t, rc).Reason)

	rc = ticketReply()
	rc.Confidence.UncertaintyExplanation = ""
	require.Equal(t, model.ReasonConfidenceInvalid, f.evaluate(t, rc).Reason)

	rc = ticketReply()
	rc.AgentID, rc.Domain, rc.DecisionType, rc.Action, rc.Tool = "c1", "strategy", "plan_review", "plan_review", ""
	rc.Impact = model.ImpactDifficult
	require.Equal(t, model.ReasonExplainabilityRequired, f.evaluate(t, rc).Reason)

	rc.Explainability = &model.ExplainabilitySnapshot{Summary: "shift hiring to Q3"}
	require.Equal(t, model.ReasonExplainabilityInvalid, f.evaluate(t, rc).Reason)
}

func TestAgentScope(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.Tool = "knowledge_base"
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonScopeTool, d.Reason)
}

func TestHandoffContract(t *testing.T) {
	f := newFixture(t)
	past := start.Add(-time.Hour)
	rc := ticketReply()
	rc.AgentID, rc.Domain, rc.DecisionType, rc.Action, rc.Tool = "c1", "finance", "budget_review", "", ""
	rc.Handoff = &model.HandoffContract{
		ID: "h1", FromAgentID: "f1", FromRole: "finance", ToAgentID: "c1", ToRole: "ceo",
		Domain: "finance", Purpose: "quarter close", ExpiresAt: &past, CreatedAt: past.Add(-time.Hour),
	}
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonHandoffContractExpired, d.Reason)

	future := start.Add(time.Hour)
	rc.Handoff.ExpiresAt = &future
	d = f.evaluate(t, rc)
	require.True(t, d.Allowed, "got %s", d.Reason)
}

func TestCooperationEscalates(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.Proposals = []model.AgentProposal{
		{ID: "p1", AgentID: "s1", Action: "reply_apology", Confidence: 0.8, Impact: model.ImpactReversible},
		{ID: "p2", AgentID: "s2", Action: "reply_refund_offer", Confidence: 0.8, Impact: model.ImpactReversible},
	}
	rc.ActiveProposalID = "p1"
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonCooperationEscalated, d.Reason)

	// a deadlock lowers the pair's trust, so start from a fresh identity
	f = newFixture(t)
	rc.Proposals[1].Confidence = 0.2
	rc.ActiveProposalID = "p2"
	d = f.evaluate(t, rc)
	require.Equal(t, model.ReasonCooperationNotSelected, d.Reason)

	rc.ActiveProposalID = "p1"
	require.True(t, f.evaluate(t, rc).Allowed)
}

func TestGoalExpired(t *testing.T) {
	f := newFixture(t)
	past := start.Add(-time.Minute)
	require.NoError(t, f.st.Goals.Upsert(context.Background(), tenant, model.Goal{
		ID: "old", Title: "Q1 push", Priority: 1, ExpiresAt: &past, CreatedAt: start.Add(-24 * time.Hour),
	}))
	rc := ticketReply()
	rc.GoalID = "old"
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonGoalExpired, d.Reason)

	rc.GoalID = ""
	require.Equal(t, model.ReasonGoalRequired, f.evaluate(t, rc).Reason)
}

func TestTaskChecks(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.TaskDescription = "  "
	require.Equal(t, model.ReasonTaskDescriptionRequired, f.evaluate(t, rc).Reason)

	require.NoError(t, f.st.Freezes.Append(context.Background(), tenant, model.BehaviorFreeze{
		ID: "f1", Kind: model.FreezeTaskType, TaskType: "ticket_reply", Reason: "bad replies", CreatedAt: start,
	}))
	require.Equal(t, model.ReasonBehaviorFrozen, f.evaluate(t, ticketReply()).Reason)
}

func TestEffectsAndNorms(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.SecondOrderEffects = []model.SecondOrderEffect{
		{Description: "customer churns", Severity: model.EffectMedium, Likelihood: 0.2},
	}
	d := f.evaluate(t, rc)
	require.True(t, d.Allowed, "got %s", d.Reason)
	require.True(t, d.RequiresHumanReview)

	rc.SecondOrderEffects = append(rc.SecondOrderEffects, model.SecondOrderEffect{
		Description: "data leaves tenant", Severity: model.EffectHigh, Likelihood: 0.1, Irreversible: true,
	})
	require.Equal(t, model.ReasonSecondOrderBlocked, f.evaluate(t, rc).Reason)
}

func TestMalformedEffectsAndSchedulingRejected(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.SecondOrderEffects = []model.SecondOrderEffect{
		{Description: "data leaves tenant", Severity: "critical", Likelihood: 0.5, Irreversible: true},
	}
	d := f.evaluate(t, rc)
	require.False(t, d.Allowed)
	require.Equal(t, model.ReasonContextInvalid, d.Reason)

	rc = ticketReply()
	rc.Scheduling = &model.SchedulingPolicy{Urgency: "whenever", Mode: "yolo"}
	d = f.evaluate(t, rc)
	require.False(t, d.Allowed)
	require.Equal(t, model.ReasonContextInvalid, d.Reason)
}

func TestCostBudgets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.Budgets.Upsert(ctx, tenant, model.CostBudget{
		ID: "replies", Scope: model.ScopeTaskType, ScopeKey: "ticket_reply", SoftLimitCents: 100, UpdatedAt: start,
	}))
	rc := ticketReply()
	rc.EstimatedCostCents = 500
	d := f.evaluate(t, rc)
	require.True(t, d.Allowed, "got %s", d.Reason)
	require.Equal(t, model.TierDraft, d.EffectiveTier)
	require.True(t, d.RequiresHumanReview)

	ledger, err := f.st.CostLedger.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, ledger, 1)

	require.NoError(t, f.st.Budgets.Upsert(ctx, tenant, model.CostBudget{
		ID: "replies", Scope: model.ScopeTaskType, ScopeKey: "ticket_reply", SoftLimitCents: 100, HardLimitCents: 800, UpdatedAt: start,
	}))
	require.Equal(t, model.ReasonCostHardLimit, f.evaluate(t, rc).Reason)
}

func TestPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.AutonomyCeiling = model.TierExecute
		return nil
	})
	require.NoError(t, err)

	rc := ticketReply()
	rc.RequestedTier = model.TierExecute
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonPromotionBlocked, d.Reason)

	require.NoError(t, f.st.TierStates.Upsert(ctx, tenant, model.AgentTierState{
		AgentID: "s1", CurrentTier: model.TierSuggest, StableRuns: 6, TotalRuns: 6,
		ConfidenceSamples: []float64{0.85, 0.86, 0.84}, UpdatedAt: start,
	}))
	d = f.evaluate(t, rc)
	require.True(t, d.Allowed, "got %s", d.Reason)
	require.Equal(t, model.TierExecute, d.EffectiveTier)

	state, _, err := f.st.TierStates.Get(ctx, tenant, "s1")
	require.NoError(t, err)
	require.Equal(t, model.TierExecute, state.CurrentTier)
}

func TestPromotionNeedsReaffirmedValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.AutonomyCeiling = model.TierExecute
		return nil
	})
	require.NoError(t, err)
	_, err = f.st.ValueAnchors.Update(ctx, tenant, model.ValueAnchorID, func(a *model.ValueAnchor) error {
		a.ReaffirmedAt = start.Add(-800 * time.Hour)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.st.TierStates.Upsert(ctx, tenant, model.AgentTierState{
		AgentID: "s1", CurrentTier: model.TierSuggest, StableRuns: 6, TotalRuns: 6, UpdatedAt: start,
	}))

	rc := ticketReply()
	rc.RequestedTier = model.TierExecute
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonPromotionReaffirmation, d.Reason)
}

func TestDraftCannotExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.st.ControlProfiles.Update(ctx, tenant, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		p.AutonomyCeiling = model.TierExecute
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, f.st.TierStates.Upsert(ctx, tenant, model.AgentTierState{
		AgentID: "s1", CurrentTier: model.TierDraft, UpdatedAt: start,
	}))
	rc := ticketReply()
	rc.RequestedTier = model.TierExecute
	require.Equal(t, model.ReasonDraftCannotExecute, f.evaluate(t, rc).Reason)
}

func TestTrustEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := ticketReply()
	rc.Confidence.Score = 0.65
	d := f.evaluate(t, rc)
	require.Equal(t, model.ReasonTrustEscalation, d.Reason)

	rc.Initiator = model.InitiatorHuman
	require.True(t, f.evaluate(t, rc).Allowed)

	// a task-type override tightens the minimum confidence
	require.NoError(t, f.st.EscalationOverrides.Upsert(ctx, tenant, model.EscalationOverride{
		ID: "o1", TaskType: "ticket_reply", MinConfidence: 0.9, CreatedAt: start,
	}))
	require.Equal(t, model.ReasonTrustEscalation, f.evaluate(t, ticketReply()).Reason)
}

func TestSchedulingDeferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rc := ticketReply()
	rc.Scheduling = &model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeDefer, DeferMinutes: 30}

	d := f.evaluate(t, rc)
	require.False(t, d.Allowed)
	require.False(t, d.RequiresHumanReview)
	require.True(t, d.Deferred())

	tasks, err := f.st.ScheduledTasks.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, start.Add(30*time.Minute), tasks[0].RunAfter)

	history, err := f.st.TaskHistory.Load(ctx, tenant)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestCostContextChecker(t *testing.T) {
	f := newFixture(t)
	rc := ticketReply()
	rc.EstimatedCostCents = 10
	rc.GoalID = "g1"
	require.True(t, f.evaluate(t, rc).Allowed)

	err := AttributionCheck{}.CheckCostContext(context.Background(), tenant, &model.AgentRuntimeContext{EstimatedCostCents: 5, TaskType: "x"})
	require.Error(t, err)
}
