package cost

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "tenant-a"

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newGovernor(t *testing.T, budgets ...model.CostBudget) (*Governor, *store.Store, *clock.FakeClock) {
	t.Helper()
	st := store.NewMemory()
	clk := clock.Fake(epoch)
	for _, b := range budgets {
		if err := st.Budgets.Upsert(context.Background(), tenant, b); err != nil {
			t.Fatal(err)
		}
	}
	return NewGovernor(Config{Store: st, Clock: clk}), st, clk
}

func agentBudget(soft, hard int64) model.CostBudget {
	return model.CostBudget{ID: "b-agent", Scope: model.ScopeAgent, ScopeKey: "agent-1", SoftLimitCents: soft, HardLimitCents: hard, PeriodHours: 24}
}

func TestCheckOrder(t *testing.T) {
	b := agentBudget(100, 200)
	tests := []struct {
		spent, est int64
		want       Level
	}{
		{0, 100, WithinBudget},
		{50, 51, OverSoft},
		{100, 100, OverSoft},
		{100, 101, OverHard},
	}
	for _, tt := range tests {
		got := Check(tt.spent, tt.est, b)
		if got.Level != tt.want {
			t.Errorf("Check(%d, %d): expected level %d, got %d", tt.spent, tt.est, tt.want, got.Level)
		}
	}
}

func TestCheckZeroLimitsUnlimited(t *testing.T) {
	got := Check(1_000_000, 1_000_000, model.CostBudget{ID: "b", Scope: model.ScopeGlobal})
	if got.Level != WithinBudget {
		t.Errorf("expected unlimited budget, got level %d", got.Level)
	}
}

func TestHardLimitBlocksAndEmitsEvent(t *testing.T) {
	g, st, _ := newGovernor(t, agentBudget(100, 200))
	ctx := context.Background()
	if err := g.Record(ctx, tenant, "agent-1", "", "", 150); err != nil {
		t.Fatal(err)
	}

	res, err := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", EstimatedCostCents: 60, Tier: model.TierExecute})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Blocked || res.Reason != model.ReasonCostHardLimit {
		t.Fatalf("expected hard limit block, got %+v", res)
	}
	events, _ := st.CostEvents.Load(ctx, tenant)
	if len(events) != 1 || events[0].Kind != model.CostEventHardLimit {
		t.Fatalf("expected one hard limit event, got %+v", events)
	}
	if events[0].SpentCents != 150 || events[0].LimitCents != 200 {
		t.Errorf("expected spent 150 limit 200, got %d %d", events[0].SpentCents, events[0].LimitCents)
	}
}

func TestSoftLimitDemotesOneStep(t *testing.T) {
	g, st, _ := newGovernor(t, agentBudget(100, 1000))
	ctx := context.Background()

	res, err := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", EstimatedCostCents: 150, Tier: model.TierExecute})
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocked {
		t.Fatal("soft limit must not block")
	}
	if res.Tier != model.TierSuggest || !res.Demoted {
		t.Errorf("expected demotion to suggest, got %s", res.Tier)
	}
	if !res.RequiresHumanReview {
		t.Error("expected review flag on soft limit")
	}
	events, _ := st.CostEvents.Load(ctx, tenant)
	if len(events) != 2 {
		t.Fatalf("expected soft limit and demotion events, got %d", len(events))
	}
}

func TestSoftLimitAtDraftStaysDraft(t *testing.T) {
	g, _, _ := newGovernor(t, agentBudget(100, 1000))
	res, err := g.Evaluate(context.Background(), tenant, Request{AgentID: "agent-1", EstimatedCostCents: 150, Tier: model.TierDraft})
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != model.TierDraft || res.Demoted {
		t.Errorf("expected draft without demotion, got %s demoted=%v", res.Tier, res.Demoted)
	}
}

func TestSpendOutsideWindowIgnored(t *testing.T) {
	g, _, clk := newGovernor(t, agentBudget(100, 200))
	ctx := context.Background()
	if err := g.Record(ctx, tenant, "agent-1", "", "", 190); err != nil {
		t.Fatal(err)
	}
	clk.Advance(25 * time.Hour)

	res, err := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", EstimatedCostCents: 50, Tier: model.TierExecute})
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocked || res.Demoted {
		t.Errorf("expected old spend to be outside the window, got %+v", res)
	}
}

func TestUnmatchedBudgetIgnored(t *testing.T) {
	g, _, _ := newGovernor(t, agentBudget(1, 2))
	res, err := g.Evaluate(context.Background(), tenant, Request{AgentID: "agent-2", EstimatedCostCents: 50, Tier: model.TierExecute})
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocked || len(res.Budgets) != 0 {
		t.Errorf("expected no matching budgets, got %+v", res)
	}
}

func TestRoutingCapForcesCheaperModel(t *testing.T) {
	g, st, clk := newGovernor(t)
	ctx := context.Background()
	expires := epoch.Add(time.Hour)
	rc := model.CostRoutingCap{ID: "cap-1", MaxModelTier: model.ModelEconomy, TaskType: "summarize", ExpiresAt: &expires, CreatedAt: epoch}
	if err := st.RoutingCaps.Upsert(ctx, tenant, rc); err != nil {
		t.Fatal(err)
	}

	res, err := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", TaskType: "summarize", Tier: model.TierSuggest, ModelTier: model.ModelPremium})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelTier != model.ModelEconomy || !res.Capped {
		t.Errorf("expected economy cap, got %s", res.ModelTier)
	}
	if res.Reason != model.ReasonCostModelTierCapped {
		t.Errorf("expected %s, got %s", model.ReasonCostModelTierCapped, res.Reason)
	}

	other, _ := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", TaskType: "draft_email", ModelTier: model.ModelPremium})
	if other.Capped {
		t.Error("cap scoped to summarize must not apply to draft_email")
	}

	clk.Advance(2 * time.Hour)
	later, _ := g.Evaluate(ctx, tenant, Request{AgentID: "agent-1", TaskType: "summarize", ModelTier: model.ModelPremium})
	if later.Capped {
		t.Error("expired cap must not apply")
	}
}

func TestHumanMaxModelTier(t *testing.T) {
	g, _, _ := newGovernor(t)
	res, err := g.Evaluate(context.Background(), tenant, Request{AgentID: "agent-1", ModelTier: model.ModelPremium, MaxModelTier: model.ModelStandard})
	if err != nil {
		t.Fatal(err)
	}
	if res.ModelTier != model.ModelStandard {
		t.Errorf("expected standard, got %s", res.ModelTier)
	}

	res, _ = g.Evaluate(context.Background(), tenant, Request{AgentID: "agent-1", ModelTier: model.ModelEconomy, MaxModelTier: model.ModelStandard})
	if res.Capped {
		t.Error("economy under a standard cap must not be capped")
	}
}

func TestStatus(t *testing.T) {
	g, _, _ := newGovernor(t, agentBudget(100, 200))
	ctx := context.Background()
	_ = g.Record(ctx, tenant, "agent-1", "", "", 120)
	_ = g.Record(ctx, tenant, "agent-1", "", "", 0)

	status, err := g.Status(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 || status[0].Spent != 120 || status[0].Level != OverSoft {
		t.Errorf("unexpected status %+v", status)
	}
}
