package drift

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "tenant-a"

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, withAnchor bool) (*Evaluator, *store.Store, *clock.FakeClock) {
	t.Helper()
	st := store.NewMemory()
	clk := clock.Fake(epoch)
	if withAnchor {
		a := model.DefaultValueAnchor(epoch)
		if err := st.ValueAnchors.Upsert(context.Background(), tenant, a); err != nil {
			t.Fatal(err)
		}
	}
	return NewEvaluator(Config{Store: st, Clock: clk}), st, clk
}

// logOutcomes appends n decisions with the given outcome, one minute apart.
func logOutcomes(t *testing.T, st *store.Store, clk *clock.FakeClock, outcome string, review bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		clk.Advance(time.Minute)
		e := model.DecisionLogEntry{
			ID:                  fmt.Sprintf("%s-%d-%d", outcome, clk.Now().Unix(), i),
			AgentID:             "agent-1",
			Outcome:             outcome,
			Reason:              "test",
			RequiresHumanReview: review,
			CreatedAt:           clk.Now(),
		}
		if err := st.DecisionLog.Append(context.Background(), tenant, e); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTotalVariation(t *testing.T) {
	p := map[string]float64{model.OutcomeAllowed: 1}
	q := map[string]float64{model.OutcomeDenied: 1}
	if got := TotalVariation(p, q); got != 1 {
		t.Errorf("expected 1 for disjoint distributions, got %f", got)
	}
	if got := TotalVariation(p, p); got != 0 {
		t.Errorf("expected 0 for identical distributions, got %f", got)
	}
	r := map[string]float64{model.OutcomeAllowed: 0.5, model.OutcomeDenied: 0.5}
	if got := TotalVariation(p, r); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}
}

func TestSeverityThresholds(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		d    float64
		want model.DriftSeverity
	}{
		{0, model.DriftNone},
		{0.1, model.DriftLow},
		{0.2, model.DriftMedium},
		{0.5, model.DriftHigh},
	}
	for _, tt := range tests {
		if got := th.Severity(tt.d); got != tt.want {
			t.Errorf("Severity(%f): expected %s, got %s", tt.d, tt.want, got)
		}
	}
}

func TestMissingAnchor(t *testing.T) {
	e, st, _ := setup(t, false)
	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if !gate.AnchorMissing || gate.Severity != model.DriftNone || gate.Freeze {
		t.Errorf("unexpected gate %+v", gate)
	}
	reports, _ := st.DriftReports.Load(context.Background(), tenant)
	if len(reports) != 0 {
		t.Errorf("expected no report without anchor, got %d", len(reports))
	}
}

func TestInsufficientSamplesIsNone(t *testing.T) {
	e, st, clk := setup(t, true)
	logOutcomes(t, st, clk, model.OutcomeDenied, true, 3)

	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Severity != model.DriftNone || gate.Throttle || gate.Freeze {
		t.Errorf("expected no drift below min samples, got %+v", gate)
	}
	reports, _ := st.DriftReports.Load(context.Background(), tenant)
	if len(reports) != 1 {
		t.Errorf("expected one report, got %d", len(reports))
	}
}

func TestBaselineBehaviourIsLow(t *testing.T) {
	e, st, clk := setup(t, true)
	logOutcomes(t, st, clk, model.OutcomeAllowed, false, 14)
	logOutcomes(t, st, clk, model.OutcomeDenied, true, 2)
	logOutcomes(t, st, clk, model.OutcomeEscalated, true, 3)
	logOutcomes(t, st, clk, model.OutcomeDeferred, false, 1)

	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Severity.AtOrAbove(model.DriftMedium) {
		t.Errorf("expected baseline-shaped behaviour to stay below medium, got %s (distance %f)", gate.Severity, gate.Report.Distance)
	}
}

func TestHighDriftOpensFreeze(t *testing.T) {
	e, st, clk := setup(t, true)
	logOutcomes(t, st, clk, model.OutcomeDenied, true, 20)

	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Severity != model.DriftHigh || !gate.Freeze || !gate.RequiresReaffirmation {
		t.Fatalf("expected high drift freeze, got %+v", gate)
	}
	freezes, _ := st.Freezes.Load(context.Background(), tenant)
	if len(freezes) != 1 || freezes[0].Kind != model.FreezeDrift {
		t.Fatalf("expected one drift freeze, got %+v", freezes)
	}

	again, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if again.FreezeID != gate.FreezeID {
		t.Error("an active freeze must be reused, not duplicated")
	}
	freezes, _ = st.Freezes.Load(context.Background(), tenant)
	if len(freezes) != 1 {
		t.Errorf("expected still one freeze, got %d", len(freezes))
	}
}

func TestReaffirmationResetsWindow(t *testing.T) {
	e, st, clk := setup(t, true)
	logOutcomes(t, st, clk, model.OutcomeDenied, true, 20)

	a, _, _ := st.ValueAnchors.Get(context.Background(), tenant, model.ValueAnchorID)
	a.ReaffirmedAt = clk.Now()
	a.Version++
	if err := st.ValueAnchors.Upsert(context.Background(), tenant, a); err != nil {
		t.Fatal(err)
	}
	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Report.SampleSize != 0 || gate.Freeze {
		t.Errorf("expected empty window after reaffirmation, got %+v", gate)
	}
}

func TestReaffirmationDue(t *testing.T) {
	e, _, clk := setup(t, true)
	clk.Advance(721 * time.Hour)
	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if !gate.RequiresReaffirmation {
		t.Error("expected reaffirmation after the anchor interval")
	}
}

func TestExpiredFreezeIgnored(t *testing.T) {
	e, st, clk := setup(t, true)
	until := epoch.Add(time.Hour)
	f := model.BehaviorFreeze{ID: "f1", Kind: model.FreezeDrift, Reason: "manual", ExpiresAt: &until, CreatedAt: epoch}
	if err := st.Freezes.Append(context.Background(), tenant, f); err != nil {
		t.Fatal(err)
	}
	gate, _ := e.Evaluate(context.Background(), tenant)
	if !gate.Freeze {
		t.Fatal("expected active freeze")
	}
	clk.Advance(2 * time.Hour)
	gate, _ = e.Evaluate(context.Background(), tenant)
	if gate.Freeze {
		t.Error("expired freeze must not be honored")
	}
}

func TestMediumDriftThrottles(t *testing.T) {
	e, st, clk := setup(t, true)
	logOutcomes(t, st, clk, model.OutcomeAllowed, false, 9)
	logOutcomes(t, st, clk, model.OutcomeDenied, true, 7)
	logOutcomes(t, st, clk, model.OutcomeEscalated, false, 3)
	logOutcomes(t, st, clk, model.OutcomeDeferred, false, 1)

	gate, err := e.Evaluate(context.Background(), tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Severity != model.DriftMedium {
		t.Fatalf("expected medium drift, got %s (distance %f)", gate.Severity, gate.Report.Distance)
	}
	if !gate.Throttle || gate.Freeze || !gate.RequiresReaffirmation {
		t.Errorf("expected throttle without freeze, got %+v", gate)
	}
	freezes, _ := st.Freezes.Load(context.Background(), tenant)
	if len(freezes) != 0 {
		t.Errorf("medium drift must not open a freeze, got %d", len(freezes))
	}
}

func TestReportsOnlyOnChange(t *testing.T) {
	e, st, clk := setup(t, true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(ctx, tenant); err != nil {
			t.Fatal(err)
		}
	}
	reports, _ := st.DriftReports.Load(ctx, tenant)
	if len(reports) != 1 {
		t.Fatalf("expected one report for unchanged drift, got %d", len(reports))
	}

	logOutcomes(t, st, clk, model.OutcomeDenied, true, 20)
	gate, err := e.Evaluate(ctx, tenant)
	if err != nil {
		t.Fatal(err)
	}
	if gate.Severity != model.DriftHigh {
		t.Fatalf("expected high drift, got %s", gate.Severity)
	}
	reports, _ = st.DriftReports.Load(ctx, tenant)
	if len(reports) != 2 {
		t.Errorf("expected a new report when severity changes, got %d", len(reports))
	}
}
