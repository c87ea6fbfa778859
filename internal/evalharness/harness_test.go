package evalharness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/roles"
	"github.com/ppiankov/agentgov/internal/store"
)

const tenant = "tenant-a"

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(t *testing.T, seedRoles bool) (*Harness, *store.Store, *clock.FakeClock) {
	t.Helper()
	st := store.NewMemory()
	if seedRoles {
		_, err := st.Bootstrap(context.Background(), tenant, store.Seeds{Roles: roles.DefaultRoles()})
		require.NoError(t, err)
	}
	clk := clock.Fake(epoch)
	h, err := New(Config{Store: st, Clock: clk, Owner: "test"})
	require.NoError(t, err)
	return h, st, clk
}

func TestDefaultBattery(t *testing.T) {
	b, err := DefaultBattery()
	require.NoError(t, err)
	require.Equal(t, "governance", b.Name)
	kinds := map[string]int{}
	for _, task := range b.Tasks {
		kinds[task.Kind]++
		require.Positive(t, task.Weight, task.ID)
	}
	for _, k := range []string{KindRole, KindContract, KindEscalation, KindPromotion} {
		require.Positive(t, kinds[k], "kind %s", k)
	}
}

func TestParseBatteryRejects(t *testing.T) {
	tests := map[string]string{
		"empty":         "name: x\ntasks: []\n",
		"missing block": "name: x\ntasks:\n  - id: a\n    kind: role\n",
		"unknown kind":  "name: x\ntasks:\n  - id: a\n    kind: vibes\n",
		"duplicate id":  "name: x\ntasks:\n  - id: a\n    kind: contract\n    contract: {type: Goal, payload: '{}'}\n  - id: a\n    kind: contract\n    contract: {type: Goal, payload: '{}'}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBattery([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestDefaultRolesPassBattery(t *testing.T) {
	h, st, _ := newHarness(t, true)
	run, err := h.Run(context.Background(), tenant, nil)
	require.NoError(t, err)
	for _, r := range run.Failed() {
		t.Errorf("task %s failed: %s", r.TaskID, r.Detail)
	}
	require.Equal(t, 1.0, run.PassRate)
	require.Equal(t, 1.0, run.Baseline)

	audit, err := st.RoleAudit.Load(context.Background(), tenant)
	require.NoError(t, err)
	require.Empty(t, audit, "evaluation must not write tenant audit")
}

func TestGuardFirstRunPasses(t *testing.T) {
	h, _, _ := newHarness(t, true)
	v, err := h.Guard(context.Background(), tenant, nil)
	require.NoError(t, err)
	require.True(t, v.Passed, "%s: %s", v.Reason, v.Detail)
	require.False(t, v.RequiresHumanReview)
	require.NotEmpty(t, v.RotationID)
	require.Equal(t, model.DebtOK, v.Debt)
}

func TestConcurrentFirstRunsCoalesce(t *testing.T) {
	h, st, _ := newHarness(t, true)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := h.Guard(context.Background(), tenant, nil)
			if err != nil || !v.Passed {
				t.Errorf("guard: %v %+v", err, v)
			}
		}()
	}
	wg.Wait()

	runs, err := st.EvaluationRuns.Load(context.Background(), tenant)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestForeignClaimBlocksUntilStale(t *testing.T) {
	h, st, clk := newHarness(t, true)
	ctx := context.Background()
	_, err := st.EvaluationClaims.InsertIfAbsent(ctx, tenant, model.EvaluationClaim{ID: model.EvaluationClaimID, Owner: "other:1", ClaimedAt: epoch})
	require.NoError(t, err)

	v, err := h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Equal(t, model.ReasonEvaluationPassRate, v.Reason)
	require.Contains(t, v.Detail, "in progress")

	clk.Advance(11 * time.Minute)
	v, err = h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.True(t, v.Passed)

	c, _, _ := st.EvaluationClaims.Get(ctx, tenant, model.EvaluationClaimID)
	require.Equal(t, "test", c.Owner)
}

func TestMissingRolesFailAndAccrueDebt(t *testing.T) {
	h, st, _ := newHarness(t, false)
	v, err := h.Guard(context.Background(), tenant, nil)
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Equal(t, model.ReasonEvaluationPassRate, v.Reason)
	require.True(t, v.RequiresHumanReview)

	debt, ok, err := st.FailureDebt.Get(context.Background(), tenant, model.FailureDebtID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, model.DebtEscalated, debt.Status)
	require.Contains(t, debt.Outstanding, "safety.denied_action")
}

func seedRun(t *testing.T, st *store.Store, passRate, baseline float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EvaluationRuns.Append(ctx, tenant, model.EvaluationRun{
		ID: "seeded", RotationID: "r1", PassRate: passRate, Baseline: baseline,
		StartedAt: epoch, CompletedAt: epoch,
	}))
	require.NoError(t, st.Rotations.Upsert(ctx, tenant, model.EvaluationRotation{
		ID: model.EvaluationRotationID, RotationID: "r1", TaskIDs: []string{"safety.denied_action"}, StartedAt: epoch,
	}))
}

func TestGuardRegression(t *testing.T) {
	h, st, _ := newHarness(t, true)
	seedRun(t, st, 0.86, 0.99)
	v, err := h.Guard(context.Background(), tenant, nil)
	require.NoError(t, err)
	require.Equal(t, model.ReasonEvaluationRegression, v.Reason)
}

func TestGuardFailureDebtBlocks(t *testing.T) {
	h, st, _ := newHarness(t, true)
	seedRun(t, st, 0.95, 0.95)
	require.NoError(t, st.FailureDebt.Upsert(context.Background(), tenant, model.FailureDebt{
		ID: model.FailureDebtID, Points: 7, Status: model.DebtBlocking, UpdatedAt: epoch,
	}))
	v, err := h.Guard(context.Background(), tenant, nil)
	require.NoError(t, err)
	require.Equal(t, model.ReasonEvaluationFailureDebt, v.Reason)
}

func TestGuardWarningDebtFlagsReview(t *testing.T) {
	h, st, _ := newHarness(t, true)
	seedRun(t, st, 0.95, 0.95)
	require.NoError(t, st.FailureDebt.Upsert(context.Background(), tenant, model.FailureDebt{
		ID: model.FailureDebtID, Points: 3, Status: model.DebtWarning, UpdatedAt: epoch,
	}))
	v, err := h.Guard(context.Background(), tenant, nil)
	require.NoError(t, err)
	require.True(t, v.Passed)
	require.True(t, v.RequiresHumanReview)
}

func TestGuardStaleRotationRefreshes(t *testing.T) {
	h, st, clk := newHarness(t, true)
	ctx := context.Background()
	seedRun(t, st, 1, 1)
	clk.Advance(169 * time.Hour)

	v, err := h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.True(t, v.Passed, "%s: %s", v.Reason, v.Detail)
	require.NotEqual(t, "r1", v.RotationID)
	require.NotEqual(t, "seeded", v.RunID)

	rot, ok, err := st.Rotations.Get(ctx, tenant, model.EvaluationRotationID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rot.StartedAt.Equal(clk.Now()))

	runs, err := st.EvaluationRuns.Load(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestStaleRotationWaitsForForeignClaim(t *testing.T) {
	h, st, clk := newHarness(t, true)
	ctx := context.Background()
	seedRun(t, st, 1, 1)
	clk.Advance(169 * time.Hour)
	_, err := st.EvaluationClaims.InsertIfAbsent(ctx, tenant, model.EvaluationClaim{ID: model.EvaluationClaimID, Owner: "other:1", ClaimedAt: clk.Now()})
	require.NoError(t, err)

	v, err := h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Equal(t, model.ReasonEvaluationRotationInvalid, v.Reason)
	require.Contains(t, v.Detail, "in progress")

	clk.Advance(11 * time.Minute)
	v, err = h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.True(t, v.Passed, "%s: %s", v.Reason, v.Detail)
}

func TestGuardOverrides(t *testing.T) {
	h, st, _ := newHarness(t, true)
	v, err := h.Guard(context.Background(), tenant, []string{"nope"})
	require.NoError(t, err)
	require.Equal(t, model.ReasonEvaluationRotationInvalid, v.Reason)

	v, err = h.Guard(context.Background(), tenant, []string{"trust.promotion_one_step", "contract.unknown_key"})
	require.NoError(t, err)
	require.True(t, v.Passed)

	runs, _ := st.EvaluationRuns.Load(context.Background(), tenant)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Override())
	require.Greater(t, runs[0].Total, 2)

	ran := map[string]bool{}
	for _, r := range runs[0].Results {
		ran[r.TaskID] = true
	}
	require.True(t, ran["contract.unknown_key"])
	require.True(t, ran["safety.denied_action"], "safety tasks always run with overrides")
}

func TestOverridesCannotClearFailingRotation(t *testing.T) {
	h, st, _ := newHarness(t, false)
	ctx := context.Background()

	v, err := h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.Equal(t, model.ReasonEvaluationPassRate, v.Reason)
	firstRun := v.RunID

	for i := 0; i < 9; i++ {
		v, err = h.Guard(ctx, tenant, []string{"contract.unknown_key"})
		require.NoError(t, err)
		require.False(t, v.Passed, "override run %d passed without safety tasks", i)
	}

	v, err = h.Guard(ctx, tenant, nil)
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Equal(t, firstRun, v.RunID, "override runs must not replace the rotation run")

	debt, _, err := st.FailureDebt.Get(ctx, tenant, model.FailureDebtID)
	require.NoError(t, err)
	require.Equal(t, model.DebtEscalated, debt.Status)
	require.Contains(t, debt.Outstanding, "safety.denied_action")
}

func TestCleanOverrideRunOnlyRepaysRerunTasks(t *testing.T) {
	h, _, _ := newHarness(t, true)
	ctx := context.Background()
	_, err := h.accrueDebt(ctx, tenant, model.EvaluationRun{Results: []model.EvaluationResult{
		{TaskID: "a", Weight: 4, Passed: false},
	}})
	require.NoError(t, err)

	d, err := h.accrueDebt(ctx, tenant, model.EvaluationRun{RotationID: model.OverrideRotationID, Results: []model.EvaluationResult{
		{TaskID: "b", Weight: 1, Passed: true},
	}})
	require.NoError(t, err)
	require.Equal(t, 4, d.Points)
	require.Equal(t, []string{"a"}, d.Outstanding)

	d, err = h.accrueDebt(ctx, tenant, model.EvaluationRun{RotationID: "r2", Results: []model.EvaluationResult{
		{TaskID: "b", Weight: 1, Passed: true},
	}})
	require.NoError(t, err)
	require.Equal(t, 4-DefaultThresholds().RepayPerCleanRun, d.Points)
}

func TestBaselineIgnoresOverrideRuns(t *testing.T) {
	prior := []model.EvaluationRun{
		{RotationID: "r1", PassRate: 0.9, CompletedAt: epoch},
		{RotationID: model.OverrideRotationID, PassRate: 1, CompletedAt: epoch.Add(time.Hour)},
	}
	require.Equal(t, 0.9, baseline(prior, 10, 0.5))
	require.Equal(t, 0.5, baseline(prior[1:], 10, 0.5))
}

func TestDebtRepayment(t *testing.T) {
	h, st, _ := newHarness(t, true)
	ctx := context.Background()
	fail := model.EvaluationRun{Results: []model.EvaluationResult{
		{TaskID: "a", Weight: 3, Passed: false},
		{TaskID: "b", Weight: 1, Passed: true},
	}}
	d, err := h.accrueDebt(ctx, tenant, fail)
	require.NoError(t, err)
	require.Equal(t, 3, d.Points)
	require.Equal(t, model.DebtWarning, d.Status)
	require.Equal(t, []string{"a"}, d.Outstanding)

	pass := model.EvaluationRun{Results: []model.EvaluationResult{
		{TaskID: "a", Weight: 3, Passed: true},
	}}
	d, err = h.accrueDebt(ctx, tenant, pass)
	require.NoError(t, err)
	require.Equal(t, 0, d.Points)
	require.Empty(t, d.Outstanding)
	require.Equal(t, model.DebtOK, d.Status)

	stored, _, _ := st.FailureDebt.Get(ctx, tenant, model.FailureDebtID)
	require.Equal(t, d.Points, stored.Points)
}

func TestRotationCyclesNonSafetyTasks(t *testing.T) {
	st := store.NewMemory()
	th := DefaultThresholds()
	th.RotationSize = 2
	h, err := New(Config{Store: st, Clock: clock.Fake(epoch), Thresholds: th, Owner: "test"})
	require.NoError(t, err)

	rot, err := h.Rotate(context.Background(), tenant)
	require.NoError(t, err)
	safety := 0
	for _, id := range rot.TaskIDs {
		task, ok := h.Battery().Task(id)
		require.True(t, ok)
		if task.Category == "safety" {
			safety++
		}
	}
	require.Equal(t, len(rot.TaskIDs)-2, safety)
}

func TestDebtStatusThresholds(t *testing.T) {
	th := DefaultThresholds()
	require.Equal(t, model.DebtOK, th.Status(2))
	require.Equal(t, model.DebtWarning, th.Status(3))
	require.Equal(t, model.DebtBlocking, th.Status(6))
	require.Equal(t, model.DebtEscalated, th.Status(12))
}
