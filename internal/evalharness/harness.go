package evalharness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
	"github.com/ppiankov/agentgov/internal/trust"
)

var (
	ErrUnknownTask        = errors.New("unknown evaluation task")
	ErrFirstRunInProgress = errors.New("first evaluation run in progress")
	ErrRotationInProgress = errors.New("evaluation rotation refresh in progress")
)

// Thresholds configure the guard and failure debt accounting.
type Thresholds struct {
	MinPassRate         float64 `yaml:"min_pass_rate"`
	MaxRegression       float64 `yaml:"max_regression"`
	RotationMaxAgeHours int     `yaml:"rotation_max_age_hours"`
	RotationSize        int     `yaml:"rotation_size"`
	BaselineWindow      int     `yaml:"baseline_window"`
	WarningPoints       int     `yaml:"warning_points"`
	BlockingPoints      int     `yaml:"blocking_points"`
	EscalatedPoints     int     `yaml:"escalated_points"`
	RepayPerCleanRun    int     `yaml:"repay_per_clean_run"`
	ClaimTTLMinutes     int     `yaml:"claim_ttl_minutes"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinPassRate:         0.85,
		MaxRegression:       0.1,
		RotationMaxAgeHours: 168,
		BaselineWindow:      10,
		WarningPoints:       3,
		BlockingPoints:      6,
		EscalatedPoints:     12,
		RepayPerCleanRun:    2,
		ClaimTTLMinutes:     10,
	}
}

// Status maps debt points to a status.
func (t Thresholds) Status(points int) model.DebtStatus {
	switch {
	case t.EscalatedPoints > 0 && points >= t.EscalatedPoints:
		return model.DebtEscalated
	case t.BlockingPoints > 0 && points >= t.BlockingPoints:
		return model.DebtBlocking
	case t.WarningPoints > 0 && points >= t.WarningPoints:
		return model.DebtWarning
	}
	return model.DebtOK
}

// Verdict is the harness gate for one request.
type Verdict struct {
	Passed              bool             `json:"passed"`
	Reason              string           `json:"reason,omitempty"`
	Detail              string           `json:"detail,omitempty"`
	RequiresHumanReview bool             `json:"requiresHumanReview"`
	RunID               string           `json:"runId,omitempty"`
	RotationID          string           `json:"rotationId,omitempty"`
	PassRate            float64          `json:"passRate"`
	Baseline            float64          `json:"baseline"`
	Debt                model.DebtStatus `json:"debt"`
	DebtPoints          int              `json:"debtPoints"`
}

// Config configures a Harness.
type Config struct {
	Store      *store.Store
	Clock      clock.Clock
	Logger     *zap.Logger
	Battery    *Battery // defaults to the embedded governance battery
	Thresholds Thresholds
	Trust      trust.Thresholds
	Owner      string // recorded on first-run claims; defaults to host:pid
}

// Harness runs the battery and gates requests on its results.
type Harness struct {
	store   *store.Store
	clock   clock.Clock
	log     *zap.Logger
	battery *Battery
	th      Thresholds
	trust   trust.Thresholds
	owner   string
	group   singleflight.Group
}

// New creates a Harness.
func New(cfg Config) (*Harness, error) {
	h := &Harness{
		store:   cfg.Store,
		clock:   clock.OrReal(cfg.Clock),
		log:     cfg.Logger,
		battery: cfg.Battery,
		th:      cfg.Thresholds,
		trust:   cfg.Trust,
		owner:   cfg.Owner,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.th == (Thresholds{}) {
		h.th = DefaultThresholds()
	}
	if h.trust == (trust.Thresholds{}) {
		h.trust = trust.DefaultThresholds()
	}
	if h.owner == "" {
		host, _ := os.Hostname()
		h.owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if h.battery == nil {
		b, err := DefaultBattery()
		if err != nil {
			return nil, err
		}
		h.battery = b
	}
	return h, nil
}

// Battery returns the battery the harness runs.
func (h *Harness) Battery() *Battery { return h.battery }

// Run executes taskIDs, or the active rotation when taskIDs is empty, then
// stores the run and updates failure debt.
func (h *Harness) Run(ctx context.Context, identity string, taskIDs []string) (model.EvaluationRun, error) {
	var run model.EvaluationRun
	rotationID := model.OverrideRotationID
	if len(taskIDs) == 0 {
		rot, err := h.activeRotation(ctx, identity)
		if err != nil {
			return run, err
		}
		taskIDs, rotationID = rot.TaskIDs, rot.RotationID
	}
	tasks := make([]Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		t, ok := h.battery.Task(id)
		if !ok {
			return run, fmt.Errorf("%w: %s", ErrUnknownTask, id)
		}
		tasks = append(tasks, t)
	}

	policies, err := h.store.Roles.Load(ctx, identity)
	if err != nil {
		return run, fmt.Errorf("load roles: %w", err)
	}
	r, err := newRunner(ctx, policies, h.trust, h.clock)
	if err != nil {
		return run, err
	}

	run = model.EvaluationRun{ID: uuid.NewString(), RotationID: rotationID, Total: len(tasks), StartedAt: h.clock.Now()}
	for _, t := range tasks {
		res := r.run(ctx, t)
		if res.Passed {
			run.Passed++
		}
		run.Results = append(run.Results, res)
	}
	if run.Total > 0 {
		run.PassRate = float64(run.Passed) / float64(run.Total)
	}
	run.CompletedAt = h.clock.Now()

	prior, err := h.store.EvaluationRuns.Load(ctx, identity)
	if err != nil {
		return run, fmt.Errorf("load evaluation runs: %w", err)
	}
	run.Baseline = baseline(prior, h.th.BaselineWindow, run.PassRate)

	if err := h.store.EvaluationRuns.Append(ctx, identity, run); err != nil {
		return run, fmt.Errorf("append evaluation run: %w", err)
	}
	if _, err := h.accrueDebt(ctx, identity, run); err != nil {
		return run, err
	}
	h.log.Info("evaluation run complete",
		zap.String("identity", identity),
		zap.String("run", run.ID),
		zap.Int("passed", run.Passed),
		zap.Int("total", run.Total))
	return run, nil
}

// baseline is the best pass rate over the last window rotation runs, or
// current when there is no history.
func baseline(prior []model.EvaluationRun, window int, current float64) float64 {
	prior = rotationRuns(prior)
	if len(prior) == 0 {
		return current
	}
	sortRuns(prior)
	if window > 0 && len(prior) > window {
		prior = prior[len(prior)-window:]
	}
	best := 0.0
	for _, r := range prior {
		if r.PassRate > best {
			best = r.PassRate
		}
	}
	return best
}

func rotationRuns(runs []model.EvaluationRun) []model.EvaluationRun {
	out := make([]model.EvaluationRun, 0, len(runs))
	for _, r := range runs {
		if !r.Override() {
			out = append(out, r)
		}
	}
	return out
}

func sortRuns(runs []model.EvaluationRun) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CompletedAt.Before(runs[j].CompletedAt) })
}

// accrueDebt adds the weight of each failure and repays the weight of each
// outstanding task that now passes. A clean rotation run also repays a fixed
// amount; override runs only repay the tasks they re-ran.
func (h *Harness) accrueDebt(ctx context.Context, identity string, run model.EvaluationRun) (model.FailureDebt, error) {
	var out model.FailureDebt
	err := h.store.FailureDebt.Mutate(ctx, identity, model.FailureDebtID, func(d *model.FailureDebt, exists bool) error {
		if !exists {
			*d = model.FailureDebt{ID: model.FailureDebtID, Status: model.DebtOK}
		}
		failures := 0
		for _, res := range run.Results {
			outstanding := model.Lists(d.Outstanding, res.TaskID)
			switch {
			case !res.Passed:
				failures++
				d.Points += res.Weight
				if !outstanding {
					d.Outstanding = append(d.Outstanding, res.TaskID)
				}
			case outstanding:
				d.Points -= res.Weight
				d.Outstanding = remove(d.Outstanding, res.TaskID)
			}
		}
		if failures == 0 && !run.Override() {
			d.Points -= h.th.RepayPerCleanRun
		}
		if d.Points < 0 {
			d.Points = 0
		}
		d.Status = h.th.Status(d.Points)
		d.UpdatedAt = h.clock.Now()
		out = *d
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("update failure debt: %w", err)
	}
	return out, nil
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// activeRotation returns the stored rotation, starting a new one when none
// exists or the stored one is stale.
func (h *Harness) activeRotation(ctx context.Context, identity string) (model.EvaluationRotation, error) {
	rot, ok, err := h.store.Rotations.Get(ctx, identity, model.EvaluationRotationID)
	if err != nil {
		return rot, fmt.Errorf("load rotation: %w", err)
	}
	if ok && !h.stale(rot) {
		return rot, nil
	}
	return h.Rotate(ctx, identity)
}

func (h *Harness) stale(rot model.EvaluationRotation) bool {
	if h.th.RotationMaxAgeHours <= 0 {
		return false
	}
	return h.clock.Now().Sub(rot.StartedAt) > time.Duration(h.th.RotationMaxAgeHours)*time.Hour
}

// Rotate starts a new rotation. Safety tasks are always included; the rest
// of the battery is cycled through RotationSize tasks at a time.
func (h *Harness) Rotate(ctx context.Context, identity string) (model.EvaluationRotation, error) {
	runs, err := h.store.EvaluationRuns.Load(ctx, identity)
	if err != nil {
		return model.EvaluationRotation{}, fmt.Errorf("load evaluation runs: %w", err)
	}
	var safety, rest []string
	for _, id := range h.battery.IDs() {
		t, _ := h.battery.Task(id)
		if t.Category == "safety" {
			safety = append(safety, id)
		} else {
			rest = append(rest, id)
		}
	}
	ids := safety
	size := h.th.RotationSize
	if size <= 0 || size >= len(rest) {
		ids = append(ids, rest...)
	} else {
		offset := (len(runs) * size) % len(rest)
		for i := 0; i < size; i++ {
			ids = append(ids, rest[(offset+i)%len(rest)])
		}
	}
	rot := model.EvaluationRotation{
		ID:         model.EvaluationRotationID,
		RotationID: uuid.NewString(),
		TaskIDs:    ids,
		StartedAt:  h.clock.Now(),
	}
	if err := h.store.Rotations.Upsert(ctx, identity, rot); err != nil {
		return rot, fmt.Errorf("store rotation: %w", err)
	}
	return rot, nil
}

// Guard gates a request on the harness. The first call for an identity runs
// the battery once: concurrent callers in this process share one run and
// other processes are excluded by a claim record. A stale rotation is
// replaced and re-run the same way. overrides, when set, are validated
// against the battery and run together with every safety task in place of
// the rotation; the override run gates only this request.
//
// Checks in order: rotation validity, pass rate, failure debt, regression.
func (h *Harness) Guard(ctx context.Context, identity string, overrides []string) (Verdict, error) {
	var v Verdict

	var latest model.EvaluationRun
	if len(overrides) > 0 {
		for _, id := range overrides {
			if _, ok := h.battery.Task(id); !ok {
				v.Reason = model.ReasonEvaluationRotationInvalid
				v.Detail = fmt.Sprintf("unknown evaluation task %q", id)
				v.RequiresHumanReview = true
				return v, nil
			}
		}
		run, err := h.runShared(ctx, identity, h.withSafety(overrides))
		if err != nil {
			return v, err
		}
		latest = run
	} else {
		run, err := h.ensureFirstRun(ctx, identity)
		if errors.Is(err, ErrFirstRunInProgress) {
			v.Reason = model.ReasonEvaluationPassRate
			v.Detail = err.Error()
			v.RequiresHumanReview = true
			return v, nil
		}
		if err != nil {
			return v, err
		}
		latest = run

		rot, ok, err := h.store.Rotations.Get(ctx, identity, model.EvaluationRotationID)
		if err != nil {
			return v, fmt.Errorf("load rotation: %w", err)
		}
		if !ok || h.stale(rot) {
			run, err := h.refresh(ctx, identity)
			if errors.Is(err, ErrRotationInProgress) {
				v.Reason = model.ReasonEvaluationRotationInvalid
				v.Detail = err.Error()
				v.RequiresHumanReview = true
				return v, nil
			}
			if err != nil {
				return v, err
			}
			latest = run
			if rot, _, err = h.store.Rotations.Get(ctx, identity, model.EvaluationRotationID); err != nil {
				return v, fmt.Errorf("load rotation: %w", err)
			}
		}
		v.RotationID = rot.RotationID
	}

	v.RunID = latest.ID
	v.PassRate = latest.PassRate
	v.Baseline = latest.Baseline

	debt, _, err := h.store.FailureDebt.Get(ctx, identity, model.FailureDebtID)
	if err != nil {
		return v, fmt.Errorf("load failure debt: %w", err)
	}
	if debt.Status == "" {
		debt.Status = model.DebtOK
	}
	v.Debt = debt.Status
	v.DebtPoints = debt.Points

	switch {
	case latest.PassRate < h.th.MinPassRate:
		v.Reason = model.ReasonEvaluationPassRate
		v.Detail = fmt.Sprintf("pass rate %.2f below %.2f", latest.PassRate, h.th.MinPassRate)
	case debt.Status.Blocks():
		v.Reason = model.ReasonEvaluationFailureDebt
		v.Detail = fmt.Sprintf("failure debt %d points (%s): %s", debt.Points, debt.Status, strings.Join(debt.Outstanding, ", "))
	case latest.Baseline-latest.PassRate > h.th.MaxRegression:
		v.Reason = model.ReasonEvaluationRegression
		v.Detail = fmt.Sprintf("pass rate %.2f regressed from baseline %.2f", latest.PassRate, latest.Baseline)
	default:
		v.Passed = true
		v.RequiresHumanReview = debt.Status == model.DebtWarning
		return v, nil
	}
	v.RequiresHumanReview = true
	return v, nil
}

// withSafety returns ids plus every safety task of the battery, deduplicated.
func (h *Harness) withSafety(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range h.battery.IDs() {
		if t, _ := h.battery.Task(id); t.Category == "safety" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// refresh starts a new rotation and runs it. Callers in this process share
// one refresh; another process holding a live claim makes this one wait.
func (h *Harness) refresh(ctx context.Context, identity string) (model.EvaluationRun, error) {
	res, err, _ := h.group.Do(identity+"|rotate", func() (any, error) {
		rot, ok, err := h.store.Rotations.Get(ctx, identity, model.EvaluationRotationID)
		if err != nil {
			return nil, fmt.Errorf("load rotation: %w", err)
		}
		if ok && !h.stale(rot) {
			run, _, err := h.latest(ctx, identity)
			return run, err
		}
		if err := h.claim(ctx, identity); err != nil {
			if errors.Is(err, ErrFirstRunInProgress) {
				return nil, ErrRotationInProgress
			}
			return nil, err
		}
		h.log.Info("evaluation rotation stale, starting a new one", zap.String("identity", identity))
		return h.Run(ctx, identity, nil)
	})
	if err != nil {
		return model.EvaluationRun{}, err
	}
	return res.(model.EvaluationRun), nil
}

// runShared coalesces identical concurrent override runs.
func (h *Harness) runShared(ctx context.Context, identity string, taskIDs []string) (model.EvaluationRun, error) {
	ids := append([]string(nil), taskIDs...)
	sort.Strings(ids)
	key := identity + "|" + strings.Join(ids, ",")
	res, err, _ := h.group.Do(key, func() (any, error) {
		return h.Run(ctx, identity, ids)
	})
	if err != nil {
		return model.EvaluationRun{}, err
	}
	return res.(model.EvaluationRun), nil
}

// ensureFirstRun returns the latest rotation run, running the battery first
// when the identity has none.
func (h *Harness) ensureFirstRun(ctx context.Context, identity string) (model.EvaluationRun, error) {
	if run, ok, err := h.latest(ctx, identity); err != nil || ok {
		return run, err
	}
	res, err, _ := h.group.Do(identity, func() (any, error) {
		if run, ok, err := h.latest(ctx, identity); err != nil || ok {
			return run, err
		}
		if err := h.claim(ctx, identity); err != nil {
			return nil, err
		}
		return h.Run(ctx, identity, nil)
	})
	if err != nil {
		return model.EvaluationRun{}, err
	}
	return res.(model.EvaluationRun), nil
}

// claim takes the run claim for identity, used for the first run and for
// rotation refreshes. A claim older than the TTL belongs to a run that never
// finished, or finished long ago, and is taken over.
func (h *Harness) claim(ctx context.Context, identity string) error {
	now := h.clock.Now()
	c := model.EvaluationClaim{ID: model.EvaluationClaimID, Owner: h.owner, ClaimedAt: now}
	inserted, err := h.store.EvaluationClaims.InsertIfAbsent(ctx, identity, c)
	if err != nil {
		return fmt.Errorf("claim first run: %w", err)
	}
	if inserted {
		return nil
	}
	ttl := time.Duration(h.th.ClaimTTLMinutes) * time.Minute
	takenOver := false
	_, err = h.store.EvaluationClaims.Update(ctx, identity, model.EvaluationClaimID, func(existing *model.EvaluationClaim) error {
		takenOver = false
		if existing.Owner != h.owner && (ttl <= 0 || now.Sub(existing.ClaimedAt) < ttl) {
			return nil
		}
		*existing = c
		takenOver = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("claim first run: %w", err)
	}
	if !takenOver {
		return ErrFirstRunInProgress
	}
	h.log.Warn("took over stale evaluation claim", zap.String("identity", identity))
	return nil
}

func (h *Harness) latest(ctx context.Context, identity string) (model.EvaluationRun, bool, error) {
	runs, err := h.store.EvaluationRuns.Load(ctx, identity)
	if err != nil {
		return model.EvaluationRun{}, false, fmt.Errorf("load evaluation runs: %w", err)
	}
	runs = rotationRuns(runs)
	if len(runs) == 0 {
		return model.EvaluationRun{}, false, nil
	}
	sortRuns(runs)
	return runs[len(runs)-1], true, nil
}
