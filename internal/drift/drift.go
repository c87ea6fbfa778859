// Package drift measures how far recent governance outcomes have moved away
// from the declared value anchor and turns that into gate signals.
package drift

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// Thresholds map a distance to a severity. A distance at or above a
// threshold reaches that severity.
type Thresholds struct {
	Low         float64 `yaml:"low"`
	Medium      float64 `yaml:"medium"`
	High        float64 `yaml:"high"`
	Window      int     `yaml:"window"`
	MinSamples  int     `yaml:"min_samples"`
	FreezeHours int     `yaml:"freeze_hours"`
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 0.1, Medium: 0.2, High: 0.35, Window: 50, MinSamples: 10, FreezeHours: 24}
}

// Severity classifies a distance.
func (t Thresholds) Severity(distance float64) model.DriftSeverity {
	switch {
	case distance >= t.High:
		return model.DriftHigh
	case distance >= t.Medium:
		return model.DriftMedium
	case distance >= t.Low:
		return model.DriftLow
	}
	return model.DriftNone
}

// Gate is the drift signal consumed by the pipeline.
type Gate struct {
	Severity              model.DriftSeverity `json:"severity"`
	Freeze                bool                `json:"freeze"`
	Throttle              bool                `json:"throttle"`
	RequiresReaffirmation bool                `json:"requiresReaffirmation"`
	AnchorMissing         bool                `json:"anchorMissing,omitempty"`
	FreezeID              string              `json:"freezeId,omitempty"`
	Report                *model.DriftReport  `json:"report,omitempty"`
}

// Config configures an Evaluator.
type Config struct {
	Store      *store.Store
	Clock      clock.Clock
	Thresholds Thresholds
	Logger     *zap.Logger
}

// Evaluator computes drift gates.
type Evaluator struct {
	store *store.Store
	clock clock.Clock
	th    Thresholds
	log   *zap.Logger
}

// NewEvaluator creates an Evaluator. Zero thresholds fall back to defaults.
func NewEvaluator(cfg Config) *Evaluator {
	e := &Evaluator{store: cfg.Store, clock: clock.OrReal(cfg.Clock), th: cfg.Thresholds, log: cfg.Logger}
	if e.th == (Thresholds{}) {
		e.th = DefaultThresholds()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Evaluate compares decisions logged since the last reaffirmation against
// the anchor baseline. A DriftReport is appended when the severity, the
// reaffirmation flag or the anchor version differs from the last one stored.
//
// High severity opens a drift freeze lasting FreezeHours. The freeze expires
// on its own or when values are reaffirmed.
func (e *Evaluator) Evaluate(ctx context.Context, identity string) (Gate, error) {
	now := e.clock.Now()
	var gate Gate

	freezes, err := e.store.Freezes.Load(ctx, identity)
	if err != nil {
		return gate, fmt.Errorf("load freezes: %w", err)
	}
	for _, f := range freezes {
		if f.Kind == model.FreezeDrift && f.Active(now) {
			gate.Freeze = true
			gate.FreezeID = f.ID
			break
		}
	}

	anchor, ok, err := e.store.ValueAnchors.Get(ctx, identity, model.ValueAnchorID)
	if err != nil {
		return gate, fmt.Errorf("load value anchor: %w", err)
	}
	if !ok {
		gate.Severity = model.DriftNone
		gate.AnchorMissing = true
		return gate, nil
	}

	log, err := e.store.DecisionLog.Load(ctx, identity)
	if err != nil {
		return gate, fmt.Errorf("load decision log: %w", err)
	}
	window := recentWindow(log, anchor.ReaffirmedAt, e.th.Window)

	report := model.DriftReport{
		ID:            uuid.NewString(),
		Severity:      model.DriftNone,
		Baseline:      anchor.Baseline,
		SampleSize:    len(window),
		WindowEnd:     now,
		AnchorVersion: anchor.Version,
		CreatedAt:     now,
	}
	if len(window) > 0 {
		report.WindowStart = window[0].CreatedAt
	}
	if len(window) >= e.th.MinSamples && len(window) > 0 {
		recent, reviewRate := Distribution(window)
		report.Recent = recent
		report.Distance = TotalVariation(anchor.Baseline, recent)
		report.ReviewRateDelta = math.Abs(reviewRate - anchor.BaselineReviewRate)
		report.Severity = e.th.Severity(math.Max(report.Distance, report.ReviewRateDelta))
	}
	report.RequiresReaffirmation = anchor.ReaffirmationDue(now) || report.Severity.AtOrAbove(model.DriftMedium)

	changed, err := e.changed(ctx, identity, report)
	if err != nil {
		return gate, err
	}
	if changed {
		if err := e.store.DriftReports.Append(ctx, identity, report); err != nil {
			return gate, fmt.Errorf("append drift report: %w", err)
		}
	}

	gate.Severity = report.Severity
	gate.RequiresReaffirmation = report.RequiresReaffirmation
	gate.Throttle = report.Severity == model.DriftMedium
	gate.Report = &report

	if report.Severity == model.DriftHigh && !gate.Freeze {
		id, err := e.openFreeze(ctx, identity, report, now)
		if err != nil {
			return gate, err
		}
		gate.Freeze = true
		gate.FreezeID = id
	}
	return gate, nil
}

func (e *Evaluator) changed(ctx context.Context, identity string, report model.DriftReport) (bool, error) {
	reports, err := e.store.DriftReports.Load(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("load drift reports: %w", err)
	}
	if len(reports) == 0 {
		return true, nil
	}
	last := reports[0]
	for _, r := range reports[1:] {
		if !r.CreatedAt.Before(last.CreatedAt) {
			last = r
		}
	}
	return last.Severity != report.Severity ||
		last.RequiresReaffirmation != report.RequiresReaffirmation ||
		last.AnchorVersion != report.AnchorVersion, nil
}

func (e *Evaluator) openFreeze(ctx context.Context, identity string, report model.DriftReport, now time.Time) (string, error) {
	f := model.BehaviorFreeze{
		ID:        uuid.NewString(),
		Kind:      model.FreezeDrift,
		Reason:    fmt.Sprintf("drift distance %.3f over %d decisions", report.Distance, report.SampleSize),
		CreatedBy: "drift",
		CreatedAt: now,
	}
	if e.th.FreezeHours > 0 {
		until := now.Add(time.Duration(e.th.FreezeHours) * time.Hour)
		f.ExpiresAt = &until
	}
	if err := e.store.Freezes.Append(ctx, identity, f); err != nil {
		return "", fmt.Errorf("open drift freeze: %w", err)
	}
	e.log.Warn("drift freeze opened",
		zap.String("identity", identity),
		zap.Float64("distance", report.Distance),
		zap.String("freeze", f.ID))
	return f.ID, nil
}

// recentWindow returns up to n entries created after since, oldest first.
func recentWindow(log []model.DecisionLogEntry, since time.Time, n int) []model.DecisionLogEntry {
	out := make([]model.DecisionLogEntry, 0, len(log))
	for _, e := range log {
		if e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Distribution returns the outcome distribution and review rate of entries.
func Distribution(entries []model.DecisionLogEntry) (map[string]float64, float64) {
	dist := make(map[string]float64, len(model.Outcomes))
	for _, o := range model.Outcomes {
		dist[o] = 0
	}
	if len(entries) == 0 {
		return dist, 0
	}
	var review int
	for _, e := range entries {
		dist[e.Outcome]++
		if e.RequiresHumanReview {
			review++
		}
	}
	n := float64(len(entries))
	for k := range dist {
		dist[k] /= n
	}
	return dist, float64(review) / n
}

// TotalVariation is half the L1 distance between two outcome distributions.
// Missing buckets count as zero.
func TotalVariation(p, q map[string]float64) float64 {
	var sum float64
	for _, o := range model.Outcomes {
		sum += math.Abs(p[o] - q[o])
	}
	return math.Min(sum/2, 1)
}
