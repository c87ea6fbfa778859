// Package referee settles disagreements between agents that proposed
// different actions for the same decision, and learns from each outcome.
package referee

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

var (
	ErrTooFewProposals      = errors.New("at least two proposals are required")
	ErrDuplicateProposal    = errors.New("duplicate proposal id")
	ErrDisagreementNotFound = errors.New("disagreement not found")
	ErrProposalNotFound     = errors.New("proposal not part of disagreement")
)

// Neutral metric values for agent pairs with no history.
const (
	neutralTrust    = 0.5
	neutralDeadlock = 0.0
)

// Thresholds tune arbitration.
type Thresholds struct {
	MinTrustIndex float64 `yaml:"min_trust_index"`
	MinScore      float64 `yaml:"min_score"`
	MergeMargin   float64 `yaml:"merge_margin"`
	ReviewBelow   float64 `yaml:"review_below"`
}

// DefaultThresholds returns the arbitration thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{MinTrustIndex: 0.35, MinScore: 0.5, MergeMargin: 0.1, ReviewBelow: 0.6}
}

// Resolution is the referee's answer for one disagreement.
type Resolution struct {
	Record model.DisagreementRecord `json:"record"`
	Scores map[string]float64       `json:"scores"`
}

// Selected reports whether proposalID survived arbitration.
func (r Resolution) Selected(proposalID string) bool {
	return r.Record.Resolution != model.ResolveEscalate && model.Lists(r.Record.SelectedProposalIDs, proposalID)
}

// Config configures a Referee.
type Config struct {
	Store      *store.Store
	Clock      clock.Clock
	Thresholds Thresholds
	Logger     *zap.Logger
}

// Referee arbitrates between competing proposals.
type Referee struct {
	store *store.Store
	clock clock.Clock
	th    Thresholds
	log   *zap.Logger
}

// New creates a Referee.
func New(cfg Config) *Referee {
	r := &Referee{store: cfg.Store, clock: clock.OrReal(cfg.Clock), th: cfg.Thresholds, log: cfg.Logger}
	if r.th == (Thresholds{}) {
		r.th = DefaultThresholds()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Resolve arbitrates proposals, stores the disagreement and feeds the outcome
// back into the pairwise cooperation metrics.
func (r *Referee) Resolve(ctx context.Context, identity, subject string, proposals []model.AgentProposal) (Resolution, error) {
	var res Resolution
	if len(proposals) < 2 {
		return res, ErrTooFewProposals
	}
	seen := make(map[string]bool, len(proposals))
	for _, p := range proposals {
		if err := p.Validate(); err != nil {
			return res, err
		}
		if seen[p.ID] {
			return res, fmt.Errorf("%w: %s", ErrDuplicateProposal, p.ID)
		}
		seen[p.ID] = true
	}

	metrics, err := r.loadMetrics(ctx, identity, agentPairs(proposals))
	if err != nil {
		return res, err
	}
	trustIndex := TrustIndex(metrics)

	scores := make(map[string]float64, len(proposals))
	ranked := make([]model.AgentProposal, len(proposals))
	copy(ranked, proposals)
	for _, p := range ranked {
		scores[p.ID] = Score(p)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i].ID] > scores[ranked[j].ID] })
	top, second := ranked[0], ranked[1]

	rec := model.DisagreementRecord{
		ID:         uuid.NewString(),
		Subject:    subject,
		Proposals:  proposals,
		TrustIndex: trustIndex,
		CreatedAt:  r.clock.Now(),
	}
	margin := scores[top.ID] - scores[second.ID]
	switch {
	case trustIndex < r.th.MinTrustIndex:
		r.escalate(&rec, fmt.Sprintf("trust index %.2f below %.2f", trustIndex, r.th.MinTrustIndex))
	case scores[top.ID] < r.th.MinScore:
		r.escalate(&rec, fmt.Sprintf("best score %.2f below %.2f", scores[top.ID], r.th.MinScore))
	case margin < r.th.MergeMargin && !strings.EqualFold(top.Action, second.Action):
		r.escalate(&rec, fmt.Sprintf("deadlock: %q and %q within %.2f", top.Action, second.Action, margin))
	case margin < r.th.MergeMargin:
		rec.Resolution = model.ResolveMerge
		rec.Outcome = model.OutcomeMerged
		for _, p := range ranked {
			if strings.EqualFold(p.Action, top.Action) {
				rec.SelectedProposalIDs = append(rec.SelectedProposalIDs, p.ID)
			}
		}
		rec.Confidence = clamp((scores[top.ID] + trustIndex) / 2)
		rec.Rationale = fmt.Sprintf("merged %d compatible proposals for %q", len(rec.SelectedProposalIDs), top.Action)
	default:
		rec.Resolution = model.ResolveSelect
		rec.Outcome = model.OutcomeSelected
		rec.SelectedProposalIDs = []string{top.ID}
		rec.Confidence = clamp((scores[top.ID] + trustIndex) / 2)
		rec.Rationale = fmt.Sprintf("selected %s by margin %.2f", top.ID, margin)
	}
	if rec.Resolution != model.ResolveEscalate {
		rec.RequiresHumanReview = rec.Confidence < r.th.ReviewBelow
	}

	if err := r.store.Disagreements.Append(ctx, identity, rec); err != nil {
		return res, fmt.Errorf("append disagreement: %w", err)
	}
	if err := r.Feedback(ctx, identity, rec.Proposals, rec.Outcome); err != nil {
		return res, err
	}
	r.log.Debug("disagreement resolved",
		zap.String("identity", identity),
		zap.String("id", rec.ID),
		zap.String("resolution", string(rec.Resolution)),
		zap.Float64("trust_index", trustIndex))
	return Resolution{Record: rec, Scores: scores}, nil
}

func (r *Referee) escalate(rec *model.DisagreementRecord, why string) {
	rec.Resolution = model.ResolveEscalate
	rec.Outcome = model.OutcomeEscalatedCoop
	rec.Confidence = clamp(rec.TrustIndex)
	rec.RequiresHumanReview = true
	rec.Rationale = why
}

// Force records a human choice on a stored disagreement.
func (r *Referee) Force(ctx context.Context, identity, disagreementID, proposalID, actor string) (model.DisagreementRecord, error) {
	rec, err := r.store.Disagreements.Update(ctx, identity, disagreementID, func(d *model.DisagreementRecord) error {
		found := false
		for _, p := range d.Proposals {
			if p.ID == proposalID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
		}
		d.Resolution = model.ResolveSelect
		d.Outcome = model.OutcomeForced
		d.SelectedProposalIDs = []string{proposalID}
		d.Confidence = 1
		d.RequiresHumanReview = false
		d.Rationale = fmt.Sprintf("forced by %s", actor)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrDisagreementNotFound, disagreementID)
	}
	if err != nil {
		return rec, err
	}
	if err := r.Feedback(ctx, identity, rec.Proposals, model.OutcomeForced); err != nil {
		return rec, err
	}
	return rec, nil
}

// Feedback moves every pair's metrics according to outcome.
func (r *Referee) Feedback(ctx context.Context, identity string, proposals []model.AgentProposal, outcome model.CooperationOutcome) error {
	dTrust, dDeadlock := adjustments(outcome)
	now := r.clock.Now()
	for _, pair := range agentPairs(proposals) {
		id := model.PairID(pair[0], pair[1])
		err := r.store.CooperationMetrics.Mutate(ctx, identity, id, func(m *model.CooperationMetric, exists bool) error {
			if !exists {
				a, b := sortedPair(pair)
				*m = model.CooperationMetric{ID: id, AgentA: a, AgentB: b, TrustScore: neutralTrust, DeadlockScore: neutralDeadlock}
			}
			m.TrustScore = clamp(m.TrustScore + dTrust)
			m.DeadlockScore = clamp(m.DeadlockScore + dDeadlock)
			m.Interactions++
			m.UpdatedAt = now
			return nil
		})
		if err != nil {
			return fmt.Errorf("update cooperation metric %s: %w", id, err)
		}
	}
	return nil
}

func adjustments(outcome model.CooperationOutcome) (trust, deadlock float64) {
	switch outcome {
	case model.OutcomeMerged:
		return 0.1, -0.1
	case model.OutcomeSelected:
		return 0.05, -0.05
	case model.OutcomeForced:
		return -0.05, 0.1
	case model.OutcomeEscalatedCoop:
		return -0.1, 0.2
	}
	return 0, 0
}

// loadMetrics fetches the metric of every pair concurrently.
func (r *Referee) loadMetrics(ctx context.Context, identity string, pairs [][2]string) ([]model.CooperationMetric, error) {
	var mu sync.Mutex
	out := make([]model.CooperationMetric, 0, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, pair := range pairs {
		g.Go(func() error {
			id := model.PairID(pair[0], pair[1])
			m, ok, err := r.store.CooperationMetrics.Get(gctx, identity, id)
			if err != nil {
				return fmt.Errorf("load cooperation metric %s: %w", id, err)
			}
			if !ok {
				a, b := sortedPair(pair)
				m = model.CooperationMetric{ID: id, AgentA: a, AgentB: b, TrustScore: neutralTrust, DeadlockScore: neutralDeadlock}
			}
			mu.Lock()
			out = append(out, m)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TrustIndex folds pairwise metrics into one number in [0,1]. Deadlocks
// weigh half as much as trust. No pairs means neutral trust.
func TrustIndex(metrics []model.CooperationMetric) float64 {
	if len(metrics) == 0 {
		return neutralTrust
	}
	var sum float64
	for _, m := range metrics {
		sum += m.TrustScore - m.DeadlockScore/2
	}
	return clamp(sum / float64(len(metrics)))
}

// Score ranks a proposal by confidence discounted by its impact.
func Score(p model.AgentProposal) float64 {
	penalty := map[model.ActionImpact]float64{
		model.ImpactReversible:   0,
		model.ImpactDifficult:    0.15,
		model.ImpactIrreversible: 0.35,
	}[p.Impact]
	return clamp(p.Confidence * (1 - penalty))
}

// agentPairs lists each unordered pair of distinct proposing agents once.
func agentPairs(proposals []model.AgentProposal) [][2]string {
	var agents []string
	seen := map[string]bool{}
	for _, p := range proposals {
		if !seen[p.AgentID] {
			seen[p.AgentID] = true
			agents = append(agents, p.AgentID)
		}
	}
	sort.Strings(agents)
	var pairs [][2]string
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			pairs = append(pairs, [2]string{agents[i], agents[j]})
		}
	}
	return pairs
}

func sortedPair(p [2]string) (string, string) {
	if p[0] <= p[1] {
		return p[0], p[1]
	}
	return p[1], p[0]
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
