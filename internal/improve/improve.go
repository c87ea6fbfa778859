// Package improve turns evaluation failures and repeated denials into
// improvement candidates and distilled rules that wait for a human.
package improve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
	"github.com/ppiankov/agentgov/internal/trust"
)

var (
	ErrCandidateNotFound   = errors.New("candidate not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrExplanationRequired = errors.New("a justification note is required when the causal chain needs human review")
	ErrCandidateClosed     = errors.New("candidate is not open for this decision")
)

// Candidate kinds.
const (
	KindBatteryFailure = "battery_failure"
	KindManual         = "manual"
)

// Defaults used when Config leaves them unset.
const (
	DefaultCooldown       = 24 * time.Hour
	DefaultMinOccurrences = 3
	maxEvidence           = 5
)

// Config configures a Loop.
type Config struct {
	Store          *store.Store
	Clock          clock.Clock
	Logger         *zap.Logger
	Trust          *trust.Tracker
	Cooldown       time.Duration
	MinOccurrences int
}

// Loop owns the improvement candidate and distilled rule lifecycles.
type Loop struct {
	store    *store.Store
	clock    clock.Clock
	log      *zap.Logger
	trust    *trust.Tracker
	cooldown time.Duration
	minOcc   int
}

// New creates a Loop.
func New(cfg Config) *Loop {
	l := &Loop{
		store:    cfg.Store,
		clock:    clock.OrReal(cfg.Clock),
		log:      cfg.Logger,
		trust:    cfg.Trust,
		cooldown: cfg.Cooldown,
		minOcc:   cfg.MinOccurrences,
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.trust == nil {
		l.trust = trust.NewTracker(cfg.Store, l.clock)
	}
	if l.cooldown <= 0 {
		l.cooldown = DefaultCooldown
	}
	if l.minOcc <= 0 {
		l.minOcc = DefaultMinOccurrences
	}
	return l
}

// Proposal is the input to Propose.
type Proposal struct {
	Target      string
	Kind        string
	Description string
	AgentID     string
	SourceRunID string
}

// Propose records a candidate for p.Target. An open candidate for the same
// target suppresses a new one; an active cooldown records it as skipped.
// The bool reports whether a record was written.
func (l *Loop) Propose(ctx context.Context, identity string, p Proposal) (model.ImprovementCandidate, bool, error) {
	var c model.ImprovementCandidate
	if strings.TrimSpace(p.Target) == "" {
		return c, false, fmt.Errorf("propose candidate: target required")
	}
	existing, err := l.store.Candidates.Load(ctx, identity)
	if err != nil {
		return c, false, fmt.Errorf("load candidates: %w", err)
	}
	now := l.clock.Now()
	var cooldownUntil *time.Time
	for _, e := range existing {
		if e.Target != p.Target {
			continue
		}
		if e.Status == model.CandidateProposed {
			return e, false, nil
		}
		if e.CooldownUntil != nil && now.Before(*e.CooldownUntil) {
			if cooldownUntil == nil || e.CooldownUntil.After(*cooldownUntil) {
				cooldownUntil = e.CooldownUntil
			}
		}
	}

	kind := p.Kind
	if kind == "" {
		kind = KindManual
	}
	c = model.ImprovementCandidate{
		ID:          uuid.NewString(),
		Target:      p.Target,
		AgentID:     p.AgentID,
		Kind:        kind,
		Description: p.Description,
		Status:      model.CandidateProposed,
		SourceRunID: p.SourceRunID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cooldownUntil != nil {
		c.Status = model.CandidateSkipped
		c.DecisionNote = "cooldown active until " + cooldownUntil.Format(time.RFC3339)
		c.CooldownUntil = cooldownUntil
	}
	if err := l.store.Candidates.Append(ctx, identity, c); err != nil {
		return c, false, fmt.Errorf("append candidate: %w", err)
	}
	l.log.Info("improvement candidate recorded",
		zap.String("identity", identity),
		zap.String("target", c.Target),
		zap.String("status", string(c.Status)))
	return c, true, nil
}

// ProposeFromEvaluation records one candidate per failed battery task in run.
func (l *Loop) ProposeFromEvaluation(ctx context.Context, identity string, run model.EvaluationRun) ([]model.ImprovementCandidate, error) {
	var out []model.ImprovementCandidate
	for _, res := range run.Failed() {
		c, written, err := l.Propose(ctx, identity, Proposal{
			Target:      batteryTarget(res.TaskID),
			Kind:        KindBatteryFailure,
			Description: fmt.Sprintf("%s task %s failed: %s", res.Category, res.TaskID, res.Detail),
			SourceRunID: run.ID,
		})
		if err != nil {
			return out, err
		}
		if written {
			out = append(out, c)
		}
	}
	return out, nil
}

func batteryTarget(taskID string) string { return "battery:" + taskID }

// Apply builds a causal chain for the candidate and applies it. When no
// explanation can be built the chain is stored with explanation_failed and
// the candidate stays proposed unless note is non-empty.
func (l *Loop) Apply(ctx context.Context, identity, candidateID, actor, note string) (model.CausalChainRecord, error) {
	c, err := l.open(ctx, identity, candidateID)
	if err != nil {
		return model.CausalChainRecord{}, err
	}
	chain, err := l.buildChain(ctx, identity, c)
	if err != nil {
		return chain, err
	}
	if err := l.store.CausalChains.Append(ctx, identity, chain); err != nil {
		return chain, fmt.Errorf("append causal chain: %w", err)
	}
	if chain.RequiresHumanReview && strings.TrimSpace(note) == "" {
		return chain, ErrExplanationRequired
	}
	_, err = l.decide(ctx, identity, candidateID, model.CandidateApplied, actor, note, nil)
	return chain, err
}

// Reject closes a proposed candidate and starts the target's cooldown.
func (l *Loop) Reject(ctx context.Context, identity, candidateID, actor, note string) (model.ImprovementCandidate, error) {
	if _, err := l.open(ctx, identity, candidateID); err != nil {
		return model.ImprovementCandidate{}, err
	}
	until := l.clock.Now().Add(l.cooldown)
	return l.decide(ctx, identity, candidateID, model.CandidateRejected, actor, note, &until)
}

// Rollback reverts an applied candidate, starts the cooldown and counts a
// rollback against the candidate's agent.
func (l *Loop) Rollback(ctx context.Context, identity, candidateID, actor, note string) (model.ImprovementCandidate, error) {
	c, found, err := l.store.Candidates.Get(ctx, identity, candidateID)
	if err != nil {
		return c, fmt.Errorf("load candidate: %w", err)
	}
	if !found {
		return c, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
	}
	if c.Status != model.CandidateApplied {
		return c, fmt.Errorf("%w: %s is %s", ErrCandidateClosed, candidateID, c.Status)
	}
	until := l.clock.Now().Add(l.cooldown)
	c, err = l.decide(ctx, identity, candidateID, model.CandidateRolledBack, actor, note, &until)
	if err != nil {
		return c, err
	}
	if c.AgentID != "" {
		if _, err := l.trust.RecordRollback(ctx, identity, c.AgentID, model.TierSuggest); err != nil {
			return c, err
		}
	}
	return c, nil
}

// LatestChain returns the most recent causal chain for a candidate.
func (l *Loop) LatestChain(ctx context.Context, identity, candidateID string) (model.CausalChainRecord, bool, error) {
	chains, err := l.store.CausalChains.Load(ctx, identity)
	if err != nil {
		return model.CausalChainRecord{}, false, fmt.Errorf("load causal chains: %w", err)
	}
	var latest model.CausalChainRecord
	var found bool
	for _, ch := range chains {
		if ch.CandidateID != candidateID {
			continue
		}
		if !found || !ch.CreatedAt.Before(latest.CreatedAt) {
			latest, found = ch, true
		}
	}
	return latest, found, nil
}

func (l *Loop) open(ctx context.Context, identity, candidateID string) (model.ImprovementCandidate, error) {
	c, found, err := l.store.Candidates.Get(ctx, identity, candidateID)
	if err != nil {
		return c, fmt.Errorf("load candidate: %w", err)
	}
	if !found {
		return c, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
	}
	if c.Status != model.CandidateProposed {
		return c, fmt.Errorf("%w: %s is %s", ErrCandidateClosed, candidateID, c.Status)
	}
	return c, nil
}

func (l *Loop) decide(ctx context.Context, identity, candidateID string, status model.CandidateStatus, actor, note string, cooldown *time.Time) (model.ImprovementCandidate, error) {
	now := l.clock.Now()
	c, err := l.store.Candidates.Update(ctx, identity, candidateID, func(c *model.ImprovementCandidate) error {
		c.Status = status
		c.DecidedBy = actor
		c.DecisionNote = note
		c.UpdatedAt = now
		if cooldown != nil {
			c.CooldownUntil = cooldown
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return c, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
	}
	if err != nil {
		return c, fmt.Errorf("update candidate: %w", err)
	}
	l.log.Info("improvement candidate decided",
		zap.String("identity", identity),
		zap.String("candidate", candidateID),
		zap.String("status", string(status)),
		zap.String("actor", actor))
	return c, nil
}

// buildChain explains a candidate from its source evaluation run. A
// candidate without a source run or failing result cannot be explained.
func (l *Loop) buildChain(ctx context.Context, identity string, c model.ImprovementCandidate) (model.CausalChainRecord, error) {
	chain := model.CausalChainRecord{
		ID:          uuid.NewString(),
		CandidateID: c.ID,
		CreatedAt:   l.clock.Now(),
		Alternatives: []string{
			"leave " + c.Target + " unchanged",
			"tighten escalation for " + c.Target + " instead",
		},
	}
	fail := func(why string) model.CausalChainRecord {
		chain.Status = model.ChainExplanationFailed
		chain.RequiresHumanReview = true
		chain.Explanation = why
		return chain
	}
	if c.SourceRunID == "" {
		return fail("candidate has no source evaluation run"), nil
	}
	run, found, err := l.store.EvaluationRuns.Get(ctx, identity, c.SourceRunID)
	if err != nil {
		return chain, fmt.Errorf("load evaluation run: %w", err)
	}
	if !found {
		return fail("source evaluation run " + c.SourceRunID + " not found"), nil
	}
	for _, res := range run.Failed() {
		if batteryTarget(res.TaskID) != c.Target {
			continue
		}
		chain.Triggers = append(chain.Triggers, fmt.Sprintf("run %s: %s failed (%s)", run.ID, res.TaskID, res.Detail))
		chain.Counterfactuals = append(chain.Counterfactuals,
			fmt.Sprintf("had %s passed, pass rate would have been %.2f and no candidate would exist", res.TaskID, counterfactualRate(run)))
	}
	if len(chain.Triggers) == 0 {
		return fail("no failing result in run " + run.ID + " matches " + c.Target), nil
	}
	chain.Status = model.ChainComplete
	chain.Explanation = fmt.Sprintf("%s failed in run %s at pass rate %.2f against baseline %.2f", c.Target, run.ID, run.PassRate, run.Baseline)
	return chain, nil
}

func counterfactualRate(run model.EvaluationRun) float64 {
	if run.Total == 0 {
		return 0
	}
	return float64(run.Passed+1) / float64(run.Total)
}

// DistillRules proposes a rule for every task type and denial reason pair
// seen at least MinOccurrences times in the decision log. Rule ids are
// derived from the pair so repeated distillation is idempotent.
func (l *Loop) DistillRules(ctx context.Context, identity string) ([]model.DistilledRule, error) {
	entries, err := l.store.DecisionLog.Load(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load decision log: %w", err)
	}
	type key struct{ taskType, reason string }
	evidence := make(map[key][]string)
	var order []key
	for _, e := range entries {
		if e.Outcome != model.OutcomeDenied {
			continue
		}
		k := key{e.TaskType, e.Reason}
		if _, ok := evidence[k]; !ok {
			order = append(order, k)
		}
		evidence[k] = append(evidence[k], e.ID)
	}
	sort.SliceStable(order, func(i, j int) bool { return len(evidence[order[i]]) > len(evidence[order[j]]) })

	now := l.clock.Now()
	var out []model.DistilledRule
	for _, k := range order {
		ids := evidence[k]
		if len(ids) < l.minOcc {
			continue
		}
		if len(ids) > maxEvidence {
			ids = ids[len(ids)-maxEvidence:]
		}
		taskType := k.taskType
		if taskType == "" {
			taskType = "*"
		}
		rule := model.DistilledRule{
			ID:        "rule:" + taskType + ":" + k.reason,
			Statement: fmt.Sprintf("%s requests are repeatedly denied with %s; require review before dispatch", taskType, k.reason),
			Domain:    k.taskType,
			Evidence:  ids,
			Status:    model.RuleProposed,
			CreatedAt: now,
			UpdatedAt: now,
		}
		inserted, err := l.store.Rules.InsertIfAbsent(ctx, identity, rule)
		if err != nil {
			return out, fmt.Errorf("insert rule: %w", err)
		}
		if inserted {
			out = append(out, rule)
		}
	}
	return out, nil
}

// DecideRule approves or rejects a proposed rule.
func (l *Loop) DecideRule(ctx context.Context, identity, ruleID string, approve bool, actor, note string) (model.DistilledRule, error) {
	status := model.RuleRejected
	if approve {
		status = model.RuleApproved
	}
	now := l.clock.Now()
	r, err := l.store.Rules.Update(ctx, identity, ruleID, func(r *model.DistilledRule) error {
		if r.Status != model.RuleProposed {
			return fmt.Errorf("rule %s is already %s", ruleID, r.Status)
		}
		r.Status = status
		r.DecidedBy = actor
		r.DecisionNote = note
		r.UpdatedAt = now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return r, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	if err != nil {
		return r, err
	}
	return r, nil
}
