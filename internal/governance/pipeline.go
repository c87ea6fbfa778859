// Package governance runs one agent action request through every governance
// stage and returns a single auditable decision.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/assess"
	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/cost"
	"github.com/ppiankov/agentgov/internal/drift"
	"github.com/ppiankov/agentgov/internal/evalharness"
	"github.com/ppiankov/agentgov/internal/goals"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/roles"
	"github.com/ppiankov/agentgov/internal/schedule"
	"github.com/ppiankov/agentgov/internal/store"
	"github.com/ppiankov/agentgov/internal/trust"
)

// ErrMissingHumanControls is returned when the identity has no human control
// profile. Bootstrap seeds one; its absence means a misconfigured identity.
var ErrMissingHumanControls = errors.New("human control profile missing")

// Config wires a Pipeline. Store is required; every engine left nil is built
// from Store, Clock, Logger and Audit with default thresholds.
type Config struct {
	Store       *store.Store
	Directory   AgentDirectory     // defaults to StoreDirectory
	CostContext CostContextChecker // defaults to AttributionCheck
	Audit       audit.Recorder
	Clock       clock.Clock
	Logger      *zap.Logger

	Roles    *roles.Engine
	Drift    *drift.Evaluator
	Referee  *referee.Referee
	Goals    *goals.Resolver
	Harness  *evalharness.Harness
	Cost     *cost.Governor
	Trust    *trust.Tracker
	Horizons *assess.Horizons
	Queue    *schedule.Queue

	Promotion   trust.Thresholds
	Epistemic   assess.EpistemicThresholds
	InitialTier model.PermissionTier // tier of agents with no trust history; default suggest
}

// stage is one step of the pipeline. A non-nil halt ends evaluation.
type stage struct {
	name string
	run  func(context.Context, *evaluation) (*halt, error)
}

// halt is a stage's final answer.
type halt struct {
	reason  string
	outcome string
}

func denied(reason string) *halt    { return &halt{reason: reason, outcome: model.OutcomeDenied} }
func escalated(reason string) *halt { return &halt{reason: reason, outcome: model.OutcomeEscalated} }

// evaluation carries one request's state between stages.
type evaluation struct {
	identity    string
	rc          *model.AgentRuntimeContext
	now         time.Time
	agent       model.AgentProfile
	profile     model.HumanControlProfile
	details     map[string]any
	review      bool
	tier        model.PermissionTier
	modelTier   model.ModelTier
	gate        drift.Gate
	exploration bool
	verdict     evalharness.Verdict
	stage       string
}

func (e *evaluation) human() bool { return e.rc.Initiator == model.InitiatorHuman }

func (e *evaluation) action() string {
	if e.rc.Action != "" {
		return e.rc.Action
	}
	return e.rc.DecisionType
}

func (e *evaluation) confidence() float64 {
	if e.rc.Confidence == nil {
		return 0
	}
	return e.rc.Confidence.Score
}

// Pipeline is the runtime governance orchestrator.
type Pipeline struct {
	store       *store.Store
	directory   AgentDirectory
	costContext CostContextChecker
	audit       audit.Recorder
	clock       clock.Clock
	log         *zap.Logger

	roles    *roles.Engine
	drift    *drift.Evaluator
	referee  *referee.Referee
	goals    *goals.Resolver
	harness  *evalharness.Harness
	cost     *cost.Governor
	trust    *trust.Tracker
	horizons *assess.Horizons
	queue    *schedule.Queue

	promotion   trust.Thresholds
	epistemic   assess.EpistemicThresholds
	initialTier model.PermissionTier

	stages []stage
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("governance: store required")
	}
	p := &Pipeline{
		store:       cfg.Store,
		directory:   cfg.Directory,
		costContext: cfg.CostContext,
		audit:       cfg.Audit,
		clock:       clock.OrReal(cfg.Clock),
		log:         cfg.Logger,
		roles:       cfg.Roles,
		drift:       cfg.Drift,
		referee:     cfg.Referee,
		goals:       cfg.Goals,
		harness:     cfg.Harness,
		cost:        cfg.Cost,
		trust:       cfg.Trust,
		horizons:    cfg.Horizons,
		queue:       cfg.Queue,
		promotion:   cfg.Promotion,
		epistemic:   cfg.Epistemic,
		initialTier: cfg.InitialTier,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.audit == nil {
		p.audit = audit.Nop{}
	}
	if p.directory == nil {
		p.directory = StoreDirectory{Store: cfg.Store}
	}
	if p.costContext == nil {
		p.costContext = AttributionCheck{}
	}
	if p.roles == nil {
		p.roles = roles.NewEngine(roles.Config{Store: cfg.Store, Audit: p.audit, Clock: p.clock, Logger: p.log})
	}
	if p.drift == nil {
		p.drift = drift.NewEvaluator(drift.Config{Store: cfg.Store, Clock: p.clock, Logger: p.log})
	}
	if p.referee == nil {
		p.referee = referee.New(referee.Config{Store: cfg.Store, Clock: p.clock, Logger: p.log})
	}
	if p.goals == nil {
		p.goals = goals.NewResolver(goals.Config{Store: cfg.Store, Referee: p.referee, Clock: p.clock, Logger: p.log})
	}
	if p.harness == nil {
		h, err := evalharness.New(evalharness.Config{Store: cfg.Store, Clock: p.clock, Logger: p.log, Trust: p.promotion})
		if err != nil {
			return nil, fmt.Errorf("evaluation harness: %w", err)
		}
		p.harness = h
	}
	if p.cost == nil {
		p.cost = cost.NewGovernor(cost.Config{Store: cfg.Store, Clock: p.clock, Logger: p.log})
	}
	if p.trust == nil {
		p.trust = trust.NewTracker(cfg.Store, p.clock)
	}
	if p.horizons == nil {
		p.horizons = assess.NewHorizons(cfg.Store, p.clock, assess.HorizonLimits{})
	}
	if p.queue == nil {
		p.queue = schedule.NewQueue(cfg.Store, p.clock)
	}
	if p.promotion == (trust.Thresholds{}) {
		p.promotion = trust.DefaultThresholds()
	}
	if p.epistemic == (assess.EpistemicThresholds{}) {
		p.epistemic = assess.DefaultEpistemicThresholds()
	}
	if p.initialTier == "" {
		p.initialTier = model.TierSuggest
	}

	// Order must not be changed: each stage relies on the ones before it.
	p.stages = []stage{
		{"context", p.checkContext},
		{"humanControls", p.checkHumanControls},
		{"autonomyCeiling", p.checkAutonomyCeiling},
		{"roleConstitution", p.checkRole},
		{"drift", p.checkDrift},
		{"disclosure", p.checkDisclosure},
		{"scope", p.checkScope},
		{"handoff", p.checkHandoff},
		{"cooperation", p.checkCooperation},
		{"goal", p.checkGoal},
		{"task", p.checkTask},
		{"costContext", p.checkCostContext},
		{"epistemic", p.checkEpistemic},
		{"effects", p.checkEffects},
		{"evaluation", p.checkEvaluation},
		{"cost", p.checkCost},
		{"permission", p.checkPermission},
		{"escalation", p.checkEscalation},
		{"scheduling", p.checkScheduling},
		{"record", p.complete},
	}
	return p, nil
}

// Harness returns the evaluation harness the pipeline gates on.
func (p *Pipeline) Harness() *evalharness.Harness { return p.harness }

// Referee returns the referee used for proposals and goal conflicts.
func (p *Pipeline) Referee() *referee.Referee { return p.referee }

// Goals returns the goal resolver.
func (p *Pipeline) Goals() *goals.Resolver { return p.goals }

// Trust returns the tier tracker.
func (p *Pipeline) Trust() *trust.Tracker { return p.trust }

// Roles returns the role constitution engine.
func (p *Pipeline) Roles() *roles.Engine { return p.roles }

// Directory returns the agent directory the pipeline resolves agents with.
func (p *Pipeline) Directory() AgentDirectory { return p.directory }

// Evaluate runs rc through every stage in order and returns the decision.
//
// Stages, each of which may end evaluation:
//
//  1. context present and agent registered
//  2. human emergency stop (human initiators pass)
//  3. human autonomy ceiling
//  4. role constitution
//  5. drift freeze, and throttle on execute (human initiators pass)
//  6. confidence disclosure; explainability for difficult or irreversible impact
//  7. agent scope and max tier
//  8. handoff contract
//  9. competing proposals through the referee
//  10. goal status and goal conflicts
//  11. task description and task-type freezes
//  12. cost context
//  13. epistemic assessment
//  14. second-order effects, norms, long-horizon commitments
//  15. evaluation harness
//  16. cost budgets (may demote the tier instead of halting)
//  17. permission tier and autonomy promotion
//  18. trust escalation (agent and system initiators)
//  19. scheduling (defers are not denials)
//  20. record history, debt, spend and the trust run
//
// Every decision is appended to the decision log and the audit log. An error
// is returned only when state cannot be read or written, or the identity has
// no human control profile; the decision is then not allowed.
func (p *Pipeline) Evaluate(ctx context.Context, identity string, rc *model.AgentRuntimeContext) (model.RuntimeGovernanceDecision, error) {
	e := &evaluation{
		identity: identity,
		now:      p.clock.Now(),
		details:  make(map[string]any),
	}
	if rc != nil {
		c := *rc
		e.rc = &c
	}

	for _, s := range p.stages {
		e.stage = s.name
		h, err := s.run(ctx, e)
		if err != nil {
			p.log.Error("governance stage failed",
				zap.String("identity", identity),
				zap.String("stage", s.name),
				zap.Error(err))
			return model.RuntimeGovernanceDecision{
				Reason:              model.ReasonInternalError,
				RequiresHumanReview: true,
				Details:             e.details,
				EvaluatedAt:         e.now,
			}, fmt.Errorf("%s stage: %w", s.name, err)
		}
		if h != nil {
			return p.finish(ctx, e, h)
		}
	}
	// complete always halts; reaching here means the stage list is broken.
	return model.RuntimeGovernanceDecision{Reason: model.ReasonInternalError, RequiresHumanReview: true}, errors.New("governance: pipeline ended without a decision")
}

// finish builds the decision and appends it to the decision log and the audit log.
func (p *Pipeline) finish(ctx context.Context, e *evaluation, h *halt) (model.RuntimeGovernanceDecision, error) {
	d := model.RuntimeGovernanceDecision{
		ID:            uuid.NewString(),
		Allowed:       h.outcome == model.OutcomeAllowed,
		Reason:        h.reason,
		EffectiveTier: e.tier,
		ModelTier:     e.modelTier,
		Details:       e.details,
		EvaluatedAt:   e.now,
	}
	switch h.outcome {
	case model.OutcomeAllowed:
		d.RequiresHumanReview = e.review
	case model.OutcomeDeferred:
		d.RequiresHumanReview = false
	default:
		d.RequiresHumanReview = true
	}
	e.details["outcome"] = map[string]any{"stage": e.stage, "outcome": h.outcome, "reason": h.reason}

	entry := model.DecisionLogEntry{
		ID:                  d.ID,
		Outcome:             h.outcome,
		Reason:              h.reason,
		Tier:                e.tier,
		RequiresHumanReview: d.RequiresHumanReview,
		CreatedAt:           e.now,
	}
	subject := audit.Subject{}
	if e.rc != nil {
		entry.AgentID = e.rc.AgentID
		entry.TaskType = e.rc.TaskType
		subject = audit.Subject{
			AgentID: e.rc.AgentID,
			Role:    e.agent.Role,
			Domain:  e.rc.Domain,
			Action:  e.rc.Action,
			Tool:    e.rc.Tool,
		}
	}
	if err := p.store.DecisionLog.Append(ctx, e.identity, entry); err != nil {
		return failClosed(d), fmt.Errorf("append decision log: %w", err)
	}
	if err := p.audit.Record(audit.Entry{
		Timestamp:      e.now.UTC().Format(time.RFC3339Nano),
		Identity:       e.identity,
		Kind:           audit.KindPipeline,
		RecordID:       d.ID,
		Subject:        subject,
		Tier:           string(e.tier),
		Decision:       h.outcome,
		Reason:         h.reason,
		RequiresReview: d.RequiresHumanReview,
	}); err != nil {
		return failClosed(d), fmt.Errorf("record audit entry: %w", err)
	}

	p.log.Info("governance decision",
		zap.String("identity", e.identity),
		zap.String("agent", subject.AgentID),
		zap.String("stage", e.stage),
		zap.String("outcome", h.outcome),
		zap.String("reason", h.reason),
		zap.Bool("review", d.RequiresHumanReview))
	return d, nil
}

func failClosed(d model.RuntimeGovernanceDecision) model.RuntimeGovernanceDecision {
	d.Allowed = false
	d.RequiresHumanReview = true
	return d
}

// Stage 1.
func (p *Pipeline) checkContext(ctx context.Context, e *evaluation) (*halt, error) {
	if e.rc == nil {
		e.details["context"] = map[string]any{"present": false}
		return denied(model.ReasonContextMissing), nil
	}
	e.rc.Normalize()
	if err := e.rc.Validate(); err != nil {
		e.details["context"] = map[string]any{"present": true, "error": err.Error()}
		return denied(model.ReasonContextInvalid), nil
	}
	e.tier = e.rc.RequestedTier
	e.modelTier = e.rc.ModelTier

	agent, found, err := p.directory.Lookup(ctx, e.identity, e.rc.AgentID)
	if err != nil {
		return nil, fmt.Errorf("look up agent %s: %w", e.rc.AgentID, err)
	}
	if !found {
		e.details["context"] = map[string]any{"present": true, "agentId": e.rc.AgentID, "registered": false}
		return denied(model.ReasonAgentNotRegistered), nil
	}
	e.agent = agent
	e.details["context"] = map[string]any{
		"present":    true,
		"agentId":    agent.AgentID,
		"role":       agent.Role,
		"registered": true,
		"initiator":  e.rc.Initiator,
	}
	return nil, nil
}

// Stage 2.
func (p *Pipeline) checkHumanControls(ctx context.Context, e *evaluation) (*halt, error) {
	profile, found, err := p.store.ControlProfiles.Get(ctx, e.identity, model.ControlProfileID)
	if err != nil {
		return nil, fmt.Errorf("load control profile: %w", err)
	}
	if !found {
		return nil, ErrMissingHumanControls
	}
	e.profile = profile
	stopped := profile.EmergencyStopActive(e.now)
	e.details["humanControls"] = map[string]any{
		"emergencyStop":   stopped,
		"emergencyReason": profile.EmergencyReason,
		"initiator":       e.rc.Initiator,
	}
	if stopped && !e.human() {
		return denied(model.ReasonEmergencyStop), nil
	}
	return nil, nil
}

// Stage 3.
func (p *Pipeline) checkAutonomyCeiling(_ context.Context, e *evaluation) (*halt, error) {
	exceeded := e.rc.RequestedTier.Exceeds(e.profile.AutonomyCeiling)
	e.details["autonomyCeiling"] = map[string]any{
		"requested": e.rc.RequestedTier,
		"ceiling":   e.profile.AutonomyCeiling,
		"exceeded":  exceeded,
	}
	if exceeded {
		return denied(model.ReasonAutonomyCeilingExceeded), nil
	}
	return nil, nil
}

// Stage 4.
func (p *Pipeline) checkRole(ctx context.Context, e *evaluation) (*halt, error) {
	res, err := p.roles.Evaluate(ctx, e.identity, roles.Request{
		Agent:              e.agent,
		Domain:             e.rc.Domain,
		DecisionType:       e.rc.DecisionType,
		Action:             e.rc.Action,
		Tool:               e.rc.Tool,
		DataCategories:     e.rc.DataCategories,
		Tier:               e.rc.RequestedTier,
		TaskClass:          e.rc.TaskClass,
		Impact:             e.rc.Impact,
		EstimatedCostCents: e.rc.EstimatedCostCents,
		GoalID:             e.rc.GoalID,
		TaskID:             e.rc.TaskID,
		Handoff:            e.rc.Handoff,
	})
	e.details["roleConstitution"] = res
	if err != nil {
		return nil, err
	}
	switch res.Decision {
	case model.Allow:
		return nil, nil
	case model.Escalate:
		return escalated(res.ReasonCode), nil
	}
	return denied(res.ReasonCode), nil
}

// Stage 5.
func (p *Pipeline) checkDrift(ctx context.Context, e *evaluation) (*halt, error) {
	gate, err := p.drift.Evaluate(ctx, e.identity)
	if err != nil {
		return nil, err
	}
	e.gate = gate
	e.details["drift"] = gate
	if gate.RequiresReaffirmation {
		e.review = true
	}
	if e.human() {
		return nil, nil
	}
	if gate.Freeze {
		return denied(model.ReasonValueDriftFreeze), nil
	}
	if gate.Throttle && e.rc.RequestedTier == model.TierExecute {
		return denied(model.ReasonValueDriftThrottle), nil
	}
	return nil, nil
}

// Stage 6.
func (p *Pipeline) checkDisclosure(_ context.Context, e *evaluation) (*halt, error) {
	needsSnapshot := e.rc.Impact.AtOrAbove(model.ImpactDifficult)
	detail := map[string]any{"explainabilityRequired": needsSnapshot}
	e.details["disclosure"] = detail

	if e.rc.Confidence == nil {
		return denied(model.ReasonConfidenceMissing), nil
	}
	detail["confidence"] = e.rc.Confidence.Score
	if err := e.rc.Confidence.Validate(); err != nil {
		detail["error"] = err.Error()
		return denied(model.ReasonConfidenceInvalid), nil
	}
	if !needsSnapshot {
		return nil, nil
	}
	if e.rc.Explainability == nil {
		return denied(model.ReasonExplainabilityRequired), nil
	}
	if err := e.rc.Explainability.Validate(); err != nil {
		detail["error"] = err.Error()
		return denied(model.ReasonExplainabilityInvalid), nil
	}
	return nil, nil
}

// Stage 7.
func (p *Pipeline) checkScope(_ context.Context, e *evaluation) (*halt, error) {
	s := e.agent.Scope
	var reason string
	switch {
	case !model.Grants(s.Domains, e.rc.Domain):
		reason = model.ReasonScopeDomain
	case !model.Grants(s.DecisionScopes, e.rc.DecisionType):
		reason = model.ReasonScopeDecision
	case e.rc.Tool != "" && !model.Grants(s.AllowedTools, e.rc.Tool):
		reason = model.ReasonScopeTool
	case model.Lists(s.ProhibitedActions, e.action()):
		reason = model.ReasonScopeProhibited
	case e.rc.RequestedTier.Exceeds(e.agent.MaxPermissionTier):
		reason = model.ReasonAgentMaxTierExceeded
	}
	e.details["scope"] = map[string]any{
		"domain":       e.rc.Domain,
		"decisionType": e.rc.DecisionType,
		"tool":         e.rc.Tool,
		"maxTier":      e.agent.MaxPermissionTier,
		"violation":    reason,
	}
	if reason != "" {
		return denied(reason), nil
	}
	return nil, nil
}

// Stage 8.
func (p *Pipeline) checkHandoff(_ context.Context, e *evaluation) (*halt, error) {
	hc := e.rc.Handoff
	if hc == nil {
		e.details["handoff"] = map[string]any{"present": false}
		return nil, nil
	}
	detail := map[string]any{"present": true, "id": hc.ID, "from": hc.FromAgentID}
	e.details["handoff"] = detail
	if err := hc.Validate(); err != nil {
		detail["error"] = err.Error()
		return denied(model.ReasonHandoffContractInvalid), nil
	}
	if hc.ToAgentID != e.rc.AgentID {
		detail["error"] = fmt.Sprintf("handoff addressed to %s, request from %s", hc.ToAgentID, e.rc.AgentID)
		return denied(model.ReasonHandoffContractInvalid), nil
	}
	if hc.Expired(e.now) {
		detail["error"] = "handoff expired at " + hc.ExpiresAt.Format(time.RFC3339)
		return denied(model.ReasonHandoffContractExpired), nil
	}
	return nil, nil
}

// Stage 9.
func (p *Pipeline) checkCooperation(ctx context.Context, e *evaluation) (*halt, error) {
	if len(e.rc.Proposals) < 2 {
		e.details["cooperation"] = map[string]any{"proposals": len(e.rc.Proposals), "arbitrated": false}
		return nil, nil
	}
	subject := e.rc.TaskID
	if subject == "" {
		subject = e.rc.DecisionType
	}
	res, err := p.referee.Resolve(ctx, e.identity, subject, e.rc.Proposals)
	if err != nil {
		var ce *model.ContractError
		if errors.As(err, &ce) || errors.Is(err, referee.ErrDuplicateProposal) {
			e.details["cooperation"] = map[string]any{"proposals": len(e.rc.Proposals), "error": err.Error()}
			return denied(model.ReasonContextInvalid), nil
		}
		return nil, err
	}
	e.details["cooperation"] = res
	if res.Record.Resolution == model.ResolveEscalate {
		return escalated(model.ReasonCooperationEscalated), nil
	}
	if e.rc.ActiveProposalID != "" && !res.Selected(e.rc.ActiveProposalID) {
		return denied(model.ReasonCooperationNotSelected), nil
	}
	if res.Record.RequiresHumanReview {
		e.review = true
	}
	return nil, nil
}

// Stage 10.
func (p *Pipeline) checkGoal(ctx context.Context, e *evaluation) (*halt, error) {
	res, err := p.goals.Check(ctx, e.identity, e.rc.GoalID)
	if err != nil {
		return nil, err
	}
	e.details["goal"] = res
	if res.Allowed {
		return nil, nil
	}
	if res.Reason == model.ReasonGoalConflict {
		return escalated(res.Reason), nil
	}
	return denied(res.Reason), nil
}

// Stage 11.
func (p *Pipeline) checkTask(ctx context.Context, e *evaluation) (*halt, error) {
	detail := map[string]any{"taskType": e.rc.TaskType}
	e.details["task"] = detail
	if strings.TrimSpace(e.rc.TaskDescription) == "" {
		return denied(model.ReasonTaskDescriptionRequired), nil
	}
	freezes, err := p.store.Freezes.Load(ctx, e.identity)
	if err != nil {
		return nil, fmt.Errorf("load freezes: %w", err)
	}
	for _, f := range freezes {
		if f.Kind != model.FreezeTaskType || !f.Active(e.now) || !f.Applies(e.rc.TaskType) {
			continue
		}
		detail["freezeId"] = f.ID
		detail["freezeReason"] = f.Reason
		return denied(model.ReasonBehaviorFrozen), nil
	}
	return nil, nil
}

// Stage 12.
func (p *Pipeline) checkCostContext(ctx context.Context, e *evaluation) (*halt, error) {
	if err := p.costContext.CheckCostContext(ctx, e.identity, e.rc); err != nil {
		e.details["costContext"] = map[string]any{"valid": false, "error": err.Error()}
		return denied(model.ReasonCostContextInvalid), nil
	}
	e.details["costContext"] = map[string]any{"valid": true}
	return nil, nil
}

// Stage 13.
func (p *Pipeline) checkEpistemic(_ context.Context, e *evaluation) (*halt, error) {
	res := assess.AssessEpistemic(assess.EpistemicInput{
		Disclosure:           *e.rc.Confidence,
		Novelty:              e.rc.Novelty,
		Impact:               e.rc.Impact,
		Tier:                 e.tier,
		ExplorationRequested: e.rc.ExplorationMode,
	}, p.epistemic)
	e.details["epistemic"] = res
	e.exploration = res.ExplorationMode
	if res.Blocked {
		return denied(res.Reason), nil
	}
	return nil, nil
}

// Stage 14.
func (p *Pipeline) checkEffects(ctx context.Context, e *evaluation) (*halt, error) {
	second := assess.AssessSecondOrder(e.rc.SecondOrderEffects)
	norms, err := p.store.Norms.Load(ctx, e.identity)
	if err != nil {
		return nil, fmt.Errorf("load norms: %w", err)
	}
	matched := assess.EvaluateNorms(norms, e.rc.Domain, e.action())
	horizon, err := p.horizons.Check(ctx, e.identity, e.rc.AgentID, e.rc.Impact, e.rc.CommitmentDays)
	if err != nil {
		return nil, err
	}
	e.details["effects"] = map[string]any{
		"secondOrder": second,
		"norms":       matched,
		"horizon":     horizon,
	}
	if second.RequiresReview || matched.RequiresReview {
		e.review = true
	}
	switch {
	case second.Blocked:
		return denied(model.ReasonSecondOrderBlocked), nil
	case matched.Blocked:
		return denied(model.ReasonNormViolation), nil
	case horizon.Blocked:
		return denied(horizon.Reason), nil
	}
	return nil, nil
}

// Stage 15.
func (p *Pipeline) checkEvaluation(ctx context.Context, e *evaluation) (*halt, error) {
	v, err := p.harness.Guard(ctx, e.identity, e.rc.EvaluationTasks)
	if err != nil {
		return nil, err
	}
	e.verdict = v
	e.details["evaluation"] = v
	if !v.Passed {
		return denied(v.Reason), nil
	}
	if v.RequiresHumanReview {
		e.review = true
	}
	return nil, nil
}

// Stage 16.
func (p *Pipeline) checkCost(ctx context.Context, e *evaluation) (*halt, error) {
	res, err := p.cost.Evaluate(ctx, e.identity, cost.Request{
		AgentID:            e.rc.AgentID,
		GoalID:             e.rc.GoalID,
		TaskType:           e.rc.TaskType,
		EstimatedCostCents: e.rc.EstimatedCostCents,
		Tier:               e.tier,
		ModelTier:          e.modelTier,
		MaxModelTier:       e.profile.MaxModelTier,
	})
	e.details["cost"] = res
	if err != nil {
		return nil, err
	}
	if res.Blocked {
		return denied(model.ReasonCostHardLimit), nil
	}
	e.tier = res.Tier
	e.modelTier = res.ModelTier
	if res.RequiresHumanReview {
		e.review = true
	}
	return nil, nil
}

// Stage 17.
func (p *Pipeline) checkPermission(ctx context.Context, e *evaluation) (*halt, error) {
	initial := model.MinTier(p.initialTier, e.agent.MaxPermissionTier)
	state, err := p.trust.State(ctx, e.identity, e.rc.AgentID, initial)
	if err != nil {
		return nil, err
	}
	detail := map[string]any{
		"requested": e.rc.RequestedTier,
		"effective": e.tier,
		"current":   state.CurrentTier,
	}
	e.details["permission"] = detail

	if e.tier == model.TierExecute && state.CurrentTier == model.TierDraft {
		return denied(model.ReasonDraftCannotExecute), nil
	}
	if !e.tier.Exceeds(state.CurrentTier) {
		return nil, nil
	}
	if e.gate.RequiresReaffirmation {
		detail["promotion"] = "blocked until values are reaffirmed"
		return denied(model.ReasonPromotionReaffirmation), nil
	}
	debt := e.verdict.Debt
	if debt == "" {
		debt = model.DebtOK
	}
	promo := trust.CanPromoteAutonomy(state.CurrentTier, trust.PromotionSignals{
		PassRate:            e.verdict.PassRate,
		UncertaintyVariance: state.UncertaintyVariance(),
		RollbackRate:        state.RollbackRate(),
		StableRuns:          state.StableRuns,
		FailureDebt:         debt,
	}, p.promotion)
	detail["promotion"] = promo
	if !promo.Eligible || e.tier.Exceeds(promo.NextTier) {
		return denied(model.ReasonPromotionBlocked), nil
	}
	if _, err := p.trust.Promote(ctx, e.identity, e.rc.AgentID, promo); err != nil {
		return nil, err
	}
	p.log.Info("agent promoted",
		zap.String("identity", e.identity),
		zap.String("agent", e.rc.AgentID),
		zap.String("tier", string(promo.NextTier)))
	return nil, nil
}

// Stage 18.
func (p *Pipeline) checkEscalation(ctx context.Context, e *evaluation) (*halt, error) {
	if e.human() {
		e.details["escalation"] = map[string]any{"checked": false, "initiator": e.rc.Initiator}
		return nil, nil
	}
	overrides, err := p.store.EscalationOverrides.Load(ctx, e.identity)
	if err != nil {
		return nil, fmt.Errorf("load escalation overrides: %w", err)
	}
	policy := trust.EffectivePolicy(e.profile, overrides, e.rc.TaskType, e.now)
	esc := trust.ShouldEscalate(trust.Signal{
		Confidence:      e.confidence(),
		Novelty:         e.rc.Novelty,
		Impact:          e.rc.Impact,
		AmbiguityCount:  e.rc.AmbiguityCount,
		ExplorationMode: e.exploration,
	}, policy)
	e.details["escalation"] = map[string]any{"checked": true, "policy": policy, "result": esc}
	if esc.Escalate {
		return escalated(model.ReasonTrustEscalation), nil
	}
	return nil, nil
}

// Stage 19.
func (p *Pipeline) checkScheduling(ctx context.Context, e *evaluation) (*halt, error) {
	d := schedule.Apply(e.rc.Scheduling, e.now)
	if !d.Deferred {
		e.details["scheduling"] = d
		return nil, nil
	}
	task, err := p.queue.Enqueue(ctx, e.identity, e.rc, d)
	if err != nil {
		return nil, err
	}
	e.details["scheduling"] = map[string]any{"decision": d, "scheduledTaskId": task.ID}
	return &halt{reason: model.ReasonSchedulingDeferred, outcome: model.OutcomeDeferred}, nil
}

// Stage 20.
func (p *Pipeline) complete(ctx context.Context, e *evaluation) (*halt, error) {
	entry := model.TaskHistoryEntry{
		ID:                  uuid.NewString(),
		AgentID:             e.rc.AgentID,
		TaskID:              e.rc.TaskID,
		TaskType:            e.rc.TaskType,
		GoalID:              e.rc.GoalID,
		Domain:              e.rc.Domain,
		Action:              e.action(),
		Tier:                e.tier,
		Impact:              e.rc.Impact,
		Confidence:          e.confidence(),
		EstimatedCostCents:  e.rc.EstimatedCostCents,
		RequiresHumanReview: e.review,
		CreatedAt:           e.now,
	}
	if err := p.store.TaskHistory.Append(ctx, e.identity, entry); err != nil {
		return nil, fmt.Errorf("append task history: %w", err)
	}
	commitment, err := p.horizons.RecordDebt(ctx, e.identity, e.rc.AgentID, e.rc.GoalID, e.action(), e.rc.Impact, e.rc.CommitmentDays)
	if err != nil {
		return nil, err
	}
	if err := p.cost.Record(ctx, e.identity, e.rc.AgentID, e.rc.GoalID, e.rc.TaskType, e.rc.EstimatedCostCents); err != nil {
		return nil, err
	}
	initial := model.MinTier(p.initialTier, e.agent.MaxPermissionTier)
	if _, err := p.trust.RecordRun(ctx, e.identity, e.rc.AgentID, initial, e.confidence(), !e.review); err != nil {
		return nil, err
	}

	detail := map[string]any{"taskHistoryId": entry.ID, "costRecordedCents": e.rc.EstimatedCostCents}
	if commitment != nil {
		detail["commitmentId"] = commitment.ID
	}
	e.details["record"] = detail
	return &halt{reason: model.ReasonAllowed, outcome: model.OutcomeAllowed}, nil
}
