// Package controlroom is the human-facing administrative surface: it decides
// improvement candidates and distilled rules, reaffirms values, edits the
// human control profile and moves per-identity state in and out.
//
// Every error listed below is terminal. Callers must not retry them.
package controlroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/goals"
	"github.com/ppiankov/agentgov/internal/governance"
	"github.com/ppiankov/agentgov/internal/improve"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/store"
)

var (
	ErrCandidateNotFound    = improve.ErrCandidateNotFound
	ErrRuleNotFound         = improve.ErrRuleNotFound
	ErrExplanationRequired  = improve.ErrExplanationRequired
	ErrValueAnchorMissing   = errors.New("value anchor missing")
	ErrMissingHumanControls = governance.ErrMissingHumanControls
	ErrActorRequired        = errors.New("actor required")
)

// Config wires a Service. Store is required.
type Config struct {
	Store   *store.Store
	Improve *improve.Loop
	Goals   *goals.Resolver
	Referee *referee.Referee
	Audit   audit.Recorder
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Service implements the Control Room operations.
type Service struct {
	store   *store.Store
	improve *improve.Loop
	goals   *goals.Resolver
	referee *referee.Referee
	audit   audit.Recorder
	clock   clock.Clock
	log     *zap.Logger
}

// New creates a Service. Engines left nil are built over cfg.Store.
func New(cfg Config) *Service {
	s := &Service{
		store:   cfg.Store,
		improve: cfg.Improve,
		goals:   cfg.Goals,
		referee: cfg.Referee,
		audit:   cfg.Audit,
		clock:   clock.OrReal(cfg.Clock),
		log:     cfg.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.improve == nil {
		s.improve = improve.New(improve.Config{Store: cfg.Store, Clock: s.clock, Logger: s.log})
	}
	if s.referee == nil {
		s.referee = referee.New(referee.Config{Store: cfg.Store, Clock: s.clock, Logger: s.log})
	}
	if s.goals == nil {
		s.goals = goals.NewResolver(goals.Config{Store: cfg.Store, Referee: s.referee, Clock: s.clock, Logger: s.log})
	}
	return s
}

// ApproveCandidate builds a fresh causal chain and applies the candidate.
// A chain that needs human review requires a non-empty note.
func (s *Service) ApproveCandidate(ctx context.Context, identity, id, actor, note string) (model.CausalChainRecord, error) {
	if err := requireActor(actor); err != nil {
		return model.CausalChainRecord{}, err
	}
	chain, err := s.improve.Apply(ctx, identity, id, actor, note)
	if err != nil {
		return chain, err
	}
	return chain, s.record(identity, "approve_candidate", id, actor, string(model.CandidateApplied), note)
}

// RejectCandidate closes a proposed candidate. When its latest causal chain
// needs human review a note is required.
func (s *Service) RejectCandidate(ctx context.Context, identity, id, actor, note string) (model.ImprovementCandidate, error) {
	if err := requireActor(actor); err != nil {
		return model.ImprovementCandidate{}, err
	}
	if err := s.requireNote(ctx, identity, id, note); err != nil {
		return model.ImprovementCandidate{}, err
	}
	c, err := s.improve.Reject(ctx, identity, id, actor, note)
	if err != nil {
		return c, err
	}
	return c, s.record(identity, "reject_candidate", id, actor, string(c.Status), note)
}

// RollbackCandidate reverts an applied candidate.
func (s *Service) RollbackCandidate(ctx context.Context, identity, id, actor, note string) (model.ImprovementCandidate, error) {
	if err := requireActor(actor); err != nil {
		return model.ImprovementCandidate{}, err
	}
	c, err := s.improve.Rollback(ctx, identity, id, actor, note)
	if err != nil {
		return c, err
	}
	return c, s.record(identity, "rollback_candidate", id, actor, string(c.Status), note)
}

// ApproveRule approves a proposed distilled rule.
func (s *Service) ApproveRule(ctx context.Context, identity, id, actor, note string) (model.DistilledRule, error) {
	return s.decideRule(ctx, identity, id, true, actor, note)
}

// RejectRule rejects a proposed distilled rule.
func (s *Service) RejectRule(ctx context.Context, identity, id, actor, note string) (model.DistilledRule, error) {
	return s.decideRule(ctx, identity, id, false, actor, note)
}

func (s *Service) decideRule(ctx context.Context, identity, id string, approve bool, actor, note string) (model.DistilledRule, error) {
	if err := requireActor(actor); err != nil {
		return model.DistilledRule{}, err
	}
	r, err := s.improve.DecideRule(ctx, identity, id, approve, actor, note)
	if err != nil {
		return r, err
	}
	op := "reject_rule"
	if approve {
		op = "approve_rule"
	}
	return r, s.record(identity, op, id, actor, string(r.Status), note)
}

// ReaffirmValues stamps the value anchor as reaffirmed, bumps its version
// and lifts every active drift freeze.
func (s *Service) ReaffirmValues(ctx context.Context, identity, actor, note string) (model.ValueAnchor, error) {
	if err := requireActor(actor); err != nil {
		return model.ValueAnchor{}, err
	}
	now := s.clock.Now()
	anchor, err := s.store.ValueAnchors.Update(ctx, identity, model.ValueAnchorID, func(a *model.ValueAnchor) error {
		a.Version++
		a.ReaffirmedAt = now
		a.ReaffirmedBy = actor
		a.Note = note
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return anchor, ErrValueAnchorMissing
	}
	if err != nil {
		return anchor, fmt.Errorf("reaffirm value anchor: %w", err)
	}
	lifted, err := s.expireFreezes(ctx, identity, now, func(f model.BehaviorFreeze) bool {
		return f.Kind == model.FreezeDrift
	})
	if err != nil {
		return anchor, err
	}
	s.log.Info("values reaffirmed",
		zap.String("identity", identity),
		zap.String("actor", actor),
		zap.Int("version", anchor.Version),
		zap.Int("freezes_lifted", lifted))
	return anchor, s.record(identity, "reaffirm_values", anchor.ID, actor, fmt.Sprintf("version %d", anchor.Version), note)
}

// ProfilePatch lists the control profile fields to change. Nil fields stay.
type ProfilePatch struct {
	AutonomyCeiling  *model.PermissionTier `json:"autonomyCeiling,omitempty"`
	MaxModelTier     *model.ModelTier      `json:"maxModelTier,omitempty"`
	MinConfidence    *float64              `json:"minConfidence,omitempty"`
	NoveltyThreshold *float64              `json:"noveltyThreshold,omitempty"`
	MaxAmbiguity     *int                  `json:"maxAmbiguity,omitempty"`
}

func (p ProfilePatch) apply(prof *model.HumanControlProfile) {
	if p.AutonomyCeiling != nil {
		prof.AutonomyCeiling = *p.AutonomyCeiling
	}
	if p.MaxModelTier != nil {
		prof.MaxModelTier = *p.MaxModelTier
	}
	if p.MinConfidence != nil {
		prof.MinConfidence = *p.MinConfidence
	}
	if p.NoveltyThreshold != nil {
		prof.NoveltyThreshold = *p.NoveltyThreshold
	}
	if p.MaxAmbiguity != nil {
		prof.MaxAmbiguity = *p.MaxAmbiguity
	}
}

// ControlProfile returns the identity's human control profile.
func (s *Service) ControlProfile(ctx context.Context, identity string) (model.HumanControlProfile, error) {
	prof, found, err := s.store.ControlProfiles.Get(ctx, identity, model.ControlProfileID)
	if err != nil {
		return prof, fmt.Errorf("load control profile: %w", err)
	}
	if !found {
		return prof, ErrMissingHumanControls
	}
	return prof, nil
}

// UpdateControlProfile applies patch to the identity's control profile.
// An invalid result is rejected with a *model.ContractError.
func (s *Service) UpdateControlProfile(ctx context.Context, identity, actor string, patch ProfilePatch) (model.HumanControlProfile, error) {
	if err := requireActor(actor); err != nil {
		return model.HumanControlProfile{}, err
	}
	prof, err := s.updateProfile(ctx, identity, actor, patch.apply)
	if err != nil {
		return prof, err
	}
	return prof, s.record(identity, "update_control_profile", prof.ID, actor, string(prof.AutonomyCeiling), "")
}

// SetEmergencyStop engages or clears the emergency stop. until bounds an
// engaged stop; nil keeps it until cleared.
func (s *Service) SetEmergencyStop(ctx context.Context, identity, actor string, engaged bool, reason string, until *time.Time) (model.HumanControlProfile, error) {
	if err := requireActor(actor); err != nil {
		return model.HumanControlProfile{}, err
	}
	prof, err := s.updateProfile(ctx, identity, actor, func(p *model.HumanControlProfile) {
		p.EmergencyStop = engaged
		if engaged {
			p.EmergencyReason = reason
			p.EmergencyUntil = until
			return
		}
		p.EmergencyReason = ""
		p.EmergencyUntil = nil
	})
	if err != nil {
		return prof, err
	}
	decision := "emergency_stop_cleared"
	if engaged {
		decision = "emergency_stop_engaged"
		s.log.Warn("emergency stop engaged",
			zap.String("identity", identity),
			zap.String("actor", actor),
			zap.String("reason", reason))
	}
	return prof, s.record(identity, "set_emergency_stop", prof.ID, actor, decision, reason)
}

func (s *Service) updateProfile(ctx context.Context, identity, actor string, fn func(*model.HumanControlProfile)) (model.HumanControlProfile, error) {
	now := s.clock.Now()
	prof, err := s.store.ControlProfiles.Update(ctx, identity, model.ControlProfileID, func(p *model.HumanControlProfile) error {
		fn(p)
		p.UpdatedBy = actor
		p.UpdatedAt = now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return prof, ErrMissingHumanControls
	}
	if err != nil {
		return prof, fmt.Errorf("update control profile: %w", err)
	}
	return prof, nil
}

// FreezeTaskType halts every request of taskType until unfrozen or until.
func (s *Service) FreezeTaskType(ctx context.Context, identity, actor, taskType, reason string, until *time.Time) (model.BehaviorFreeze, error) {
	if err := requireActor(actor); err != nil {
		return model.BehaviorFreeze{}, err
	}
	f := model.BehaviorFreeze{
		ID:        uuid.NewString(),
		Kind:      model.FreezeTaskType,
		TaskType:  taskType,
		Reason:    reason,
		CreatedBy: actor,
		ExpiresAt: until,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.Freezes.Append(ctx, identity, f); err != nil {
		return f, fmt.Errorf("freeze %s: %w", taskType, err)
	}
	return f, s.record(identity, "freeze_task_type", f.ID, actor, taskType, reason)
}

// UnfreezeTaskType lifts every active freeze on taskType and reports how many.
func (s *Service) UnfreezeTaskType(ctx context.Context, identity, actor, taskType string) (int, error) {
	if err := requireActor(actor); err != nil {
		return 0, err
	}
	n, err := s.expireFreezes(ctx, identity, s.clock.Now(), func(f model.BehaviorFreeze) bool {
		return f.Kind == model.FreezeTaskType && f.TaskType == taskType
	})
	if err != nil {
		return n, err
	}
	return n, s.record(identity, "unfreeze_task_type", taskType, actor, fmt.Sprintf("%d lifted", n), "")
}

// expireFreezes sets ExpiresAt to now on every active freeze match accepts.
func (s *Service) expireFreezes(ctx context.Context, identity string, now time.Time, match func(model.BehaviorFreeze) bool) (int, error) {
	freezes, err := s.store.Freezes.Load(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("load freezes: %w", err)
	}
	n := 0
	for _, f := range freezes {
		if !f.Active(now) || !match(f) {
			continue
		}
		_, err := s.store.Freezes.Update(ctx, identity, f.ID, func(f *model.BehaviorFreeze) error {
			f.ExpiresAt = &now
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("lift freeze %s: %w", f.ID, err)
		}
		n++
	}
	return n, nil
}

// SetRoutingCap stores a model-tier cap. An empty ID gets a fresh one.
func (s *Service) SetRoutingCap(ctx context.Context, identity, actor string, c model.CostRoutingCap) (model.CostRoutingCap, error) {
	if err := requireActor(actor); err != nil {
		return c, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now()
	}
	if err := s.store.RoutingCaps.Upsert(ctx, identity, c); err != nil {
		return c, fmt.Errorf("set routing cap: %w", err)
	}
	return c, s.record(identity, "set_routing_cap", c.ID, actor, string(c.MaxModelTier), c.Reason)
}

// ClearRoutingCap expires the cap with id.
func (s *Service) ClearRoutingCap(ctx context.Context, identity, actor, id string) (model.CostRoutingCap, error) {
	if err := requireActor(actor); err != nil {
		return model.CostRoutingCap{}, err
	}
	now := s.clock.Now()
	c, err := s.store.RoutingCaps.Update(ctx, identity, id, func(c *model.CostRoutingCap) error {
		c.ExpiresAt = &now
		return nil
	})
	if err != nil {
		return c, fmt.Errorf("clear routing cap: %w", err)
	}
	return c, s.record(identity, "clear_routing_cap", id, actor, "cleared", "")
}

// ResolveGoalConflict closes a goal conflict by human decision.
func (s *Service) ResolveGoalConflict(ctx context.Context, identity, actor, conflictID, winningGoal, note string) (model.GoalConflict, error) {
	if err := requireActor(actor); err != nil {
		return model.GoalConflict{}, err
	}
	gc, err := s.goals.Resolve(ctx, identity, conflictID, winningGoal, note)
	if err != nil {
		return gc, err
	}
	return gc, s.record(identity, "resolve_goal_conflict", conflictID, actor, winningGoal, note)
}

// ForceDisagreement picks a proposal on an escalated disagreement.
func (s *Service) ForceDisagreement(ctx context.Context, identity, actor, disagreementID, proposalID string) (model.DisagreementRecord, error) {
	if err := requireActor(actor); err != nil {
		return model.DisagreementRecord{}, err
	}
	rec, err := s.referee.Force(ctx, identity, disagreementID, proposalID, actor)
	if err != nil {
		return rec, err
	}
	return rec, s.record(identity, "force_disagreement", disagreementID, actor, proposalID, "")
}

// ExportSnapshot captures the identity's full state.
func (s *Service) ExportSnapshot(ctx context.Context, identity, actor string) (store.Snapshot, error) {
	snap, err := s.store.Export(ctx, identity, s.clock.Now())
	if err != nil {
		return snap, fmt.Errorf("export snapshot: %w", err)
	}
	return snap, s.record(identity, "export_snapshot", snap.Digest, actor, "exported", "")
}

// ImportSnapshot replaces the identity's collections with snap's.
func (s *Service) ImportSnapshot(ctx context.Context, identity, actor string, snap store.Snapshot) (store.ImportReport, error) {
	if err := requireActor(actor); err != nil {
		return store.ImportReport{}, err
	}
	rep, err := s.store.Import(ctx, identity, snap)
	if err != nil {
		return rep, fmt.Errorf("import snapshot: %w", err)
	}
	rejected := 0
	for _, n := range rep.Rejected {
		rejected += n
	}
	return rep, s.record(identity, "import_snapshot", snap.Digest, actor, "imported", fmt.Sprintf("%d rejected", rejected))
}

// Pending is everything waiting on a human.
type Pending struct {
	Candidates       []model.ImprovementCandidate `json:"candidates"`
	Rules            []model.DistilledRule        `json:"rules"`
	GoalConflicts    []model.GoalConflict         `json:"goalConflicts"`
	Disagreements    []model.DisagreementRecord   `json:"disagreements"`
	Freezes          []model.BehaviorFreeze       `json:"freezes"`
	EmergencyStop    bool                         `json:"emergencyStop"`
	ReaffirmationDue bool                         `json:"reaffirmationDue"`
}

// ListPending collects open candidates, rules, conflicts, escalated
// disagreements and active freezes.
func (s *Service) ListPending(ctx context.Context, identity string) (Pending, error) {
	now := s.clock.Now()
	p := Pending{
		Candidates:    []model.ImprovementCandidate{},
		Rules:         []model.DistilledRule{},
		GoalConflicts: []model.GoalConflict{},
		Disagreements: []model.DisagreementRecord{},
		Freezes:       []model.BehaviorFreeze{},
	}

	candidates, err := s.store.Candidates.Load(ctx, identity)
	if err != nil {
		return p, fmt.Errorf("load candidates: %w", err)
	}
	for _, c := range candidates {
		if c.Status == model.CandidateProposed {
			p.Candidates = append(p.Candidates, c)
		}
	}
	rules, err := s.store.Rules.Load(ctx, identity)
	if err != nil {
		return p, fmt.Errorf("load rules: %w", err)
	}
	for _, r := range rules {
		if r.Status == model.RuleProposed {
			p.Rules = append(p.Rules, r)
		}
	}
	conflicts, err := s.store.GoalConflicts.Load(ctx, identity)
	if err != nil {
		return p, fmt.Errorf("load goal conflicts: %w", err)
	}
	for _, c := range conflicts {
		if !c.Resolved {
			p.GoalConflicts = append(p.GoalConflicts, c)
		}
	}
	disagreements, err := s.store.Disagreements.Load(ctx, identity)
	if err != nil {
		return p, fmt.Errorf("load disagreements: %w", err)
	}
	for _, d := range disagreements {
		if d.Outcome == model.OutcomeEscalatedCoop {
			p.Disagreements = append(p.Disagreements, d)
		}
	}
	freezes, err := s.store.Freezes.Load(ctx, identity)
	if err != nil {
		return p, fmt.Errorf("load freezes: %w", err)
	}
	for _, f := range freezes {
		if f.Active(now) {
			p.Freezes = append(p.Freezes, f)
		}
	}

	prof, found, err := s.store.ControlProfiles.Get(ctx, identity, model.ControlProfileID)
	if err != nil {
		return p, fmt.Errorf("load control profile: %w", err)
	}
	if !found {
		return p, ErrMissingHumanControls
	}
	p.EmergencyStop = prof.EmergencyStopActive(now)
	anchor, found, err := s.store.ValueAnchors.Get(ctx, identity, model.ValueAnchorID)
	if err != nil {
		return p, fmt.Errorf("load value anchor: %w", err)
	}
	p.ReaffirmationDue = !found || anchor.ReaffirmationDue(now)
	return p, nil
}

func (s *Service) requireNote(ctx context.Context, identity, candidateID, note string) error {
	if strings.TrimSpace(note) != "" {
		return nil
	}
	chain, found, err := s.improve.LatestChain(ctx, identity, candidateID)
	if err != nil {
		return err
	}
	if found && chain.RequiresHumanReview {
		return ErrExplanationRequired
	}
	return nil
}

func (s *Service) record(identity, op, recordID, actor, decision, reason string) error {
	err := s.audit.Record(audit.Entry{
		Timestamp: s.clock.Now().UTC().Format(audit.TimestampFormat),
		Identity:  identity,
		Kind:      audit.KindControlRoom,
		RecordID:  recordID,
		Subject:   audit.Subject{Action: op},
		Decision:  decision,
		Reason:    reason,
		Actor:     actor,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", op, err)
	}
	return nil
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return ErrActorRequired
	}
	return nil
}
