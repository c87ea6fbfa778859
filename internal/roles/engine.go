// Package roles implements the role constitution engine: it evaluates one
// action against one role's jurisdiction, authority ceiling, escalation
// rules and chain of command, and persists exactly one audit record per call.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/audit"
	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// Request is one action submitted for role evaluation.
type Request struct {
	Agent              model.AgentProfile
	Domain             string
	DecisionType       string
	Action             string
	Tool               string
	DataCategories     []string
	Tier               model.PermissionTier
	TaskClass          model.TaskClass
	Impact             model.ActionImpact
	EstimatedCostCents int64
	GoalID             string
	TaskID             string
	Handoff            *model.HandoffContract
}

// effectiveAction is the action checked against jurisdiction and denied lists.
// Requests without an explicit action are checked by decision type.
func (r Request) effectiveAction() string {
	if r.Action != "" {
		return r.Action
	}
	return r.DecisionType
}

// Result is the engine's decision plus the audit record that was persisted.
type Result struct {
	Decision            model.Decision        `json:"decision"`
	ReasonCode          string                `json:"reasonCode"`
	Reasons             []string              `json:"reasons,omitempty"`
	RequiresHumanReview bool                  `json:"requiresHumanReview"`
	PolicyVersion       int                   `json:"policyVersion,omitempty"`
	Audit               model.RoleAuditRecord `json:"audit"`
}

// Config configures an Engine.
type Config struct {
	Store  *store.Store
	Audit  audit.Recorder // optional hash-chained log
	Clock  clock.Clock
	Logger *zap.Logger
}

// Engine evaluates actions against role constitutions.
type Engine struct {
	store *store.Store
	audit audit.Recorder
	clock clock.Clock
	log   *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store: cfg.Store,
		audit: cfg.Audit,
		clock: clock.OrReal(cfg.Clock),
		log:   cfg.Logger,
	}
	if e.audit == nil {
		e.audit = audit.Nop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// verdict is the outcome of the ordered checks before auditing.
type verdict struct {
	decision model.Decision
	code     string
	reasons  []string
}

func deny(code string, reasons ...string) verdict {
	return verdict{decision: model.Deny, code: code, reasons: reasons}
}

// Evaluate runs the ordered role checks for req under identity:
//
//  1. role policy must exist
//  2. domain and action within jurisdiction
//  3. action not denied
//  4. tool access
//  5. data access
//  6. handoff: target, requester policy, chain of command, requester's own checks
//  7. authority ceiling (strictly above escalates)
//  8. escalation rules (at or above escalates)
//  9. allow
//
// Before persisting, the audit record is checked against the role's required
// fields; an incomplete record forces deny. Exactly one audit record is
// persisted per call. An error is returned only when state cannot be read or
// the audit record cannot be written; the returned Result is then a deny.
func (e *Engine) Evaluate(ctx context.Context, identity string, req Request) (Result, error) {
	var (
		policy *model.RolePolicy
		v      verdict
	)

	loaded, found, err := e.store.Roles.Get(ctx, identity, req.Agent.Role)
	if err != nil {
		v = deny(model.ReasonRolePolicyMissing, "role store unavailable")
		return e.failClosed(ctx, identity, req, nil, v, fmt.Errorf("load role %q: %w", req.Agent.Role, err))
	}
	if found {
		policy = &loaded
	}

	if policy == nil {
		v = deny(model.ReasonRolePolicyMissing, fmt.Sprintf("no policy for role %q", req.Agent.Role))
	} else if msg := invalidRequest(req); msg != "" {
		v = deny(model.ReasonRoleRequestInvalid, msg)
	} else {
		v, err = e.check(ctx, identity, policy, req)
		if err != nil {
			v = deny(model.ReasonHandoffRequesterMissing, "requester policy unavailable")
			return e.failClosed(ctx, identity, req, policy, v, err)
		}
	}

	res := e.finish(ctx, identity, req, policy, v)
	if err := e.persist(ctx, identity, res.Audit); err != nil {
		res.Decision = model.Deny
		res.RequiresHumanReview = true
		return res, err
	}
	return res, nil
}

// failClosed still tries to persist the deny so the failed call leaves an
// audit record. Both errors are returned when that write fails too.
func (e *Engine) failClosed(ctx context.Context, identity string, req Request, policy *model.RolePolicy, v verdict, cause error) (Result, error) {
	res := e.finish(ctx, identity, req, policy, v)
	if err := e.persist(ctx, identity, res.Audit); err != nil {
		return res, errors.Join(cause, err)
	}
	return res, cause
}

func invalidRequest(req Request) string {
	if req.Domain == "" {
		return "domain is required"
	}
	if !req.Tier.Valid() {
		return fmt.Sprintf("unknown permission tier %q", req.Tier)
	}
	if req.TaskClass != "" && !req.TaskClass.Valid() {
		return fmt.Sprintf("unknown task class %q", req.TaskClass)
	}
	if req.Impact != "" && !req.Impact.Valid() {
		return fmt.Sprintf("unknown action impact %q", req.Impact)
	}
	if req.EstimatedCostCents < 0 {
		return "estimated cost must not be negative"
	}
	return ""
}

func (e *Engine) check(ctx context.Context, identity string, p *model.RolePolicy, req Request) (verdict, error) {
	action := req.effectiveAction()

	if v, ok := jurisdictionCheck(p, req.Domain, action, req.Tool, req.DataCategories, false); !ok {
		return v, nil
	}

	if req.Handoff != nil {
		v, ok, err := e.handoffCheck(ctx, identity, p, req)
		if err != nil || !ok {
			return v, err
		}
	}

	if v, ok := ceilingCheck(p, req); !ok {
		return v, nil
	}
	if v, ok := escalationCheck(p, req); !ok {
		return v, nil
	}
	return verdict{decision: model.Allow, code: model.ReasonRolePolicyOK}, nil
}

// jurisdictionCheck runs steps 2-5 against p. With handoff set, the
// requester-side reason codes are used.
func jurisdictionCheck(p *model.RolePolicy, domain, action, tool string, data []string, handoff bool) (verdict, bool) {
	code := func(direct, viaHandoff string) string {
		if handoff {
			return viaHandoff
		}
		return direct
	}

	if !model.Grants(p.Jurisdiction.Domains, domain) {
		return deny(code(model.ReasonJurisdictionDomainDenied, model.ReasonHandoffOutsideDomain),
			fmt.Sprintf("role %s has no jurisdiction over domain %q", p.Role, domain)), false
	}
	if len(p.Jurisdiction.Actions) > 0 && action != "" && !model.Grants(p.Jurisdiction.Actions, action) {
		return deny(code(model.ReasonJurisdictionActionDenied, model.ReasonHandoffOutsideAction),
			fmt.Sprintf("role %s has no jurisdiction over action %q", p.Role, action)), false
	}
	if action != "" && model.Lists(p.DeniedActions, action) {
		return deny(code(model.ReasonDeniedAction, model.ReasonHandoffDeniedAction),
			fmt.Sprintf("action %q is denied for role %s", action, p.Role)), false
	}
	if tool != "" && !model.Grants(p.ToolAccess.AllowedTools, tool) {
		return deny(code(model.ReasonToolAccessDenied, model.ReasonHandoffToolDenied),
			fmt.Sprintf("role %s may not use tool %q", p.Role, tool)), false
	}
	for _, cat := range data {
		if !model.Grants(p.DataAccess.AllowedCategories, cat) {
			return deny(code(model.ReasonDataAccessDenied, model.ReasonHandoffDataDenied),
				fmt.Sprintf("role %s may not access data category %q", p.Role, cat)), false
		}
	}
	return verdict{}, true
}

// handoffCheck prevents a low-authority requester from laundering a request
// through a higher-authority role: the requester's own checks must pass too.
func (e *Engine) handoffCheck(ctx context.Context, identity string, p *model.RolePolicy, req Request) (verdict, bool, error) {
	h := req.Handoff
	if h.ToRole != p.Role || (h.ToAgentID != "" && h.ToAgentID != req.Agent.AgentID) {
		return deny(model.ReasonHandoffTargetMismatch,
			fmt.Sprintf("handoff targets %s/%s, evaluated %s/%s", h.ToRole, h.ToAgentID, p.Role, req.Agent.AgentID)), false, nil
	}

	requester, found, err := e.store.Roles.Get(ctx, identity, h.FromRole)
	if err != nil {
		return verdict{}, false, fmt.Errorf("load requester role %q: %w", h.FromRole, err)
	}
	if !found {
		return deny(model.ReasonHandoffRequesterMissing,
			fmt.Sprintf("no policy for requesting role %q", h.FromRole)), false, nil
	}

	if !model.Grants(requester.ChainOfCommand.CanRequestFrom, p.Role) {
		return deny(model.ReasonHandoffRequestNotAllowed,
			fmt.Sprintf("role %s may not request from %s", requester.Role, p.Role)), false, nil
	}
	if !model.Grants(p.ChainOfCommand.CanApproveFor, requester.Role) {
		return deny(model.ReasonHandoffApprovalNotAllowed,
			fmt.Sprintf("role %s may not approve for %s", p.Role, requester.Role)), false, nil
	}

	if v, ok := jurisdictionCheck(&requester, req.Domain, req.effectiveAction(), req.Tool, req.DataCategories, true); !ok {
		return v, false, nil
	}
	return verdict{}, true, nil
}

func ceilingCheck(p *model.RolePolicy, req Request) (verdict, bool) {
	c := p.AuthorityCeiling
	var codes, reasons []string
	if req.Tier.Exceeds(c.MaxTier) {
		codes = append(codes, model.ReasonAuthorityTierExceeded)
		reasons = append(reasons, fmt.Sprintf("tier %s exceeds ceiling %s", req.Tier, c.MaxTier))
	}
	if req.TaskClass.Exceeds(c.MaxTaskClass) {
		codes = append(codes, model.ReasonAuthorityClassExceeded)
		reasons = append(reasons, fmt.Sprintf("task class %s exceeds ceiling %s", req.TaskClass, c.MaxTaskClass))
	}
	if req.Impact.Exceeds(c.MaxImpact) {
		codes = append(codes, model.ReasonAuthorityImpactExceeded)
		reasons = append(reasons, fmt.Sprintf("impact %s exceeds ceiling %s", req.Impact, c.MaxImpact))
	}
	if req.EstimatedCostCents > c.MaxEstimatedCostCents {
		codes = append(codes, model.ReasonAuthorityCostExceeded)
		reasons = append(reasons, fmt.Sprintf("cost %d exceeds ceiling %d", req.EstimatedCostCents, c.MaxEstimatedCostCents))
	}
	if len(codes) == 0 {
		return verdict{}, true
	}
	return verdict{decision: model.Escalate, code: codes[0], reasons: reasons}, false
}

func escalationCheck(p *model.RolePolicy, req Request) (verdict, bool) {
	r := p.EscalationRules
	esc := func(code, reason string) (verdict, bool) {
		return verdict{decision: model.Escalate, code: code, reasons: []string{reason}}, false
	}

	if action := req.effectiveAction(); action != "" && model.Grants(r.AlwaysEscalateActions, action) {
		return esc(model.ReasonEscalationRuleAction, fmt.Sprintf("action %q always escalates", action))
	}
	if model.Grants(r.AlwaysEscalateDomains, req.Domain) {
		return esc(model.ReasonEscalationRuleDomain, fmt.Sprintf("domain %q always escalates", req.Domain))
	}
	if r.EscalateAtOrAboveTaskClass != "" && req.TaskClass.AtOrAbove(r.EscalateAtOrAboveTaskClass) {
		return esc(model.ReasonEscalationRuleClass,
			fmt.Sprintf("task class %s at or above %s", req.TaskClass, r.EscalateAtOrAboveTaskClass))
	}
	if r.EscalateAtOrAboveImpact != "" && req.Impact.AtOrAbove(r.EscalateAtOrAboveImpact) {
		return esc(model.ReasonEscalationRuleImpact,
			fmt.Sprintf("impact %s at or above %s", req.Impact, r.EscalateAtOrAboveImpact))
	}
	// Ceiling uses strict >; this threshold fires at >=.
	if r.EscalateAboveCostCents != nil && req.EstimatedCostCents >= *r.EscalateAboveCostCents {
		return esc(model.ReasonEscalationRuleCost,
			fmt.Sprintf("cost %d at or above %d", req.EstimatedCostCents, *r.EscalateAboveCostCents))
	}
	return verdict{}, true
}

// finish builds the audit record and applies the audit completeness gate.
func (e *Engine) finish(_ context.Context, identity string, req Request, p *model.RolePolicy, v verdict) Result {
	rec := model.RoleAuditRecord{
		ID:                 uuid.NewString(),
		IdentityKey:        identity,
		AgentID:            req.Agent.AgentID,
		Role:               req.Agent.Role,
		Domain:             req.Domain,
		DecisionType:       req.DecisionType,
		Action:             req.Action,
		Tool:               req.Tool,
		DataCategories:     req.DataCategories,
		Tier:               req.Tier,
		TaskClass:          req.TaskClass,
		Impact:             req.Impact,
		EstimatedCostCents: req.EstimatedCostCents,
		GoalID:             req.GoalID,
		TaskID:             req.TaskID,
		Decision:           v.decision,
		ReasonCode:         v.code,
		Reasons:            v.reasons,
		CreatedAt:          e.clock.Now(),
	}
	if req.Handoff != nil {
		rec.HandoffFrom = req.Handoff.FromAgentID
	}
	if p != nil {
		rec.PolicyVersion = p.Version
		if missing := rec.MissingRequired(p.AuditRequirements.RequiredFields); len(missing) > 0 {
			rec.Decision = model.Deny
			rec.ReasonCode = model.ReasonAuditRequirementsFailed
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("audit record missing required fields %v (was %s:%s)", missing, v.decision, v.code))
			rec.MissingFields = missing
			rec.Fallback = true
		}
	}
	rec.RequiresHumanReview = rec.Decision != model.Allow

	res := Result{
		Decision:            rec.Decision,
		ReasonCode:          rec.ReasonCode,
		Reasons:             rec.Reasons,
		RequiresHumanReview: rec.RequiresHumanReview,
		PolicyVersion:       rec.PolicyVersion,
		Audit:               rec,
	}
	return res
}

func (e *Engine) persist(ctx context.Context, identity string, rec model.RoleAuditRecord) error {
	if err := e.store.RoleAudit.Append(ctx, identity, rec); err != nil {
		e.log.Error("role audit write failed",
			zap.String("identity", identity),
			zap.String("agent", rec.AgentID),
			zap.Error(err))
		return fmt.Errorf("persist role audit: %w", err)
	}
	entry := audit.Entry{
		Timestamp: rec.CreatedAt.UTC().Format(audit.TimestampFormat),
		Identity:  identity,
		Kind:      audit.KindRoleConstitution,
		RecordID:  rec.ID,
		Subject: audit.Subject{
			AgentID: rec.AgentID,
			Role:    rec.Role,
			Domain:  rec.Domain,
			Action:  rec.Action,
			Tool:    rec.Tool,
		},
		Tier:           string(rec.Tier),
		Decision:       string(rec.Decision),
		Reason:         rec.ReasonCode,
		RequiresReview: rec.RequiresHumanReview,
	}
	if err := e.audit.Record(entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	e.log.Debug("role evaluated",
		zap.String("identity", identity),
		zap.String("agent", rec.AgentID),
		zap.String("decision", string(rec.Decision)),
		zap.String("reason", rec.ReasonCode))
	return nil
}
