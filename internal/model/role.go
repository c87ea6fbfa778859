package model

import "time"

// Record is implemented by every persisted governance record.
type Record interface {
	RecordID() string
	Validate() error
}

// Jurisdiction lists the domains and actions a role may act in.
// An empty Actions list places no action restriction.
type Jurisdiction struct {
	Domains []string `json:"domains" yaml:"domains"`
	Actions []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// AuthorityCeiling is the most a role may approve without escalation.
type AuthorityCeiling struct {
	MaxTier               PermissionTier `json:"maxTier" yaml:"max_tier"`
	MaxTaskClass          TaskClass      `json:"maxTaskClass" yaml:"max_task_class"`
	MaxImpact             ActionImpact   `json:"maxImpact" yaml:"max_impact"`
	MaxEstimatedCostCents int64          `json:"maxEstimatedCostCents" yaml:"max_estimated_cost_cents"`
}

// EscalationRules force escalation regardless of the ceiling.
// Threshold rules fire at or above the configured rank.
type EscalationRules struct {
	AlwaysEscalateActions      []string     `json:"alwaysEscalateActions,omitempty" yaml:"always_escalate_actions,omitempty"`
	AlwaysEscalateDomains      []string     `json:"alwaysEscalateDomains,omitempty" yaml:"always_escalate_domains,omitempty"`
	EscalateAtOrAboveTaskClass TaskClass    `json:"escalateAtOrAboveTaskClass,omitempty" yaml:"escalate_at_or_above_task_class,omitempty"`
	EscalateAtOrAboveImpact    ActionImpact `json:"escalateAtOrAboveImpact,omitempty" yaml:"escalate_at_or_above_impact,omitempty"`
	EscalateAboveCostCents     *int64       `json:"escalateAboveCostCents,omitempty" yaml:"escalate_above_cost_cents,omitempty"`
}

// ChainOfCommand declares which roles this role may request work from
// and which roles it may approve work for.
type ChainOfCommand struct {
	CanRequestFrom []string `json:"canRequestFrom,omitempty" yaml:"can_request_from,omitempty"`
	CanApproveFor  []string `json:"canApproveFor,omitempty" yaml:"can_approve_for,omitempty"`
}

// DataAccess lists the data categories a role may touch.
type DataAccess struct {
	AllowedCategories []string `json:"allowedCategories" yaml:"allowed_categories"`
}

// ToolAccess lists the tools a role may invoke.
type ToolAccess struct {
	AllowedTools []string `json:"allowedTools" yaml:"allowed_tools"`
}

// AuditRequirements lists fields every audit record for the role must carry.
type AuditRequirements struct {
	RequiredFields []string `json:"requiredFields" yaml:"required_fields"`
}

// RolePolicy is a role constitution. Replaced only by explicit upsert.
type RolePolicy struct {
	Role              string            `json:"role" yaml:"role"`
	Version           int               `json:"version" yaml:"version"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
	Jurisdiction      Jurisdiction      `json:"jurisdiction" yaml:"jurisdiction"`
	AuthorityCeiling  AuthorityCeiling  `json:"authorityCeiling" yaml:"authority_ceiling"`
	DeniedActions     []string          `json:"deniedActions,omitempty" yaml:"denied_actions,omitempty"`
	EscalationRules   EscalationRules   `json:"escalationRules" yaml:"escalation_rules"`
	ChainOfCommand    ChainOfCommand    `json:"chainOfCommand" yaml:"chain_of_command"`
	DataAccess        DataAccess        `json:"dataAccess" yaml:"data_access"`
	ToolAccess        ToolAccess        `json:"toolAccess" yaml:"tool_access"`
	AuditRequirements AuditRequirements `json:"auditRequirements" yaml:"audit_requirements"`
	UpdatedAt         time.Time         `json:"updatedAt" yaml:"-"`
}

func (p RolePolicy) RecordID() string { return p.Role }

// Validate checks the structural contract of a role constitution.
func (p RolePolicy) Validate() error {
	v := newValidator("RolePolicy")
	v.required("role", p.Role)
	if p.Version < 1 {
		v.add("version", "must be >= 1")
	}
	if len(p.Jurisdiction.Domains) == 0 {
		v.add("jurisdiction.domains", "at least one domain required")
	}
	v.tier("authorityCeiling.maxTier", p.AuthorityCeiling.MaxTier)
	v.class("authorityCeiling.maxTaskClass", p.AuthorityCeiling.MaxTaskClass)
	v.impact("authorityCeiling.maxImpact", p.AuthorityCeiling.MaxImpact)
	v.nonNegative("authorityCeiling.maxEstimatedCostCents", p.AuthorityCeiling.MaxEstimatedCostCents)
	if c := p.EscalationRules.EscalateAtOrAboveTaskClass; c != "" {
		v.class("escalationRules.escalateAtOrAboveTaskClass", c)
	}
	if i := p.EscalationRules.EscalateAtOrAboveImpact; i != "" {
		v.impact("escalationRules.escalateAtOrAboveImpact", i)
	}
	if c := p.EscalationRules.EscalateAboveCostCents; c != nil {
		v.nonNegative("escalationRules.escalateAboveCostCents", *c)
	}
	for _, f := range p.AuditRequirements.RequiredFields {
		if !KnownAuditField(f) {
			v.add("auditRequirements.requiredFields", "unknown audit field %q", f)
		}
	}
	return v.err()
}

// AgentScope is an agent's own declared capability set.
type AgentScope struct {
	Domains           []string `json:"domains" yaml:"domains"`
	DecisionScopes    []string `json:"decisionScopes" yaml:"decision_scopes"`
	AllowedTools      []string `json:"allowedTools" yaml:"allowed_tools"`
	ProhibitedActions []string `json:"prohibitedActions,omitempty" yaml:"prohibited_actions,omitempty"`
}

// AgentProfile is the registered identity of an agent.
type AgentProfile struct {
	AgentID           string         `json:"agentId" yaml:"agent_id"`
	Role              string         `json:"role" yaml:"role"`
	MaxPermissionTier PermissionTier `json:"maxPermissionTier" yaml:"max_permission_tier"`
	Scope             AgentScope     `json:"scope" yaml:"scope"`
}

func (a AgentProfile) RecordID() string { return a.AgentID }

// Validate checks the structural contract of an agent profile.
func (a AgentProfile) Validate() error {
	v := newValidator("AgentProfile")
	v.required("agentId", a.AgentID)
	v.required("role", a.Role)
	v.tier("maxPermissionTier", a.MaxPermissionTier)
	return v.err()
}
