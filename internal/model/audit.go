package model

import (
	"slices"
	"time"
)

// Audit field names a role may require in its audit records.
const (
	AuditFieldIdentityKey   = "identityKey"
	AuditFieldAgentID       = "agentId"
	AuditFieldRole          = "role"
	AuditFieldPolicyVersion = "policyVersion"
	AuditFieldDomain        = "domain"
	AuditFieldDecisionType  = "decisionType"
	AuditFieldAction        = "action"
	AuditFieldTool          = "tool"
	AuditFieldDataCategory  = "dataCategories"
	AuditFieldTier          = "tier"
	AuditFieldTaskClass     = "taskClass"
	AuditFieldImpact        = "impact"
	AuditFieldCost          = "estimatedCostCents"
	AuditFieldGoalID        = "goalId"
	AuditFieldTaskID        = "taskId"
	AuditFieldDecision      = "decision"
	AuditFieldReasonCode    = "reasonCode"
	AuditFieldTimestamp     = "timestamp"
	AuditFieldHandoffFrom   = "handoffFrom"
)

var knownAuditFields = []string{
	AuditFieldIdentityKey, AuditFieldAgentID, AuditFieldRole, AuditFieldPolicyVersion,
	AuditFieldDomain, AuditFieldDecisionType, AuditFieldAction, AuditFieldTool,
	AuditFieldDataCategory, AuditFieldTier, AuditFieldTaskClass, AuditFieldImpact,
	AuditFieldCost, AuditFieldGoalID, AuditFieldTaskID, AuditFieldDecision,
	AuditFieldReasonCode, AuditFieldTimestamp, AuditFieldHandoffFrom,
}

// KnownAuditField reports whether name is an audit field the engine can populate.
func KnownAuditField(name string) bool {
	return slices.Contains(knownAuditFields, name)
}

// RoleAuditRecord is the append-only record of one role constitution evaluation.
type RoleAuditRecord struct {
	ID                  string         `json:"id"`
	IdentityKey         string         `json:"identityKey"`
	AgentID             string         `json:"agentId"`
	Role                string         `json:"role"`
	PolicyVersion       int            `json:"policyVersion,omitempty"`
	Domain              string         `json:"domain"`
	DecisionType        string         `json:"decisionType,omitempty"`
	Action              string         `json:"action,omitempty"`
	Tool                string         `json:"tool,omitempty"`
	DataCategories      []string       `json:"dataCategories,omitempty"`
	Tier                PermissionTier `json:"tier,omitempty"`
	TaskClass           TaskClass      `json:"taskClass,omitempty"`
	Impact              ActionImpact   `json:"impact,omitempty"`
	EstimatedCostCents  int64          `json:"estimatedCostCents"`
	GoalID              string         `json:"goalId,omitempty"`
	TaskID              string         `json:"taskId,omitempty"`
	HandoffFrom         string         `json:"handoffFrom,omitempty"`
	Decision            Decision       `json:"decision"`
	ReasonCode          string         `json:"reasonCode"`
	Reasons             []string       `json:"reasons,omitempty"`
	RequiresHumanReview bool           `json:"requiresHumanReview"`
	MissingFields       []string       `json:"missingFields,omitempty"`
	Fallback            bool           `json:"fallback,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

func (r RoleAuditRecord) RecordID() string { return r.ID }

// Validate checks the structural contract of an audit record.
func (r RoleAuditRecord) Validate() error {
	v := newValidator("RoleAuditRecord")
	v.required("id", r.ID)
	v.required("identityKey", r.IdentityKey)
	v.required("reasonCode", r.ReasonCode)
	if !r.Decision.Valid() {
		v.add("decision", "unknown decision %q", r.Decision)
	}
	if r.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	if r.Decision != Allow && !r.RequiresHumanReview {
		v.add("requiresHumanReview", "must be true for %s", r.Decision)
	}
	return v.err()
}

// HasField reports whether the named audit field is populated.
// Unknown field names are never populated.
func (r RoleAuditRecord) HasField(name string) bool {
	switch name {
	case AuditFieldIdentityKey:
		return r.IdentityKey != ""
	case AuditFieldAgentID:
		return r.AgentID != ""
	case AuditFieldRole:
		return r.Role != ""
	case AuditFieldPolicyVersion:
		return r.PolicyVersion > 0
	case AuditFieldDomain:
		return r.Domain != ""
	case AuditFieldDecisionType:
		return r.DecisionType != ""
	case AuditFieldAction:
		return r.Action != ""
	case AuditFieldTool:
		return r.Tool != ""
	case AuditFieldDataCategory:
		return len(r.DataCategories) > 0
	case AuditFieldTier:
		return r.Tier != ""
	case AuditFieldTaskClass:
		return r.TaskClass != ""
	case AuditFieldImpact:
		return r.Impact != ""
	case AuditFieldCost:
		return r.EstimatedCostCents >= 0
	case AuditFieldGoalID:
		return r.GoalID != ""
	case AuditFieldTaskID:
		return r.TaskID != ""
	case AuditFieldDecision:
		return r.Decision.Valid()
	case AuditFieldReasonCode:
		return r.ReasonCode != ""
	case AuditFieldTimestamp:
		return !r.CreatedAt.IsZero()
	case AuditFieldHandoffFrom:
		return r.HandoffFrom != ""
	default:
		return false
	}
}

// MissingRequired returns the required fields the record does not populate.
func (r RoleAuditRecord) MissingRequired(required []string) []string {
	var missing []string
	for _, f := range required {
		if !r.HasField(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
