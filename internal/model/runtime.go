package model

import (
	"fmt"
	"strings"
	"time"
)

// ConfidenceDisclosure is an agent's self-reported confidence.
type ConfidenceDisclosure struct {
	Score                  float64  `json:"score"`
	UncertaintyExplanation string   `json:"uncertaintyExplanation"`
	BlindSpots             []string `json:"blindSpots,omitempty"`
	EvidenceRefs           []string `json:"evidenceRefs,omitempty"`
}

// Validate checks the structural contract of a disclosure.
func (c ConfidenceDisclosure) Validate() error {
	v := newValidator("ConfidenceDisclosure")
	v.unit("score", c.Score)
	v.required("uncertaintyExplanation", c.UncertaintyExplanation)
	for _, ref := range c.EvidenceRefs {
		if strings.TrimSpace(ref) == "" {
			v.add("evidenceRefs", "empty reference")
			break
		}
	}
	return v.err()
}

// ExplainabilitySnapshot is required for difficult and irreversible actions.
type ExplainabilitySnapshot struct {
	Summary      string   `json:"summary"`
	Factors      []string `json:"factors"`
	Alternatives []string `json:"alternatives,omitempty"`
	RiskNotes    string   `json:"riskNotes,omitempty"`
}

// Validate checks the structural contract of a snapshot.
func (e ExplainabilitySnapshot) Validate() error {
	v := newValidator("ExplainabilitySnapshot")
	v.required("summary", e.Summary)
	if len(e.Factors) == 0 {
		v.add("factors", "at least one factor required")
	}
	return v.err()
}

// HandoffContract declares one agent acting on behalf of another.
type HandoffContract struct {
	ID             string     `json:"id"`
	FromAgentID    string     `json:"fromAgentId"`
	FromRole       string     `json:"fromRole"`
	ToAgentID      string     `json:"toAgentId"`
	ToRole         string     `json:"toRole"`
	Domain         string     `json:"domain"`
	Action         string     `json:"action,omitempty"`
	Tool           string     `json:"tool,omitempty"`
	DataCategories []string   `json:"dataCategories,omitempty"`
	Purpose        string     `json:"purpose"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (h HandoffContract) RecordID() string { return h.ID }

// Validate checks the structural contract of a handoff.
func (h HandoffContract) Validate() error {
	v := newValidator("HandoffContract")
	v.required("id", h.ID)
	v.required("fromAgentId", h.FromAgentID)
	v.required("fromRole", h.FromRole)
	v.required("toAgentId", h.ToAgentID)
	v.required("toRole", h.ToRole)
	v.required("domain", h.Domain)
	v.required("purpose", h.Purpose)
	if h.FromAgentID != "" && h.FromAgentID == h.ToAgentID {
		v.add("toAgentId", "must differ from fromAgentId")
	}
	return v.err()
}

// Expired reports whether the handoff has lapsed at now.
func (h HandoffContract) Expired(now time.Time) bool {
	return h.ExpiresAt != nil && !now.Before(*h.ExpiresAt)
}

// Urgency of a task for scheduling.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// ScheduleMode is how a task wants to be scheduled.
type ScheduleMode string

const (
	ModeImmediate ScheduleMode = "immediate"
	ModeBatch     ScheduleMode = "batch"
	ModeDefer     ScheduleMode = "defer"
)

// SchedulingPolicy is the caller's scheduling preference for a task.
type SchedulingPolicy struct {
	Urgency            Urgency      `json:"urgency"`
	Mode               ScheduleMode `json:"mode"`
	BatchWindowMinutes int          `json:"batchWindowMinutes,omitempty"`
	DeferMinutes       int          `json:"deferMinutes,omitempty"`
	NotBefore          *time.Time   `json:"notBefore,omitempty"`
}

// Validate checks the structural contract of a scheduling policy.
func (s SchedulingPolicy) Validate() error {
	v := newValidator("SchedulingPolicy")
	switch s.Urgency {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
	default:
		v.add("urgency", "unknown urgency %q", s.Urgency)
	}
	switch s.Mode {
	case ModeImmediate, ModeBatch, ModeDefer:
	default:
		v.add("mode", "unknown mode %q", s.Mode)
	}
	if s.BatchWindowMinutes < 0 || s.DeferMinutes < 0 {
		v.add("minutes", "must not be negative")
	}
	return v.err()
}

// EffectSeverity grades a second-order effect.
type EffectSeverity string

const (
	EffectLow    EffectSeverity = "low"
	EffectMedium EffectSeverity = "medium"
	EffectHigh   EffectSeverity = "high"
)

// SecondOrderEffect is a declared downstream consequence of an action.
type SecondOrderEffect struct {
	Description  string         `json:"description"`
	Severity     EffectSeverity `json:"severity"`
	Likelihood   float64        `json:"likelihood"`
	Irreversible bool           `json:"irreversible,omitempty"`
}

// Validate checks the structural contract of an effect.
func (e SecondOrderEffect) Validate() error {
	v := newValidator("SecondOrderEffect")
	v.required("description", e.Description)
	switch e.Severity {
	case EffectLow, EffectMedium, EffectHigh:
	default:
		v.add("severity", "unknown severity %q", e.Severity)
	}
	v.unit("likelihood", e.Likelihood)
	return v.err()
}

// AgentRuntimeContext is one action request submitted to the pipeline.
type AgentRuntimeContext struct {
	AgentID            string                  `json:"agentId"`
	Initiator          Initiator               `json:"initiator,omitempty"`
	Domain             string                  `json:"domain"`
	DecisionType       string                  `json:"decisionType"`
	Action             string                  `json:"action,omitempty"`
	Tool               string                  `json:"tool,omitempty"`
	GoalID             string                  `json:"goalId,omitempty"`
	TaskID             string                  `json:"taskId,omitempty"`
	TaskType           string                  `json:"taskType,omitempty"`
	TaskDescription    string                  `json:"taskDescription,omitempty"`
	RequestedTier      PermissionTier          `json:"requestedTier"`
	TaskClass          TaskClass               `json:"taskClass,omitempty"`
	Impact             ActionImpact            `json:"impact"`
	EstimatedCostCents int64                   `json:"estimatedCostCents,omitempty"`
	ModelTier          ModelTier               `json:"modelTier,omitempty"`
	DataCategories     []string                `json:"dataCategories,omitempty"`
	Confidence         *ConfidenceDisclosure   `json:"confidence,omitempty"`
	Explainability     *ExplainabilitySnapshot `json:"explainability,omitempty"`
	Proposals          []AgentProposal         `json:"proposals,omitempty"`
	ActiveProposalID   string                  `json:"activeProposalId,omitempty"`
	Handoff            *HandoffContract        `json:"handoff,omitempty"`
	Scheduling         *SchedulingPolicy       `json:"scheduling,omitempty"`
	EvaluationTasks    []string                `json:"evaluationTasks,omitempty"`
	Novelty            float64                 `json:"novelty,omitempty"`
	AmbiguityCount     int                     `json:"ambiguityCount,omitempty"`
	ExplorationMode    bool                    `json:"explorationMode,omitempty"`
	SecondOrderEffects []SecondOrderEffect     `json:"secondOrderEffects,omitempty"`
	CommitmentDays     int                     `json:"commitmentDays,omitempty"`
}

// Normalize fills defaults for optional enums.
func (c *AgentRuntimeContext) Normalize() {
	if c.Initiator == "" {
		c.Initiator = InitiatorAgent
	}
	if c.TaskClass == "" {
		c.TaskClass = ClassRoutine
	}
	if c.ModelTier == "" {
		c.ModelTier = ModelStandard
	}
	if c.TaskType == "" {
		c.TaskType = c.DecisionType
	}
}

// Validate checks the structural contract of a runtime context.
func (c AgentRuntimeContext) Validate() error {
	v := newValidator("AgentRuntimeContext")
	v.required("agentId", c.AgentID)
	v.required("domain", c.Domain)
	v.required("decisionType", c.DecisionType)
	if c.Initiator != "" && !c.Initiator.Valid() {
		v.add("initiator", "unknown initiator %q", c.Initiator)
	}
	v.tier("requestedTier", c.RequestedTier)
	if c.TaskClass != "" {
		v.class("taskClass", c.TaskClass)
	}
	v.impact("impact", c.Impact)
	v.nonNegative("estimatedCostCents", c.EstimatedCostCents)
	if c.ModelTier != "" && !c.ModelTier.Valid() {
		v.add("modelTier", "unknown model tier %q", c.ModelTier)
	}
	v.unit("novelty", c.Novelty)
	if c.AmbiguityCount < 0 {
		v.add("ambiguityCount", "must not be negative")
	}
	if c.CommitmentDays < 0 {
		v.add("commitmentDays", "must not be negative")
	}
	if c.Scheduling != nil {
		v.nested("scheduling", c.Scheduling.Validate())
	}
	for i, e := range c.SecondOrderEffects {
		v.nested(fmt.Sprintf("secondOrderEffects[%d]", i), e.Validate())
	}
	return v.err()
}

// RuntimeGovernanceDecision is the pipeline's final answer for one request.
// Details carries one sub-object per stage that ran.
type RuntimeGovernanceDecision struct {
	ID                  string         `json:"id"`
	Allowed             bool           `json:"allowed"`
	Reason              string         `json:"reason"`
	RequiresHumanReview bool           `json:"requiresHumanReview"`
	EffectiveTier       PermissionTier `json:"effectiveTier,omitempty"`
	ModelTier           ModelTier      `json:"modelTier,omitempty"`
	Details             map[string]any `json:"details"`
	EvaluatedAt         time.Time      `json:"evaluatedAt"`
}

// Deferred reports whether the decision is a scheduling deferral rather than a denial.
func (d RuntimeGovernanceDecision) Deferred() bool {
	return !d.Allowed && d.Reason == ReasonSchedulingDeferred
}
