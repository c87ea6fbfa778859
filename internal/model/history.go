package model

import "time"

// TaskHistoryEntry records an action that passed the governance pipeline.
type TaskHistoryEntry struct {
	ID                  string         `json:"id"`
	AgentID             string         `json:"agentId"`
	TaskID              string         `json:"taskId,omitempty"`
	TaskType            string         `json:"taskType"`
	GoalID              string         `json:"goalId"`
	Domain              string         `json:"domain"`
	Action              string         `json:"action,omitempty"`
	Tier                PermissionTier `json:"tier"`
	Impact              ActionImpact   `json:"impact"`
	Confidence          float64        `json:"confidence"`
	EstimatedCostCents  int64          `json:"estimatedCostCents"`
	RequiresHumanReview bool           `json:"requiresHumanReview"`
	CreatedAt           time.Time      `json:"createdAt"`
}

func (e TaskHistoryEntry) RecordID() string { return e.ID }

// Validate checks the structural contract of a task history entry.
func (e TaskHistoryEntry) Validate() error {
	v := newValidator("TaskHistoryEntry")
	v.required("id", e.ID)
	v.required("agentId", e.AgentID)
	v.tier("tier", e.Tier)
	v.impact("impact", e.Impact)
	v.unit("confidence", e.Confidence)
	if e.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	return v.err()
}

// DecisionLogEntry is the append-only log of every pipeline decision.
// Drift distributions are computed over it.
type DecisionLogEntry struct {
	ID                  string         `json:"id"`
	AgentID             string         `json:"agentId"`
	TaskType            string         `json:"taskType,omitempty"`
	Outcome             string         `json:"outcome"`
	Reason              string         `json:"reason"`
	Tier                PermissionTier `json:"tier,omitempty"`
	RequiresHumanReview bool           `json:"requiresHumanReview"`
	CreatedAt           time.Time      `json:"createdAt"`
}

func (e DecisionLogEntry) RecordID() string { return e.ID }

// Validate checks the structural contract of a decision log entry.
func (e DecisionLogEntry) Validate() error {
	v := newValidator("DecisionLogEntry")
	v.required("id", e.ID)
	v.required("reason", e.Reason)
	if !Lists(Outcomes, e.Outcome) {
		v.add("outcome", "unknown outcome %q", e.Outcome)
	}
	if e.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	return v.err()
}

// AgentTierState is the trust state an agent's autonomy tier is derived from.
type AgentTierState struct {
	AgentID           string         `json:"agentId"`
	CurrentTier       PermissionTier `json:"currentTier"`
	StableRuns        int            `json:"stableRuns"`
	TotalRuns         int            `json:"totalRuns"`
	Rollbacks         int            `json:"rollbacks"`
	ConfidenceSamples []float64      `json:"confidenceSamples,omitempty"`
	LastPromotedAt    *time.Time     `json:"lastPromotedAt,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (s AgentTierState) RecordID() string { return s.AgentID }

// Validate checks the structural contract of a tier state.
func (s AgentTierState) Validate() error {
	v := newValidator("AgentTierState")
	v.required("agentId", s.AgentID)
	v.tier("currentTier", s.CurrentTier)
	if s.StableRuns < 0 || s.TotalRuns < 0 || s.Rollbacks < 0 {
		v.add("runs", "counters must not be negative")
	}
	if s.Rollbacks > s.TotalRuns {
		v.add("rollbacks", "must not exceed totalRuns")
	}
	return v.err()
}

// RollbackRate is the share of runs that were rolled back.
func (s AgentTierState) RollbackRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.Rollbacks) / float64(s.TotalRuns)
}

// UncertaintyVariance is the population variance of recent confidence samples.
func (s AgentTierState) UncertaintyVariance() float64 {
	n := len(s.ConfidenceSamples)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, c := range s.ConfidenceSamples {
		mean += c
	}
	mean /= float64(n)
	var sq float64
	for _, c := range s.ConfidenceSamples {
		sq += (c - mean) * (c - mean)
	}
	return sq / float64(n)
}

// ScheduledTask is a task deferred by the scheduling policy applier.
type ScheduledTask struct {
	ID        string       `json:"id"`
	AgentID   string       `json:"agentId"`
	TaskID    string       `json:"taskId,omitempty"`
	TaskType  string       `json:"taskType"`
	GoalID    string       `json:"goalId,omitempty"`
	Mode      ScheduleMode `json:"mode"`
	RunAfter  time.Time    `json:"runAfter"`
	Reason    string       `json:"reason"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (t ScheduledTask) RecordID() string { return t.ID }

// Validate checks the structural contract of a scheduled task.
func (t ScheduledTask) Validate() error {
	v := newValidator("ScheduledTask")
	v.required("id", t.ID)
	v.required("agentId", t.AgentID)
	if t.RunAfter.IsZero() {
		v.add("runAfter", "required")
	}
	return v.err()
}

// NormEffect is what a matching norm does to a request.
type NormEffect string

const (
	NormProhibit NormEffect = "prohibit"
	NormReview   NormEffect = "review"
)

// NormRule is an organizational norm matched by domain and action.
// Empty or "*" Domain/Action match anything.
type NormRule struct {
	ID          string     `json:"id" yaml:"id"`
	Description string     `json:"description" yaml:"description"`
	Domain      string     `json:"domain,omitempty" yaml:"domain,omitempty"`
	Action      string     `json:"action,omitempty" yaml:"action,omitempty"`
	Effect      NormEffect `json:"effect" yaml:"effect"`
	Disabled    bool       `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

func (n NormRule) RecordID() string { return n.ID }

// Validate checks the structural contract of a norm.
func (n NormRule) Validate() error {
	v := newValidator("NormRule")
	v.required("id", n.ID)
	v.required("description", n.Description)
	switch n.Effect {
	case NormProhibit, NormReview:
	default:
		v.add("effect", "unknown effect %q", n.Effect)
	}
	return v.err()
}

// Matches reports whether the norm covers domain and action.
func (n NormRule) Matches(domain, action string) bool {
	if n.Disabled {
		return false
	}
	return wildcardEqual(n.Domain, domain) && wildcardEqual(n.Action, action)
}

func wildcardEqual(pattern, value string) bool {
	return pattern == "" || pattern == "*" || Lists([]string{pattern}, value)
}

// LongHorizonCommitment is debt incurred by an allowed action that binds the future.
type LongHorizonCommitment struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agentId"`
	GoalID         string       `json:"goalId,omitempty"`
	Action         string       `json:"action,omitempty"`
	Impact         ActionImpact `json:"impact"`
	CommitmentDays int          `json:"commitmentDays"`
	DebtPoints     int          `json:"debtPoints"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func (c LongHorizonCommitment) RecordID() string { return c.ID }

// Validate checks the structural contract of a commitment.
func (c LongHorizonCommitment) Validate() error {
	v := newValidator("LongHorizonCommitment")
	v.required("id", c.ID)
	v.required("agentId", c.AgentID)
	v.impact("impact", c.Impact)
	if c.CommitmentDays < 0 || c.DebtPoints < 0 {
		v.add("commitmentDays", "must not be negative")
	}
	return v.err()
}
