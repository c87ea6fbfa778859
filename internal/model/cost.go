package model

import "time"

// BudgetScope names what a budget constrains.
type BudgetScope string

const (
	ScopeGoal     BudgetScope = "goal"
	ScopeAgent    BudgetScope = "agent"
	ScopeTaskType BudgetScope = "task_type"
	ScopeGlobal   BudgetScope = "global"
)

// CostBudget is a scoped spend ceiling with soft and hard limits.
// A zero PeriodHours means the budget never resets.
type CostBudget struct {
	ID             string      `json:"id"`
	Scope          BudgetScope `json:"scope"`
	ScopeKey       string      `json:"scopeKey"`
	SoftLimitCents int64       `json:"softLimitCents"`
	HardLimitCents int64       `json:"hardLimitCents"`
	PeriodHours    int         `json:"periodHours,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func (b CostBudget) RecordID() string { return b.ID }

// Validate checks the structural contract of a budget.
func (b CostBudget) Validate() error {
	v := newValidator("CostBudget")
	v.required("id", b.ID)
	switch b.Scope {
	case ScopeGoal, ScopeAgent, ScopeTaskType:
		v.required("scopeKey", b.ScopeKey)
	case ScopeGlobal:
	default:
		v.add("scope", "unknown scope %q", b.Scope)
	}
	v.nonNegative("softLimitCents", b.SoftLimitCents)
	v.nonNegative("hardLimitCents", b.HardLimitCents)
	if b.HardLimitCents > 0 && b.SoftLimitCents > b.HardLimitCents {
		v.add("softLimitCents", "must not exceed hardLimitCents")
	}
	if b.PeriodHours < 0 {
		v.add("periodHours", "must not be negative")
	}
	return v.err()
}

// Matches reports whether the budget applies to the given request keys.
func (b CostBudget) Matches(goalID, agentID, taskType string) bool {
	switch b.Scope {
	case ScopeGlobal:
		return true
	case ScopeGoal:
		return goalID != "" && (b.ScopeKey == "*" || b.ScopeKey == goalID)
	case ScopeAgent:
		return agentID != "" && (b.ScopeKey == "*" || b.ScopeKey == agentID)
	case ScopeTaskType:
		return taskType != "" && (b.ScopeKey == "*" || b.ScopeKey == taskType)
	}
	return false
}

// CostEventKind classifies a cost governance event.
type CostEventKind string

const (
	CostEventSoftLimit   CostEventKind = "soft_limit_exceeded"
	CostEventHardLimit   CostEventKind = "hard_limit_exceeded"
	CostEventModelCapped CostEventKind = "model_tier_capped"
	CostEventTierDemoted CostEventKind = "tier_demoted"
)

// CostEventRecord is an immutable, append-only cost governance event.
type CostEventRecord struct {
	ID             string        `json:"id"`
	Kind           CostEventKind `json:"kind"`
	BudgetID       string        `json:"budgetId,omitempty"`
	AgentID        string        `json:"agentId"`
	GoalID         string        `json:"goalId,omitempty"`
	TaskType       string        `json:"taskType,omitempty"`
	SpentCents     int64         `json:"spentCents"`
	EstimatedCents int64         `json:"estimatedCents"`
	LimitCents     int64         `json:"limitCents"`
	Detail         string        `json:"detail,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func (e CostEventRecord) RecordID() string { return e.ID }

// Validate checks the structural contract of a cost event.
func (e CostEventRecord) Validate() error {
	v := newValidator("CostEventRecord")
	v.required("id", e.ID)
	v.required("kind", string(e.Kind))
	v.required("agentId", e.AgentID)
	if e.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	return v.err()
}

// CostRoutingCap forces cheaper model tiers until it expires.
type CostRoutingCap struct {
	ID           string     `json:"id"`
	MaxModelTier ModelTier  `json:"maxModelTier"`
	TaskType     string     `json:"taskType,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (c CostRoutingCap) RecordID() string { return c.ID }

// Validate checks the structural contract of a routing cap.
func (c CostRoutingCap) Validate() error {
	v := newValidator("CostRoutingCap")
	v.required("id", c.ID)
	if !c.MaxModelTier.Valid() {
		v.add("maxModelTier", "unknown model tier %q", c.MaxModelTier)
	}
	return v.err()
}

// Active reports whether the cap is still honored at now.
func (c CostRoutingCap) Active(now time.Time) bool {
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// CostLedgerEntry records spend attributed to an allowed action.
type CostLedgerEntry struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	GoalID      string    `json:"goalId,omitempty"`
	TaskType    string    `json:"taskType,omitempty"`
	AmountCents int64     `json:"amountCents"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (l CostLedgerEntry) RecordID() string { return l.ID }

// Validate checks the structural contract of a ledger entry.
func (l CostLedgerEntry) Validate() error {
	v := newValidator("CostLedgerEntry")
	v.required("id", l.ID)
	v.required("agentId", l.AgentID)
	v.nonNegative("amountCents", l.AmountCents)
	if l.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	return v.err()
}
