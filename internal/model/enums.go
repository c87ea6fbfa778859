package model

import "fmt"

// PermissionTier is how autonomously an agent may act.
// Ordered: draft < suggest < execute.
type PermissionTier string

const (
	TierDraft   PermissionTier = "draft"
	TierSuggest PermissionTier = "suggest"
	TierExecute PermissionTier = "execute"
)

var tierRank = map[PermissionTier]int{
	TierDraft:   0,
	TierSuggest: 1,
	TierExecute: 2,
}

var tierOrder = []PermissionTier{TierDraft, TierSuggest, TierExecute}

// Rank returns the position of the tier in the total order, or -1 if unknown.
func (t PermissionTier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t PermissionTier) Valid() bool { return t.Rank() >= 0 }

// Exceeds reports whether t is strictly above ceiling.
func (t PermissionTier) Exceeds(ceiling PermissionTier) bool { return t.Rank() > ceiling.Rank() }

// AtOrAbove reports whether t is at or above threshold.
func (t PermissionTier) AtOrAbove(threshold PermissionTier) bool { return t.Rank() >= threshold.Rank() }

// Next returns the tier exactly one step up. Execute stays execute.
func (t PermissionTier) Next() PermissionTier {
	r := t.Rank()
	if r < 0 {
		return TierDraft
	}
	if r+1 >= len(tierOrder) {
		return t
	}
	return tierOrder[r+1]
}

// Prev returns the tier exactly one step down. Draft stays draft.
func (t PermissionTier) Prev() PermissionTier {
	r := t.Rank()
	if r <= 0 {
		return TierDraft
	}
	return tierOrder[r-1]
}

// MinTier returns the lower of two tiers.
func MinTier(a, b PermissionTier) PermissionTier {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// TaskClass is the risk classification of a task.
// Ordered: routine < novel < high_risk.
type TaskClass string

const (
	ClassRoutine  TaskClass = "routine"
	ClassNovel    TaskClass = "novel"
	ClassHighRisk TaskClass = "high_risk"
)

var classRank = map[TaskClass]int{
	ClassRoutine:  0,
	ClassNovel:    1,
	ClassHighRisk: 2,
}

// Rank returns the position of the class in the total order, or -1 if unknown.
func (c TaskClass) Rank() int {
	if r, ok := classRank[c]; ok {
		return r
	}
	return -1
}

// Valid reports whether c is a known class.
func (c TaskClass) Valid() bool { return c.Rank() >= 0 }

// Exceeds reports whether c is strictly above ceiling.
func (c TaskClass) Exceeds(ceiling TaskClass) bool { return c.Rank() > ceiling.Rank() }

// AtOrAbove reports whether c is at or above threshold.
func (c TaskClass) AtOrAbove(threshold TaskClass) bool { return c.Rank() >= threshold.Rank() }

// ActionImpact is the blast radius of an action.
// Ordered: reversible < difficult < irreversible.
type ActionImpact string

const (
	ImpactReversible   ActionImpact = "reversible"
	ImpactDifficult    ActionImpact = "difficult"
	ImpactIrreversible ActionImpact = "irreversible"
)

var impactRank = map[ActionImpact]int{
	ImpactReversible:   0,
	ImpactDifficult:    1,
	ImpactIrreversible: 2,
}

// Rank returns the position of the impact in the total order, or -1 if unknown.
func (i ActionImpact) Rank() int {
	if r, ok := impactRank[i]; ok {
		return r
	}
	return -1
}

// Valid reports whether i is a known impact.
func (i ActionImpact) Valid() bool { return i.Rank() >= 0 }

// Exceeds reports whether i is strictly above ceiling.
func (i ActionImpact) Exceeds(ceiling ActionImpact) bool { return i.Rank() > ceiling.Rank() }

// AtOrAbove reports whether i is at or above threshold.
func (i ActionImpact) AtOrAbove(threshold ActionImpact) bool { return i.Rank() >= threshold.Rank() }

// DriftSeverity grades divergence from a value anchor.
// Ordered: none < low < medium < high.
type DriftSeverity string

const (
	DriftNone   DriftSeverity = "none"
	DriftLow    DriftSeverity = "low"
	DriftMedium DriftSeverity = "medium"
	DriftHigh   DriftSeverity = "high"
)

var driftRank = map[DriftSeverity]int{
	DriftNone:   0,
	DriftLow:    1,
	DriftMedium: 2,
	DriftHigh:   3,
}

// Rank returns the position of the severity in the total order, or -1 if unknown.
func (s DriftSeverity) Rank() int {
	if r, ok := driftRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s DriftSeverity) Valid() bool { return s.Rank() >= 0 }

// AtOrAbove reports whether s is at or above threshold.
func (s DriftSeverity) AtOrAbove(threshold DriftSeverity) bool { return s.Rank() >= threshold.Rank() }

// ModelTier is the cost class of the model an agent routes to.
// Ordered: economy < standard < premium.
type ModelTier string

const (
	ModelEconomy  ModelTier = "economy"
	ModelStandard ModelTier = "standard"
	ModelPremium  ModelTier = "premium"
)

var modelRank = map[ModelTier]int{
	ModelEconomy:  0,
	ModelStandard: 1,
	ModelPremium:  2,
}

// Rank returns the position of the model tier in the total order, or -1 if unknown.
func (m ModelTier) Rank() int {
	if r, ok := modelRank[m]; ok {
		return r
	}
	return -1
}

// Valid reports whether m is a known model tier.
func (m ModelTier) Valid() bool { return m.Rank() >= 0 }

// Exceeds reports whether m is strictly above ceiling.
func (m ModelTier) Exceeds(ceiling ModelTier) bool { return m.Rank() > ceiling.Rank() }

// Decision is the Role Constitution Engine outcome.
type Decision string

const (
	Allow    Decision = "allow"
	Deny     Decision = "deny"
	Escalate Decision = "escalate"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	switch d {
	case Allow, Deny, Escalate:
		return true
	}
	return false
}

// ParseDecision maps a string to a Decision. Fail-closed: unknown → Deny.
func ParseDecision(s string) Decision {
	switch Decision(s) {
	case Allow, Deny, Escalate:
		return Decision(s)
	default:
		return Deny
	}
}

// Initiator identifies who started a request.
type Initiator string

const (
	InitiatorAgent  Initiator = "agent"
	InitiatorHuman  Initiator = "human"
	InitiatorSystem Initiator = "system"
)

// Valid reports whether i is a known initiator.
func (i Initiator) Valid() bool {
	switch i {
	case InitiatorAgent, InitiatorHuman, InitiatorSystem:
		return true
	}
	return false
}

// ParseTier parses a permission tier, returning an error for unknown values.
func ParseTier(s string) (PermissionTier, error) {
	t := PermissionTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown permission tier %q", s)
	}
	return t, nil
}
