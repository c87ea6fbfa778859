package model

import "time"

// GoalStatus is derived at read time; only suspension is stored.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalExpired   GoalStatus = "expired"
	GoalSuspended GoalStatus = "suspended"
)

// Goal is a business objective agent actions are attributed to.
type Goal struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Priority     int        `json:"priority"`
	OwnerRole    string     `json:"ownerRole,omitempty"`
	Suspended    bool       `json:"suspended,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ReaffirmedAt *time.Time `json:"reaffirmedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (g Goal) RecordID() string { return g.ID }

// Validate checks the structural contract of a goal.
func (g Goal) Validate() error {
	v := newValidator("Goal")
	v.required("id", g.ID)
	v.required("title", g.Title)
	if g.Priority < 0 {
		v.add("priority", "must not be negative")
	}
	return v.err()
}

// ResolveGoalStatus derives the status of g at now.
// Suspension wins over expiry.
func ResolveGoalStatus(g Goal, now time.Time) GoalStatus {
	if g.Suspended {
		return GoalSuspended
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return GoalExpired
	}
	return GoalActive
}

// GoalConflict records two goals whose actions contradict each other.
type GoalConflict struct {
	ID             string     `json:"id"`
	GoalA          string     `json:"goalA"`
	GoalB          string     `json:"goalB"`
	Description    string     `json:"description"`
	Resolved       bool       `json:"resolved"`
	WinningGoal    string     `json:"winningGoal,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	DisagreementID string     `json:"disagreementId,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func (c GoalConflict) RecordID() string { return c.ID }

// Validate checks the structural contract of a goal conflict.
func (c GoalConflict) Validate() error {
	v := newValidator("GoalConflict")
	v.required("id", c.ID)
	v.required("goalA", c.GoalA)
	v.required("goalB", c.GoalB)
	if c.GoalA != "" && c.GoalA == c.GoalB {
		v.add("goalB", "must differ from goalA")
	}
	return v.err()
}

// Involves reports whether the conflict names goalID.
func (c GoalConflict) Involves(goalID string) bool {
	return c.GoalA == goalID || c.GoalB == goalID
}
