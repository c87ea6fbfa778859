package model

import "time"

// Ids of singleton evaluation records.
const (
	EvaluationClaimID    = "first_run"
	EvaluationRotationID = "active"
	FailureDebtID        = "active"

	// OverrideRotationID tags runs of caller-selected tasks. They are kept
	// for audit but never stand in for a rotation run.
	OverrideRotationID = "override"
)

// EvaluationResult is the outcome of one battery task.
type EvaluationResult struct {
	TaskID   string `json:"taskId"`
	Category string `json:"category"`
	Passed   bool   `json:"passed"`
	Weight   int    `json:"weight"`
	Detail   string `json:"detail,omitempty"`
}

// EvaluationRun is one execution of the evaluation battery.
type EvaluationRun struct {
	ID          string             `json:"id"`
	RotationID  string             `json:"rotationId"`
	Total       int                `json:"total"`
	Passed      int                `json:"passed"`
	PassRate    float64            `json:"passRate"`
	Baseline    float64            `json:"baseline"`
	Results     []EvaluationResult `json:"results"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}

func (r EvaluationRun) RecordID() string { return r.ID }

// Override reports whether the run executed caller-selected tasks.
func (r EvaluationRun) Override() bool { return r.RotationID == OverrideRotationID }

// Validate checks the structural contract of an evaluation run.
func (r EvaluationRun) Validate() error {
	v := newValidator("EvaluationRun")
	v.required("id", r.ID)
	v.required("rotationId", r.RotationID)
	v.unit("passRate", r.PassRate)
	v.unit("baseline", r.Baseline)
	if r.Passed > r.Total {
		v.add("passed", "must not exceed total")
	}
	if r.Total != len(r.Results) {
		v.add("results", "expected %d results, got %d", r.Total, len(r.Results))
	}
	return v.err()
}

// Failed returns the results that did not pass.
func (r EvaluationRun) Failed() []EvaluationResult {
	var out []EvaluationResult
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// EvaluationClaim marks the identity whose first evaluation run is in flight or done.
// Inserted only if absent so concurrent first runs cannot both proceed.
type EvaluationClaim struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	ClaimedAt time.Time `json:"claimedAt"`
}

func (c EvaluationClaim) RecordID() string { return c.ID }

// Validate checks the structural contract of a claim.
func (c EvaluationClaim) Validate() error {
	v := newValidator("EvaluationClaim")
	v.required("id", c.ID)
	v.required("owner", c.Owner)
	return v.err()
}

// EvaluationRotation is the active subset of battery tasks.
type EvaluationRotation struct {
	ID         string    `json:"id"`
	RotationID string    `json:"rotationId"`
	TaskIDs    []string  `json:"taskIds"`
	StartedAt  time.Time `json:"startedAt"`
}

func (r EvaluationRotation) RecordID() string { return r.ID }

// Validate checks the structural contract of a rotation.
func (r EvaluationRotation) Validate() error {
	v := newValidator("EvaluationRotation")
	v.required("id", r.ID)
	v.required("rotationId", r.RotationID)
	if len(r.TaskIDs) == 0 {
		v.add("taskIds", "at least one task required")
	}
	if r.StartedAt.IsZero() {
		v.add("startedAt", "required")
	}
	return v.err()
}

// DebtStatus classifies accumulated failure debt.
type DebtStatus string

const (
	DebtOK        DebtStatus = "ok"
	DebtWarning   DebtStatus = "warning"
	DebtBlocking  DebtStatus = "blocking"
	DebtEscalated DebtStatus = "escalated"
)

// Blocks reports whether the status forbids further autonomous action.
func (s DebtStatus) Blocks() bool {
	return s == DebtBlocking || s == DebtEscalated
}

// FailureDebt is accumulated unresolved evaluation failure weight.
type FailureDebt struct {
	ID          string     `json:"id"`
	Points      int        `json:"points"`
	Status      DebtStatus `json:"status"`
	Outstanding []string   `json:"outstanding,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (d FailureDebt) RecordID() string { return d.ID }

// Validate checks the structural contract of failure debt.
func (d FailureDebt) Validate() error {
	v := newValidator("FailureDebt")
	v.required("id", d.ID)
	if d.Points < 0 {
		v.add("points", "must not be negative")
	}
	switch d.Status {
	case DebtOK, DebtWarning, DebtBlocking, DebtEscalated:
	default:
		v.add("status", "unknown status %q", d.Status)
	}
	return v.err()
}
