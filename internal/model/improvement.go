package model

import "time"

// CandidateStatus is the lifecycle state of an improvement candidate.
type CandidateStatus string

const (
	CandidateProposed   CandidateStatus = "proposed"
	CandidateApplied    CandidateStatus = "applied"
	CandidateRejected   CandidateStatus = "rejected"
	CandidateRolledBack CandidateStatus = "rolled_back"
	CandidateSkipped    CandidateStatus = "skipped"
)

// Terminal reports whether the status admits no further human decision.
func (s CandidateStatus) Terminal() bool {
	return s == CandidateRejected || s == CandidateRolledBack || s == CandidateSkipped
}

// ImprovementCandidate is a proposed change produced by the improvement loop.
// Mutated only by human decision or rollback; never deleted.
type ImprovementCandidate struct {
	ID            string          `json:"id"`
	Target        string          `json:"target"`
	AgentID       string          `json:"agentId,omitempty"`
	Kind          string          `json:"kind"`
	Description   string          `json:"description"`
	Status        CandidateStatus `json:"status"`
	SourceRunID   string          `json:"sourceRunId,omitempty"`
	DecisionNote  string          `json:"decisionNote,omitempty"`
	DecidedBy     string          `json:"decidedBy,omitempty"`
	CooldownUntil *time.Time      `json:"cooldownUntil,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (c ImprovementCandidate) RecordID() string { return c.ID }

// Validate checks the structural contract of a candidate.
func (c ImprovementCandidate) Validate() error {
	v := newValidator("ImprovementCandidate")
	v.required("id", c.ID)
	v.required("target", c.Target)
	switch c.Status {
	case CandidateProposed, CandidateApplied, CandidateRejected, CandidateRolledBack, CandidateSkipped:
	default:
		v.add("status", "unknown status %q", c.Status)
	}
	return v.err()
}

// CausalChainStatus records whether an explanation was produced.
type CausalChainStatus string

const (
	ChainComplete          CausalChainStatus = "complete"
	ChainExplanationFailed CausalChainStatus = "explanation_failed"
)

// CausalChainRecord explains why a candidate fired. One per application attempt.
type CausalChainRecord struct {
	ID                  string            `json:"id"`
	CandidateID         string            `json:"candidateId"`
	Triggers            []string          `json:"triggers"`
	Alternatives        []string          `json:"alternatives"`
	Counterfactuals     []string          `json:"counterfactuals"`
	Explanation         string            `json:"explanation"`
	RequiresHumanReview bool              `json:"requiresHumanReview"`
	Status              CausalChainStatus `json:"status"`
	CreatedAt           time.Time         `json:"createdAt"`
}

func (c CausalChainRecord) RecordID() string { return c.ID }

// Validate checks the structural contract of a causal chain.
func (c CausalChainRecord) Validate() error {
	v := newValidator("CausalChainRecord")
	v.required("id", c.ID)
	v.required("candidateId", c.CandidateID)
	switch c.Status {
	case ChainComplete:
		v.required("explanation", c.Explanation)
		if len(c.Triggers) == 0 {
			v.add("triggers", "at least one trigger required")
		}
	case ChainExplanationFailed:
		if !c.RequiresHumanReview {
			v.add("requiresHumanReview", "must be true when explanation failed")
		}
	default:
		v.add("status", "unknown status %q", c.Status)
	}
	if c.CreatedAt.IsZero() {
		v.add("createdAt", "required")
	}
	return v.err()
}

// RuleStatus is the lifecycle of a distilled rule.
type RuleStatus string

const (
	RuleProposed RuleStatus = "proposed"
	RuleApproved RuleStatus = "approved"
	RuleRejected RuleStatus = "rejected"
)

// DistilledRule is a behavioral rule distilled from history awaiting human review.
type DistilledRule struct {
	ID           string     `json:"id"`
	Statement    string     `json:"statement"`
	Domain       string     `json:"domain,omitempty"`
	Evidence     []string   `json:"evidence,omitempty"`
	Status       RuleStatus `json:"status"`
	DecisionNote string     `json:"decisionNote,omitempty"`
	DecidedBy    string     `json:"decidedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (r DistilledRule) RecordID() string { return r.ID }

// Validate checks the structural contract of a distilled rule.
func (r DistilledRule) Validate() error {
	v := newValidator("DistilledRule")
	v.required("id", r.ID)
	v.required("statement", r.Statement)
	switch r.Status {
	case RuleProposed, RuleApproved, RuleRejected:
	default:
		v.add("status", "unknown status %q", r.Status)
	}
	return v.err()
}
