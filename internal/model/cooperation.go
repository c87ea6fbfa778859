package model

import (
	"sort"
	"strings"
	"time"
)

// AgentProposal is one agent's competing proposal for the same decision.
type AgentProposal struct {
	ID         string       `json:"id"`
	AgentID    string       `json:"agentId"`
	Action     string       `json:"action"`
	Summary    string       `json:"summary,omitempty"`
	Confidence float64      `json:"confidence"`
	Impact     ActionImpact `json:"impact"`
	CostCents  int64        `json:"costCents,omitempty"`
}

// Validate checks the structural contract of a proposal.
func (p AgentProposal) Validate() error {
	v := newValidator("AgentProposal")
	v.required("id", p.ID)
	v.required("agentId", p.AgentID)
	v.required("action", p.Action)
	v.unit("confidence", p.Confidence)
	v.impact("impact", p.Impact)
	v.nonNegative("costCents", p.CostCents)
	return v.err()
}

// ResolutionKind is how a disagreement was settled.
type ResolutionKind string

const (
	ResolveSelect   ResolutionKind = "select"
	ResolveMerge    ResolutionKind = "merge"
	ResolveEscalate ResolutionKind = "escalate"
)

// CooperationOutcome feeds back into cooperation metrics.
type CooperationOutcome string

const (
	OutcomeSelected      CooperationOutcome = "selected"
	OutcomeMerged        CooperationOutcome = "merged"
	OutcomeForced        CooperationOutcome = "forced"
	OutcomeEscalatedCoop CooperationOutcome = "escalated"
)

// CooperationMetric tracks how well a pair of agents has cooperated historically.
type CooperationMetric struct {
	ID            string    `json:"id"`
	AgentA        string    `json:"agentA"`
	AgentB        string    `json:"agentB"`
	TrustScore    float64   `json:"trustScore"`
	DeadlockScore float64   `json:"deadlockScore"`
	Interactions  int       `json:"interactions"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (m CooperationMetric) RecordID() string { return m.ID }

// Validate checks the structural contract of a cooperation metric.
func (m CooperationMetric) Validate() error {
	v := newValidator("CooperationMetric")
	v.required("id", m.ID)
	v.required("agentA", m.AgentA)
	v.required("agentB", m.AgentB)
	v.unit("trustScore", m.TrustScore)
	v.unit("deadlockScore", m.DeadlockScore)
	if m.ID != "" && m.ID != PairID(m.AgentA, m.AgentB) {
		v.add("id", "must equal the canonical pair id")
	}
	return v.err()
}

// PairID is the order-independent id for a pair of agents.
func PairID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// DisagreementRecord captures one multi-agent disagreement and its resolution.
type DisagreementRecord struct {
	ID                  string             `json:"id"`
	Subject             string             `json:"subject"`
	Proposals           []AgentProposal    `json:"proposals"`
	TrustIndex          float64            `json:"trustIndex"`
	Resolution          ResolutionKind     `json:"resolution"`
	SelectedProposalIDs []string           `json:"selectedProposalIds,omitempty"`
	Outcome             CooperationOutcome `json:"outcome"`
	Confidence          float64            `json:"confidence"`
	RequiresHumanReview bool               `json:"requiresHumanReview"`
	Rationale           string             `json:"rationale"`
	CreatedAt           time.Time          `json:"createdAt"`
}

func (d DisagreementRecord) RecordID() string { return d.ID }

// Validate checks the structural contract of a disagreement record.
func (d DisagreementRecord) Validate() error {
	v := newValidator("DisagreementRecord")
	v.required("id", d.ID)
	if len(d.Proposals) < 2 {
		v.add("proposals", "at least two proposals required")
	}
	switch d.Resolution {
	case ResolveSelect, ResolveMerge, ResolveEscalate:
	default:
		v.add("resolution", "unknown resolution %q", d.Resolution)
	}
	v.unit("trustIndex", d.TrustIndex)
	v.unit("confidence", d.Confidence)
	return v.err()
}
