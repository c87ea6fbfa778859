// Package assess holds the per-request risk assessments run after goal and
// freeze checks: epistemic state, second-order effects, organizational norms
// and long-horizon commitments.
package assess

import (
	"fmt"

	"github.com/ppiankov/agentgov/internal/model"
)

// EpistemicThresholds tune the epistemic assessment.
type EpistemicThresholds struct {
	OverconfidentScore   float64 `yaml:"overconfident_score"`
	OverconfidentNovelty float64 `yaml:"overconfident_novelty"`
	ExplorationNovelty   float64 `yaml:"exploration_novelty"`
	MinEvidenceRefs      int     `yaml:"min_evidence_refs"`
}

// DefaultEpistemicThresholds returns the thresholds used when none are configured.
func DefaultEpistemicThresholds() EpistemicThresholds {
	return EpistemicThresholds{OverconfidentScore: 0.9, OverconfidentNovelty: 0.7, ExplorationNovelty: 0.6, MinEvidenceRefs: 1}
}

// EpistemicInput is what the assessment looks at.
type EpistemicInput struct {
	Disclosure           model.ConfidenceDisclosure
	Novelty              float64
	Impact               model.ActionImpact
	Tier                 model.PermissionTier
	ExplorationRequested bool
}

// Epistemic is the assessment result.
type Epistemic struct {
	Blocked         bool     `json:"blocked"`
	Reason          string   `json:"reason,omitempty"`
	ExplorationMode bool     `json:"explorationMode"`
	EvidenceCount   int      `json:"evidenceCount"`
	Notes           []string `json:"notes,omitempty"`
}

// AssessEpistemic compares confidence against novelty and evidence.
//
// Very high confidence on a very novel task with no declared blind spots is
// overconfidence. Difficult or irreversible actions need evidence. Novel
// tasks run in exploration mode, which never executes.
func AssessEpistemic(in EpistemicInput, th EpistemicThresholds) Epistemic {
	e := Epistemic{EvidenceCount: len(in.Disclosure.EvidenceRefs)}
	score := in.Disclosure.Score

	if score >= th.OverconfidentScore && in.Novelty >= th.OverconfidentNovelty && len(in.Disclosure.BlindSpots) == 0 {
		e.Blocked = true
		e.Reason = model.ReasonEpistemicOverconfident
		e.Notes = append(e.Notes, fmt.Sprintf("confidence %.2f on novelty %.2f with no blind spots", score, in.Novelty))
		return e
	}
	if in.Impact.AtOrAbove(model.ImpactDifficult) && e.EvidenceCount < th.MinEvidenceRefs {
		e.Blocked = true
		e.Reason = model.ReasonEpistemicInsufficient
		e.Notes = append(e.Notes, fmt.Sprintf("%s impact with %d evidence refs, need %d", in.Impact, e.EvidenceCount, th.MinEvidenceRefs))
		return e
	}

	e.ExplorationMode = in.ExplorationRequested || in.Novelty >= th.ExplorationNovelty
	if e.ExplorationMode && in.Tier == model.TierExecute {
		e.Blocked = true
		e.Reason = model.ReasonExplorationExecuteBlocked
		e.Notes = append(e.Notes, "exploration mode cannot execute")
	}
	return e
}
