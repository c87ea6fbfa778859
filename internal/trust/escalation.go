package trust

import (
	"fmt"
	"time"

	"github.com/ppiankov/agentgov/internal/model"
)

// Signal is what a single request tells us about its own risk.
type Signal struct {
	Confidence      float64            `json:"confidence"`
	Novelty         float64            `json:"novelty"`
	Impact          model.ActionImpact `json:"impact"`
	AmbiguityCount  int                `json:"ambiguityCount"`
	ExplorationMode bool               `json:"explorationMode"`
}

// Policy holds the escalation thresholds in force for one request.
type Policy struct {
	MinConfidence    float64  `json:"minConfidence"`
	NoveltyThreshold float64  `json:"noveltyThreshold"`
	MaxAmbiguity     int      `json:"maxAmbiguity"`
	Overrides        []string `json:"overrides,omitempty"`
}

// Escalation is the result of ShouldEscalate.
type Escalation struct {
	Escalate bool     `json:"escalate"`
	Reasons  []string `json:"reasons,omitempty"`
}

// ShouldEscalate reports whether the request needs a human. Novelty is not
// considered in exploration mode.
func ShouldEscalate(s Signal, p Policy) Escalation {
	var e Escalation
	if s.Confidence < p.MinConfidence {
		e.Reasons = append(e.Reasons, fmt.Sprintf("confidence %.2f below %.2f", s.Confidence, p.MinConfidence))
	}
	if !s.ExplorationMode && s.Novelty >= p.NoveltyThreshold {
		e.Reasons = append(e.Reasons, fmt.Sprintf("novelty %.2f at or above %.2f", s.Novelty, p.NoveltyThreshold))
	}
	if s.Impact == model.ImpactIrreversible {
		e.Reasons = append(e.Reasons, "irreversible impact")
	}
	if s.AmbiguityCount > p.MaxAmbiguity {
		e.Reasons = append(e.Reasons, fmt.Sprintf("%d ambiguities, bound is %d", s.AmbiguityCount, p.MaxAmbiguity))
	}
	e.Escalate = len(e.Reasons) > 0
	return e
}

// EffectivePolicy starts from the human control profile and applies every
// active override for taskType or globally. Overrides only tighten.
func EffectivePolicy(profile model.HumanControlProfile, overrides []model.EscalationOverride, taskType string, now time.Time) Policy {
	p := Policy{
		MinConfidence:    profile.MinConfidence,
		NoveltyThreshold: profile.NoveltyThreshold,
		MaxAmbiguity:     profile.MaxAmbiguity,
	}
	for _, o := range overrides {
		if !o.Active(now) || (o.TaskType != "" && o.TaskType != taskType) {
			continue
		}
		p.Overrides = append(p.Overrides, o.ID)
		if o.MinConfidence > p.MinConfidence {
			p.MinConfidence = o.MinConfidence
		}
		if o.NoveltyThreshold > 0 && o.NoveltyThreshold < p.NoveltyThreshold {
			p.NoveltyThreshold = o.NoveltyThreshold
		}
		if o.MaxAmbiguity != nil && *o.MaxAmbiguity < p.MaxAmbiguity {
			p.MaxAmbiguity = *o.MaxAmbiguity
		}
	}
	return p
}
