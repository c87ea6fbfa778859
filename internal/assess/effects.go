package assess

import (
	"fmt"

	"github.com/ppiankov/agentgov/internal/model"
)

// SecondOrder is the result of AssessSecondOrder.
type SecondOrder struct {
	Blocked        bool     `json:"blocked"`
	RequiresReview bool     `json:"requiresReview"`
	Flagged        []string `json:"flagged,omitempty"`
}

// AssessSecondOrder blocks on any high severity irreversible effect and flags
// medium or high severity effects for review.
func AssessSecondOrder(effects []model.SecondOrderEffect) SecondOrder {
	var r SecondOrder
	for _, e := range effects {
		switch e.Severity {
		case model.EffectHigh:
			r.RequiresReview = true
			if e.Irreversible {
				r.Blocked = true
			}
		case model.EffectMedium:
			r.RequiresReview = true
		default:
			continue
		}
		r.Flagged = append(r.Flagged, fmt.Sprintf("%s (%s, p=%.2f)", e.Description, e.Severity, e.Likelihood))
	}
	return r
}

// Norms is the result of EvaluateNorms.
type Norms struct {
	Blocked        bool     `json:"blocked"`
	RequiresReview bool     `json:"requiresReview"`
	Matched        []string `json:"matched,omitempty"`
}

// EvaluateNorms matches enabled norms by domain and action.
func EvaluateNorms(norms []model.NormRule, domain, action string) Norms {
	var r Norms
	for _, n := range norms {
		if !n.Matches(domain, action) {
			continue
		}
		r.Matched = append(r.Matched, n.ID)
		switch n.Effect {
		case model.NormProhibit:
			r.Blocked = true
		case model.NormReview:
			r.RequiresReview = true
		}
	}
	return r
}

// DefaultNorms are the norms seeded for a new identity.
func DefaultNorms() []model.NormRule {
	return []model.NormRule{
		{ID: "no-customer-data-export", Description: "Customer data never leaves the platform", Action: "export_customer_data", Effect: model.NormProhibit},
		{ID: "no-impersonation", Description: "Agents never pose as a named human", Action: "impersonate", Effect: model.NormProhibit},
		{ID: "mass-email-review", Description: "Mass email needs a human look", Domain: "marketing", Action: "mass_email", Effect: model.NormReview},
		{ID: "price-change-review", Description: "Price changes are reviewed", Domain: "pricing", Action: "price_change", Effect: model.NormReview},
	}
}
