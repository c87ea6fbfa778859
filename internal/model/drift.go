package model

import "time"

// Outcome buckets used for drift distributions.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeEscalated = "escalated"
	OutcomeDeferred  = "deferred"
)

// Outcomes lists the distribution buckets in a stable order.
var Outcomes = []string{OutcomeAllowed, OutcomeDenied, OutcomeEscalated, OutcomeDeferred}

// ValueAnchorID is the id of the single active value anchor per identity.
const ValueAnchorID = "active"

// ValueAnchor is the declared baseline behavior drift is measured against.
type ValueAnchor struct {
	ID                 string             `json:"id"`
	Version            int                `json:"version"`
	Values             []string           `json:"values"`
	Baseline           map[string]float64 `json:"baseline"`
	BaselineReviewRate float64            `json:"baselineReviewRate"`
	ReaffirmEveryHours int                `json:"reaffirmEveryHours"`
	ReaffirmedAt       time.Time          `json:"reaffirmedAt"`
	ReaffirmedBy       string             `json:"reaffirmedBy,omitempty"`
	Note               string             `json:"note,omitempty"`
}

func (a ValueAnchor) RecordID() string { return a.ID }

// Validate checks the structural contract of a value anchor.
func (a ValueAnchor) Validate() error {
	v := newValidator("ValueAnchor")
	v.required("id", a.ID)
	if a.Version < 1 {
		v.add("version", "must be >= 1")
	}
	if len(a.Values) == 0 {
		v.add("values", "at least one value required")
	}
	var sum float64
	for k, p := range a.Baseline {
		if !Lists(Outcomes, k) {
			v.add("baseline", "unknown outcome %q", k)
		}
		v.unit("baseline."+k, p)
		sum += p
	}
	if len(a.Baseline) > 0 && (sum < 0.99 || sum > 1.01) {
		v.add("baseline", "probabilities must sum to 1, got %.3f", sum)
	}
	v.unit("baselineReviewRate", a.BaselineReviewRate)
	if a.ReaffirmEveryHours < 0 {
		v.add("reaffirmEveryHours", "must not be negative")
	}
	return v.err()
}

// ReaffirmationDue reports whether the anchor must be reaffirmed at now.
func (a ValueAnchor) ReaffirmationDue(now time.Time) bool {
	if a.ReaffirmEveryHours == 0 {
		return false
	}
	return now.Sub(a.ReaffirmedAt) > time.Duration(a.ReaffirmEveryHours)*time.Hour
}

// DriftReport is one drift evaluation over a recent window.
type DriftReport struct {
	ID                    string             `json:"id"`
	Severity              DriftSeverity      `json:"severity"`
	Distance              float64            `json:"distance"`
	ReviewRateDelta       float64            `json:"reviewRateDelta"`
	Baseline              map[string]float64 `json:"baseline"`
	Recent                map[string]float64 `json:"recent"`
	SampleSize            int                `json:"sampleSize"`
	WindowStart           time.Time          `json:"windowStart"`
	WindowEnd             time.Time          `json:"windowEnd"`
	AnchorVersion         int                `json:"anchorVersion"`
	RequiresReaffirmation bool               `json:"requiresReaffirmation"`
	CreatedAt             time.Time          `json:"createdAt"`
}

func (r DriftReport) RecordID() string { return r.ID }

// Validate checks the structural contract of a drift report.
func (r DriftReport) Validate() error {
	v := newValidator("DriftReport")
	v.required("id", r.ID)
	if !r.Severity.Valid() {
		v.add("severity", "unknown severity %q", r.Severity)
	}
	if r.Distance < 0 || r.Distance > 1 {
		v.add("distance", "must be within [0,1]")
	}
	if r.SampleSize < 0 {
		v.add("sampleSize", "must not be negative")
	}
	return v.err()
}

// DefaultValueAnchor is the anchor seeded when none exists.
func DefaultValueAnchor(now time.Time) ValueAnchor {
	return ValueAnchor{
		ID:      ValueAnchorID,
		Version: 1,
		Values:  []string{"customer_trust", "financial_prudence", "transparency"},
		Baseline: map[string]float64{
			OutcomeAllowed:   0.7,
			OutcomeDenied:    0.1,
			OutcomeEscalated: 0.15,
			OutcomeDeferred:  0.05,
		},
		BaselineReviewRate: 0.25,
		ReaffirmEveryHours: 720,
		ReaffirmedAt:       now,
		ReaffirmedBy:       "bootstrap",
	}
}
