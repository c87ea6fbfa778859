// Package evalharness runs a fixed battery of safety, contract and trust
// tasks against the live governance rules and guards autonomous action on
// pass rate, regression and accumulated failure debt.
package evalharness

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed battery/governance.yaml
var governanceBatteryYAML []byte

// Task kinds.
const (
	KindRole       = "role"
	KindContract   = "contract"
	KindEscalation = "escalation"
	KindPromotion  = "promotion"
)

// Battery is a versioned set of evaluation tasks.
type Battery struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Tasks   []Task `yaml:"tasks"`
}

// Task is one evaluation case. Exactly one input block matches Kind.
type Task struct {
	ID         string          `yaml:"id"`
	Category   string          `yaml:"category"`
	Weight     int             `yaml:"weight"`
	Kind       string          `yaml:"kind"`
	Role       *RoleCase       `yaml:"role,omitempty"`
	Contract   *ContractCase   `yaml:"contract,omitempty"`
	Escalation *EscalationCase `yaml:"escalation,omitempty"`
	Promotion  *PromotionCase  `yaml:"promotion,omitempty"`
	Expect     Expect          `yaml:"expect"`
}

// RoleCase is a role constitution request.
type RoleCase struct {
	Role               string   `yaml:"role"`
	Domain             string   `yaml:"domain"`
	DecisionType       string   `yaml:"decision_type"`
	Action             string   `yaml:"action,omitempty"`
	Tool               string   `yaml:"tool,omitempty"`
	DataCategories     []string `yaml:"data_categories,omitempty"`
	Tier               string   `yaml:"tier"`
	TaskClass          string   `yaml:"task_class"`
	Impact             string   `yaml:"impact"`
	EstimatedCostCents int64    `yaml:"estimated_cost_cents,omitempty"`
	HandoffFrom        string   `yaml:"handoff_from,omitempty"`
}

// ContractCase is a JSON payload decoded strictly into a named record type.
type ContractCase struct {
	Type    string `yaml:"type"`
	Payload string `yaml:"payload"`
}

// EscalationCase is a trust signal and the policy it is judged against.
type EscalationCase struct {
	Confidence       float64 `yaml:"confidence"`
	Novelty          float64 `yaml:"novelty"`
	Impact           string  `yaml:"impact"`
	AmbiguityCount   int     `yaml:"ambiguity_count,omitempty"`
	Exploration      bool    `yaml:"exploration,omitempty"`
	MinConfidence    float64 `yaml:"min_confidence"`
	NoveltyThreshold float64 `yaml:"novelty_threshold"`
	MaxAmbiguity     int     `yaml:"max_ambiguity"`
}

// PromotionCase is a set of promotion signals.
type PromotionCase struct {
	Current             string  `yaml:"current"`
	PassRate            float64 `yaml:"pass_rate"`
	UncertaintyVariance float64 `yaml:"uncertainty_variance"`
	RollbackRate        float64 `yaml:"rollback_rate"`
	StableRuns          int     `yaml:"stable_runs"`
	FailureDebt         string  `yaml:"failure_debt"`
}

// Expect is the expected outcome. Only fields relevant to the kind are read.
type Expect struct {
	Decision string `yaml:"decision,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
	Valid    *bool  `yaml:"valid,omitempty"`
	Escalate *bool  `yaml:"escalate,omitempty"`
	Eligible *bool  `yaml:"eligible,omitempty"`
	NextTier string `yaml:"next_tier,omitempty"`
}

// DefaultBattery parses the embedded governance battery.
func DefaultBattery() (*Battery, error) {
	return ParseBattery(governanceBatteryYAML)
}

// ParseBattery parses and checks a battery definition.
func ParseBattery(data []byte) (*Battery, error) {
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse battery: %w", err)
	}
	if len(b.Tasks) == 0 {
		return nil, fmt.Errorf("battery %q has no tasks", b.Name)
	}
	seen := make(map[string]bool, len(b.Tasks))
	for i, t := range b.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("battery %q: task %d has no id", b.Name, i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("battery %q: duplicate task %q", b.Name, t.ID)
		}
		seen[t.ID] = true
		if t.Weight <= 0 {
			b.Tasks[i].Weight = 1
		}
		if err := t.check(); err != nil {
			return nil, fmt.Errorf("battery %q: task %q: %w", b.Name, t.ID, err)
		}
	}
	return &b, nil
}

func (t Task) check() error {
	var ok bool
	switch t.Kind {
	case KindRole:
		ok = t.Role != nil
	case KindContract:
		ok = t.Contract != nil
	case KindEscalation:
		ok = t.Escalation != nil
	case KindPromotion:
		ok = t.Promotion != nil
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if !ok {
		return fmt.Errorf("missing %s block", t.Kind)
	}
	return nil
}

// Task returns the task with id.
func (b *Battery) Task(id string) (Task, bool) {
	for _, t := range b.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// IDs returns every task id, sorted.
func (b *Battery) IDs() []string {
	ids := make([]string, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}
