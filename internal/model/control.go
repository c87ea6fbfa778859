package model

import "time"

// ControlProfileID is the id of the single active human control profile per identity.
const ControlProfileID = "active"

// HumanControlProfile holds the human-set limits for an identity.
type HumanControlProfile struct {
	ID               string         `json:"id"`
	AutonomyCeiling  PermissionTier `json:"autonomyCeiling"`
	MaxModelTier     ModelTier      `json:"maxModelTier"`
	MinConfidence    float64        `json:"minConfidence"`
	NoveltyThreshold float64        `json:"noveltyThreshold"`
	MaxAmbiguity     int            `json:"maxAmbiguity"`
	EmergencyStop    bool           `json:"emergencyStop"`
	EmergencyReason  string         `json:"emergencyReason,omitempty"`
	EmergencyUntil   *time.Time     `json:"emergencyUntil,omitempty"`
	UpdatedBy        string         `json:"updatedBy,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func (p HumanControlProfile) RecordID() string { return p.ID }

// Validate checks the structural contract of a control profile.
func (p HumanControlProfile) Validate() error {
	v := newValidator("HumanControlProfile")
	v.required("id", p.ID)
	v.tier("autonomyCeiling", p.AutonomyCeiling)
	if !p.MaxModelTier.Valid() {
		v.add("maxModelTier", "unknown model tier %q", p.MaxModelTier)
	}
	v.unit("minConfidence", p.MinConfidence)
	v.unit("noveltyThreshold", p.NoveltyThreshold)
	if p.MaxAmbiguity < 0 {
		v.add("maxAmbiguity", "must not be negative")
	}
	return v.err()
}

// EmergencyStopActive reports whether the emergency stop is honored at now.
// A stop with no expiry stays active until cleared.
func (p HumanControlProfile) EmergencyStopActive(now time.Time) bool {
	if !p.EmergencyStop {
		return false
	}
	return p.EmergencyUntil == nil || now.Before(*p.EmergencyUntil)
}

// DefaultControlProfile is the conservative profile seeded when none exists.
func DefaultControlProfile(now time.Time) HumanControlProfile {
	return HumanControlProfile{
		ID:               ControlProfileID,
		AutonomyCeiling:  TierSuggest,
		MaxModelTier:     ModelStandard,
		MinConfidence:    0.7,
		NoveltyThreshold: 0.6,
		MaxAmbiguity:     2,
		UpdatedBy:        "bootstrap",
		UpdatedAt:        now,
	}
}

// EscalationOverride tightens escalation thresholds, globally or per task type.
// Empty TaskType applies globally. Zero-valued thresholds are ignored.
type EscalationOverride struct {
	ID               string     `json:"id"`
	TaskType         string     `json:"taskType,omitempty"`
	MinConfidence    float64    `json:"minConfidence,omitempty"`
	NoveltyThreshold float64    `json:"noveltyThreshold,omitempty"`
	MaxAmbiguity     *int       `json:"maxAmbiguity,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (o EscalationOverride) RecordID() string { return o.ID }

// Validate checks the structural contract of an override.
func (o EscalationOverride) Validate() error {
	v := newValidator("EscalationOverride")
	v.required("id", o.ID)
	v.unit("minConfidence", o.MinConfidence)
	v.unit("noveltyThreshold", o.NoveltyThreshold)
	if o.MaxAmbiguity != nil && *o.MaxAmbiguity < 0 {
		v.add("maxAmbiguity", "must not be negative")
	}
	return v.err()
}

// Active reports whether the override is honored at now.
func (o EscalationOverride) Active(now time.Time) bool {
	return o.ExpiresAt == nil || now.Before(*o.ExpiresAt)
}

// FreezeKind distinguishes human task-type freezes from drift freezes.
type FreezeKind string

const (
	FreezeTaskType FreezeKind = "task_type"
	FreezeDrift    FreezeKind = "drift"
)

// BehaviorFreeze halts a task type (or everything, for drift freezes) until it expires.
type BehaviorFreeze struct {
	ID        string     `json:"id"`
	Kind      FreezeKind `json:"kind"`
	TaskType  string     `json:"taskType,omitempty"`
	Reason    string     `json:"reason"`
	CreatedBy string     `json:"createdBy,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (f BehaviorFreeze) RecordID() string { return f.ID }

// Validate checks the structural contract of a freeze.
func (f BehaviorFreeze) Validate() error {
	v := newValidator("BehaviorFreeze")
	v.required("id", f.ID)
	v.required("reason", f.Reason)
	switch f.Kind {
	case FreezeTaskType:
		v.required("taskType", f.TaskType)
	case FreezeDrift:
	default:
		v.add("kind", "unknown freeze kind %q", f.Kind)
	}
	return v.err()
}

// Active reports whether the freeze is honored at now.
func (f BehaviorFreeze) Active(now time.Time) bool {
	return f.ExpiresAt == nil || now.Before(*f.ExpiresAt)
}

// Applies reports whether the freeze covers taskType.
func (f BehaviorFreeze) Applies(taskType string) bool {
	if f.Kind == FreezeDrift {
		return true
	}
	return f.TaskType == "*" || f.TaskType == taskType
}
