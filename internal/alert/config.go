// Package alert forwards selected governance events to webhooks.
package alert

import (
	"fmt"

	"github.com/ppiankov/agentgov/internal/audit"
)

// Payload formats.
const (
	FormatGeneric   = "generic"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// Webhook is one alert destination. Events lists audit decisions
// ("deny", "escalate", "emergency_stop_engaged") or Control Room
// operations ("import_snapshot") that trigger it.
type Webhook struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"`
	Events  []string          `yaml:"events"  json:"events"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Validate checks that the webhook can be sent to.
func (w Webhook) Validate() error {
	if w.URL == "" {
		return fmt.Errorf("alert: url required")
	}
	switch w.Format {
	case "", FormatGeneric, FormatSlack, FormatPagerDuty:
	default:
		return fmt.Errorf("alert: unknown format %q", w.Format)
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("alert %s: events required", w.URL)
	}
	return nil
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp      string `json:"timestamp"`
	Identity       string `json:"identity"`
	Kind           string `json:"kind"`
	RecordID       string `json:"record_id"`
	AgentID        string `json:"agent_id,omitempty"`
	Action         string `json:"action,omitempty"`
	Tier           string `json:"tier,omitempty"`
	Decision       string `json:"decision"`
	Reason         string `json:"reason"`
	RequiresReview bool   `json:"requires_review"`
	Actor          string `json:"actor,omitempty"`
}

// FromEntry converts an audit entry into an alert event.
func FromEntry(e audit.Entry) Event {
	return Event{
		Timestamp:      e.Timestamp,
		Identity:       e.Identity,
		Kind:           e.Kind,
		RecordID:       e.RecordID,
		AgentID:        e.Subject.AgentID,
		Action:         e.Subject.Action,
		Tier:           e.Tier,
		Decision:       e.Decision,
		Reason:         e.Reason,
		RequiresReview: e.RequiresReview,
		Actor:          e.Actor,
	}
}
