package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, ev Event) ([]byte, error) {
	switch format {
	case FormatSlack:
		return formatSlack(ev)
	case FormatPagerDuty:
		return formatPagerDuty(ev)
	default:
		return json.Marshal(ev)
	}
}

func subject(ev Event) string {
	if ev.AgentID != "" {
		return ev.AgentID
	}
	return ev.Action
}

func formatSlack(ev Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("agentgov: %s", ev.Decision),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Identity:* %s", ev.Identity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:* %s", subject(ev))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Tier:* %s", ev.Tier)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", ev.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(ev Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("agentgov %s: %s/%s", ev.Decision, ev.Identity, subject(ev)),
			"severity": severity(ev.Decision),
			"source":   "agentgov",
			"custom_details": map[string]any{
				"identity":  ev.Identity,
				"agent_id":  ev.AgentID,
				"action":    ev.Action,
				"tier":      ev.Tier,
				"reason":    ev.Reason,
				"record_id": ev.RecordID,
				"actor":     ev.Actor,
			},
		},
	}
	return json.Marshal(payload)
}

func severity(decision string) string {
	switch decision {
	case "emergency_stop_engaged":
		return "critical"
	case "deny":
		return "error"
	case "escalate":
		return "warning"
	default:
		return "info"
	}
}
