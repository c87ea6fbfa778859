package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable timeline.
func FormatTimeline(result *ReplayResult) string {
	scope := result.Filter.Identity
	if scope == "" {
		scope = "all identities"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Identity: %s | No entries found.\n", scope)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Identity: %s | %s–%s UTC\n", scope,
		formatDate(result.Summary.FirstTimestamp), formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		review := ""
		if e.RequiresReview {
			review = "  [review]"
		}
		fmt.Fprintf(&b, "%-10s %-9s %-14s %-38s %s%s\n",
			formatTimeOnly(e.Timestamp),
			strings.ToUpper(e.Decision),
			truncate(e.Subject.AgentID, 14),
			truncate(e.Reason, 38),
			e.Kind,
			review)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDate(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.AllowCount, "allow")
	add(s.DenyCount, "deny")
	add(s.EscalateCount, "escalate")
	add(s.DeferCount, "deferred")
	return fmt.Sprintf("Summary: %s | %d require review\n", strings.Join(parts, ", "), s.ReviewCount)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
