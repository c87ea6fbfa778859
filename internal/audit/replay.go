package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter selects entries for replay. Empty fields match everything.
type ReplayFilter struct {
	Identity string
	AgentID  string
	From     time.Time
	To       time.Time
}

// ReplaySummary holds decision counts for a replayed slice of the log.
type ReplaySummary struct {
	Total          int    `json:"total"`
	AllowCount     int    `json:"allow_count"`
	DenyCount      int    `json:"deny_count"`
	EscalateCount  int    `json:"escalate_count"`
	DeferCount     int    `json:"defer_count"`
	ReviewCount    int    `json:"review_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching filter.
// Malformed lines are skipped; use Verify to detect tampering.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return result, nil
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.Identity != "" && e.Identity != f.Identity {
		return false
	}
	if f.AgentID != "" && e.Subject.AgentID != f.AgentID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++
	switch e.Decision {
	case "allow", "allowed":
		s.AllowCount++
	case "deny", "denied":
		s.DenyCount++
	case "escalate", "escalated":
		s.EscalateCount++
	case "deferred":
		s.DeferCount++
	}
	if e.RequiresReview {
		s.ReviewCount++
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
