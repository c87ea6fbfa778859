package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/agentgov/internal/audit"
)

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func denyEntry() audit.Entry {
	return audit.Entry{
		Timestamp: "2026-05-04T08:00:00Z",
		Identity:  "acme",
		Kind:      audit.KindPipeline,
		RecordID:  "d-1",
		Subject:   audit.Subject{AgentID: "support-bot", Domain: "support"},
		Tier:      "suggest",
		Decision:  "deny",
		Reason:    "jurisdiction_domain_denied",
	}
}

func TestDispatchMatchesDecision(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{"deny"}}}, nil)

	d.Dispatch(FromEntry(denyEntry()))
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{"deny"}}}, nil)

	ev := FromEntry(denyEntry())
	ev.Decision = "allow"
	d.Dispatch(ev)
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMatchesControlRoomOperation(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{"import_snapshot"}}}, nil)

	d.Dispatch(Event{Kind: audit.KindControlRoom, Action: "import_snapshot", Decision: "imported"})
	// Only Control Room entries match on operation.
	d.Dispatch(Event{Kind: audit.KindPipeline, Action: "import_snapshot", Decision: "allow"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{
		{URL: srv1.URL, Events: []string{"deny"}},
		{URL: srv2.URL, Events: []string{"escalate", "deny"}},
	}, nil)

	d.Dispatch(FromEntry(denyEntry()))
	d.Wait()

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected both webhooks to fire, got %d and %d", called1.Load(), called2.Load())
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(audit.Entry) error { return errors.New("disk full") }

func TestRecorderAlertsOnlyRecordedEntries(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]Webhook{{URL: srv.URL, Events: []string{"deny"}}}, nil)

	if err := Recorder(audit.Nop{}, d).Record(denyEntry()); err != nil {
		t.Fatal(err)
	}
	if err := Recorder(failingRecorder{}, d).Record(denyEntry()); err == nil {
		t.Fatal("expected the underlying error")
	}
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestRecorderWithoutDispatcherIsPassthrough(t *testing.T) {
	next := audit.Nop{}
	if got := Recorder(next, nil); got != audit.Recorder(next) {
		t.Error("expected next to be returned unchanged")
	}
}

func TestRetryOnServerError(t *testing.T) {
	defer func(d time.Duration) { retryBackoff = d }(retryBackoff)
	retryBackoff = time.Millisecond

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Send(context.Background(), srv.Client(), Webhook{URL: srv.URL}, Event{Decision: "deny"})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, called := countingServer(t, http.StatusBadRequest)

	err := Send(context.Background(), srv.Client(), Webhook{URL: srv.URL}, Event{Decision: "deny"})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", called.Load())
	}
}

func TestSendHonorsHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	h := Webhook{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}}
	if err := Send(context.Background(), srv.Client(), h, Event{}); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer t" {
		t.Errorf("expected header forwarded, got %q", got)
	}
}

func TestFormatGenericJSON(t *testing.T) {
	data, err := FormatPayload(FormatGeneric, FromEntry(denyEntry()))
	if err != nil {
		t.Fatal(err)
	}
	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed.AgentID != "support-bot" || parsed.Decision != "deny" {
		t.Errorf("unexpected payload %+v", parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload(FormatSlack, FromEntry(denyEntry()))
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}
	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", parsed["blocks"])
	}
	section, _ := blocks[1].(map[string]any)
	if fields, ok := section["fields"].([]any); !ok || len(fields) != 4 {
		t.Errorf("expected 4 fields in section, got %v", section["fields"])
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		decision string
		want     string
	}{
		{"emergency_stop_engaged", "critical"},
		{"deny", "error"},
		{"escalate", "warning"},
		{"allow", "info"},
	}
	for _, tt := range tests {
		data, err := FormatPayload(FormatPagerDuty, Event{Decision: tt.decision})
		if err != nil {
			t.Fatal(err)
		}
		var parsed struct {
			Payload struct {
				Severity string `json:"severity"`
				Source   string `json:"source"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatal(err)
		}
		if parsed.Payload.Severity != tt.want {
			t.Errorf("%s: expected severity %s, got %s", tt.decision, tt.want, parsed.Payload.Severity)
		}
		if parsed.Payload.Source != "agentgov" {
			t.Errorf("expected source agentgov, got %s", parsed.Payload.Source)
		}
	}
}

func TestWebhookValidate(t *testing.T) {
	tests := []struct {
		name string
		hook Webhook
		ok   bool
	}{
		{"valid", Webhook{URL: "http://x", Events: []string{"deny"}}, true},
		{"missing url", Webhook{Events: []string{"deny"}}, false},
		{"bad format", Webhook{URL: "http://x", Format: "teams", Events: []string{"deny"}}, false},
		{"no events", Webhook{URL: "http://x"}, false},
	}
	for _, tt := range tests {
		if err := tt.hook.Validate(); (err == nil) != tt.ok {
			t.Errorf("%s: got %v", tt.name, err)
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if NewDispatcher(nil, nil) != nil {
		t.Error("expected nil dispatcher for empty hooks")
	}
}
