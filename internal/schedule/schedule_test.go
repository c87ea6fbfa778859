package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

var now = time.Date(2026, 5, 1, 9, 20, 0, 0, time.UTC)

func TestApply(t *testing.T) {
	future := now.Add(3 * time.Hour)
	past := now.Add(-time.Hour)
	tests := []struct {
		name     string
		policy   *model.SchedulingPolicy
		deferred bool
		runAfter time.Time
	}{
		{"nil policy", nil, false, time.Time{}},
		{"high urgency batch runs now", &model.SchedulingPolicy{Urgency: model.UrgencyHigh, Mode: model.ModeBatch}, false, time.Time{}},
		{"normal urgency defer runs now", &model.SchedulingPolicy{Urgency: model.UrgencyNormal, Mode: model.ModeDefer}, false, time.Time{}},
		{"low immediate runs now", &model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeImmediate}, false, time.Time{}},
		{"low batch rounds up", &model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeBatch, BatchWindowMinutes: 30}, true, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)},
		{"low batch default window", &model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeBatch}, true, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"low defer", &model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeDefer, DeferMinutes: 15}, true, now.Add(15 * time.Minute)},
		{"not before wins over urgency", &model.SchedulingPolicy{Urgency: model.UrgencyHigh, Mode: model.ModeImmediate, NotBefore: &future}, true, future},
		{"past not before ignored", &model.SchedulingPolicy{Urgency: model.UrgencyHigh, Mode: model.ModeImmediate, NotBefore: &past}, false, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Apply(tt.policy, now)
			if d.Deferred != tt.deferred {
				t.Fatalf("expected deferred=%v, got %v", tt.deferred, d.Deferred)
			}
			if !d.RunAfter.Equal(tt.runAfter) {
				t.Errorf("expected run after %s, got %s", tt.runAfter, d.RunAfter)
			}
		})
	}
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(now)
	q := NewQueue(store.NewMemory(), clk)
	rc := &model.AgentRuntimeContext{AgentID: "a1", TaskType: "digest", GoalID: "g1"}

	d := Apply(&model.SchedulingPolicy{Urgency: model.UrgencyLow, Mode: model.ModeDefer, DeferMinutes: 10}, now)
	if _, err := q.Enqueue(ctx, "t1", rc, d); err != nil {
		t.Fatal(err)
	}
	due, err := q.Due(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	clk.Advance(10 * time.Minute)
	due, _ = q.Due(ctx, "t1")
	if len(due) != 1 || due[0].TaskType != "digest" {
		t.Errorf("expected the digest task due, got %+v", due)
	}
}
