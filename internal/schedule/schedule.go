// Package schedule decides whether an allowed task runs now or later.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/agentgov/internal/clock"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/store"
)

// Defaults for policies that leave their windows unset.
const (
	DefaultBatchWindow = 60 * time.Minute
	DefaultDeferral    = 60 * time.Minute
)

// Decision is the outcome of Apply.
type Decision struct {
	Deferred bool               `json:"deferred"`
	Mode     model.ScheduleMode `json:"mode"`
	RunAfter time.Time          `json:"runAfter,omitempty"`
	Detail   string             `json:"detail,omitempty"`
}

// Apply decides when a task with policy p may run. A nil policy runs now.
//
// A NotBefore in the future always defers. Otherwise only low urgency tasks
// honor batch and defer modes: batches run at the next window boundary,
// deferrals after DeferMinutes.
func Apply(p *model.SchedulingPolicy, now time.Time) Decision {
	if p == nil {
		return Decision{Mode: model.ModeImmediate}
	}
	if p.NotBefore != nil && now.Before(*p.NotBefore) {
		return Decision{Deferred: true, Mode: model.ModeDefer, RunAfter: *p.NotBefore, Detail: "not before " + p.NotBefore.Format(time.RFC3339)}
	}
	if p.Urgency != model.UrgencyLow {
		return Decision{Mode: model.ModeImmediate}
	}
	switch p.Mode {
	case model.ModeBatch:
		window := DefaultBatchWindow
		if p.BatchWindowMinutes > 0 {
			window = time.Duration(p.BatchWindowMinutes) * time.Minute
		}
		next := now.Truncate(window).Add(window)
		return Decision{Deferred: true, Mode: model.ModeBatch, RunAfter: next, Detail: fmt.Sprintf("batched into %s window", window)}
	case model.ModeDefer:
		delay := DefaultDeferral
		if p.DeferMinutes > 0 {
			delay = time.Duration(p.DeferMinutes) * time.Minute
		}
		return Decision{Deferred: true, Mode: model.ModeDefer, RunAfter: now.Add(delay), Detail: fmt.Sprintf("deferred %s", delay)}
	}
	return Decision{Mode: model.ModeImmediate}
}

// Queue stores deferred tasks.
type Queue struct {
	store *store.Store
	clock clock.Clock
}

// NewQueue creates a Queue.
func NewQueue(st *store.Store, c clock.Clock) *Queue {
	return &Queue{store: st, clock: clock.OrReal(c)}
}

// Enqueue stores a deferred task for later pickup.
func (q *Queue) Enqueue(ctx context.Context, identity string, rc *model.AgentRuntimeContext, d Decision) (model.ScheduledTask, error) {
	task := model.ScheduledTask{
		ID:        uuid.NewString(),
		AgentID:   rc.AgentID,
		TaskID:    rc.TaskID,
		TaskType:  rc.TaskType,
		GoalID:    rc.GoalID,
		Mode:      d.Mode,
		RunAfter:  d.RunAfter,
		Reason:    d.Detail,
		CreatedAt: q.clock.Now(),
	}
	if err := q.store.ScheduledTasks.Append(ctx, identity, task); err != nil {
		return task, fmt.Errorf("enqueue scheduled task: %w", err)
	}
	return task, nil
}

// Due returns the tasks whose RunAfter has passed, oldest first.
func (q *Queue) Due(ctx context.Context, identity string) ([]model.ScheduledTask, error) {
	tasks, err := q.store.ScheduledTasks.Load(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load scheduled tasks: %w", err)
	}
	now := q.clock.Now()
	var due []model.ScheduledTask
	for _, t := range tasks {
		if !now.Before(t.RunAfter) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAfter.Before(due[j].RunAfter) })
	return due, nil
}
