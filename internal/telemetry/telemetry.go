// Package telemetry publishes the two checkpoint events CORE SPEC §6
// defines for a task run — initial_plan and final_result — to an optional,
// best-effort, swallowed-failure sink. A task must never fail or block
// because telemetry is unavailable: every Sink implementation here treats
// its own errors as unrecoverable-but-silent, adapted from the teacher's
// EventSink fan-out idiom.
package telemetry

import (
	"context"
	"time"

	"github.com/AIAtrium/mcp-assistant/internal/state"
)

// EventType discriminates the two checkpoints a task publishes.
type EventType string

const (
	EventInitialPlan EventType = "initial_plan"
	EventFinalResult EventType = "final_result"
)

// Event is the task-scoped payload published at each checkpoint, matching
// the field names CORE SPEC §6 specifies for the telemetry message shape.
// Data is always state.Sanitized() — ToolResults and Tools are never
// published.
type Event struct {
	EventType   EventType    `json:"event_type"`
	SessionID   string       `json:"session_id"`
	UserID      string       `json:"user_id"`
	TaskID      string       `json:"task_id"`
	Data        *state.State `json:"data"`
	PublishedAt time.Time    `json:"published_at"`
}

// NewEvent builds an Event for typ, sanitizing st before attaching it.
func NewEvent(typ EventType, st *state.State, now time.Time) Event {
	return Event{
		EventType:   typ,
		SessionID:   st.SessionID,
		UserID:      st.UserID,
		TaskID:      st.TaskID,
		Data:        st.Sanitized(),
		PublishedAt: now,
	}
}

// Sink receives task telemetry events. Implementations must be safe to
// call from the Orchestrator's single goroutine and must never block the
// task loop on a slow or unavailable downstream.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// NopSink discards every event. It is the default when no telemetry sink
// is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// MultiSink fans an event out to every configured sink, in order. A sink
// that's expensive or blocking should wrap itself to return quickly — the
// caller (Orchestrator) does not run sinks concurrently.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink, dropping any nil entries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Publish(ctx context.Context, e Event) {
	for _, sink := range m.sinks {
		sink.Publish(ctx, e)
	}
}

// CallbackSink wraps a function as a Sink, for tests and simple in-process
// consumers that don't need a full Sink implementation.
type CallbackSink struct {
	fn func(ctx context.Context, e Event)
}

// NewCallbackSink builds a CallbackSink around fn.
func NewCallbackSink(fn func(ctx context.Context, e Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (c *CallbackSink) Publish(ctx context.Context, e Event) {
	if c.fn != nil {
		c.fn(ctx, e)
	}
}
