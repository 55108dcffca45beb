// Package events implements the progress-streaming channel (component
// C2): a per-task, ordered, typed event stream delivered to exactly one
// live subscriber while the pipeline executes.
//
// This replaces the teacher's WebSocket-fan-out-plus-Postgres-LISTEN
// ConnectionManager (pkg/events/manager.go) with a single-producer
// single-consumer bounded channel per task, since spec.md §4.1 names
// exactly one subscriber per task and no cross-process distribution
// requirement -- the multi-connection registry and NOTIFY/LISTEN
// machinery have no SPEC_FULL.md component to serve. What survives from
// the teacher's shape: a typed event-kind enum (vs. the teacher's
// string event-type constants) and the same "never block the producer
// on a slow/absent consumer" discipline its ConnectionManager applies
// to WebSocket writes, here enforced with a bounded channel and a
// drop-oldest policy for exactly one event kind instead of a write
// timeout.
package events

import (
	"encoding/json"
	"time"
)

// Kind is one of the eleven typed event kinds spec.md §4.1 names.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindStage        Kind = "stage"
	KindIntent       Kind = "intent"
	KindCodeChunk    Kind = "code_chunk"
	KindSuggestion   Kind = "suggestion"
	KindTestProgress Kind = "test_progress"
	KindTestResult   Kind = "test_result"
	KindPR           Kind = "pr"
	KindComplete     Kind = "complete"
	KindError        Kind = "error"
	KindDone         Kind = "done"
)

// Event is one typed, timestamped message on a task's stream.
type Event struct {
	Kind      Kind            `json:"kind"`
	TaskID    string          `json:"task_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// defaultBufferSize bounds the per-task channel. Sized generously above
// the handful of structural events (connected/stage/intent/.../done) a
// single pipeline run emits, so only a pathologically chatty code_chunk
// producer ever hits the drop-oldest path.
const defaultBufferSize = 256

// Bus owns exactly one task's event channel: a single producer (the
// Orchestrator and the stage services it calls) and at most one
// consumer (the HTTP/SSE handler for that task's subscriber).
type Bus struct {
	taskID string
	ch     chan Event
	closed chan struct{}
}

// NewBus creates a Bus for one task. Call Close once the task reaches a
// terminal state to release the channel; subsequent Emit calls become
// silent no-ops.
func NewBus(taskID string) *Bus {
	return &Bus{
		taskID: taskID,
		ch:     make(chan Event, defaultBufferSize),
		closed: make(chan struct{}),
	}
}

// Emit enqueues an event. If the subscriber has disconnected (Close was
// called) this is a silent no-op, per spec.md §4.1 invariant (d) -- the
// pipeline must never block or fail because of a gone subscriber.
//
// When the channel is full, the oldest KindCodeChunk event is dropped to
// make room; every other kind is never dropped, matching the ordering
// invariants on connected/stage/intent/test_result/pr/complete/error/done.
func (b *Bus) Emit(kind Kind, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	b.emit(Event{Kind: kind, TaskID: b.taskID, Timestamp: time.Now(), Data: raw})
}

func (b *Bus) emit(ev Event) {
	select {
	case <-b.closed:
		return
	default:
	}

	select {
	case b.ch <- ev:
		return
	default:
	}

	if ev.Kind == KindCodeChunk {
		b.dropOldestCodeChunkAndEnqueue(ev)
		return
	}

	// Buffer is full of non-droppable structural events -- block briefly
	// rather than silently lose an ordering-critical event, but never
	// indefinitely: a subscriber that stops draining releases this send
	// by calling Close (Submission.Close on disconnect).
	select {
	case b.ch <- ev:
	case <-b.closed:
	}
}

func (b *Bus) dropOldestCodeChunkAndEnqueue(ev Event) {
	drained := make([]Event, 0, len(b.ch))
	droppedOne := false
	for {
		select {
		case old := <-b.ch:
			if !droppedOne && old.Kind == KindCodeChunk {
				droppedOne = true
				continue
			}
			drained = append(drained, old)
		default:
			for _, e := range drained {
				b.ch <- e
			}
			if !droppedOne && len(drained) > 0 {
				// No code_chunk buffered to evict: every buffered
				// event is structural, so the incoming code_chunk is
				// the one dropped.
				return
			}
			b.ch <- ev
			return
		}
	}
}

// Subscribe returns the receive-only channel for this task's events.
// There must be at most one active consumer at a time.
func (b *Bus) Subscribe() <-chan Event {
	return b.ch
}

// Close marks the bus as having no subscriber. Safe to call once; a
// second call is a no-op.
func (b *Bus) Close() {
	select {
	case <-b.closed:
		return
	default:
		close(b.closed)
	}
}
