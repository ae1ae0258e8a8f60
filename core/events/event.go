package events

import "github.com/stablis/stablis-contracts/core/types"

// Event represents a structured state change emitted by a ledger engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (RPC, indexers, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder captures emitted events in order, mainly for tests and the local
// daemon's event log.
type Recorder struct {
	Events []*types.Event
}

// Emit appends the event payload to the recorder.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.Events = append(r.Events, evt.Event())
}
