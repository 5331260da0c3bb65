package events

import "tinybank/core/types"

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

type renderable interface {
	Event() *types.Event
}

// Render converts an event into its broadcastable form. Events without a
// structured payload are rendered with their type only.
func Render(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if r, ok := evt.(renderable); ok {
		if rendered := r.Event(); rendered != nil {
			return rendered
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Buffer collects events in emission order. The state processor hands one to
// the engines of every call and only publishes its contents once the call has
// committed.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the buffered events in emission order.
func (b *Buffer) Events() []Event {
	return append([]Event(nil), b.events...)
}

// Rendered returns the buffered events converted with Render.
func (b *Buffer) Rendered() []types.Event {
	out := make([]types.Event, 0, len(b.events))
	for _, evt := range b.events {
		if rendered := Render(evt); rendered != nil {
			out = append(out, *rendered)
		}
	}
	return out
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	b.events = nil
}
