// Package events provides the event bus used to fan out connection and
// notification events to observers.
//
// The bus is an explicitly constructed value injected into each component;
// there is no process-wide singleton, so multiple independent client
// instances can coexist under test.
package events

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Event names published by the client stack.
const (
	// EventState fires on every connection state transition. Payload: the
	// new state's string form.
	EventState = "state"

	// EventReady fires once the handshake completes. Payload: nil.
	EventReady = "ready"

	// EventError fires on transport or handshake failures. Payload: error.
	EventError = "error"

	// EventNotification fires for every incoming notification.
	// Payload: *protocol.Envelope.
	EventNotification = "notification"

	// EventProgress fires for notifications/progress. Payload: raw params.
	EventProgress = "notification:progress"

	// EventCancelled fires for notifications/cancelled. Payload: raw params.
	EventCancelled = "notification:cancelled"

	// EventPeerRequest fires for peer-initiated requests (method and id both
	// present). The client never auto-answers these. Payload: *protocol.Envelope.
	EventPeerRequest = "peer:request"

	// EventResourcesUpdated fires when the peer invalidates the resource cache.
	EventResourcesUpdated = "resources:updated"

	// EventPromptsUpdated fires when the peer invalidates the prompt cache.
	EventPromptsUpdated = "prompts:updated"

	// EventToolAudit fires when an audited tool records an execution.
	// Payload: registry audit record.
	EventToolAudit = "tool:audit"
)

// Handler receives the payload published with an event.
type Handler func(payload any)

// Bus is a synchronous publish/subscribe dispatcher.
//
// Publish invokes subscribers inline in subscription order. A panicking
// handler is contained and logged; it never takes down the publisher.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewBus creates an event bus. The logger receives a warning for every
// contained handler panic.
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:  log.With("component", "events"),
		subs: make(map[string]map[int]Handler, 8),
	}
}

// Subscribe registers a handler for the named event and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(event string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[event] == nil {
		b.subs[event] = make(map[int]Handler, 4)
	}

	id := b.next
	b.next++
	b.subs[event][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.subs[event], id)
	}
}

// Publish delivers payload to every subscriber of event.
func (b *Bus) Publish(event string, payload any) {
	b.mu.RLock()

	ids := slices.Sorted(maps.Keys(b.subs[event]))

	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[event][id])
	}

	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h, payload)
	}
}

func (b *Bus) dispatch(event string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("Event handler panicked", "event", event, "panic", r)
		}
	}()

	h(payload)
}
