package client

import (
	"context"
	"sync"
)

// RecordedEvent is one captured publish call.
type RecordedEvent struct {
	EventType     string
	RequisitionID string
	EntityID      string
	ActorID       string
	Recipients    []string
	Payload       map[string]interface{}
}

// RecordingPublisher captures events in memory for tests and embedders that
// want to inspect what the engine would have published.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewRecordingPublisher creates an empty recorder.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// PublishRequisitionEvent records the event.
func (p *RecordingPublisher) PublishRequisitionEvent(_ context.Context, eventType, requisitionID, entityID, actorID string, recipients []string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, RecordedEvent{
		EventType:     eventType,
		RequisitionID: requisitionID,
		EntityID:      entityID,
		ActorID:       actorID,
		Recipients:    append([]string(nil), recipients...),
		Payload:       payload,
	})
}

// Events returns a copy of everything recorded so far.
func (p *RecordingPublisher) Events() []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedEvent(nil), p.events...)
}

// EventsOfType returns the recorded events with the given type.
func (p *RecordingPublisher) EventsOfType(eventType string) []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []RecordedEvent
	for _, event := range p.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Reset discards everything recorded so far.
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
