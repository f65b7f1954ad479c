package events

import (
	"sync"
	"time"
)

// Event is a fire-and-forget lifecycle notification. Events carry no result
// payload; they only mark that something started or finished.
type Event interface {
	OccurredAt() time.Time
}

type baseEvent struct {
	At time.Time
}

func (e baseEvent) OccurredAt() time.Time {
	return e.At
}

// StartTranscription marks the beginning of a transcription attempt.
type StartTranscription struct {
	baseEvent
}

// FinishTranscription marks a successful transcription run.
type FinishTranscription struct {
	baseEvent
}

func NewStartTranscription() StartTranscription {
	return StartTranscription{baseEvent{At: time.Now()}}
}

func NewFinishTranscription() FinishTranscription {
	return FinishTranscription{baseEvent{At: time.Now()}}
}

// Listener receives published events.
type Listener func(Event)

// Bus is a process-scoped publish channel. Construct one and pass it to the
// components that publish or listen; there is no package-level singleton.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener. Listeners are invoked synchronously in
// subscription order.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish delivers the event to all listeners. Publishers never learn whether
// anyone was listening.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
