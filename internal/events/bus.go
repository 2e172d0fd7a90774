// Package events carries engine notifications to listeners, the console
// websocket stream and the on-disk event journal.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventStatsChanged carries model.Stats after every counter change.
	EventStatsChanged EventType = "stats_changed"
	// EventCurrentContactChanged carries the *model.Contact being dialed, nil when none.
	EventCurrentContactChanged EventType = "current_contact_changed"
	// EventCallStateChanged carries a CallStateChange.
	EventCallStateChanged EventType = "call_state_changed"
	// EventCallTick carries the elapsed talk seconds once per second while connected.
	EventCallTick EventType = "call_tick"
	// EventPhaseChanged carries a PhaseChange.
	EventPhaseChanged EventType = "phase_changed"
	// EventClassificationRequired carries the model.PendingClassification.
	EventClassificationRequired EventType = "classification_required"
	// EventCallLogged carries the model.CallLogEntry handed to the writer.
	EventCallLogged EventType = "call_logged"
	// EventNotice carries a Notice for the agent.
	EventNotice EventType = "notice"
	// EventStatus carries a model.EngineStatus; sent once to each new stream client.
	EventStatus EventType = "status"
)

// all is the subscription key for SubscribeAll.
const all EventType = "*"

// Event represents a published engine event.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type CallStateChange struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
	Number    string `json:"number,omitempty"`
}

type PhaseChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Each subscriber has its own buffered
// channel and goroutine, so delivery order per subscriber follows publish
// order. When a subscriber's channel is full the event is dropped for it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	now         func() time.Time
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		now:         time.Now,
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			deliver(fn, event)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.Subscribe(all, fn)
}

// Publish never blocks the caller.
func (b *Bus) Publish(eventType EventType, data any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: b.now().UTC(),
		Data:      data,
	}

	for _, key := range []EventType{eventType, all} {
		for _, ch := range b.subscribers[key] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}

// deliver isolates the bus from panicking subscribers.
func deliver(fn Subscriber, event Event) {
	defer func() {
		_ = recover()
	}()
	fn(event)
}
