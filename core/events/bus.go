// Package events provides a simple event bus for configuration changes.
// Setters publish "field.changed" after a commit and "field.rejected" when
// validation refuses a value.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event names.
const (
	FieldChanged  = "field.changed"
	FieldRejected = "field.rejected"
)

// Source tells where a write came from.
type Source string

const (
	SourceHTTP   Source = "http"
	SourceSetter Source = "setter"
	SourceReload Source = "reload"
)

// Event represents a published event.
type Event struct {
	// ID is unique per published event.
	ID string

	// Name is the event name (e.g., "field.changed").
	Name string

	// Field is the route name of the field.
	Field string

	Source Source

	// Old and New hold the value before and after the write. For rejected
	// writes New is the refused candidate.
	Old any
	New any

	// Err is set on rejected writes.
	Err error

	Time time.Time
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers a handler for an event and returns a function that
// removes it. Supports wildcard subscriptions:
//   - "field.changed" - exact match
//   - "field.*" - all field events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, s := range subs {
		if s.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order, exact matches
// first. If any handler returns an error, publishing continues but errors
// are logged. ID and Time are filled in when empty.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = b.now()
	}

	matched := b.match(event.Name)

	b.logger.Debug().
		Str("event", event.Name).
		Str("event_id", event.ID).
		Str("field", event.Field).
		Str("source", string(event.Source)).
		Int("handlers", len(matched)).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("field", event.Field).
				Msg("event handler error")
		}
	}
}

// match collects handlers under the read lock so handlers may subscribe or
// unsubscribe while being called.
func (b *Bus) match(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Handler
	add := func(key string) {
		for _, s := range b.handlers[key] {
			matched = append(matched, s.handler)
		}
	}

	add(name)
	if parts := splitEvent(name); len(parts) > 1 {
		add(parts[0] + ".*")
	}
	if name != "*" {
		add("*")
	}
	return matched
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	return len(b.match(event)) > 0
}

// splitEvent splits an event name by "."
func splitEvent(name string) []string {
	var parts []string
	start := 0
	for i, c := range name {
		if c == '.' {
			parts = append(parts, name[start:i])
			start = i + 1
		}
	}
	if start < len(name) {
		parts = append(parts, name[start:])
	}
	return parts
}
