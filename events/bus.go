// Package events delivers named, argument-less notifications (e.g. "save_post")
// to the callbacks subscribed to them.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus maintains subscriptions and publishes events to them.
// It is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func()
	log      zerolog.Logger
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(logger *zerolog.Logger) *Bus {
	b := &Bus{
		handlers: make(map[string][]func()),
		log:      zerolog.Nop(),
	}
	if logger != nil {
		b.log = logger.With().Str("component", "events").Logger()
	}
	return b
}

// Subscribe adds fn to the handlers of event.
func (b *Bus) Subscribe(event string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], fn)
	b.log.Debug().Str("event", event).Msg("Subscribed")
}

// Has reports whether event has at least one subscriber.
func (b *Bus) Has(event string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event]) > 0
}

// Publish calls the handlers of event synchronously, in subscription order,
// and returns how many were called.
// A panicking handler is logged and does not stop the others.
func (b *Bus) Publish(event string) int {
	b.mu.RLock()
	handlers := make([]func(), len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	b.mu.RUnlock()

	b.log.Trace().Str("event", event).Int("handlers", len(handlers)).Msg("Publishing")
	for _, fn := range handlers {
		b.call(event, fn)
	}
	return len(handlers)
}

func (b *Bus) call(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("event", event).Interface("panic", r).Msg("Event handler panicked")
		}
	}()
	fn()
}
