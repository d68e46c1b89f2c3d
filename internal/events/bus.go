package events

import (
	"log/slog"
	"sync"
	"time"
)

// Handler processes one event. Handlers run synchronously on the firing
// goroutine; long work should be moved off it by the handler itself.
type Handler func(Event)

// Bus is a typed registration table mapping event types to handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Fire dispatches an event to every handler registered for its type, in
// registration order.
func (b *Bus) Fire(eventType EventType, server string, data map[string]interface{}) {
	ev := Event{
		Type:      eventType,
		Server:    server,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	if b.logger != nil {
		b.logger.Debug("firing event", "type", eventType.String(), "server", server, "handlers", len(handlers))
	}

	for _, h := range handlers {
		h(ev)
	}
}
