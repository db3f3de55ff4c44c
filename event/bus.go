package event

import (
	"context"
	"errors"
	"slices"
	"sync"

	"lra/logging"
)

// ErrNilHandler is returned when subscribing a nil handler
var ErrNilHandler = errors.New("nil event handler")

// EventHandler handles one published event
type EventHandler func(ctx context.Context, event Event) error

// EventBus delivers participant events to subscribers
type EventBus interface {
	// Publish delivers the event to every matching handler
	Publish(ctx context.Context, event Event) error
	// Subscribe registers a handler for one event type
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll registers a handler for every event
	SubscribeAll(handler EventHandler) error
}

// subscription is one registered handler and the events it accepts. An
// empty eventType or participant matches everything.
type subscription struct {
	eventType   EventType
	participant string
	handler     EventHandler
}

func (s subscription) matches(e Event) bool {
	if s.eventType != "" && s.eventType != e.Type {
		return false
	}
	return s.participant == "" || s.participant == e.Participant
}

// MemoryEventBus is a synchronous in-process EventBus. Handlers run in
// subscription order on the publisher's goroutine.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger logging.Logger
}

// MemoryEventBusOption configures a MemoryEventBus
type MemoryEventBusOption func(*MemoryEventBus)

// WithLogger sets the logger that receives handler failures.
func WithLogger(logger logging.Logger) MemoryEventBusOption {
	return func(b *MemoryEventBus) {
		b.logger = logger
	}
}

// WithEventLog writes one line per published event to logger.
func WithEventLog(logger logging.Logger) MemoryEventBusOption {
	return func(b *MemoryEventBus) {
		b.subs = append(b.subs, subscription{handler: LogHandler(logger)})
	}
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(opts ...MemoryEventBusOption) *MemoryEventBus {
	bus := &MemoryEventBus{logger: logging.Nop()}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Publish hands the event to every matching handler. Handler errors and
// panics are logged and never reach the publisher.
func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.matches(event) {
			b.deliver(ctx, s.handler, event)
		}
	}
	return nil
}

func (b *MemoryEventBus) deliver(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("event handler panic for %s (tx=%s): %v", event.Type, event.TxID, r)
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.logger.Printf("event handler failed for %s (tx=%s participant=%s): %v", event.Type, event.TxID, event.Participant, err)
	}
}

func (b *MemoryEventBus) add(s subscription) error {
	if s.handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	return nil
}

// Subscribe registers handler for one event type.
func (b *MemoryEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	return b.add(subscription{eventType: eventType, handler: handler})
}

// SubscribeAll registers handler for every event.
func (b *MemoryEventBus) SubscribeAll(handler EventHandler) error {
	return b.add(subscription{handler: handler})
}

// SubscribeParticipant registers handler for every event of one participant.
// Several participants may share a bus in one process.
func (b *MemoryEventBus) SubscribeParticipant(participant string, handler EventHandler) error {
	return b.add(subscription{participant: participant, handler: handler})
}

// Unsubscribe removes the handlers registered for eventType.
func (b *MemoryEventBus) Unsubscribe(eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool {
		return s.eventType == eventType
	})
}

// UnsubscribeAll removes every handler.
func (b *MemoryEventBus) UnsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// HandlerCount returns the number of handlers registered for eventType.
func (b *MemoryEventBus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if eventType != "" && s.eventType == eventType {
			n++
		}
	}
	return n
}

// AllHandlerCount returns the number of handlers that see every event.
func (b *MemoryEventBus) AllHandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.eventType == "" && s.participant == "" {
			n++
		}
	}
	return n
}

// NoOpEventBus discards every event
type NoOpEventBus struct{}

// NewNoOpEventBus creates a new no-op event bus.
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

// Publish does nothing.
func (b *NoOpEventBus) Publish(_ context.Context, _ Event) error {
	return nil
}

// Subscribe does nothing.
func (b *NoOpEventBus) Subscribe(_ EventType, _ EventHandler) error {
	return nil
}

// SubscribeAll does nothing.
func (b *NoOpEventBus) SubscribeAll(_ EventHandler) error {
	return nil
}

// LogHandler returns a handler that writes one line per event.
func LogHandler(logger logging.Logger) EventHandler {
	return func(_ context.Context, e Event) error {
		if e.Error != nil {
			logger.Printf("%s tx=%s participant=%s status=%s err=%v", e.Type, e.TxID, e.Participant, e.Status, e.Error)
			return nil
		}
		logger.Printf("%s tx=%s participant=%s status=%s", e.Type, e.TxID, e.Participant, e.Status)
		return nil
	}
}
