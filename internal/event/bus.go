package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/autostore/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a synchronous pub-sub event bus. Publish calls handlers on the
// publishing goroutine, so events for one entity reach every handler in
// the order they were produced.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	logger        *logging.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger routes handler panics to logger instead of discarding them.
func WithLogger(logger *logging.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers. Specific handlers
// run first, then wildcard handlers, each group in registration order.
// A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	eventType := e.EventType()
	specific := append([]subscription(nil), b.subscriptions[eventType]...)
	wildcard := append([]subscription(nil), b.subscriptions["*"]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, e)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, e)
	}
}

func (b *Bus) safeCall(handler Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", e.EventType(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

// Stream is a buffered channel subscription. Delivery is best effort: when
// the buffer is full the event is dropped and counted, so a slow observer
// never stalls a bot.
type Stream struct {
	ID string
	C  <-chan Event

	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// SubscribeStream registers a buffered channel that receives every event.
func (b *Bus) SubscribeStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Stream{C: ch, ch: ch}
	s.ID = b.SubscribeAll(func(e Event) {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	})
	return s
}
