package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/veloxapp/authcore/pkg/logger"
	"github.com/veloxapp/authcore/pkg/metrics"
)

// Type discriminates session lifecycle events.
type Type int

const (
	SessionExpired Type = iota
	AccessDenied
	RateLimited
)

func (t Type) String() string {
	switch t {
	case SessionExpired:
		return "session_expired"
	case AccessDenied:
		return "access_denied"
	case RateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Event is an ephemeral session lifecycle notification. Events are not
// persisted and are delivered at most once to the subscribers present when
// they fire.
type Event struct {
	Type Type
	// RetryAfter carries the server-advertised wait in seconds for
	// RateLimited events, when the server supplied one.
	RetryAfter *int
}

const subscriberBuffer = 8

// Bus broadcasts session events to all current subscribers. Publishing never
// blocks: it must not delay returning an HTTP error to the caller, so a
// subscriber whose buffer is full simply misses the event.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	log         *zap.Logger
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
		log:         logger.WithModule("events"),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. Events published before Subscribe are not replayed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// NotifySessionExpired broadcasts a SessionExpired event.
func (b *Bus) NotifySessionExpired() {
	b.publish(Event{Type: SessionExpired})
}

// NotifyAccessDenied broadcasts an AccessDenied event.
func (b *Bus) NotifyAccessDenied() {
	b.publish(Event{Type: AccessDenied})
}

// NotifyRateLimited broadcasts a RateLimited event with the optional
// Retry-After seconds.
func (b *Bus) NotifyRateLimited(retryAfter *int) {
	b.publish(Event{Type: RateLimited, RetryAfter: retryAfter})
}

func (b *Bus) publish(event Event) {
	metrics.SessionEvents.WithLabelValues(event.Type.String()).Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.log.Debug("dropping session event for slow subscriber",
				zap.String("type", event.Type.String()))
		}
	}
}
