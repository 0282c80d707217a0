// Package event is a small typed pub/sub bus. Multiple independent
// listeners (logging, metrics, health surfaces) subscribe to topics without
// coupling to the components that emit them.
package event

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/domain"
)

// Topic names one class of event.
type Topic string

const (
	TopicSent           Topic = "notification.sent"
	TopicFailed         Topic = "notification.failed"
	TopicCancelled      Topic = "notification.cancelled"
	TopicRetryExhausted Topic = "retry.exhausted"
	TopicBreakerState   Topic = "breaker.state"
)

// Event is the published payload. Fields not relevant to a topic stay zero.
type Event struct {
	Topic          Topic          `json:"topic"`
	At             time.Time      `json:"at"`
	NotificationID string         `json:"notification_id,omitempty"`
	Channel        domain.Channel `json:"channel,omitempty"`
	Key            string         `json:"key,omitempty"` // breaker key or strategy name
	Detail         string         `json:"detail,omitempty"`
}

// Handler receives events for a subscribed topic. Handlers run synchronously
// on the publisher's goroutine and must be quick.
type Handler func(Event)

// Bus fan-outs events to subscribers. Publish never fails and never
// propagates a handler panic to the publishing path.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]Handler
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[Topic][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for the topic. There is no unsubscribe:
// subscriptions are wired once at startup and live for the process.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish delivers the event to every subscriber of its topic.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := b.subs[ev.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ev, h)
	}
}

func (b *Bus) dispatch(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(ev.Topic)), zap.Any("panic", r))
		}
	}()
	h(ev)
}
