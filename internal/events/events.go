// Package events is an in-process publish/subscribe bus for notifications.
// The set of event kinds is closed; subscribers receive Event values over a
// buffered channel.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies an event variant.
type Kind string

// Event kinds.
const (
	KindDeploymentSucceeded Kind = "deployment_succeeded"
	KindDeploymentFailed    Kind = "deployment_failed"
	KindDeploymentStarted   Kind = "deployment_started"
	KindPaymentCompleted    Kind = "payment_completed"
	KindPaymentFailed       Kind = "payment_failed"
)

// Deployment carries the details of a deployment webhook.
type Deployment struct {
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Service     string `json:"service"`
	Status      string `json:"status"`
	ID          string `json:"deployment_id,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Payment carries the outcome of a charge.
type Payment struct {
	TransactionID string `json:"transaction_id"`
	Tier          string `json:"tier,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Error         string `json:"error,omitempty"`
}

// Event is one notification. Exactly one of the payload pointers is set,
// according to Kind. UserID scopes the event to a single user; empty means
// broadcast.
type Event struct {
	Kind       Kind        `json:"kind"`
	UserID     string      `json:"user_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Deployment *Deployment `json:"deployment,omitempty"`
	Payment    *Payment    `json:"payment,omitempty"`
}

// DeploymentEvent builds the event for a deployment state change.
func DeploymentEvent(kind Kind, d Deployment, at time.Time) Event {
	return Event{Kind: kind, OccurredAt: at, Deployment: &d}
}

// PaymentEvent builds a user-scoped payment event.
func PaymentEvent(kind Kind, userID string, p Payment, at time.Time) Event {
	return Event{Kind: kind, UserID: userID, OccurredAt: at, Payment: &p}
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(Event)
}

const defaultBuffer = 32

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[uint64]chan Event), logger: logger}
}

// Subscribe registers a subscriber with the given buffer size (0 uses the
// default). The returned function unsubscribes and closes the channel; it is
// safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Event dropped for slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}

// Len reports the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ Publisher = (*Bus)(nil)
