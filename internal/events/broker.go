// Package events distributes restart progress and monitoring events to live observers.
package events

import (
	"sync"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/metrics"
	"github.com/fgeck/gorestart-homelab/internal/models"
)

const (
	brokerBuffer     = 256
	subscriberBuffer = 64
)

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(event models.Event)
}

// Subscriber is a channel that receives events
type Subscriber chan models.Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan models.Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan models.Event, brokerBuffer),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe creates a new subscription and returns a channel. The channel is
// closed by Unsubscribe or Stop.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	select {
	case <-b.stopCh:
		close(sub)
	default:
		b.subscribers[sub] = true
	}
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for all subscribers. It never blocks: when the
// queue is full the event is dropped.
func (b *Broker) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now().UTC()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.eventCh <- event:
	default:
		metrics.EventsDropped.Inc()
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
			metrics.EventsDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
