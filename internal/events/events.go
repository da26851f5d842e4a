// Package events implements the in-process event bus collaborator of
// spec §6 (emit(topic, payload)), fanning out to per-inbox subscribers
// keyed by inbox_hash — the "opaque subscription key" the glossary
// names. It generalizes the teacher's controller.VerificationRegistry
// (internal/controller/interrupt.go), which maps a single key to a
// single one-shot channel, into a registry mapping a key to any number
// of buffered subscriber channels with non-blocking delivery.
package events

import (
	"sync"

	"github.com/vaultsandbox/gateway/internal/logging"
)

// Topic is a closed enumeration of the events the core emits (spec §6).
type Topic string

const (
	TopicEmailNew            Topic = "email.new"
	TopicEmailReceived       Topic = "email.received"
	TopicEmailStored         Topic = "email.stored"
	TopicCertificateReloaded Topic = "certificate.reloaded"
)

// Event is one emitted notification.
type Event struct {
	Topic     Topic
	InboxHash string
	Payload   interface{}
}

const subscriberBuffer = 16

type subscription struct {
	id int
	ch chan Event
}

// Bus fans out emitted events to subscribers registered against an
// inbox_hash key. Delivery is non-blocking: a slow or absent subscriber
// never stalls Emit.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers a new listener for key (an inbox_hash) and returns
// a receive channel plus an unsubscribe function.
func (b *Bus) Subscribe(key string) (<-chan Event, func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, ch: make(chan Event, subscriberBuffer)}
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[key]
		for i, s := range list {
			if s.id == id {
				b.subs[key] = append(list[:i], list[i+1:]...)
				close(s.ch)
				break
			}
		}
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}
	return sub.ch, unsubscribe
}

// Emit fans payload out to every current subscriber of key under topic.
// A subscriber whose buffer is full is skipped rather than blocked.
func (b *Bus) Emit(topic Topic, key string, payload interface{}) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[key]...)
	b.mu.RUnlock()

	event := Event{Topic: topic, InboxHash: key, Payload: payload}
	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			logging.WarnLog("events: subscriber backlog full, dropping event topic=%s key=%s", topic, key)
		}
	}
}

// SubscriberCount reports the number of active subscribers for key, for
// tests and metrics.
func (b *Bus) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
