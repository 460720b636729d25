package pushbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/clipforge/clipforge/internal/logger"
)

// Well-known topics. Per-task and per-batch topics are derived with
// TaskTopic and BatchTopic.
const (
	TopicSpace  = "space"
	TopicSystem = "system"
)

// TaskTopic returns the topic name for a task group.
func TaskTopic(taskID string) string {
	return "task:" + taskID
}

// BatchTopic returns the topic name for a batch group.
func BatchTopic(batchID string) string {
	return "batch:" + batchID
}

// Bus is the push channel capability. Implementations may be in-process
// (Hub), WebSocket-backed, or bridged to an external broker.
type Bus interface {
	// Publish delivers an event to all current subscribers of the topic.
	Publish(topic string, event Event)

	// Subscribe registers interest in a topic. The returned subscription
	// receives events in publish order until Close is called.
	Subscribe(topic string) *Subscription
}

// subscriberBuffer is the per-subscription channel depth. A subscriber that
// falls further behind than this loses events (at-least-once only holds for
// subscribers that keep up; clients re-query status on reconnect anyway).
const subscriberBuffer = 64

// Subscription is a live registration on a single topic.
type Subscription struct {
	C     <-chan Event
	topic string
	id    uint64
	hub   *Hub

	closeOnce sync.Once
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Close unregisters the subscription and closes its channel.
// Safe to call multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s.topic, s.id)
	})
}

// Hub is the in-process Bus implementation. It fans events out to
// per-topic subscriber sets with FIFO ordering per subscription.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]chan Event
	nextID atomic.Uint64

	dropped atomic.Uint64
}

// NewHub creates an empty in-process event hub.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[uint64]chan Event),
	}
}

// Publish delivers the event to every subscriber of the topic.
// Slow subscribers whose buffer is full lose the event.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.RLock()
	subs := h.topics[topic]
	// Copy channel refs under lock so delivery happens outside it
	chans := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		chans = append(chans, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			n := h.dropped.Add(1)
			if n%100 == 1 {
				logger.Warn("push bus dropping events for slow subscriber",
					"topic", topic, "event", event.EventType(), "total_dropped", n)
			}
		}
	}
}

// Subscribe registers a new subscription on the topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	id := h.nextID.Add(1)

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[uint64]chan Event)
	}
	h.topics[topic][id] = ch
	h.mu.Unlock()

	return &Subscription{
		C:     ch,
		topic: topic,
		id:    id,
		hub:   h,
	}
}

// SubscriberCount returns the number of live subscriptions on a topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Dropped returns the total number of events dropped due to slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) unsubscribe(topic string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	close(ch)
}

// Envelope is the wire framing for events sent to remote subscribers.
type Envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

// Wrap builds the wire envelope for an event.
func Wrap(event Event) Envelope {
	return Envelope{Type: event.EventType(), Payload: event}
}

// String implements fmt.Stringer for logging.
func (e Envelope) String() string {
	return fmt.Sprintf("%s(%v)", e.Type, e.Payload)
}
