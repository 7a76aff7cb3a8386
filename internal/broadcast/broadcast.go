// Package broadcast fans live session events out to connected subscribers.
//
// The broadcaster is an explicitly constructed instance, injected wherever
// events are published, so tests get isolated hubs instead of hidden global
// state. Delivery is at-most-once with no replay: subscribers connected after
// an event is published never see it, and slow subscribers drop events rather
// than stalling the mutation path.
package broadcast

import (
	"sync"

	"github.com/louisbranch/imogine/internal/session/domain"
)

// Stream identifies a subscription event kind.
type Stream string

const (
	// StreamEffectApplied carries effects appended to a session.
	StreamEffectApplied Stream = "effect_applied"
	// StreamSessionUpdated carries session lifecycle changes.
	StreamSessionUpdated Stream = "session_updated"
)

// Event is a single notification delivered to subscribers of one session.
type Event struct {
	Stream    Stream
	SessionID string
	Effect    *domain.Effect  // set when Stream is StreamEffectApplied
	Session   *domain.Session // set when Stream is StreamSessionUpdated
}

type subscriptionKey struct {
	stream    Stream
	sessionID string
}

// Broadcaster routes events to subscribers keyed by (stream, session id).
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[subscriptionKey]map[*Subscription]struct{}
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[subscriptionKey]map[*Subscription]struct{}),
	}
}

// Subscription is a live, per-client, per-session event feed.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	events chan Event
	detach func()
}

// Events returns the channel events arrive on. The channel is closed when the
// subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription from the broadcaster and closes its channel.
// Close is safe to call more than once.
func (s *Subscription) Close() {
	s.detach()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// deliver hands an event to the subscriber without blocking. The write mutex
// keeps delivery and Close from racing on the channel.
func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

const defaultSubscriptionBuffer = 16

// Subscribe registers a subscriber for one (stream, session id) pair.
// A client may hold subscriptions to multiple sessions concurrently by
// subscribing once per pair.
func (b *Broadcaster) Subscribe(stream Stream, sessionID string) *Subscription {
	key := subscriptionKey{stream: stream, sessionID: sessionID}
	sub := &Subscription{events: make(chan Event, defaultSubscriptionBuffer)}
	sub.detach = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[key]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.subscribers, key)
			}
		}
	}

	b.mu.Lock()
	subs, ok := b.subscribers[key]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.subscribers[key] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// PublishEffectApplied notifies subscribers of the effect's session.
func (b *Broadcaster) PublishEffectApplied(effect domain.Effect) {
	b.publish(Event{
		Stream:    StreamEffectApplied,
		SessionID: effect.SessionID,
		Effect:    &effect,
	})
}

// PublishSessionUpdated notifies subscribers of a session state change.
func (b *Broadcaster) PublishSessionUpdated(sess domain.Session) {
	b.publish(Event{
		Stream:    StreamSessionUpdated,
		SessionID: sess.ID,
		Session:   &sess,
	})
}

// publish delivers to the exact (stream, session id) subscribers only;
// everyone else never sees the event. Full subscriber buffers drop the event.
func (b *Broadcaster) publish(event Event) {
	key := subscriptionKey{stream: event.Stream, sessionID: event.SessionID}

	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subscribers[key]))
	for sub := range b.subscribers[key] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(event)
	}
}
