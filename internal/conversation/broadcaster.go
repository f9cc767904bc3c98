// ABOUTME: In-memory fan-out event broadcaster for session and sync updates
// ABOUTME: Publishes to all subscribers of a key plus every wildcard subscriber

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultSubscriberBuffer is the channel buffer for each subscriber.
	DefaultSubscriberBuffer = 64

	// AllKeys subscribes to every key.
	AllKeys = "*"
)

// EventBroadcaster provides in-memory pub/sub keyed by string. Subscribers
// register for one key (a session id, a topic) or AllKeys.
//
// Events are whole-state values, so a key's latest event supersedes the ones
// before it. When a subscriber's channel is full, further events wait in a
// per-subscriber queue that keeps only the newest event for each key. A slow
// subscriber may skip intermediate states but always receives the last one.
type EventBroadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscription[T] // key -> subID -> sub
	buffer      int
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. A non-positive buffer uses
// DefaultSubscriberBuffer. Pass nil logger for default.
func NewEventBroadcaster[T any](buffer int, logger *slog.Logger) *EventBroadcaster[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &EventBroadcaster[T]{
		subscribers: make(map[string]map[string]*subscription[T]),
		buffer:      buffer,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for key. Returns a channel that receives
// events and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *EventBroadcaster[T]) Subscribe(ctx context.Context, key string) (<-chan T, string) {
	subID := uuid.New().String()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan T)
		close(ch)
		return ch, subID
	}
	sub := newSubscription[T](b.buffer)
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]*subscription[T])
	}
	b.subscribers[key][subID] = sub
	b.mu.Unlock()

	go sub.run()

	b.logger.Debug("subscriber added",
		"key", key,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return sub.out, subID
}

// Publish sends an event to all subscribers of key and to AllKeys subscribers.
// It never blocks on a slow subscriber.
func (b *EventBroadcaster[T]) Publish(key string, event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.deliverLocked(key, key, event)
	if key != AllKeys {
		b.deliverLocked(AllKeys, key, event)
	}
}

func (b *EventBroadcaster[T]) deliverLocked(subKey, eventKey string, event T) {
	for subID, sub := range b.subscribers[subKey] {
		if sub.offer(eventKey, event) {
			b.logger.Debug("superseded queued event for slow subscriber",
				"key", eventKey,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster[T]) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}

	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	sub.stop()

	// Clean up empty key entries
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed",
		"key", key,
		"sub_id", subID)
}

// SubscriberCount returns the number of subscriptions on key.
func (b *EventBroadcaster[T]) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for key, subs := range b.subscribers {
		for subID, sub := range subs {
			sub.stop()
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}

// subscription is one subscriber's delivery path. Events go straight into out
// while it has room and nothing is queued; otherwise they wait in pending,
// newest per key, until run moves them across in arrival order of their keys.
type subscription[T any] struct {
	out  chan T
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	order   []string
	pending map[string]T
	// sending is set while run holds an event taken from pending.
	sending bool
}

func newSubscription[T any](buffer int) *subscription[T] {
	return &subscription[T]{
		out:     make(chan T, buffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[string]T),
	}
}

// offer enqueues event for key. It reports whether a queued event for the same
// key was replaced. Callers must not offer after stop.
func (s *subscription[T]) offer(key string, event T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 && !s.sending {
		select {
		case s.out <- event:
			return false
		default:
		}
	}

	_, replaced := s.pending[key]
	if !replaced {
		s.order = append(s.order, key)
	}
	s.pending[key] = event

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return replaced
}

// run drains pending into out until stop. It owns closing out.
func (s *subscription[T]) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		key := s.order[0]
		s.order = s.order[1:]
		event := s.pending[key]
		delete(s.pending, key)
		s.sending = true
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}

		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}
}

func (s *subscription[T]) stop() {
	close(s.done)
}
