// Package notification fans session events out to remote subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// DefaultSendTimeout bounds a single delivery to one subscriber.
const DefaultSendTimeout = 500 * time.Millisecond

// Stream represents a notification stream for a subscriber.
type Stream[T any] interface {
	Send(seqNo uint64, event T) error
}

// StreamFunc adapts a function to Stream.
type StreamFunc[T any] func(seqNo uint64, event T) error

// Send calls f.
func (f StreamFunc[T]) Send(seqNo uint64, event T) error {
	return f(seqNo, event)
}

type subscription[T any] struct {
	id     string
	stream Stream[T]
}

// Manager manages subscriptions and broadcasting. A slow subscriber only
// delays its own delivery up to the send timeout.
type Manager[T any] struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager[T any](sendTimeout time.Duration) *Manager[T] {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Manager[T]{
		subscriptions: make(map[string]*subscription[T]),
		sendTimeout:   sendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager[T]) Subscribe(stream Stream[T]) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription[T]{
		id:     id,
		stream: stream,
	}
	zlog.Debug().Msgf("notification: subscribed: id=%s count=%d", id, len(m.subscriptions))
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
	zlog.Debug().Msgf("notification: unsubscribed: id=%s count=%d", subscriptionID, len(m.subscriptions))
}

// NextSequenceNo returns the next sequence number.
func (m *Manager[T]) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast sends event to all subscribers in parallel and waits until each
// delivery finished or timed out. It returns the sequence number assigned.
func (m *Manager[T]) Broadcast(event T) uint64 {
	seqNo := m.NextSequenceNo()

	m.mu.RLock()
	subs := make([]*subscription[T], 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription[T]) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(seqNo, event)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Debug().Err(err).Msgf("notification: send failed: id=%s seq=%d", s.id, seqNo)
				}
			case <-ctx.Done():
				zlog.Debug().Msgf("notification: send timed out: id=%s seq=%d", s.id, seqNo)
			}
		}(sub)
	}
	wg.Wait()
	return seqNo
}

// Send delivers event to one subscriber without a sequence bump. Unknown IDs
// are ignored.
func (m *Manager[T]) Send(subscriptionID string, event T) error {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	m.sequenceNoMu.Lock()
	seqNo := m.sequenceNo
	m.sequenceNoMu.Unlock()
	return sub.stream.Send(seqNo, event)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription[T])
}
