package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/types"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// MemoryBroker is an in-process fan-out bus. Every subscription on a topic
// receives its own copy of each message published after it subscribed.
type MemoryBroker struct {
	mu      sync.Mutex
	subs    map[string]map[*memorySubscription]struct{}
	offsets map[string]uint64
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:    make(map[string]map[*memorySubscription]struct{}),
		offsets: make(map[string]uint64),
	}
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBroker) Publish(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := types.Message{
		Topic:     topic,
		Offset:    b.offsets[topic],
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now(),
	}
	b.offsets[topic]++

	for s := range b.subs[topic] {
		s.push(msg)
	}
}

// Subscribers reports how many subscriptions are open on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *MemoryBroker) add(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range s.topics {
		if b.subs[t] == nil {
			b.subs[t] = make(map[*memorySubscription]struct{})
		}
		b.subs[t][s] = struct{}{}
	}
}

func (b *MemoryBroker) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range s.topics {
		delete(b.subs[t], s)
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

type memoryBus struct {
	broker  *MemoryBroker
	metrics *metrics.BusMetrics
}

func (m *memoryBus) Subscribe(_ context.Context, consumer string, topics []string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("subscribe requires at least one topic")
	}
	s := &memorySubscription{
		broker:   m.broker,
		metrics:  m.metrics,
		consumer: consumer,
		topics:   append([]string(nil), topics...),
		notify:   make(chan struct{}, 1),
	}
	m.broker.add(s)
	return s, nil
}

func (m *memoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	m.broker.Publish(topic, payload)
	m.metrics.MessagesSent.WithLabelValues(string(TypeMemory), topic).Inc()
	return nil
}

func (m *memoryBus) Close() error { return nil }

type memorySubscription struct {
	broker   *MemoryBroker
	metrics  *metrics.BusMetrics
	consumer string
	topics   []string

	mu     sync.Mutex
	queue  []types.Message
	closed bool
	notify chan struct{}
}

func (s *memorySubscription) push(msg types.Message) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, msg)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySubscription) pop() (types.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.Message{}, false, ErrSubscriptionClosed
	}
	if len(s.queue) == 0 {
		return types.Message{}, false, nil
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return msg, true, nil
}

func (s *memorySubscription) Next(_ context.Context) (types.Message, bool, error) {
	msg, ok, err := s.pop()
	if err != nil {
		return msg, false, err
	}
	if !ok {
		s.metrics.PollsEmpty.WithLabelValues(string(TypeMemory)).Inc()
		return msg, false, nil
	}
	s.metrics.MessagesReceived.WithLabelValues(string(TypeMemory), msg.Topic).Inc()
	return msg, true, nil
}

func (s *memorySubscription) Receive(ctx context.Context) (types.Message, error) {
	for {
		msg, ok, err := s.pop()
		if err != nil {
			return msg, err
		}
		if ok {
			s.metrics.MessagesReceived.WithLabelValues(string(TypeMemory), msg.Topic).Inc()
			return msg, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return types.Message{}, ctx.Err()
		}
	}
}

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	// wake a blocked Receive so it observes the close
	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.broker.remove(s)
	return nil
}
