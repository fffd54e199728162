package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/types"
	"github.com/downfa11-org/go-itest/util"
)

// Broker clocks may lag the harness slightly; messages this much older than
// the subscription start are still delivered.
const kafkaClockSkew = time.Second

type kafkaBus struct {
	cfg     Config
	writer  *kafka.Writer
	metrics *metrics.BusMetrics
}

func newKafkaBus(cfg Config, m *metrics.BusMetrics) (Bus, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("kafka bus requires bootstrap servers")
	}
	codec, err := kafkaCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BootstrapServers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Compression:            codec,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			ClientID:    "go-itest",
			MetadataTTL: 10 * time.Second,
		},
	}
	return &kafkaBus{cfg: cfg, writer: w, metrics: m}, nil
}

// kafkaCompression maps a compression name onto the kafka-go codec. Kafka
// compresses whole record batches, so payloads are never compressed twice.
func kafkaCompression(name string) (kafka.Compression, error) {
	c, err := util.ParseCompression(name)
	if err != nil {
		return 0, err
	}
	switch c {
	case util.CompressionGzip:
		return kafka.Gzip, nil
	case util.CompressionSnappy:
		return kafka.Snappy, nil
	case util.CompressionLZ4:
		return kafka.Lz4, nil
	default:
		return 0, nil
	}
}

func (b *kafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	err := b.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload})
	if err != nil {
		b.metrics.Errors.WithLabelValues(string(TypeKafka), "publish").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.metrics.MessagesSent.WithLabelValues(string(TypeKafka), topic).Inc()
	return nil
}

func (b *kafkaBus) Subscribe(_ context.Context, consumer string, topics []string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe requires at least one topic")
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.cfg.BootstrapServers,
		GroupID:        consumer,
		GroupTopics:    topics,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        b.cfg.pollWait(),
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})
	util.Debug("kafka reader for group %s created on %v", consumer, topics)

	return &kafkaSubscription{
		reader:  r,
		since:   time.Now().Add(-kafkaClockSkew),
		wait:    b.cfg.pollWait(),
		metrics: b.metrics,
	}, nil
}

func (b *kafkaBus) Close() error {
	return b.writer.Close()
}

type kafkaSubscription struct {
	mu      sync.Mutex
	reader  *kafka.Reader
	since   time.Time
	wait    time.Duration
	metrics *metrics.BusMetrics
}

func (s *kafkaSubscription) Next(ctx context.Context) (types.Message, bool, error) {
	pctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	msg, err := s.fetch(pctx)
	if err != nil {
		// the poll window elapsed but the caller's context is still live
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.metrics.PollsEmpty.WithLabelValues(string(TypeKafka)).Inc()
			return types.Message{}, false, nil
		}
		return types.Message{}, false, err
	}
	return msg, true, nil
}

func (s *kafkaSubscription) Receive(ctx context.Context) (types.Message, error) {
	return s.fetch(ctx)
}

// fetch returns the next message produced after the subscription started,
// committing everything it consumes.
func (s *kafkaSubscription) fetch(ctx context.Context) (types.Message, error) {
	s.mu.Lock()
	r := s.reader
	s.mu.Unlock()
	if r == nil {
		return types.Message{}, ErrSubscriptionClosed
	}

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.metrics.Errors.WithLabelValues(string(TypeKafka), "fetch").Inc()
			}
			return types.Message{}, err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			util.Warn("commit %s/%d@%d failed: %v", m.Topic, m.Partition, m.Offset, err)
		}
		if m.Time.Before(s.since) {
			continue
		}

		s.metrics.MessagesReceived.WithLabelValues(string(TypeKafka), m.Topic).Inc()
		return types.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    uint64(m.Offset),
			Key:       string(m.Key),
			Payload:   m.Value,
			Timestamp: m.Time,
		}, nil
	}
}

func (s *kafkaSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}
