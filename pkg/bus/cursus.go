package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/types"
	"github.com/downfa11-org/go-itest/util"
)

const cursusHeartbeatInterval = 3 * time.Second

type cursusBus struct {
	cfg        Config
	admin      *cursusClient
	producerID string
	seq        atomic.Uint64
	codec      util.Compression
	metrics    *metrics.BusMetrics
}

func newCursusBus(_ context.Context, cfg Config, m *metrics.BusMetrics) (Bus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("cursus bus requires at least one broker address")
	}
	codec, err := util.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &cursusBus{
		cfg:        cfg,
		admin:      newCursusClient(cfg.Brokers),
		producerID: uuid.NewString(),
		codec:      codec,
		metrics:    m,
	}, nil
}

func (b *cursusBus) createTopic(ctx context.Context, topic string, partitions int) error {
	_, err := b.admin.command(ctx, "admin", fmt.Sprintf("CREATE topic=%s partitions=%d", topic, partitions))
	if err != nil && strings.Contains(err.Error(), "topic exists") {
		return nil
	}
	return err
}

func (b *cursusBus) Publish(ctx context.Context, topic string, payload []byte) error {
	packed, err := util.CompressMessage(payload, b.codec)
	if err != nil {
		return fmt.Errorf("compress payload for %s: %w", topic, err)
	}
	publish := func() error {
		cmd := fmt.Sprintf("PUBLISH topic=%s acks=1 producerId=%s seqNum=%d epoch=%d message=%s",
			topic, b.producerID, b.seq.Add(1), time.Now().UnixNano(), packed)
		_, err := b.admin.command(ctx, "admin", cmd)
		return err
	}

	err = publish()
	if err != nil && strings.Contains(err.Error(), "does not exist") {
		if cerr := b.createTopic(ctx, topic, 1); cerr != nil {
			return fmt.Errorf("create topic %s: %w", topic, cerr)
		}
		err = publish()
	}
	if err != nil {
		b.metrics.Errors.WithLabelValues(string(TypeCursus), "publish").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	b.metrics.MessagesSent.WithLabelValues(string(TypeCursus), topic).Inc()
	return nil
}

func (b *cursusBus) Subscribe(ctx context.Context, consumer string, topics []string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("subscribe requires at least one topic")
	}

	sub := &cursusSubscription{bus: b, group: consumer}
	for _, topic := range topics {
		ts, err := b.joinTopic(ctx, consumer, topic)
		if err != nil {
			sub.Close()
			return nil, err
		}
		sub.topics = append(sub.topics, ts)
		for _, p := range ts.partitions {
			sub.slots = append(sub.slots, slot{topic: ts, partition: p})
		}
	}

	util.Debug("cursus subscription %s ready on %v with %d partition slots", consumer, topics, len(sub.slots))
	return sub, nil
}

func (b *cursusBus) joinTopic(ctx context.Context, group, topic string) (*cursusTopic, error) {
	if err := b.createTopic(ctx, topic, 1); err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}

	cl := newCursusClient(b.cfg.Brokers)
	ts := &cursusTopic{client: cl, topic: topic, group: group, offsets: make(map[int]uint64)}

	initial := fmt.Sprintf("%s-%s", group, uuid.NewString()[:8])
	resp, err := cl.command(ctx, "", fmt.Sprintf("JOIN_GROUP topic=%s group=%s member=%s", topic, group, initial))
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("join group failed: %w", err)
	}
	ts.generation, ts.member = parseJoinResponse(resp, initial)

	resp, err = cl.command(ctx, "", fmt.Sprintf("SYNC_GROUP topic=%s group=%s member=%s generation=%d",
		topic, group, ts.member, ts.generation))
	if err != nil {
		cl.Close()
		return nil, fmt.Errorf("sync group failed: %w", err)
	}
	if ts.partitions, err = parseAssignments(resp); err != nil {
		cl.Close()
		return nil, err
	}

	for _, p := range ts.partitions {
		off, err := ts.fetchOffset(ctx, p)
		if err != nil {
			util.Warn("fetch committed offset for %s/%d failed, starting at 0: %v", topic, p, err)
		}
		ts.offsets[p] = off
		if err := ts.seekEnd(ctx, p, b.cfg.pollWait()); err != nil {
			ts.leave()
			return nil, fmt.Errorf("seek to end of %s/%d: %w", topic, p, err)
		}
	}
	ts.lastHeartbeat = time.Now()
	return ts, nil
}

func (b *cursusBus) Close() error {
	b.admin.Close()
	return nil
}

// cursusTopic is the group membership of one subscription on one topic.
type cursusTopic struct {
	client        *cursusClient
	topic         string
	group         string
	member        string
	generation    int
	partitions    []int
	offsets       map[int]uint64
	lastHeartbeat time.Time
}

func (t *cursusTopic) fetchOffset(ctx context.Context, partition int) (uint64, error) {
	resp, err := t.client.command(ctx, "admin", fmt.Sprintf("FETCH_OFFSET topic=%s partition=%d group=%s", t.topic, partition, t.group))
	if err != nil {
		return 0, err
	}
	var off uint64
	if n, err := fmt.Sscanf(resp, "%d", &off); err != nil || n != 1 {
		return 0, fmt.Errorf("expected integer offset, got: %s", resp)
	}
	return off, nil
}

func (t *cursusTopic) consumeCommand(partition int) string {
	return fmt.Sprintf("CONSUME topic=%s partition=%d offset=%d group=%s autoOffsetReset=earliest member=%s generation=%d",
		t.topic, partition, t.offsets[partition], t.group, t.member, t.generation)
}

// seekEnd moves the partition position past every record already in the log,
// so a subscription only observes messages published after it was opened.
func (t *cursusTopic) seekEnd(ctx context.Context, partition int, wait time.Duration) error {
	start := t.offsets[partition]
	for {
		raw, err := t.client.roundTrip(ctx, t.topic, t.consumeCommand(partition), wait)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return err
		}
		if !util.IsBatchFrame(raw) {
			resp := strings.TrimSpace(string(raw))
			if strings.HasPrefix(resp, "ERROR:") {
				return fmt.Errorf("broker error during seek: %s", resp)
			}
			break
		}
		batch, err := util.DecodeBatchMessages(raw)
		if err != nil {
			return fmt.Errorf("failed to decode batch: %w", err)
		}
		if len(batch.Records) == 0 {
			break
		}
		next := batch.Records[len(batch.Records)-1].Offset + 1
		if next <= t.offsets[partition] {
			break
		}
		t.offsets[partition] = next
	}

	if end := t.offsets[partition]; end != start {
		util.Debug("skipped %d existing records on %s/%d", end-start, t.topic, partition)
		t.commit(ctx, partition, end)
	}
	return nil
}

func (t *cursusTopic) heartbeat(ctx context.Context) {
	if time.Since(t.lastHeartbeat) < cursusHeartbeatInterval {
		return
	}
	cmd := fmt.Sprintf("HEARTBEAT topic=%s group=%s member=%s generation=%d", t.topic, t.group, t.member, t.generation)
	if _, err := t.client.command(ctx, "", cmd); err != nil {
		util.Warn("heartbeat for %s/%s failed: %v", t.group, t.topic, err)
		return
	}
	t.lastHeartbeat = time.Now()
}

func (t *cursusTopic) commit(ctx context.Context, partition int, offset uint64) {
	cmd := fmt.Sprintf("COMMIT_OFFSET topic=%s partition=%d group=%s offset=%d generation=%d member=%s",
		t.topic, partition, t.group, offset, t.generation, t.member)
	if _, err := t.client.command(ctx, t.topic, cmd); err != nil {
		util.Debug("commit offset %d for %s/%d failed: %v", offset, t.topic, partition, err)
	}
}

func (t *cursusTopic) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), cursusCommandTimeout)
	defer cancel()
	if t.member != "" {
		cmd := fmt.Sprintf("LEAVE_GROUP topic=%s group=%s member=%s", t.topic, t.group, t.member)
		if _, err := t.client.command(ctx, "", cmd); err != nil {
			util.Debug("leave group %s on %s failed: %v", t.group, t.topic, err)
		}
	}
	t.client.Close()
}

type slot struct {
	topic     *cursusTopic
	partition int
}

type cursusSubscription struct {
	bus    *cursusBus
	group  string
	topics []*cursusTopic
	slots  []slot

	mu      sync.Mutex
	cursor  int
	pending []types.Message
	// poisoned is reported once the records queued ahead of it are consumed.
	poisoned error
	closed   bool
}

func (s *cursusSubscription) Next(ctx context.Context) (types.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Message{}, false, ErrSubscriptionClosed
	}
	if msg, ok := s.popLocked(); ok {
		return msg, true, nil
	}
	if err := s.takePoisonLocked(); err != nil {
		return types.Message{}, false, err
	}
	if len(s.slots) == 0 {
		s.bus.metrics.PollsEmpty.WithLabelValues(string(TypeCursus)).Inc()
		return types.Message{}, false, nil
	}

	sl := s.slots[s.cursor%len(s.slots)]
	s.cursor++
	if err := s.fetchLocked(ctx, sl); err != nil {
		s.bus.metrics.Errors.WithLabelValues(string(TypeCursus), "consume").Inc()
		return types.Message{}, false, err
	}

	msg, ok := s.popLocked()
	if ok {
		return msg, true, nil
	}
	if err := s.takePoisonLocked(); err != nil {
		return types.Message{}, false, err
	}
	s.bus.metrics.PollsEmpty.WithLabelValues(string(TypeCursus)).Inc()
	return types.Message{}, false, nil
}

func (s *cursusSubscription) takePoisonLocked() error {
	err := s.poisoned
	s.poisoned = nil
	if err != nil {
		s.bus.metrics.Errors.WithLabelValues(string(TypeCursus), "decode").Inc()
	}
	return err
}

func (s *cursusSubscription) popLocked() (types.Message, bool) {
	if len(s.pending) == 0 {
		return types.Message{}, false
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	s.bus.metrics.MessagesReceived.WithLabelValues(string(TypeCursus), msg.Topic).Inc()
	return msg, true
}

func (s *cursusSubscription) fetchLocked(ctx context.Context, sl slot) error {
	t := sl.topic
	t.heartbeat(ctx)

	raw, err := t.client.roundTrip(ctx, t.topic, t.consumeCommand(sl.partition), s.bus.cfg.pollWait())
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		return fmt.Errorf("consume %s/%d: %w", t.topic, sl.partition, err)
	}

	if !util.IsBatchFrame(raw) {
		resp := strings.TrimSpace(string(raw))
		if strings.HasPrefix(resp, "ERROR:") {
			return fmt.Errorf("broker error during consume: %s", resp)
		}
		return nil
	}

	batch, err := util.DecodeBatchMessages(raw)
	if err != nil {
		return fmt.Errorf("failed to decode batch: %w", err)
	}
	if len(batch.Records) == 0 {
		return nil
	}

	now := time.Now()
	next := batch.Records[len(batch.Records)-1].Offset + 1
	for _, r := range batch.Records {
		payload, err := util.DecompressMessage([]byte(r.Payload), s.bus.codec)
		if err != nil {
			// Records after the undecodable one are fetched again on the next poll.
			s.poisoned = fmt.Errorf("%w: decompress %s/%d@%d: %v", common.ErrMalformedEvent, t.topic, sl.partition, r.Offset, err)
			next = r.Offset + 1
			break
		}
		s.pending = append(s.pending, types.Message{
			Topic:     t.topic,
			Partition: sl.partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Payload:   payload,
			Timestamp: now,
		})
	}

	t.offsets[sl.partition] = next
	t.commit(ctx, sl.partition, next)
	return nil
}

func (s *cursusSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.topics {
		t.leave()
	}
	s.pending = nil
	s.poisoned = nil
	return nil
}
