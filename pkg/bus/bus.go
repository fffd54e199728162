// Package bus is the harness's view of the platform event bus: a factory that
// builds a client from configuration, test-scoped subscriptions and a publish
// call for test actions. Backends: in-process memory, the cursus broker
// protocol and Kafka.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/types"
	"github.com/downfa11-org/go-itest/util"
)

type Type string

const (
	TypeMemory Type = "memory"
	TypeCursus Type = "cursus"
	TypeKafka  Type = "kafka"
)

const defaultPollWait = 200 * time.Millisecond

// Config selects and parameterizes a bus backend.
type Config struct {
	Type Type `yaml:"type" json:"type"`

	// Kafka bootstrap servers.
	BootstrapServers []string `yaml:"bootstrap_servers" json:"bootstrap_servers"`
	// Cursus broker addresses, tried in order.
	Brokers []string `yaml:"brokers" json:"brokers"`

	// Compression applied by producers to payloads (none|gzip|snappy|lz4).
	Compression string `yaml:"compression" json:"compression"`
	// PollWait bounds how long a single Next call may wait on the network.
	PollWait time.Duration `yaml:"poll_wait" json:"poll_wait"`

	// Memory is the in-process broker used when Type is memory.
	Memory *MemoryBroker `yaml:"-" json:"-"`
}

// UnmarshalJSON accepts "200ms" style strings for poll_wait, like YAML.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		PollWait util.JSONDuration `json:"poll_wait"`
	}{plain: (*plain)(c), PollWait: util.JSONDuration(c.PollWait)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.PollWait = time.Duration(aux.PollWait)
	return nil
}

func (c Config) pollWait() time.Duration {
	if c.PollWait <= 0 {
		return defaultPollWait
	}
	return c.PollWait
}

// Bus is a client connection to one event bus.
type Bus interface {
	// Subscribe opens a subscription for consumer on topics. Messages
	// published after Subscribe returns are observable through it.
	Subscribe(ctx context.Context, consumer string, topics []string) (Subscription, error)
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Subscription is owned by exactly one reader.
type Subscription interface {
	// Next polls without blocking beyond the backend's poll wait. ok is false
	// when no message is available.
	Next(ctx context.Context) (msg types.Message, ok bool, err error)
	Close() error
}

// Receiver is implemented by subscriptions that can block until a message
// arrives or ctx is done.
type Receiver interface {
	Receive(ctx context.Context) (types.Message, error)
}

// Create builds a bus client from cfg. Collectors are registered on reg,
// reusing ones already present.
func Create(ctx context.Context, cfg Config, reg prometheus.Registerer) (Bus, error) {
	m := metrics.NewBusMetrics(reg)

	switch Type(strings.ToLower(string(cfg.Type))) {
	case TypeMemory, "":
		if cfg.Memory == nil {
			return nil, fmt.Errorf("memory bus requires a MemoryBroker")
		}
		return &memoryBus{broker: cfg.Memory, metrics: m}, nil
	case TypeCursus:
		return newCursusBus(ctx, cfg, m)
	case TypeKafka:
		return newKafkaBus(cfg, m)
	default:
		return nil, fmt.Errorf("unsupported bus type: %q", cfg.Type)
	}
}
