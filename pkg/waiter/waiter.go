// Package waiter correlates a test action with the asynchronous event it is
// expected to produce on the platform bus.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/go-itest/pkg/bus"
	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/pkg/eventkey"
	"github.com/downfa11-org/go-itest/pkg/guard"
	"github.com/downfa11-org/go-itest/pkg/metrics"
	"github.com/downfa11-org/go-itest/pkg/types"
	"github.com/downfa11-org/go-itest/util"
)

const (
	DefaultConsumer     = "test-client"
	DefaultPollInterval = time.Second
)

// BusFactory builds the bus client used for one wait.
type BusFactory func(ctx context.Context, cfg bus.Config, reg prometheus.Registerer) (bus.Bus, error)

// Waiter subscribes to a topic, runs an action and waits for an event whose
// key ends with a correlation id.
type Waiter struct {
	cfg          bus.Config
	consumer     string
	pollInterval time.Duration
	extractor    eventkey.Extractor
	reg          prometheus.Registerer
	forcePoll    bool
	create       BusFactory
}

type Option func(*Waiter)

func WithConsumer(name string) Option {
	return func(w *Waiter) {
		if name != "" {
			w.consumer = name
		}
	}
}

// WithPollInterval sets the sleep between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Waiter) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithExtractor(e eventkey.Extractor) Option {
	return func(w *Waiter) { w.extractor = e }
}

// WithRegisterer shares collectors across waits. Without it every wait
// registers on a fresh registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *Waiter) { w.reg = reg }
}

// WithPolling ignores bus.Receiver and always polls with Next.
func WithPolling() Option {
	return func(w *Waiter) { w.forcePoll = true }
}

func WithBusFactory(f BusFactory) Option {
	return func(w *Waiter) {
		if f != nil {
			w.create = f
		}
	}
}

func New(cfg bus.Config, opts ...Option) *Waiter {
	w := &Waiter{
		cfg:          cfg,
		consumer:     DefaultConsumer,
		pollInterval: DefaultPollInterval,
		extractor:    eventkey.Default(),
		create:       bus.Create,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Await subscribes to topic, then runs action and waits for a matching event.
// action and the wait share the single deadline d. It returns nil on match,
// common.ErrTimedOut when d elapses, the action's error, a wrapped
// common.ErrMalformedEvent for an undecodable payload, or ctx's error.
func (w *Waiter) Await(ctx context.Context, d time.Duration, topic, id string, action func(context.Context) error) error {
	reg := w.reg
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.NewWaiterMetrics(reg)
	start := time.Now()

	err := w.await(ctx, d, reg, m, topic, id, action)

	outcome := outcomeOf(err)
	m.ObserveWait(topic, outcome, time.Since(start).Seconds())
	if err != nil {
		util.Debug("wait for %s on %s ended with %s: %v", id, topic, outcome, err)
	}
	return err
}

func (w *Waiter) await(ctx context.Context, d time.Duration, reg prometheus.Registerer, m *metrics.WaiterMetrics,
	topic, id string, action func(context.Context) error) error {
	b, err := w.create(ctx, w.cfg, reg)
	if err != nil {
		return fmt.Errorf("create bus client: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			util.Warn("closing bus client failed: %v", err)
		}
	}()

	sub, err := b.Subscribe(ctx, w.consumer, []string{topic})
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w", w.consumer, topic, err)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			util.Warn("closing subscription on %s failed: %v", topic, err)
		}
	}()
	util.Debug("%s subscribed to %s, waiting up to %v for %s", w.consumer, topic, d, id)

	return guard.Run(ctx, d, func(ctx context.Context) error {
		if action != nil {
			if err := action(ctx); err != nil {
				return fmt.Errorf("action failed: %w", err)
			}
		}
		return w.match(ctx, sub, topic, id, m)
	})
}

func (w *Waiter) match(ctx context.Context, sub bus.Subscription, topic, id string, m *metrics.WaiterMetrics) error {
	recv, blocking := sub.(bus.Receiver)
	if w.forcePoll {
		blocking = false
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			msg types.Message
			ok  bool
			err error
		)
		if blocking {
			msg, err = recv.Receive(ctx)
			ok = err == nil
		} else {
			msg, ok, err = sub.Next(ctx)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, bus.ErrSubscriptionClosed) || errors.Is(err, common.ErrMalformedEvent) {
				return err
			}
			util.Warn("bus error while waiting on %s: %v", topic, err)
			w.sleep(ctx)
			continue
		}
		if !ok {
			w.sleep(ctx)
			continue
		}

		key, strategy, err := w.extractor.Extract(msg.Payload)
		if err != nil {
			return fmt.Errorf("%s: %w", msg, err)
		}
		if eventkey.Matches(key, id) {
			util.Debug("matched %s at %s via %s", id, msg, strategy)
			return nil
		}
		m.MessagesSkipped.WithLabelValues(topic).Inc()
		util.Debug("skipping key %q at %s", key, msg)
	}
}

func (w *Waiter) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Assert fails t unless the event arrives within d.
func (w *Waiter) Assert(t require.TestingT, d time.Duration, topic, id string, action func(context.Context) error) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	guard.Require(t, w.Await(context.Background(), d, topic, id, action))
}

// WaitForEvent runs one wait with default options.
func WaitForEvent(ctx context.Context, d time.Duration, cfg bus.Config, topic, id string, action func(context.Context) error) error {
	return New(cfg).Await(ctx, d, topic, id, action)
}

// AssertEvent is WaitForEvent for tests. A timeout fails with
// "unable to complete within timeout".
func AssertEvent(t require.TestingT, d time.Duration, cfg bus.Config, topic, id string, action func(context.Context) error) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	New(cfg).Assert(t, d, topic, id, action)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeMatched
	case errors.Is(err, common.ErrTimedOut):
		return metrics.OutcomeTimedOut
	case errors.Is(err, common.ErrMalformedEvent):
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeFailed
	}
}
