package guard_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/pkg/guard"
)

// recorder stands in for *testing.T so failures can be inspected.
type recorder struct {
	failed bool
	msgs   []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func (r *recorder) FailNow() { r.failed = true }

func TestRunWithTimeoutReturnsValue(t *testing.T) {
	v, err := guard.RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "indexed", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "indexed" {
		t.Errorf("expected value to pass through unmodified, got %q", v)
	}
}

func TestRunWithTimeoutPassesOpError(t *testing.T) {
	boom := errors.New("boom")
	_, err := guard.RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected op error, got %v", err)
	}
}

func TestRunWithTimeoutTimesOut(t *testing.T) {
	d := 50 * time.Millisecond
	start := time.Now()

	_, err := guard.RunWithTimeout(context.Background(), d, func(ctx context.Context) (int, error) {
		time.Sleep(5 * time.Second) // ignores cancellation on purpose
		return 1, nil
	})
	elapsed := time.Since(start)

	if !errors.Is(err, common.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed > d+500*time.Millisecond {
		t.Errorf("caller blocked for %v, deadline was %v", elapsed, d)
	}
}

func TestRunCancelsOperationContextOnTimeout(t *testing.T) {
	cancelled := make(chan struct{})
	err := guard.Run(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	if !errors.Is(err, common.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("operation context was never cancelled")
	}
}

func TestRunParentCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := guard.Run(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if errors.Is(err, common.ErrTimedOut) {
		t.Fatal("parent cancellation reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAssertWithinTimeout(t *testing.T) {
	t.Run("Completes", func(t *testing.T) {
		rec := &recorder{}
		guard.AssertWithinTimeout(rec, time.Second, func(ctx context.Context) error { return nil })
		if rec.failed {
			t.Fatalf("unexpected failure: %v", rec.msgs)
		}
	})

	t.Run("TimesOut", func(t *testing.T) {
		rec := &recorder{}
		guard.AssertWithinTimeout(rec, 10*time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		if !rec.failed {
			t.Fatal("expected failure on timeout")
		}
		if len(rec.msgs) == 0 || !strings.Contains(rec.msgs[0], "unable to complete within timeout") {
			t.Errorf("expected fixed timeout message, got %v", rec.msgs)
		}
	})

	t.Run("OperationError", func(t *testing.T) {
		rec := &recorder{}
		guard.AssertWithinTimeout(rec, time.Second, func(ctx context.Context) error {
			return errors.New("bus unreachable")
		})
		if !rec.failed || !strings.Contains(strings.Join(rec.msgs, "\n"), "bus unreachable") {
			t.Errorf("expected failure naming the op error, got %v", rec.msgs)
		}
	})
}
