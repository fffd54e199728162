// Package guard bounds an operation by a single wall-clock deadline.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/downfa11-org/go-itest/pkg/common"
)

type result[T any] struct {
	val T
	err error
}

// RunWithTimeout drives op until it returns or d elapses. On timeout op's
// context is cancelled, its goroutine is abandoned and common.ErrTimedOut is
// returned. There is no retry.
func RunWithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := time.NewTimer(d)
	defer timer.Stop()

	// buffered so an abandoned op can still deliver and exit
	done := make(chan result[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- result[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-timer.C:
		return zero, common.ErrTimedOut
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Run is RunWithTimeout for operations without a value.
func Run(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	_, err := RunWithTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// AssertWithinTimeout fails t when op misses the deadline or returns an error.
// It must be called from the test goroutine.
func AssertWithinTimeout(t require.TestingT, d time.Duration, op func(context.Context) error) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	Require(t, Run(context.Background(), d, op))
}

// Require turns a guarded error into a test failure, using the fixed
// timeout message for common.ErrTimedOut.
func Require(t require.TestingT, err error) {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if errors.Is(err, common.ErrTimedOut) {
		require.Fail(t, common.ErrTimedOut.Error())
		return
	}
	require.NoError(t, err)
}
