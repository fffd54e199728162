package e2e

import (
	"errors"
	"fmt"
	"time"

	"github.com/downfa11-org/go-itest/pkg/common"
)

// EventObserved verifies the correlated event arrived before the deadline.
func EventObserved() Expectation {
	return func(ctx *TestContext) error {
		if ctx.waitErr != nil {
			return fmt.Errorf("expected event for %s, got %w", ctx.id, ctx.waitErr)
		}
		return nil
	}
}

// WaitTimedOut verifies the wait ended with the timeout failure.
func WaitTimedOut() Expectation {
	return func(ctx *TestContext) error {
		if !errors.Is(ctx.waitErr, common.ErrTimedOut) {
			return fmt.Errorf("expected timeout for %s, got %v", ctx.id, ctx.waitErr)
		}
		return nil
	}
}

// FinishedWithin bounds the scenario's wall-clock time.
func FinishedWithin(d time.Duration) Expectation {
	return func(ctx *TestContext) error {
		if elapsed := time.Since(ctx.startTime); elapsed > d {
			return fmt.Errorf("scenario took %v, expected at most %v", elapsed, d)
		}
		return nil
	}
}

// NoSubscriptionsLeft verifies every subscription was released.
func NoSubscriptionsLeft() Expectation {
	return func(ctx *TestContext) error {
		if n := ctx.broker.Subscribers(resourceTopic); n != 0 {
			return fmt.Errorf("%d subscriptions still open on %s", n, resourceTopic)
		}
		return nil
	}
}

// BodyField verifies a top-level field of the fetched document.
func BodyField(field string, want any) Expectation {
	return func(ctx *TestContext) error {
		if ctx.fetchErr != nil {
			return fmt.Errorf("fetch failed: %w", ctx.fetchErr)
		}
		doc, ok := ctx.body.(map[string]any)
		if !ctx.hasBody || !ok {
			return fmt.Errorf("expected JSON object body, got %v", ctx.body)
		}
		if doc[field] != want {
			return fmt.Errorf("field %s: expected %v, got %v", field, want, doc[field])
		}
		return nil
	}
}

// NoBody verifies a fetch succeeded without returning a document.
func NoBody() Expectation {
	return func(ctx *TestContext) error {
		if ctx.fetchErr != nil {
			return fmt.Errorf("fetch failed: %w", ctx.fetchErr)
		}
		if ctx.hasBody {
			return fmt.Errorf("expected no body, got %v", ctx.body)
		}
		return nil
	}
}

// StatusMismatch verifies the fetch failed on status with the given actual code.
func StatusMismatch(actual int) Expectation {
	return func(ctx *TestContext) error {
		var mismatch *common.StatusMismatchError
		if !errors.As(ctx.fetchErr, &mismatch) {
			return fmt.Errorf("expected status mismatch, got %v", ctx.fetchErr)
		}
		if mismatch.Actual != actual {
			return fmt.Errorf("expected actual status %d, got %d", actual, mismatch.Actual)
		}
		return nil
	}
}
