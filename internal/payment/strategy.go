package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentpay/agentpay-go/internal/resilience"
)

// Strategy wraps router execution with a failure policy.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, router *Router, req Request) *Result
}

// FailFast executes once and reports whatever happened. The default.
type FailFast struct{}

func (FailFast) Name() string { return "fail_fast" }

func (FailFast) Execute(ctx context.Context, router *Router, req Request) *Result {
	return router.Pay(ctx, req)
}

// RetryThenFail retries transient failures with doubling delays before
// giving up. Blocked and non-transient failures return immediately.
type RetryThenFail struct {
	Attempts  int           // default 3
	BaseDelay time.Duration // default 1s
}

func (RetryThenFail) Name() string { return "retry_then_fail" }

func (s RetryThenFail) Execute(ctx context.Context, router *Router, req Request) *Result {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var result *Result
	for attempt := 1; attempt <= attempts; attempt++ {
		result = router.Pay(ctx, req)
		if result.Success || !retryableFailure(result) || attempt == attempts {
			return result
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(delay):
		}
		delay *= 2
	}
	return result
}

// QueueBackground defers transient failures into the storage-backed
// queue for the drain daemon instead of surfacing them.
type QueueBackground struct {
	Queue *Queue
}

func (QueueBackground) Name() string { return "queue_background" }

func (s QueueBackground) Execute(ctx context.Context, router *Router, req Request) *Result {
	result := router.Pay(ctx, req)
	if result.Success || s.Queue == nil || !retryableFailure(result) {
		return result
	}

	queueID, err := s.Queue.Enqueue(ctx, req, result.Error)
	if err != nil {
		return result
	}
	deferred := Failed(req, result.Method, result.Error)
	deferred.Status = StatusPending
	deferred.Metadata = map[string]any{"queued": true, "queue_id": queueID}
	return deferred
}

// retryableFailure reports whether a failed result is worth another
// attempt: transient transport trouble or an open circuit, never guard
// blocks or validation failures.
func retryableFailure(result *Result) bool {
	if result.Status == StatusBlocked || result.Error == "" {
		return false
	}
	if strings.Contains(strings.ToLower(result.Error), "circuit") {
		return true
	}
	return resilience.IsTransient(errors.New(result.Error))
}
