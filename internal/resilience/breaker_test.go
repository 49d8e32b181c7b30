package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/storage"
)

func newBreaker(t *testing.T, opts BreakerOptions) *Breaker {
	t.Helper()
	return NewBreaker("test_service", storage.NewMemoryBackend(), opts, zerolog.Nop())
}

var errBoom = errors.New("boom")

func TestBreakerTripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, BreakerOptions{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	fail := func(context.Context) error { return errBoom }
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}

	state, err := b.State(ctx)
	if err != nil || state != StateOpen {
		t.Fatalf("state = (%q, %v), want open", state, err)
	}

	// Open circuit refuses without running fn.
	ran := false
	err = b.Execute(ctx, func(context.Context) error { ran = true; return nil })
	if !apperrors.Is(err, apperrors.ErrCodeCircuitOpen) {
		t.Errorf("err = %v, want circuit_open", err)
	}
	if ran {
		t.Error("fn ran while circuit open")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, BreakerOptions{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	if err := b.Execute(ctx, func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trip err = %v", err)
	}

	// Move the clock past the recovery deadline.
	b.now = func() time.Time { return time.Now().Add(time.Minute) }

	available, err := b.Available(ctx)
	if err != nil || !available {
		t.Fatalf("Available = (%v, %v), want probe admitted", available, err)
	}
	state, _ := b.State(ctx)
	if state != StateHalfOpen {
		t.Fatalf("state = %q, want half_open", state)
	}

	// Successful probe closes the circuit.
	if err := b.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	state, _ = b.State(ctx)
	if state != StateClosed {
		t.Errorf("state after probe = %q, want closed", state)
	}
}

func TestBreakerHalfOpenFailureReTrips(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, BreakerOptions{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second})

	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	b.now = func() time.Time { return time.Now().Add(time.Minute) }
	if _, err := b.Available(ctx); err != nil {
		t.Fatalf("Available: %v", err)
	}

	// The re-trip records a fresh deadline relative to the shifted clock.
	if err := b.Execute(ctx, func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v", err)
	}
	state, _ := b.State(ctx)
	if state != StateOpen {
		t.Errorf("state = %q, want open after failed probe", state)
	}
}

func TestBreakerSuccessDecaysFailures(t *testing.T) {
	ctx := context.Background()
	b := newBreaker(t, BreakerOptions{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	// Two failures, one success, two more failures: net 3, trips.
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	_ = b.Execute(ctx, func(context.Context) error { return nil })
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	state, _ := b.State(ctx)
	if state != StateClosed {
		t.Fatalf("state = %q, want closed at 2 net failures", state)
	}
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	_ = b.Execute(ctx, func(context.Context) error { return errBoom })
	state, _ = b.State(ctx)
	if state != StateOpen {
		t.Errorf("state = %q, want open at threshold", state)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, zerolog.Nop(),
		func(context.Context) error {
			calls++
			return apperrors.New(apperrors.ErrCodeInvalidAmount, "bad amount")
		})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidAmount) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a permanent error", calls)
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond}, zerolog.Nop(),
		func(context.Context) error {
			calls++
			if calls < 3 {
				return apperrors.NewNetworkError("gateway unavailable", 503, "https://api.test", nil)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{apperrors.New(apperrors.ErrCodeRPCError, "rpc down"), true},
		{apperrors.New(apperrors.ErrCodeGuardBlocked, "blocked"), false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected token"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
