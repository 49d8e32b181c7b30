// Package resilience provides a storage-backed circuit breaker and a
// retry policy. Unlike the in-process gobreaker manager, the breaker
// here shares its state through the storage backend so every agent
// instance sees the same trip.
package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

const resilienceCollection = "resilience"

// BreakerOptions tune a distributed breaker. Zero values take the
// defaults: 5 failures to trip, 30 s recovery.
type BreakerOptions struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Breaker is a circuit breaker whose state lives in the shared storage
// backend. CLOSED counts failures (successes pay them back down);
// reaching the threshold trips to OPEN for the recovery timeout, after
// which one probe runs in HALF_OPEN. A HALF_OPEN failure re-trips, a
// success closes.
type Breaker struct {
	service   string
	store     storage.Backend
	threshold int64
	recovery  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewBreaker creates a distributed breaker for a named service.
func NewBreaker(service string, store storage.Backend, opts BreakerOptions, log zerolog.Logger) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		service:   service,
		store:     store,
		threshold: int64(opts.FailureThreshold),
		recovery:  opts.RecoveryTimeout,
		log:       log.With().Str("component", "breaker").Str("service", service).Logger(),
		now:       time.Now,
	}
}

func (b *Breaker) stateKey() string    { return "circuit:" + b.service + ":state" }
func (b *Breaker) failuresKey() string { return "circuit:" + b.service + ":failures" }
func (b *Breaker) recoveryKey() string { return "circuit:" + b.service + ":recovery_ts" }

// State reads the breaker's current state, CLOSED when unset.
func (b *Breaker) State(ctx context.Context) (string, error) {
	doc, err := b.store.Get(ctx, resilienceCollection, b.stateKey())
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "read breaker state", err)
	}
	if doc == nil {
		return StateClosed, nil
	}
	if state, ok := doc["state"].(string); ok && state != "" {
		return state, nil
	}
	return StateClosed, nil
}

func (b *Breaker) setState(ctx context.Context, state string) error {
	err := b.store.Save(ctx, resilienceCollection, b.stateKey(), storage.Document{"state": state})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "save breaker state", err)
	}
	b.log.Info().Str("state", state).Msg("circuit state changed")
	return nil
}

// Available reports whether calls may proceed. An OPEN breaker whose
// recovery timeout has elapsed moves to HALF_OPEN and admits one probe.
func (b *Breaker) Available(ctx context.Context) (bool, error) {
	state, err := b.State(ctx)
	if err != nil {
		return false, err
	}

	switch state {
	case StateClosed, StateHalfOpen:
		return true, nil
	case StateOpen:
		doc, err := b.store.Get(ctx, resilienceCollection, b.recoveryKey())
		if err != nil {
			return false, apperrors.Wrap(apperrors.ErrCodeStorageError, "read breaker recovery", err)
		}
		if doc == nil {
			// Open with no deadline recorded: recover.
			if err := b.setState(ctx, StateHalfOpen); err != nil {
				return false, err
			}
			return true, nil
		}
		if b.now().Unix() > recoveryUnix(doc) {
			if err := b.setState(ctx, StateHalfOpen); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	default:
		return true, nil
	}
}

func recoveryUnix(doc storage.Document) int64 {
	switch v := doc["ts"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// RecordFailure counts a failure, tripping the circuit at the threshold.
// A failure while HALF_OPEN re-trips immediately.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	state, err := b.State(ctx)
	if err != nil {
		return err
	}
	if state == StateHalfOpen {
		b.log.Warn().Msg("failure during recovery probe, re-tripping")
		return b.Trip(ctx)
	}

	failures, err := b.store.AtomicAdd(ctx, resilienceCollection, b.failuresKey(), 1)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "count breaker failure", err)
	}
	b.log.Warn().Int64("failures", failures).Int64("threshold", b.threshold).Msg("failure recorded")

	if failures >= b.threshold {
		return b.Trip(ctx)
	}
	return nil
}

// RecordSuccess closes a HALF_OPEN circuit, or pays one failure back
// down in CLOSED so a burst of failures is not erased by one success.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	state, err := b.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case StateHalfOpen:
		b.log.Info().Msg("recovery probe succeeded, closing circuit")
		return b.Close(ctx)
	case StateClosed:
		current, err := b.store.AtomicAdd(ctx, resilienceCollection, b.failuresKey(), -1)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "decay breaker failures", err)
		}
		if current < 0 {
			// Clamp at zero; minor races just leave it near zero.
			_, _ = b.store.AtomicAdd(ctx, resilienceCollection, b.failuresKey(), -current)
		}
	}
	return nil
}

// Trip opens the circuit for the recovery timeout.
func (b *Breaker) Trip(ctx context.Context) error {
	deadline := b.now().Add(b.recovery).Unix()
	if err := b.setState(ctx, StateOpen); err != nil {
		return err
	}
	err := b.store.Save(ctx, resilienceCollection, b.recoveryKey(), storage.Document{"ts": deadline})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "save breaker recovery", err)
	}
	b.log.Error().Dur("recovery", b.recovery).Msg("circuit tripped")
	return nil
}

// Close resets the circuit to CLOSED and clears the failure count.
func (b *Breaker) Close(ctx context.Context) error {
	if err := b.setState(ctx, StateClosed); err != nil {
		return err
	}
	current, err := b.store.AtomicAdd(ctx, resilienceCollection, b.failuresKey(), 0)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "reset breaker failures", err)
	}
	if current != 0 {
		_, _ = b.store.AtomicAdd(ctx, resilienceCollection, b.failuresKey(), -current)
	}
	if _, err := b.store.Delete(ctx, resilienceCollection, b.recoveryKey()); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "clear breaker recovery", err)
	}
	return nil
}

// Execute runs fn under the breaker: refused with a circuit_open error
// while OPEN, recording the outcome otherwise. fn's error is returned
// as-is.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	available, err := b.Available(ctx)
	if err != nil {
		return err
	}
	if !available {
		return apperrors.NewCircuitOpenError(b.service)
	}

	if err := fn(ctx); err != nil {
		if recordErr := b.RecordFailure(ctx); recordErr != nil {
			b.log.Warn().Err(recordErr).Msg("failed to record breaker failure")
		}
		return err
	}
	if recordErr := b.RecordSuccess(ctx); recordErr != nil {
		b.log.Warn().Err(recordErr).Msg("failed to record breaker success")
	}
	return nil
}
