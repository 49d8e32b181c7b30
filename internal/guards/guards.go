// Package guards implements two-phase spending controls. A guard chain
// reserves quota atomically before a payment executes, then commits on
// success or releases on failure so concurrent payments cannot both pass
// a limit that only one of them fits under.
package guards

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/money"
)

// Collection holding guard counters and reservations.
const guardStateCollection = "guard_state"

// PaymentContext carries the payment attributes guards evaluate.
type PaymentContext struct {
	WalletID    string
	WalletSetID string
	Recipient   string
	Amount      money.Amount
	Purpose     string
	Metadata    map[string]any
}

// GuardResult is the outcome of a non-mutating check.
type GuardResult struct {
	Allowed   bool
	Reason    string
	GuardName string
	Metadata  map[string]any
}

// Guard is the two-phase spending control contract.
//
// Check is a non-mutating pre-check used by simulate. Reserve atomically
// claims quota and returns an opaque token; the empty token means the
// guard holds no state for this payment. Commit finalises a reservation
// and Release undoes one; both accept the empty token as a no-op.
type Guard interface {
	Name() string
	Check(ctx context.Context, pc PaymentContext) (GuardResult, error)
	Reserve(ctx context.Context, pc PaymentContext) (string, error)
	Commit(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
	Reset()
}

func allow(name string, metadata map[string]any) GuardResult {
	return GuardResult{Allowed: true, GuardName: name, Metadata: metadata}
}

func deny(name, reason string, metadata map[string]any) GuardResult {
	return GuardResult{Allowed: false, Reason: reason, GuardName: name, Metadata: metadata}
}

// Chain evaluates guards in insertion order.
type Chain struct {
	guards []Guard
	log    zerolog.Logger
}

// NewChain creates a chain over the given guards.
func NewChain(log zerolog.Logger, guards ...Guard) *Chain {
	return &Chain{
		guards: guards,
		log:    log.With().Str("component", "guardchain").Logger(),
	}
}

// Add appends a guard to the chain.
func (c *Chain) Add(g Guard) {
	c.guards = append(c.guards, g)
}

// Guards returns the chain's guards in evaluation order.
func (c *Chain) Guards() []Guard {
	return c.guards
}

// Len returns the number of guards in the chain.
func (c *Chain) Len() int {
	return len(c.guards)
}

// Check runs every guard's non-mutating check in order. It returns the
// first denial, or an allowed result, along with the names of guards
// that passed.
func (c *Chain) Check(ctx context.Context, pc PaymentContext) (GuardResult, []string, error) {
	passed := make([]string, 0, len(c.guards))
	for _, g := range c.guards {
		result, err := g.Check(ctx, pc)
		if err != nil {
			return GuardResult{}, passed, err
		}
		if !result.Allowed {
			return result, passed, nil
		}
		passed = append(passed, g.Name())
	}
	return GuardResult{Allowed: true}, passed, nil
}

// reservationEntry pairs a guard with the token it issued.
type reservationEntry struct {
	guard Guard
	token string
}

// Reservation holds the tokens issued by a successful chain reserve.
// Commit and Release are idempotent; Release after Commit is a no-op.
type Reservation struct {
	entries []reservationEntry
	log     zerolog.Logger
	settled bool
}

// Reserve claims quota on every guard in order. On the first failure all
// prior reservations are released in reverse order and the guard's error
// is returned.
func (c *Chain) Reserve(ctx context.Context, pc PaymentContext) (*Reservation, error) {
	res := &Reservation{log: c.log}
	for _, g := range c.guards {
		token, err := g.Reserve(ctx, pc)
		if err != nil {
			res.Release(ctx)
			return nil, err
		}
		res.entries = append(res.entries, reservationEntry{guard: g, token: token})
	}
	return res, nil
}

// PassedNames lists the guards holding this reservation, in order.
func (r *Reservation) PassedNames() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.guard.Name()
	}
	return names
}

// Commit finalises every reservation. Commit failures are logged and do
// not stop the remaining commits; the payment has already executed.
func (r *Reservation) Commit(ctx context.Context) {
	if r.settled {
		return
	}
	r.settled = true
	for _, e := range r.entries {
		if err := e.guard.Commit(ctx, e.token); err != nil {
			r.log.Warn().Err(err).Str("guard", e.guard.Name()).Msg("guard commit failed")
		}
	}
}

// Release undoes every reservation in reverse order. Safe to call after
// Commit or a prior Release.
func (r *Reservation) Release(ctx context.Context) {
	if r.settled {
		return
	}
	r.settled = true
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if err := e.guard.Release(ctx, e.token); err != nil {
			r.log.Warn().Err(err).Str("guard", e.guard.Name()).Msg("guard release failed")
		}
	}
}
