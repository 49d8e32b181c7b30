package guards

import (
	"context"
	"fmt"

	"github.com/agentpay/agentpay-go/internal/money"
)

// ConfirmCallback decides whether a payment may proceed. It is invoked
// with the payment context and should block until an operator answers or
// the context is cancelled.
type ConfirmCallback func(ctx context.Context, pc PaymentContext) (bool, error)

// ConfirmGuard requires operator approval for payments at or above a
// threshold, or for every payment. Without a callback it blocks with a
// reason the caller can surface to a human reviewer.
type ConfirmGuard struct {
	name          string
	callback      ConfirmCallback
	threshold     money.Amount
	alwaysConfirm bool
}

// ConfirmOptions tune when and how confirmation happens.
type ConfirmOptions struct {
	Callback      ConfirmCallback
	Threshold     money.Amount
	AlwaysConfirm bool
}

// NewConfirmGuard creates a confirmation guard.
func NewConfirmGuard(opts ConfirmOptions, name string) *ConfirmGuard {
	if name == "" {
		name = "confirm"
	}
	return &ConfirmGuard{
		name:          name,
		callback:      opts.Callback,
		threshold:     opts.Threshold,
		alwaysConfirm: opts.AlwaysConfirm,
	}
}

func (g *ConfirmGuard) Name() string { return g.name }

// Threshold returns the confirmation threshold, zero when unset.
func (g *ConfirmGuard) Threshold() money.Amount { return g.threshold }

func (g *ConfirmGuard) needsConfirmation(amount money.Amount) bool {
	if g.alwaysConfirm {
		return true
	}
	return !g.threshold.IsZero() && !amount.LessThan(g.threshold)
}

func (g *ConfirmGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	if !g.needsConfirmation(pc.Amount) {
		return allow(g.name, map[string]any{"confirmation_required": false}), nil
	}

	if g.callback != nil {
		confirmed, err := g.callback(ctx, pc)
		if err != nil {
			return deny(g.name,
				fmt.Sprintf("confirmation callback failed: %v", err),
				map[string]any{"confirmation_required": true, "error": err.Error()}), nil
		}
		if confirmed {
			return allow(g.name, map[string]any{"confirmation_required": true, "confirmed": true}), nil
		}
		return deny(g.name, "payment not confirmed by operator",
			map[string]any{"confirmation_required": true, "confirmed": false}), nil
	}

	return deny(g.name,
		fmt.Sprintf("payment of %s requires confirmation and no callback is configured", pc.Amount.ToMajor()),
		map[string]any{
			"confirmation_required": true,
			"amount":                pc.Amount.ToMajor(),
			"threshold":             g.threshold.ToMajor(),
		}), nil
}

func (g *ConfirmGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	return reserveStateless(ctx, g, pc)
}

func (g *ConfirmGuard) Commit(ctx context.Context, token string) error  { return nil }
func (g *ConfirmGuard) Release(ctx context.Context, token string) error { return nil }
func (g *ConfirmGuard) Reset()                                          {}
