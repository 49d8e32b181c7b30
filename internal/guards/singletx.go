package guards

import (
	"context"
	"fmt"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
)

// SingleTxLimits bound one payment's amount. A zero amount disables that
// bound; at least one must be set.
type SingleTxLimits struct {
	Min money.Amount
	Max money.Amount
}

// SingleTxGuard is a stateless per-payment amount bound.
type SingleTxGuard struct {
	name   string
	limits SingleTxLimits
}

// NewSingleTxGuard creates a single transaction guard.
func NewSingleTxGuard(limits SingleTxLimits, name string) (*SingleTxGuard, error) {
	if limits.Min.IsZero() && limits.Max.IsZero() {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "single tx guard requires a min or max amount")
	}
	if !limits.Max.IsZero() && limits.Min.GreaterThan(limits.Max) {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "single tx guard min exceeds max")
	}
	if name == "" {
		name = "single_tx"
	}
	return &SingleTxGuard{name: name, limits: limits}, nil
}

func (g *SingleTxGuard) Name() string { return g.name }

func (g *SingleTxGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	if !g.limits.Min.IsZero() && pc.Amount.LessThan(g.limits.Min) {
		return deny(g.name,
			fmt.Sprintf("amount %s below minimum %s", pc.Amount.ToMajor(), g.limits.Min.ToMajor()),
			map[string]any{"min_amount": g.limits.Min.ToMajor()}), nil
	}
	if !g.limits.Max.IsZero() && pc.Amount.GreaterThan(g.limits.Max) {
		return deny(g.name,
			fmt.Sprintf("amount %s exceeds maximum %s", pc.Amount.ToMajor(), g.limits.Max.ToMajor()),
			map[string]any{"max_amount": g.limits.Max.ToMajor()}), nil
	}
	return allow(g.name, nil), nil
}

// Reserve runs the check; the guard holds no state.
func (g *SingleTxGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	return reserveStateless(ctx, g, pc)
}

func (g *SingleTxGuard) Commit(ctx context.Context, token string) error  { return nil }
func (g *SingleTxGuard) Release(ctx context.Context, token string) error { return nil }
func (g *SingleTxGuard) Reset()                                          {}

// reserveStateless turns a stateless guard's check denial into the
// reserve-phase error, with no token.
func reserveStateless(ctx context.Context, g Guard, pc PaymentContext) (string, error) {
	result, err := g.Check(ctx, pc)
	if err != nil {
		return "", err
	}
	if !result.Allowed {
		return "", apperrors.NewGuardError(g.Name(), result.Reason)
	}
	return "", nil
}
