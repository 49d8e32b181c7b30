package agentpay

import (
	"context"

	"github.com/agentpay/agentpay-go/internal/guards"
	"github.com/agentpay/agentpay-go/internal/money"
)

// Guard scope types, re-exported for callers of the Add*Guard helpers.
const (
	ScopeWallet    = guards.ScopeWallet
	ScopeWalletSet = guards.ScopeWalletSet
)

// AddBudgetGuard caps spending per hour, day, and in total. Zero
// amounts leave a window unlimited.
func (c *Client) AddBudgetGuard(ctx context.Context, scopeType, scopeID, name string, hourly, daily, total money.Amount) (guards.GuardConfig, error) {
	cfg := guards.GuardConfig{Type: guards.GuardTypeBudget, Name: name}
	if !hourly.IsZero() {
		cfg.HourlyLimit = &hourly
	}
	if !daily.IsZero() {
		cfg.DailyLimit = &daily
	}
	if !total.IsZero() {
		cfg.TotalLimit = &total
	}
	return c.Guards.AddGuard(ctx, scopeType, scopeID, cfg)
}

// AddRateLimitGuard caps payment counts per minute, hour, and day. Zero
// leaves a window unlimited.
func (c *Client) AddRateLimitGuard(ctx context.Context, scopeType, scopeID, name string, perMinute, perHour, perDay int) (guards.GuardConfig, error) {
	return c.Guards.AddGuard(ctx, scopeType, scopeID, guards.GuardConfig{
		Type:         guards.GuardTypeRateLimit,
		Name:         name,
		MaxPerMinute: perMinute,
		MaxPerHour:   perHour,
		MaxPerDay:    perDay,
	})
}

// AddSingleTxGuard bounds individual payment amounts.
func (c *Client) AddSingleTxGuard(ctx context.Context, scopeType, scopeID, name string, min, max money.Amount) (guards.GuardConfig, error) {
	cfg := guards.GuardConfig{Type: guards.GuardTypeSingleTx, Name: name}
	if !min.IsZero() {
		cfg.MinAmount = &min
	}
	if !max.IsZero() {
		cfg.MaxAmount = &max
	}
	return c.Guards.AddGuard(ctx, scopeType, scopeID, cfg)
}

// AddRecipientGuard restricts recipients. mode is "whitelist" or
// "blacklist"; addresses match exactly (case-insensitive), domains by
// substring, patterns as regular expressions.
func (c *Client) AddRecipientGuard(ctx context.Context, scopeType, scopeID, name, mode string, addresses, domains, patterns []string) (guards.GuardConfig, error) {
	return c.Guards.AddGuard(ctx, scopeType, scopeID, guards.GuardConfig{
		Type:      guards.GuardTypeRecipient,
		Name:      name,
		Mode:      mode,
		Addresses: addresses,
		Domains:   domains,
		Patterns:  patterns,
	})
}

// AddConfirmGuard requires operator approval for payments at or above
// threshold, or for every payment when alwaysConfirm is set. The
// callback is installed with WithConfirmCallback.
func (c *Client) AddConfirmGuard(ctx context.Context, scopeType, scopeID, name string, threshold money.Amount, alwaysConfirm bool) (guards.GuardConfig, error) {
	cfg := guards.GuardConfig{
		Type:          guards.GuardTypeConfirm,
		Name:          name,
		AlwaysConfirm: alwaysConfirm,
	}
	if !threshold.IsZero() {
		cfg.Threshold = &threshold
	}
	return c.Guards.AddGuard(ctx, scopeType, scopeID, cfg)
}

// EnableRiskScoring registers the weighted risk engine on every guard
// chain. Scores at or above high block the payment; scores between low
// and high hold it as an intent pending review. Zero thresholds use
// the engine defaults.
func (c *Client) EnableRiskScoring(low, high float64) {
	c.Guards.RegisterGlobal(guards.NewRiskGuard("risk_engine", low, high,
		guards.NewAmountFactor(0.4, money.Zero, money.Zero),
		guards.NewNewRecipientFactor(0.3, c.Ledger),
		guards.NewVelocityFactor(0.3, 0, 0, c.Ledger),
	))
}

// RemoveGuard deletes a guard configuration by ID.
func (c *Client) RemoveGuard(ctx context.Context, scopeType, scopeID, guardID string) (bool, error) {
	return c.Guards.RemoveGuard(ctx, scopeType, scopeID, guardID)
}

// ListGuards returns a scope's guard configurations.
func (c *Client) ListGuards(ctx context.Context, scopeType, scopeID string) ([]guards.GuardConfig, error) {
	return c.Guards.ListGuards(ctx, scopeType, scopeID)
}
