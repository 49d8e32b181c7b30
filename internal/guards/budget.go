package guards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// BudgetLimits are windowed spending caps. A zero amount disables that
// window; at least one must be set.
type BudgetLimits struct {
	Hourly money.Amount
	Daily  money.Amount
	Total  money.Amount
}

// BudgetGuard enforces spending caps per calendar hour, calendar day,
// and all time. Committed spend and provisional reservations are kept in
// separate atomic counters so concurrent reservations serialise through
// storage rather than through this process.
type BudgetGuard struct {
	name   string
	limits BudgetLimits
	store  storage.Backend
	now    func() time.Time
}

// NewBudgetGuard creates a budget guard. At least one limit is required.
func NewBudgetGuard(store storage.Backend, limits BudgetLimits, name string) (*BudgetGuard, error) {
	if limits.Hourly.IsZero() && limits.Daily.IsZero() && limits.Total.IsZero() {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "budget guard requires at least one limit")
	}
	if name == "" {
		name = "budget"
	}
	return &BudgetGuard{name: name, limits: limits, store: store, now: time.Now}, nil
}

func (g *BudgetGuard) Name() string { return g.name }

// budgetWindow is one configured cap with its storage bucket key.
type budgetWindow struct {
	kind  string
	key   string
	limit money.Amount
}

// windows returns the active caps with bucket keys derived from ts, so a
// reservation and its commit always target the same calendar bucket.
func (g *BudgetGuard) windows(walletID string, ts time.Time) []budgetWindow {
	base := fmt.Sprintf("budget:%s:%s", walletID, g.name)
	var out []budgetWindow
	if !g.limits.Total.IsZero() {
		out = append(out, budgetWindow{kind: "total", key: base + ":total", limit: g.limits.Total})
	}
	if !g.limits.Daily.IsZero() {
		out = append(out, budgetWindow{
			kind:  "daily",
			key:   base + ":daily:" + ts.UTC().Format("20060102"),
			limit: g.limits.Daily,
		})
	}
	if !g.limits.Hourly.IsZero() {
		out = append(out, budgetWindow{
			kind:  "hourly",
			key:   base + ":hourly:" + ts.UTC().Format("2006010215"),
			limit: g.limits.Hourly,
		})
	}
	return out
}

func (g *BudgetGuard) counter(ctx context.Context, key string) (int64, error) {
	return g.store.AtomicAdd(ctx, guardStateCollection, key, 0)
}

// Check reads committed plus reserved spend per window without mutating
// anything. Reserve is the authoritative gate.
func (g *BudgetGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	for _, w := range g.windows(pc.WalletID, g.now()) {
		committed, err := g.counter(ctx, w.key)
		if err != nil {
			return GuardResult{}, apperrors.Wrap(apperrors.ErrCodeStorageError, "read budget counter", err)
		}
		reserved, err := g.counter(ctx, w.key+":reserved")
		if err != nil {
			return GuardResult{}, apperrors.Wrap(apperrors.ErrCodeStorageError, "read budget counter", err)
		}
		spent := money.FromAtomic(committed + reserved)
		projected, err := spent.Add(pc.Amount)
		if err != nil {
			return GuardResult{}, err
		}
		if projected.GreaterThan(w.limit) {
			return deny(g.name,
				fmt.Sprintf("%s budget limit exceeded: spent %s, limit %s, requested %s",
					w.kind, spent.ToMajor(), w.limit.ToMajor(), pc.Amount.ToMajor()),
				map[string]any{
					"limit_type":    w.kind,
					"current_spent": spent.ToMajor(),
					"limit":         w.limit.ToMajor(),
					"requested":     pc.Amount.ToMajor(),
				}), nil
		}
	}
	return allow(g.name, nil), nil
}

// budgetToken reconstructs the reservation's bucket keys at commit or
// release time, regardless of how much later that happens.
type budgetToken struct {
	Version  int       `json:"v"`
	WalletID string    `json:"w"`
	Atomic   int64     `json:"a"`
	Time     time.Time `json:"ts"`
}

// Reserve adds the amount to each window's reserved counter, then checks
// committed+reserved against the limit. Two concurrent reservations both
// observe each other's provisional increment, so at most one fits under
// the cap. On failure every prior increment is rolled back.
func (g *BudgetGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	ts := g.now()
	windows := g.windows(pc.WalletID, ts)
	amount := pc.Amount.Atomic

	var reservedKeys []string
	rollback := func() {
		// Best effort; a leaked reservation self-heals when the bucket
		// rolls over.
		for _, key := range reservedKeys {
			_, _ = g.store.AtomicAdd(ctx, guardStateCollection, key, -amount)
		}
	}

	for _, w := range windows {
		reservedKey := w.key + ":reserved"
		reservedTotal, err := g.store.AtomicAdd(ctx, guardStateCollection, reservedKey, amount)
		if err != nil {
			rollback()
			return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "reserve budget", err)
		}
		reservedKeys = append(reservedKeys, reservedKey)

		committed, err := g.counter(ctx, w.key)
		if err != nil {
			rollback()
			return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "read budget counter", err)
		}
		if committed+reservedTotal > w.limit.Atomic {
			rollback()
			return "", apperrors.NewGuardError(g.name,
				fmt.Sprintf("%s budget limit exceeded: limit %s, requested %s",
					w.kind, w.limit.ToMajor(), pc.Amount.ToMajor())).
				WithDetail("limit_type", w.kind)
		}
	}

	token, err := json.Marshal(budgetToken{Version: 2, WalletID: pc.WalletID, Atomic: amount, Time: ts.UTC()})
	if err != nil {
		rollback()
		return "", apperrors.Wrap(apperrors.ErrCodeInternalError, "encode budget token", err)
	}
	return string(token), nil
}

func (g *BudgetGuard) decodeToken(token string) (*budgetToken, bool) {
	if token == "" {
		return nil, false
	}
	var t budgetToken
	if err := json.Unmarshal([]byte(token), &t); err != nil || t.Version != 2 {
		return nil, false
	}
	return &t, true
}

// Commit moves the reserved amount into the committed counters of the
// buckets the reservation was taken in.
func (g *BudgetGuard) Commit(ctx context.Context, token string) error {
	t, ok := g.decodeToken(token)
	if !ok {
		return nil
	}
	for _, w := range g.windows(t.WalletID, t.Time) {
		if _, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key, t.Atomic); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "commit budget", err)
		}
		if _, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key+":reserved", -t.Atomic); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "commit budget", err)
		}
	}
	return nil
}

// Release backs the reserved amount out of the original buckets.
func (g *BudgetGuard) Release(ctx context.Context, token string) error {
	t, ok := g.decodeToken(token)
	if !ok {
		return nil
	}
	for _, w := range g.windows(t.WalletID, t.Time) {
		if _, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key+":reserved", -t.Atomic); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "release budget", err)
		}
	}
	return nil
}

// TotalSpent returns the committed all-time spend for a wallet.
func (g *BudgetGuard) TotalSpent(ctx context.Context, walletID string) (money.Amount, error) {
	committed, err := g.counter(ctx, fmt.Sprintf("budget:%s:%s:total", walletID, g.name))
	if err != nil {
		return money.Zero, apperrors.Wrap(apperrors.ErrCodeStorageError, "read budget counter", err)
	}
	return money.FromAtomic(committed), nil
}

// Reset is a no-op; budget state lives in storage.
func (g *BudgetGuard) Reset() {}
