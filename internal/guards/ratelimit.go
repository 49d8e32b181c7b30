package guards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// RateLimits are payment-count caps per fixed calendar window. Zero
// disables a window; at least one must be set.
type RateLimits struct {
	MaxPerMinute int
	MaxPerHour   int
	MaxPerDay    int
}

// RateLimitGuard caps payment frequency with fixed-window counters.
// The count is paid at reserve time, so commit is a no-op and release
// refunds the slot.
type RateLimitGuard struct {
	name   string
	limits RateLimits
	store  storage.Backend
	now    func() time.Time
}

// NewRateLimitGuard creates a rate limit guard. At least one limit is
// required.
func NewRateLimitGuard(store storage.Backend, limits RateLimits, name string) (*RateLimitGuard, error) {
	if limits.MaxPerMinute <= 0 && limits.MaxPerHour <= 0 && limits.MaxPerDay <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "rate limit guard requires at least one limit")
	}
	if name == "" {
		name = "rate_limit"
	}
	return &RateLimitGuard{name: name, limits: limits, store: store, now: time.Now}, nil
}

func (g *RateLimitGuard) Name() string { return g.name }

type rateWindow struct {
	kind  string
	key   string
	limit int
}

func (g *RateLimitGuard) windows(walletID string, ts time.Time) []rateWindow {
	base := fmt.Sprintf("ratelimit:%s:%s", walletID, g.name)
	ts = ts.UTC()
	var out []rateWindow
	if g.limits.MaxPerMinute > 0 {
		out = append(out, rateWindow{"minute", base + ":minute:" + ts.Format("200601021504"), g.limits.MaxPerMinute})
	}
	if g.limits.MaxPerHour > 0 {
		out = append(out, rateWindow{"hour", base + ":hour:" + ts.Format("2006010215"), g.limits.MaxPerHour})
	}
	if g.limits.MaxPerDay > 0 {
		out = append(out, rateWindow{"day", base + ":day:" + ts.Format("20060102"), g.limits.MaxPerDay})
	}
	return out
}

// Check reads current counts without claiming a slot.
func (g *RateLimitGuard) Check(ctx context.Context, pc PaymentContext) (GuardResult, error) {
	for _, w := range g.windows(pc.WalletID, g.now()) {
		current, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key, 0)
		if err != nil {
			return GuardResult{}, apperrors.Wrap(apperrors.ErrCodeStorageError, "read rate counter", err)
		}
		if current >= int64(w.limit) {
			return deny(g.name,
				fmt.Sprintf("rate limit exceeded (%s): %d/%d", w.kind, current, w.limit),
				map[string]any{"limit_type": w.kind, "current": current, "limit": w.limit}), nil
		}
	}
	return allow(g.name, nil), nil
}

type rateToken struct {
	Version  int       `json:"v"`
	WalletID string    `json:"w"`
	Time     time.Time `json:"ts"`
}

// Reserve increments each window's counter and fails when any exceeds
// its cap, rolling back every increment already taken.
func (g *RateLimitGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	ts := g.now()
	var reservedKeys []string
	rollback := func() {
		for _, key := range reservedKeys {
			_, _ = g.store.AtomicAdd(ctx, guardStateCollection, key, -1)
		}
	}

	for _, w := range g.windows(pc.WalletID, ts) {
		count, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key, 1)
		if err != nil {
			rollback()
			return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "reserve rate slot", err)
		}
		reservedKeys = append(reservedKeys, w.key)

		if count > int64(w.limit) {
			rollback()
			return "", apperrors.NewGuardError(g.name,
				fmt.Sprintf("rate limit exceeded (%s): limit %d", w.kind, w.limit)).
				WithDetail("limit_type", w.kind)
		}
	}

	token, err := json.Marshal(rateToken{Version: 2, WalletID: pc.WalletID, Time: ts.UTC()})
	if err != nil {
		rollback()
		return "", apperrors.Wrap(apperrors.ErrCodeInternalError, "encode rate token", err)
	}
	return string(token), nil
}

// Commit is a no-op: the slot was consumed at reserve time.
func (g *RateLimitGuard) Commit(ctx context.Context, token string) error {
	return nil
}

// Release refunds the reserved slots in the original windows.
func (g *RateLimitGuard) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	var t rateToken
	if err := json.Unmarshal([]byte(token), &t); err != nil || t.Version != 2 {
		return nil
	}
	for _, w := range g.windows(t.WalletID, t.Time) {
		if _, err := g.store.AtomicAdd(ctx, guardStateCollection, w.key, -1); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeStorageError, "release rate slot", err)
		}
	}
	return nil
}

// Reset is a no-op; counters live in storage.
func (g *RateLimitGuard) Reset() {}
