package guards

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// GuardType tags a persisted guard configuration.
type GuardType string

const (
	GuardTypeBudget    GuardType = "BUDGET"
	GuardTypeSingleTx  GuardType = "SINGLE_TX"
	GuardTypeRecipient GuardType = "RECIPIENT"
	GuardTypeRateLimit GuardType = "RATE_LIMIT"
	GuardTypeConfirm   GuardType = "CONFIRM"
)

// Guard scope types. A wallet's effective chain is its set's guards
// followed by its own.
const (
	ScopeWallet    = "wallet"
	ScopeWalletSet = "wallet_set"
)

const guardConfigCollection = "guard_configs"

// GuardConfig is one persisted guard. Only the fields for its type are
// meaningful.
type GuardConfig struct {
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	Type GuardType `json:"type"`

	// BUDGET
	HourlyLimit *money.Amount `json:"hourly_limit,omitempty"`
	DailyLimit  *money.Amount `json:"daily_limit,omitempty"`
	TotalLimit  *money.Amount `json:"total_limit,omitempty"`

	// SINGLE_TX
	MinAmount *money.Amount `json:"min_amount,omitempty"`
	MaxAmount *money.Amount `json:"max_amount,omitempty"`

	// RECIPIENT
	Mode      string   `json:"mode,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
	Domains   []string `json:"domains,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`

	// RATE_LIMIT
	MaxPerMinute int `json:"max_per_minute,omitempty"`
	MaxPerHour   int `json:"max_per_hour,omitempty"`
	MaxPerDay    int `json:"max_per_day,omitempty"`

	// CONFIRM
	Threshold     *money.Amount `json:"threshold,omitempty"`
	AlwaysConfirm bool          `json:"always_confirm,omitempty"`
}

// guardSet is the single storage record per scope.
type guardSet struct {
	Guards []GuardConfig `json:"guards"`
}

// Manager persists guard configurations per scope and materialises the
// effective chain for a payment. Set-scoped guards evaluate before
// wallet-scoped ones.
type Manager struct {
	store           storage.Backend
	confirmCallback ConfirmCallback
	globals         []Guard
	log             zerolog.Logger
}

// NewManager creates a guard manager.
func NewManager(store storage.Backend, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With().Str("component", "guards").Logger(),
	}
}

// SetConfirmCallback installs the operator callback CONFIRM guards use.
func (m *Manager) SetConfirmCallback(cb ConfirmCallback) {
	m.confirmCallback = cb
}

func scopeKey(scopeType, scopeID string) string {
	return scopeType + ":" + scopeID
}

func (m *Manager) loadSet(ctx context.Context, scopeType, scopeID string) (*guardSet, error) {
	doc, err := m.store.Get(ctx, guardConfigCollection, scopeKey(scopeType, scopeID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "load guard configs", err)
	}
	set := &guardSet{}
	if doc == nil {
		return set, nil
	}
	if err := storage.DecodeDocument(doc, set); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "decode guard configs", err)
	}
	return set, nil
}

func (m *Manager) saveSet(ctx context.Context, scopeType, scopeID string, set *guardSet) error {
	doc, err := storage.EncodeDocument(set)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "encode guard configs", err)
	}
	if err := m.store.Save(ctx, guardConfigCollection, scopeKey(scopeType, scopeID), doc); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "save guard configs", err)
	}
	return nil
}

// AddGuard persists a guard configuration under a scope. The config is
// validated by building it once; the stored copy gets a generated ID.
func (m *Manager) AddGuard(ctx context.Context, scopeType, scopeID string, cfg GuardConfig) (GuardConfig, error) {
	if scopeType != ScopeWallet && scopeType != ScopeWalletSet {
		return GuardConfig{}, apperrors.Newf(apperrors.ErrCodeInvalidField,
			"scope type must be %q or %q", ScopeWallet, ScopeWalletSet)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if _, err := m.build(cfg); err != nil {
		return GuardConfig{}, err
	}

	set, err := m.loadSet(ctx, scopeType, scopeID)
	if err != nil {
		return GuardConfig{}, err
	}
	set.Guards = append(set.Guards, cfg)
	if err := m.saveSet(ctx, scopeType, scopeID, set); err != nil {
		return GuardConfig{}, err
	}

	m.log.Info().
		Str("scope_type", scopeType).
		Str("scope_id", scopeID).
		Str("guard_id", cfg.ID).
		Str("guard_type", string(cfg.Type)).
		Msg("guard added")
	return cfg, nil
}

// RemoveGuard deletes a guard configuration by ID. Returns false when
// the scope holds no guard with that ID.
func (m *Manager) RemoveGuard(ctx context.Context, scopeType, scopeID, guardID string) (bool, error) {
	set, err := m.loadSet(ctx, scopeType, scopeID)
	if err != nil {
		return false, err
	}

	kept := set.Guards[:0]
	removed := false
	for _, cfg := range set.Guards {
		if cfg.ID == guardID {
			removed = true
			continue
		}
		kept = append(kept, cfg)
	}
	if !removed {
		return false, nil
	}
	set.Guards = kept
	if err := m.saveSet(ctx, scopeType, scopeID, set); err != nil {
		return false, err
	}
	return true, nil
}

// ListGuards returns the guard configurations for a scope.
func (m *Manager) ListGuards(ctx context.Context, scopeType, scopeID string) ([]GuardConfig, error) {
	set, err := m.loadSet(ctx, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	return set.Guards, nil
}

// build materialises one configuration into a live guard.
func (m *Manager) build(cfg GuardConfig) (Guard, error) {
	amount := func(a *money.Amount) money.Amount {
		if a == nil {
			return money.Zero
		}
		return *a
	}

	switch cfg.Type {
	case GuardTypeBudget:
		return NewBudgetGuard(m.store, BudgetLimits{
			Hourly: amount(cfg.HourlyLimit),
			Daily:  amount(cfg.DailyLimit),
			Total:  amount(cfg.TotalLimit),
		}, cfg.Name)
	case GuardTypeSingleTx:
		return NewSingleTxGuard(SingleTxLimits{
			Min: amount(cfg.MinAmount),
			Max: amount(cfg.MaxAmount),
		}, cfg.Name)
	case GuardTypeRecipient:
		return NewRecipientGuard(RecipientRules{
			Mode:      cfg.Mode,
			Addresses: cfg.Addresses,
			Domains:   cfg.Domains,
			Patterns:  cfg.Patterns,
		}, cfg.Name)
	case GuardTypeRateLimit:
		return NewRateLimitGuard(m.store, RateLimits{
			MaxPerMinute: cfg.MaxPerMinute,
			MaxPerHour:   cfg.MaxPerHour,
			MaxPerDay:    cfg.MaxPerDay,
		}, cfg.Name)
	case GuardTypeConfirm:
		return NewConfirmGuard(ConfirmOptions{
			Callback:      m.confirmCallback,
			Threshold:     amount(cfg.Threshold),
			AlwaysConfirm: cfg.AlwaysConfirm,
		}, cfg.Name), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField, "unknown guard type %q", cfg.Type)
	}
}

// ChainFor builds the effective chain for a payment: the wallet set's
// guards followed by the wallet's own.
func (m *Manager) ChainFor(ctx context.Context, walletID, walletSetID string) (*Chain, error) {
	chain := NewChain(m.log)

	if walletSetID != "" {
		setConfigs, err := m.loadSet(ctx, ScopeWalletSet, walletSetID)
		if err != nil {
			return nil, err
		}
		for _, cfg := range setConfigs.Guards {
			g, err := m.build(cfg)
			if err != nil {
				return nil, err
			}
			chain.Add(g)
		}
	}

	walletConfigs, err := m.loadSet(ctx, ScopeWallet, walletID)
	if err != nil {
		return nil, err
	}
	for _, cfg := range walletConfigs.Guards {
		g, err := m.build(cfg)
		if err != nil {
			return nil, err
		}
		chain.Add(g)
	}

	for _, g := range m.globals {
		chain.Add(g)
	}
	return chain, nil
}

// RegisterGlobal appends a process-wide guard to every chain, after the
// persisted set and wallet guards. Used for guards that need live
// dependencies (the risk engine reads the ledger) and so cannot be
// rebuilt from stored configuration.
func (m *Manager) RegisterGlobal(g Guard) {
	m.globals = append(m.globals, g)
}

// Check runs the effective chain's non-mutating checks for simulate.
func (m *Manager) Check(ctx context.Context, pc PaymentContext) (GuardResult, []string, error) {
	chain, err := m.ChainFor(ctx, pc.WalletID, pc.WalletSetID)
	if err != nil {
		return GuardResult{}, nil, err
	}
	return chain.Check(ctx, pc)
}

// Reserve runs the effective chain's two-phase reserve.
func (m *Manager) Reserve(ctx context.Context, pc PaymentContext) (*Reservation, error) {
	chain, err := m.ChainFor(ctx, pc.WalletID, pc.WalletSetID)
	if err != nil {
		return nil, err
	}
	return chain.Reserve(ctx, pc)
}
