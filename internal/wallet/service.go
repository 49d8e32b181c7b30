// Package wallet exposes wallet lifecycle and balance operations on top
// of the custodial provider.
package wallet

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/logger"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/provider"
)

// Provider is the subset of the custodial provider API the wallet service
// consumes.
type Provider interface {
	CreateWalletSet(ctx context.Context, name string) (*provider.WalletSet, error)
	CreateWallets(ctx context.Context, req provider.CreateWalletsRequest) ([]provider.Wallet, error)
	GetWallet(ctx context.Context, walletID string) (*provider.Wallet, error)
	ListWallets(ctx context.Context, filter provider.ListWalletsFilter) ([]provider.Wallet, error)
	GetWalletBalances(ctx context.Context, walletID string) ([]provider.TokenBalance, error)
	CreateTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*provider.Transaction, error)
	WaitForTransaction(ctx context.Context, transactionID string, timeout time.Duration) (*provider.Transaction, error)
}

// Service wraps the provider with USDC-specific helpers.
type Service struct {
	provider Provider
	log      zerolog.Logger
}

// NewService creates a wallet service.
func NewService(p Provider, log zerolog.Logger) *Service {
	return &Service{
		provider: p,
		log:      log.With().Str("component", "wallet").Logger(),
	}
}

// CreateWalletSet creates a named wallet set.
func (s *Service) CreateWalletSet(ctx context.Context, name string) (*provider.WalletSet, error) {
	set, err := s.provider.CreateWalletSet(ctx, name)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("wallet_set_id", set.ID).Str("name", name).Msg("wallet set created")
	return set, nil
}

// CreateWallets provisions wallets on a network inside a set.
func (s *Service) CreateWallets(ctx context.Context, setID string, n network.Network, count int) ([]provider.Wallet, error) {
	wallets, err := s.provider.CreateWallets(ctx, provider.CreateWalletsRequest{
		WalletSetID: setID,
		Blockchains: []string{n.String()},
		Count:       count,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("wallet_set_id", setID).
		Str("blockchain", n.String()).
		Int("count", len(wallets)).
		Msg("wallets created")
	return wallets, nil
}

// Get fetches a wallet by ID.
func (s *Service) Get(ctx context.Context, walletID string) (*provider.Wallet, error) {
	return s.provider.GetWallet(ctx, walletID)
}

// List lists wallets, optionally filtered by set and network.
func (s *Service) List(ctx context.Context, setID string, n network.Network) ([]provider.Wallet, error) {
	return s.provider.ListWallets(ctx, provider.ListWalletsFilter{
		WalletSetID: setID,
		Blockchain:  n.String(),
	})
}

// Network resolves the blockchain a wallet lives on.
func (s *Service) Network(ctx context.Context, walletID string) (network.Network, error) {
	w, err := s.provider.GetWallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	return network.FromString(w.Blockchain)
}

// USDCBalance returns the wallet's USDC balance and the provider token ID
// needed for transfers. A wallet with no USDC token line has zero balance
// and no token ID.
func (s *Service) USDCBalance(ctx context.Context, walletID string) (money.Amount, string, error) {
	balances, err := s.provider.GetWalletBalances(ctx, walletID)
	if err != nil {
		return money.Zero, "", err
	}

	for _, b := range balances {
		if b.Token.Symbol != "USDC" {
			continue
		}
		amount, err := money.FromMajor(b.Amount)
		if err != nil {
			return money.Zero, "", apperrors.Wrap(apperrors.ErrCodeProviderError,
				"provider returned unparseable USDC balance", err).
				WithDetail("wallet_id", walletID).
				WithDetail("amount", b.Amount)
		}
		return amount, b.Token.ID, nil
	}
	return money.Zero, "", nil
}

// NativeBalance returns the wallet's native gas token balance as a major
// unit decimal string, or "0" when the wallet holds none.
func (s *Service) NativeBalance(ctx context.Context, walletID string) (string, error) {
	balances, err := s.provider.GetWalletBalances(ctx, walletID)
	if err != nil {
		return "", err
	}
	for _, b := range balances {
		if b.Token.IsNative {
			return b.Amount, nil
		}
	}
	return "0", nil
}

// EnsureSufficientBalance verifies the wallet can cover the amount,
// returning the USDC token ID on success.
func (s *Service) EnsureSufficientBalance(ctx context.Context, walletID string, amount money.Amount) (string, error) {
	balance, tokenID, err := s.USDCBalance(ctx, walletID)
	if err != nil {
		return "", err
	}
	if tokenID == "" {
		return "", apperrors.NewInsufficientBalanceError(walletID, "0", amount.ToMajor())
	}
	if balance.LessThan(amount) {
		return "", apperrors.NewInsufficientBalanceError(walletID, balance.ToMajor(), amount.ToMajor())
	}
	return tokenID, nil
}

// TransferOptions tunes Transfer behaviour.
type TransferOptions struct {
	FeeLevel          string
	IdempotencyKey    string
	WaitForCompletion bool
	Timeout           time.Duration
}

// Transfer sends USDC from a wallet, balance-checking first. When
// WaitForCompletion is set, the returned transaction is terminal or the
// call fails with a timeout error.
func (s *Service) Transfer(ctx context.Context, walletID, destination string, amount money.Amount, opts TransferOptions) (*provider.Transaction, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount, "transfer amount must be positive")
	}

	tokenID, err := s.EnsureSufficientBalance(ctx, walletID, amount)
	if err != nil {
		return nil, err
	}

	tx, err := s.provider.CreateTransfer(ctx, provider.TransferRequest{
		WalletID:           walletID,
		TokenID:            tokenID,
		DestinationAddress: destination,
		Amount:             amount.ToMajor(),
		FeeLevel:           opts.FeeLevel,
		IdempotencyKey:     opts.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("wallet_id", walletID).
		Str("recipient", logger.TruncateAddress(destination)).
		Str("amount", amount.ToMajor()).
		Str("transaction_id", tx.ID).
		Msg("transfer created")

	if !opts.WaitForCompletion {
		return tx, nil
	}
	return s.provider.WaitForTransaction(ctx, tx.ID, opts.Timeout)
}

// FindLiveWallet returns any LIVE wallet on the given network, used to
// select mint executors for cross-chain settlement. Returns nil when no
// candidate exists.
func (s *Service) FindLiveWallet(ctx context.Context, n network.Network, excludeID string) (*provider.Wallet, error) {
	wallets, err := s.provider.ListWallets(ctx, provider.ListWalletsFilter{Blockchain: n.String()})
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		w := &wallets[i]
		if w.State == "LIVE" && w.ID != excludeID {
			return w, nil
		}
	}
	return nil, nil
}
