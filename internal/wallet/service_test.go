package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/provider"
)

// fakeProvider implements Provider with canned data.
type fakeProvider struct {
	wallets      map[string]*provider.Wallet
	balances     map[string][]provider.TokenBalance
	transfers    []provider.TransferRequest
	transferResp *provider.Transaction
	transferErr  error
	waited       []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		wallets: map[string]*provider.Wallet{
			"w1": {ID: "w1", Address: "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0", Blockchain: "ETH-SEPOLIA", State: "LIVE"},
		},
		balances: map[string][]provider.TokenBalance{
			"w1": {
				{Token: provider.Token{ID: "usdc-1", Symbol: "USDC", Decimals: 6}, Amount: "100.000000"},
				{Token: provider.Token{ID: "eth-1", Symbol: "ETH", IsNative: true}, Amount: "0.05"},
			},
		},
		transferResp: &provider.Transaction{ID: "tx1", State: provider.TxStateInitiated},
	}
}

func (f *fakeProvider) CreateWalletSet(_ context.Context, name string) (*provider.WalletSet, error) {
	return &provider.WalletSet{ID: "ws1", Name: name}, nil
}

func (f *fakeProvider) CreateWallets(_ context.Context, req provider.CreateWalletsRequest) ([]provider.Wallet, error) {
	out := make([]provider.Wallet, req.Count)
	for i := range out {
		out[i] = provider.Wallet{ID: "new", Blockchain: req.Blockchains[0], State: "LIVE", WalletSetID: req.WalletSetID}
	}
	return out, nil
}

func (f *fakeProvider) GetWallet(_ context.Context, walletID string) (*provider.Wallet, error) {
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeWalletNotFound, "wallet %s not found", walletID)
	}
	return w, nil
}

func (f *fakeProvider) ListWallets(_ context.Context, filter provider.ListWalletsFilter) ([]provider.Wallet, error) {
	var out []provider.Wallet
	for _, w := range f.wallets {
		if filter.Blockchain != "" && w.Blockchain != filter.Blockchain {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeProvider) GetWalletBalances(_ context.Context, walletID string) ([]provider.TokenBalance, error) {
	return f.balances[walletID], nil
}

func (f *fakeProvider) CreateTransfer(_ context.Context, req provider.TransferRequest) (*provider.Transaction, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, req)
	return f.transferResp, nil
}

func (f *fakeProvider) GetTransaction(_ context.Context, id string) (*provider.Transaction, error) {
	return &provider.Transaction{ID: id, State: provider.TxStateComplete, TxHash: "0xabc"}, nil
}

func (f *fakeProvider) WaitForTransaction(_ context.Context, id string, _ time.Duration) (*provider.Transaction, error) {
	f.waited = append(f.waited, id)
	return &provider.Transaction{ID: id, State: provider.TxStateComplete, TxHash: "0xabc"}, nil
}

func newService(f *fakeProvider) *Service {
	return NewService(f, zerolog.Nop())
}

func TestUSDCBalance(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)

	balance, tokenID, err := s.USDCBalance(context.Background(), "w1")
	if err != nil {
		t.Fatalf("USDCBalance: %v", err)
	}
	if balance.ToMajor() != "100.000000" {
		t.Errorf("balance = %s", balance.ToMajor())
	}
	if tokenID != "usdc-1" {
		t.Errorf("tokenID = %q", tokenID)
	}
}

func TestUSDCBalanceNoToken(t *testing.T) {
	f := newFakeProvider()
	f.balances["w1"] = nil
	s := newService(f)

	balance, tokenID, err := s.USDCBalance(context.Background(), "w1")
	if err != nil {
		t.Fatalf("USDCBalance: %v", err)
	}
	if !balance.IsZero() || tokenID != "" {
		t.Errorf("balance = %v, tokenID = %q, want zero and empty", balance, tokenID)
	}
}

func TestEnsureSufficientBalance(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)
	ctx := context.Background()

	if _, err := s.EnsureSufficientBalance(ctx, "w1", money.MustFromMajor("100")); err != nil {
		t.Errorf("exact balance rejected: %v", err)
	}

	_, err := s.EnsureSufficientBalance(ctx, "w1", money.MustFromMajor("100.000001"))
	if !apperrors.Is(err, apperrors.ErrCodeInsufficientBalance) {
		t.Errorf("err = %v, want insufficient_balance", err)
	}
}

func TestTransfer(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)

	tx, err := s.Transfer(context.Background(), "w1", "0x1111111111111111111111111111111111111111",
		money.MustFromMajor("1.50"), TransferOptions{IdempotencyKey: "idem-1"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.ID != "tx1" {
		t.Errorf("tx = %+v", tx)
	}

	if len(f.transfers) != 1 {
		t.Fatalf("provider called %d times, want 1", len(f.transfers))
	}
	req := f.transfers[0]
	if req.TokenID != "usdc-1" || req.Amount != "1.500000" || req.IdempotencyKey != "idem-1" {
		t.Errorf("transfer request = %+v", req)
	}
	if len(f.waited) != 0 {
		t.Error("transfer waited without WaitForCompletion")
	}
}

func TestTransferWaitsForCompletion(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)

	tx, err := s.Transfer(context.Background(), "w1", "0x1111111111111111111111111111111111111111",
		money.MustFromMajor("1"), TransferOptions{WaitForCompletion: true})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.State != provider.TxStateComplete {
		t.Errorf("state = %q, want COMPLETE", tx.State)
	}
	if len(f.waited) != 1 {
		t.Errorf("waited %d times, want 1", len(f.waited))
	}
}

func TestTransferRejectsNonPositive(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)

	_, err := s.Transfer(context.Background(), "w1", "0x1111111111111111111111111111111111111111",
		money.Zero, TransferOptions{})
	if !apperrors.Is(err, apperrors.ErrCodeInvalidAmount) {
		t.Errorf("err = %v, want invalid_amount", err)
	}
	if len(f.transfers) != 0 {
		t.Error("provider called for zero amount")
	}
}

func TestNetworkResolution(t *testing.T) {
	f := newFakeProvider()
	s := newService(f)

	n, err := s.Network(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Network: %v", err)
	}
	if n != network.EthSepolia {
		t.Errorf("network = %v, want ETH-SEPOLIA", n)
	}
}

func TestFindLiveWallet(t *testing.T) {
	f := newFakeProvider()
	f.wallets["w2"] = &provider.Wallet{ID: "w2", Blockchain: "BASE-SEPOLIA", State: "LIVE"}
	f.wallets["w3"] = &provider.Wallet{ID: "w3", Blockchain: "BASE-SEPOLIA", State: "FROZEN"}
	s := newService(f)
	ctx := context.Background()

	w, err := s.FindLiveWallet(ctx, network.BaseSepolia, "")
	if err != nil {
		t.Fatalf("FindLiveWallet: %v", err)
	}
	if w == nil || w.ID != "w2" {
		t.Errorf("wallet = %+v, want w2", w)
	}

	// Excluding the only live wallet yields nil without error.
	w, err = s.FindLiveWallet(ctx, network.BaseSepolia, "w2")
	if err != nil || w != nil {
		t.Errorf("FindLiveWallet with exclusion = (%+v, %v), want (nil, nil)", w, err)
	}
}
