package guards

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

func testContext(amount string) PaymentContext {
	return PaymentContext{
		WalletID:  "w1",
		Recipient: "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0",
		Amount:    money.MustFromMajor(amount),
	}
}

func TestBudgetGuardReserveCommitRelease(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	g, err := NewBudgetGuard(store, BudgetLimits{Daily: money.MustFromMajor("100")}, "budget")
	if err != nil {
		t.Fatalf("NewBudgetGuard: %v", err)
	}

	token, err := g.Reserve(ctx, testContext("60"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reservation token")
	}

	// A second reservation must see the first one's provisional spend.
	if _, err := g.Reserve(ctx, testContext("60")); !apperrors.Is(err, apperrors.ErrCodeGuardBlocked) {
		t.Errorf("over-limit reserve err = %v, want guard_blocked", err)
	}

	if err := g.Commit(ctx, token); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Committed spend still counts against the cap.
	if _, err := g.Reserve(ctx, testContext("60")); !apperrors.Is(err, apperrors.ErrCodeGuardBlocked) {
		t.Errorf("post-commit reserve err = %v, want guard_blocked", err)
	}
	token2, err := g.Reserve(ctx, testContext("40"))
	if err != nil {
		t.Fatalf("reserve within remaining: %v", err)
	}

	// Release restores headroom.
	if err := g.Release(ctx, token2); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := g.Reserve(ctx, testContext("40")); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestBudgetGuardConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	g, err := NewBudgetGuard(store, BudgetLimits{Total: money.MustFromMajor("10")}, "budget")
	if err != nil {
		t.Fatalf("NewBudgetGuard: %v", err)
	}

	// 20 workers each try to reserve 1 USDC against a 10 USDC cap.
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Reserve(ctx, testContext("1")); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted = %d reservations, want exactly 10", granted)
	}
}

func TestBudgetGuardCheckReadsWithoutClaiming(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	g, _ := NewBudgetGuard(store, BudgetLimits{Daily: money.MustFromMajor("50")}, "budget")

	result, err := g.Check(ctx, testContext("40"))
	if err != nil || !result.Allowed {
		t.Fatalf("Check = (%+v, %v)", result, err)
	}

	result, err = g.Check(ctx, testContext("60"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || !strings.Contains(result.Reason, "daily") {
		t.Errorf("result = %+v, want daily denial", result)
	}

	// Checks never consumed budget.
	if _, err := g.Reserve(ctx, testContext("50")); err != nil {
		t.Errorf("full reserve after checks: %v", err)
	}
}

func TestRateLimitGuard(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	g, err := NewRateLimitGuard(store, RateLimits{MaxPerMinute: 2}, "rate")
	if err != nil {
		t.Fatalf("NewRateLimitGuard: %v", err)
	}

	t1, err := g.Reserve(ctx, testContext("1"))
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := g.Reserve(ctx, testContext("1")); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if _, err := g.Reserve(ctx, testContext("1")); !apperrors.Is(err, apperrors.ErrCodeGuardBlocked) {
		t.Errorf("third reserve err = %v, want guard_blocked", err)
	}

	// Release refunds a slot, commit does not.
	if err := g.Release(ctx, t1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := g.Reserve(ctx, testContext("1")); err != nil {
		t.Errorf("reserve after release: %v", err)
	}
}

func TestSingleTxGuard(t *testing.T) {
	g, err := NewSingleTxGuard(SingleTxLimits{
		Min: money.MustFromMajor("0.50"),
		Max: money.MustFromMajor("25"),
	}, "")
	if err != nil {
		t.Fatalf("NewSingleTxGuard: %v", err)
	}

	tests := []struct {
		amount  string
		allowed bool
	}{
		{"0.49", false},
		{"0.50", true},
		{"25", true},
		{"25.000001", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			result, err := g.Check(context.Background(), testContext(tt.amount))
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (%s)", result.Allowed, tt.allowed, result.Reason)
			}
		})
	}
}

func TestRecipientGuard(t *testing.T) {
	ctx := context.Background()

	whitelist, err := NewRecipientGuard(RecipientRules{
		Mode:      ModeWhitelist,
		Addresses: []string{"0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0"},
		Domains:   []string{"api.example.com"},
		Patterns:  []string{`^0xAAAA`},
	}, "")
	if err != nil {
		t.Fatalf("NewRecipientGuard: %v", err)
	}

	tests := []struct {
		recipient string
		allowed   bool
	}{
		{"0x742d35cc6634c0532925a3b844bc9e7595f5e4a0", true}, // case-insensitive exact
		{"https://api.example.com/v1/data", true},            // domain substring
		{"0xaaaa000000000000000000000000000000000000", true}, // pattern
		{"0x1111111111111111111111111111111111111111", false},
	}
	for _, tt := range tests {
		pc := testContext("1")
		pc.Recipient = tt.recipient
		result, err := whitelist.Check(ctx, pc)
		if err != nil {
			t.Fatalf("Check(%s): %v", tt.recipient, err)
		}
		if result.Allowed != tt.allowed {
			t.Errorf("whitelist %s allowed = %v, want %v", tt.recipient, result.Allowed, tt.allowed)
		}
	}

	blacklist, err := NewRecipientGuard(RecipientRules{
		Mode:      ModeBlacklist,
		Addresses: []string{"0x1111111111111111111111111111111111111111"},
	}, "")
	if err != nil {
		t.Fatalf("NewRecipientGuard: %v", err)
	}
	pc := testContext("1")
	pc.Recipient = "0x1111111111111111111111111111111111111111"
	result, _ := blacklist.Check(ctx, pc)
	if result.Allowed {
		t.Error("blacklisted recipient allowed")
	}

	if _, err := NewRecipientGuard(RecipientRules{Mode: "greylist"}, ""); !apperrors.Is(err, apperrors.ErrCodeConfig) {
		t.Errorf("bad mode err = %v, want config_error", err)
	}
}

func TestConfirmGuard(t *testing.T) {
	ctx := context.Background()
	threshold := money.MustFromMajor("10")

	t.Run("below threshold skips confirmation", func(t *testing.T) {
		called := false
		g := NewConfirmGuard(ConfirmOptions{
			Callback:  func(context.Context, PaymentContext) (bool, error) { called = true; return false, nil },
			Threshold: threshold,
		}, "")
		result, err := g.Check(ctx, testContext("5"))
		if err != nil || !result.Allowed {
			t.Fatalf("Check = (%+v, %v)", result, err)
		}
		if called {
			t.Error("callback invoked below threshold")
		}
	})

	t.Run("callback approves", func(t *testing.T) {
		g := NewConfirmGuard(ConfirmOptions{
			Callback:  func(context.Context, PaymentContext) (bool, error) { return true, nil },
			Threshold: threshold,
		}, "")
		result, _ := g.Check(ctx, testContext("10"))
		if !result.Allowed {
			t.Errorf("approved payment denied: %s", result.Reason)
		}
	})

	t.Run("callback denies", func(t *testing.T) {
		g := NewConfirmGuard(ConfirmOptions{
			Callback:  func(context.Context, PaymentContext) (bool, error) { return false, nil },
			Threshold: threshold,
		}, "")
		result, _ := g.Check(ctx, testContext("10"))
		if result.Allowed {
			t.Error("denied payment allowed")
		}
	})

	t.Run("no callback blocks", func(t *testing.T) {
		g := NewConfirmGuard(ConfirmOptions{AlwaysConfirm: true}, "")
		result, _ := g.Check(ctx, testContext("1"))
		if result.Allowed {
			t.Error("payment allowed without confirmation path")
		}
	})
}

type failingGuard struct{}

func (failingGuard) Name() string { return "failing" }
func (failingGuard) Check(context.Context, PaymentContext) (GuardResult, error) {
	return GuardResult{Allowed: false, Reason: "nope", GuardName: "failing"}, nil
}
func (g failingGuard) Reserve(ctx context.Context, pc PaymentContext) (string, error) {
	return "", apperrors.NewGuardError("failing", "nope")
}
func (failingGuard) Commit(context.Context, string) error  { return nil }
func (failingGuard) Release(context.Context, string) error { return nil }
func (failingGuard) Reset()                                {}

func TestChainReserveRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	budget, _ := NewBudgetGuard(store, BudgetLimits{Total: money.MustFromMajor("100")}, "budget")
	chain := NewChain(zerolog.Nop(), budget, failingGuard{})

	if _, err := chain.Reserve(ctx, testContext("60")); !apperrors.Is(err, apperrors.ErrCodeGuardBlocked) {
		t.Fatalf("chain reserve err = %v, want guard_blocked", err)
	}

	// The budget reservation taken before the failure must be rolled back.
	if _, err := budget.Reserve(ctx, testContext("100")); err != nil {
		t.Errorf("full budget unavailable after rollback: %v", err)
	}
}

func TestChainCommitAndPassedNames(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	budget, _ := NewBudgetGuard(store, BudgetLimits{Total: money.MustFromMajor("100")}, "budget")
	single, _ := NewSingleTxGuard(SingleTxLimits{Max: money.MustFromMajor("50")}, "single_tx")
	chain := NewChain(zerolog.Nop(), single, budget)

	res, err := chain.Reserve(ctx, testContext("30"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	names := res.PassedNames()
	if len(names) != 2 || names[0] != "single_tx" || names[1] != "budget" {
		t.Errorf("passed = %v", names)
	}

	res.Commit(ctx)
	// Release after commit must not refund the committed spend.
	res.Release(ctx)

	spent, err := budget.TotalSpent(ctx, "w1")
	if err != nil {
		t.Fatalf("TotalSpent: %v", err)
	}
	if spent.ToMajor() != "30.000000" {
		t.Errorf("committed spend = %s, want 30.000000", spent.ToMajor())
	}
}

type fakeLedger struct {
	knownRecipients map[string]bool
	recentCount     int
}

func (f *fakeLedger) HasPaidRecipient(_ context.Context, _, recipient string) (bool, error) {
	return f.knownRecipients[recipient], nil
}

func (f *fakeLedger) CountSince(context.Context, string, time.Duration) (int, error) {
	return f.recentCount, nil
}

func TestAmountFactor(t *testing.T) {
	f := NewAmountFactor(1, money.Zero, money.Zero)
	tests := []struct {
		amount string
		want   float64
	}{
		{"50", 0},
		{"100", 0},
		{"550", 0.5},
		{"1000", 1},
		{"5000", 1},
	}
	for _, tt := range tests {
		got, err := f.Evaluate(context.Background(), testContext(tt.amount))
		if err != nil {
			t.Fatalf("Evaluate(%s): %v", tt.amount, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}

func TestRiskGuardActions(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{knownRecipients: map[string]bool{}}

	g := NewRiskGuard("", 0, 0,
		NewAmountFactor(1, money.Zero, money.Zero),
		NewNewRecipientFactor(1, ledger),
		NewVelocityFactor(1, time.Hour, 10, ledger),
	)

	// Small payment to a known recipient at low velocity: allow.
	ledger.knownRecipients[testContext("1").Recipient] = true
	result, err := g.Check(ctx, testContext("1"))
	if err != nil || !result.Allowed {
		t.Fatalf("low risk check = (%+v, %v)", result, err)
	}
	if result.Metadata["risk_action"] != RiskActionAllow {
		t.Errorf("action = %v", result.Metadata["risk_action"])
	}

	// New recipient alone lands in the flag band (score ~33).
	pc := testContext("1")
	pc.Recipient = "0x9999999999999999999999999999999999999999"
	result, err = g.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || result.Metadata["risk_action"] != RiskActionFlag {
		t.Errorf("result = %+v, want FLAG", result)
	}

	// Every factor maxed: block.
	ledger.recentCount = 30
	pc.Amount = money.MustFromMajor("5000")
	result, err = g.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || result.Metadata["risk_action"] != RiskActionBlock {
		t.Errorf("result = %+v, want BLOCK", result)
	}

	_, reserveErr := g.Reserve(ctx, pc)
	if RiskActionOf(reserveErr) != RiskActionBlock {
		t.Errorf("RiskActionOf = %q, want BLOCK", RiskActionOf(reserveErr))
	}
}

func TestRiskGuardTrustAdjustment(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{knownRecipients: map[string]bool{}}
	g := NewRiskGuard("", 30, 80, NewNewRecipientFactor(1, ledger))

	// A new recipient scores ~33, just inside the flag band.
	pc := testContext("1")
	result, _ := g.Check(ctx, pc)
	if result.Metadata["risk_action"] != RiskActionFlag {
		t.Fatalf("baseline action = %v, want FLAG", result.Metadata["risk_action"])
	}

	// High counterparty trust lifts the low threshold to 40: allow.
	pc.Metadata = map[string]any{TrustWTSKey: 85.0}
	result, _ = g.Check(ctx, pc)
	if result.Metadata["risk_action"] != RiskActionAllow {
		t.Errorf("high trust action = %v, want ALLOW", result.Metadata["risk_action"])
	}

	// Low counterparty trust tightens the block threshold to 60.
	ledger2 := &fakeLedger{recentCount: 30}
	g2 := NewRiskGuard("", 0, 0, NewVelocityFactor(1, time.Hour, 10, ledger2))
	pc2 := testContext("1")
	pc2.Metadata = map[string]any{TrustWTSKey: 10.0}
	result, _ = g2.Check(ctx, pc2)
	if result.Metadata["risk_action"] != RiskActionBlock {
		t.Errorf("low trust action = %v, want BLOCK", result.Metadata["risk_action"])
	}
}

func TestManagerPersistsAndBuildsChains(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	m := NewManager(store, zerolog.Nop())

	maxAmount := money.MustFromMajor("25")
	setGuard, err := m.AddGuard(ctx, ScopeWalletSet, "ws1", GuardConfig{
		Type:      GuardTypeSingleTx,
		Name:      "set_cap",
		MaxAmount: &maxAmount,
	})
	if err != nil {
		t.Fatalf("AddGuard(set): %v", err)
	}
	daily := money.MustFromMajor("100")
	if _, err := m.AddGuard(ctx, ScopeWallet, "w1", GuardConfig{
		Type:       GuardTypeBudget,
		Name:       "wallet_budget",
		DailyLimit: &daily,
	}); err != nil {
		t.Fatalf("AddGuard(wallet): %v", err)
	}

	chain, err := m.ChainFor(ctx, "w1", "ws1")
	if err != nil {
		t.Fatalf("ChainFor: %v", err)
	}
	if chain.Len() != 2 {
		t.Fatalf("chain has %d guards, want 2", chain.Len())
	}
	// Set guards evaluate before wallet guards.
	if chain.Guards()[0].Name() != "set_cap" || chain.Guards()[1].Name() != "wallet_budget" {
		t.Errorf("chain order = [%s, %s]", chain.Guards()[0].Name(), chain.Guards()[1].Name())
	}

	pc := testContext("30")
	pc.WalletSetID = "ws1"
	result, passed, err := m.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || result.GuardName != "set_cap" {
		t.Errorf("result = %+v, want set_cap denial", result)
	}
	if len(passed) != 0 {
		t.Errorf("passed = %v, want none", passed)
	}

	removed, err := m.RemoveGuard(ctx, ScopeWalletSet, "ws1", setGuard.ID)
	if err != nil || !removed {
		t.Fatalf("RemoveGuard = (%v, %v)", removed, err)
	}
	configs, err := m.ListGuards(ctx, ScopeWalletSet, "ws1")
	if err != nil || len(configs) != 0 {
		t.Errorf("ListGuards after remove = (%v, %v)", configs, err)
	}
}

func TestManagerGlobalGuards(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	m := NewManager(store, zerolog.Nop())

	maxAmount := money.MustFromMajor("25")
	if _, err := m.AddGuard(ctx, ScopeWallet, "w1", GuardConfig{
		Type:      GuardTypeSingleTx,
		Name:      "wallet_cap",
		MaxAmount: &maxAmount,
	}); err != nil {
		t.Fatalf("AddGuard: %v", err)
	}

	ledger := &fakeLedger{knownRecipients: map[string]bool{}}
	m.RegisterGlobal(NewRiskGuard("risk_engine", 0, 0, NewNewRecipientFactor(1, ledger)))

	// Globals evaluate after the persisted guards.
	chain, err := m.ChainFor(ctx, "w1", "")
	if err != nil {
		t.Fatalf("ChainFor: %v", err)
	}
	if chain.Len() != 2 {
		t.Fatalf("chain has %d guards, want 2", chain.Len())
	}
	if chain.Guards()[0].Name() != "wallet_cap" || chain.Guards()[1].Name() != "risk_engine" {
		t.Errorf("chain order = [%s, %s]", chain.Guards()[0].Name(), chain.Guards()[1].Name())
	}

	// A new recipient scores 100 against the risk engine: denied even
	// though the persisted cap passes.
	result, passed, err := m.Check(ctx, testContext("1"))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || result.GuardName != "risk_engine" {
		t.Errorf("result = %+v, want risk_engine denial", result)
	}
	if len(passed) != 1 || passed[0] != "wallet_cap" {
		t.Errorf("passed = %v, want [wallet_cap]", passed)
	}
}

func TestRiskGuardOperatorConfirmedPassesFlagBand(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{knownRecipients: map[string]bool{}}
	g := NewRiskGuard("", 0, 0, NewNewRecipientFactor(1, ledger))

	pc := testContext("1")
	pc.Recipient = "0x9999999999999999999999999999999999999999"
	result, err := g.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Metadata["risk_action"] != RiskActionFlag {
		t.Fatalf("baseline action = %v, want FLAG", result.Metadata["risk_action"])
	}

	// The same payment passes once an operator approved the held intent.
	pc.Metadata = map[string]any{OperatorConfirmedKey: true}
	result, err = g.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Allowed || result.Metadata["risk_action"] != RiskActionAllow {
		t.Errorf("confirmed result = %+v, want ALLOW", result)
	}

	// Approval does not override a BLOCK score.
	blocked := NewRiskGuard("", 0, 0,
		NewNewRecipientFactor(1, ledger),
		NewVelocityFactor(1, time.Hour, 10, &fakeLedger{recentCount: 30}),
	)
	result, err = blocked.Check(ctx, pc)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Allowed || result.Metadata["risk_action"] != RiskActionBlock {
		t.Errorf("blocked result = %+v, want BLOCK", result)
	}
}

func TestManagerRejectsInvalidConfigs(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemoryBackend(), zerolog.Nop())

	if _, err := m.AddGuard(ctx, "organisation", "o1", GuardConfig{Type: GuardTypeConfirm}); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("bad scope err = %v", err)
	}
	if _, err := m.AddGuard(ctx, ScopeWallet, "w1", GuardConfig{Type: GuardTypeBudget}); !apperrors.Is(err, apperrors.ErrCodeConfig) {
		t.Errorf("limitless budget err = %v", err)
	}
	if _, err := m.AddGuard(ctx, ScopeWallet, "w1", GuardConfig{Type: GuardType("MYSTERY")}); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("unknown type err = %v", err)
	}
}
