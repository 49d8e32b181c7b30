package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/config"
	"github.com/agentpay/agentpay-go/internal/money"
)

type staticBalances struct {
	mu       sync.Mutex
	balances map[string]money.Amount
}

func (s *staticBalances) USDCBalance(_ context.Context, walletID string) (money.Amount, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[walletID], "usdc-token", nil
}

func (s *staticBalances) set(walletID string, amount money.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[walletID] = amount
}

func newTestMonitor(t *testing.T, cfg config.MonitoringConfig, balances *staticBalances) *BalanceMonitor {
	t.Helper()
	m, err := NewBalanceMonitor(cfg, balances, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewBalanceMonitorRejectsBadThreshold(t *testing.T) {
	_, err := NewBalanceMonitor(config.MonitoringConfig{LowBalanceThreshold: "not-a-number"}, nil, nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckBalancesSendsAlert(t *testing.T) {
	var alerts []BalanceAlert
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert BalanceAlert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		mu.Lock()
		alerts = append(alerts, alert)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	balances := &staticBalances{balances: map[string]money.Amount{
		"w1": money.MustFromMajor("2"),
		"w2": money.MustFromMajor("50"),
	}}
	monitor := newTestMonitor(t, config.MonitoringConfig{
		WalletIDs:           []string{"w1", "w2"},
		LowBalanceThreshold: "10",
		AlertURL:            srv.URL,
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}, balances)

	monitor.checkBalances(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].WalletID != "w1" {
		t.Errorf("alerted wallet = %s", alerts[0].WalletID)
	}
	if alerts[0].Threshold != money.MustFromMajor("10").ToMajor() {
		t.Errorf("threshold = %s", alerts[0].Threshold)
	}
}

func TestCheckBalancesAlertsOncePerWindow(t *testing.T) {
	var count int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	balances := &staticBalances{balances: map[string]money.Amount{
		"w1": money.MustFromMajor("1"),
	}}
	monitor := newTestMonitor(t, config.MonitoringConfig{
		WalletIDs:           []string{"w1"},
		LowBalanceThreshold: "10",
		AlertURL:            srv.URL,
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}, balances)

	ctx := context.Background()
	monitor.checkBalances(ctx)
	monitor.checkBalances(ctx)

	mu.Lock()
	if count != 1 {
		t.Fatalf("alerts = %d, want 1 within the dedupe window", count)
	}
	mu.Unlock()

	// Recovery re-arms the alert, so the next dip fires again.
	balances.set("w1", money.MustFromMajor("100"))
	monitor.checkBalances(ctx)
	balances.set("w1", money.MustFromMajor("1"))
	monitor.checkBalances(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("alerts = %d, want 2 after recovery", count)
	}
}

func TestCheckBalancesNoThresholdNeverAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no alert expected without a threshold")
	}))
	defer srv.Close()

	balances := &staticBalances{balances: map[string]money.Amount{
		"w1": money.Zero,
	}}
	monitor := newTestMonitor(t, config.MonitoringConfig{
		WalletIDs: []string{"w1"},
		AlertURL:  srv.URL,
		Timeout:   config.Duration{Duration: 5 * time.Second},
	}, balances)

	monitor.checkBalances(context.Background())
}
