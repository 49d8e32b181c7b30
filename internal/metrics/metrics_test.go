package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.PaymentsTotal == nil {
		t.Error("PaymentsTotal should be initialized")
	}
	if m.GuardChecksTotal == nil {
		t.Error("GuardChecksTotal should be initialized")
	}
	if m.IntentsTotal == nil {
		t.Error("IntentsTotal should be initialized")
	}
	if m.CrossChainTransfersTotal == nil {
		t.Error("CrossChainTransfersTotal should be initialized")
	}
	if m.ProviderCallsTotal == nil {
		t.Error("ProviderCallsTotal should be initialized")
	}
	if m.TrustVerdictsTotal == nil {
		t.Error("TrustVerdictsTotal should be initialized")
	}
}

func TestObservePayment(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePayment("transfer", "BASE-SEPOLIA", true, 1*time.Second, 1_500_000)

	count := promtest.ToFloat64(m.PaymentsTotal.WithLabelValues("transfer", "BASE-SEPOLIA"))
	if count != 1 {
		t.Errorf("expected 1 payment attempt, got %.0f", count)
	}

	successCount := promtest.ToFloat64(m.PaymentsSuccessTotal.WithLabelValues("transfer", "BASE-SEPOLIA"))
	if successCount != 1 {
		t.Errorf("expected 1 successful payment, got %.0f", successCount)
	}

	amount := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("transfer", "BASE-SEPOLIA"))
	if amount != 1_500_000 {
		t.Errorf("expected payment amount 1500000, got %.0f", amount)
	}
}

func TestObservePaymentFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObservePaymentFailure("x402", "BASE", "insufficient_balance")

	count := promtest.ToFloat64(m.PaymentsFailedTotal.WithLabelValues("x402", "BASE", "insufficient_balance"))
	if count != 1 {
		t.Errorf("expected 1 failed payment, got %.0f", count)
	}
}

func TestObserveGuard(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveGuard("budget", true)
	m.ObserveGuard("budget", false)

	allowed := promtest.ToFloat64(m.GuardChecksTotal.WithLabelValues("budget", "allowed"))
	if allowed != 1 {
		t.Errorf("expected 1 allowed check, got %.0f", allowed)
	}
	blocked := promtest.ToFloat64(m.GuardBlocksTotal.WithLabelValues("budget"))
	if blocked != 1 {
		t.Errorf("expected 1 block, got %.0f", blocked)
	}
}

func TestObserveRPCCall(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCalls  float64
		wantErrors float64
		errorType  string
	}{
		{
			name:      "successful call",
			err:       nil,
			wantCalls: 1,
		},
		{
			name:       "connection error",
			err:        &testError{msg: "connection reset by peer"},
			wantCalls:  1,
			wantErrors: 1,
			errorType:  "connection",
		},
		{
			name:       "timeout error",
			err:        &testError{msg: "context deadline exceeded"},
			wantCalls:  1,
			wantErrors: 1,
			errorType:  "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveRPCCall("eth_call", "BASE-SEPOLIA", 100*time.Millisecond, tt.err)

			calls := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues("eth_call", "BASE-SEPOLIA"))
			if calls != tt.wantCalls {
				t.Errorf("expected %.0f RPC calls, got %.0f", tt.wantCalls, calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues("eth_call", "BASE-SEPOLIA", tt.errorType))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f RPC errors of type %s, got %.0f", tt.wantErrors, tt.errorType, errors)
				}
			}
		})
	}
}

func TestObserveProviderCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveProviderCall("create_transaction", 200*time.Millisecond, nil)
	m.ObserveProviderCall("create_transaction", 200*time.Millisecond, &testError{msg: "boom"})

	ok := promtest.ToFloat64(m.ProviderCallsTotal.WithLabelValues("create_transaction", "ok"))
	if ok != 1 {
		t.Errorf("expected 1 ok call, got %.0f", ok)
	}
	failed := promtest.ToFloat64(m.ProviderCallsTotal.WithLabelValues("create_transaction", "error"))
	if failed != 1 {
		t.Errorf("expected 1 error call, got %.0f", failed)
	}
}

func TestObserveTrust(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveTrustVerdict("allowed", "standard")
	m.ObserveTrustCache("identity", true)
	m.ObserveTrustCache("identity", false)

	verdicts := promtest.ToFloat64(m.TrustVerdictsTotal.WithLabelValues("allowed", "standard"))
	if verdicts != 1 {
		t.Errorf("expected 1 verdict, got %.0f", verdicts)
	}
	hits := promtest.ToFloat64(m.TrustCacheHitsTotal.WithLabelValues("identity", "hit"))
	misses := promtest.ToFloat64(m.TrustCacheHitsTotal.WithLabelValues("identity", "miss"))
	if hits != 1 || misses != 1 {
		t.Errorf("cache hits/misses = %.0f/%.0f, want 1/1", hits, misses)
	}
}

func TestObserveCrossChain(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCrossChain("ETH-SEPOLIA", "BASE-SEPOLIA", "completed")

	count := promtest.ToFloat64(m.CrossChainTransfersTotal.WithLabelValues("ETH-SEPOLIA", "BASE-SEPOLIA", "completed"))
	if count != 1 {
		t.Errorf("expected 1 transfer, got %.0f", count)
	}
}

func TestObserveWebhookEvent(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveWebhookEvent("payment_completed", "accepted")

	count := promtest.ToFloat64(m.WebhookEventsTotal.WithLabelValues("payment_completed", "accepted"))
	if count != 1 {
		t.Errorf("expected 1 webhook event, got %.0f", count)
	}
}

// testError is a simple error type for testing
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
