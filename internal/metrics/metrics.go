package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payment orchestrator.
type Metrics struct {
	// Payment metrics
	PaymentsTotal        *prometheus.CounterVec
	PaymentsSuccessTotal *prometheus.CounterVec
	PaymentsFailedTotal  *prometheus.CounterVec
	PaymentAmountTotal   *prometheus.CounterVec
	PaymentDuration      *prometheus.HistogramVec

	// Guard metrics
	GuardChecksTotal *prometheus.CounterVec
	GuardBlocksTotal *prometheus.CounterVec

	// Intent metrics
	IntentsTotal        *prometheus.CounterVec
	IntentReservedTotal prometheus.Counter
	IntentExpiredTotal  prometheus.Counter

	// Cross-chain metrics
	CrossChainTransfersTotal *prometheus.CounterVec
	CrossChainPhaseDuration  *prometheus.HistogramVec
	AttestationPollsTotal    *prometheus.CounterVec

	// Provider API metrics
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Trust metrics
	TrustVerdictsTotal  *prometheus.CounterVec
	TrustCacheHitsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitStateChanges *prometheus.CounterVec

	// Webhook ingress metrics
	WebhookEventsTotal *prometheus.CounterVec
	RateLimitHitsTotal *prometheus.CounterVec

	// Wallet monitoring metrics
	WalletBalanceAtomic *prometheus.GaugeVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_total",
				Help: "Total number of payment attempts",
			},
			[]string{"method", "network"},
		),
		PaymentsSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_success_total",
				Help: "Total number of successful payments",
			},
			[]string{"method", "network"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payments_failed_total",
				Help: "Total number of failed payments",
			},
			[]string{"method", "network", "reason"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_payment_amount_atomic_total",
				Help: "Total payment volume in atomic USDC units",
			},
			[]string{"method", "network"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_payment_duration_seconds",
				Help:    "Time taken to process payment end to end",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"method", "network"},
		),

		GuardChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_guard_checks_total",
				Help: "Total number of guard evaluations",
			},
			[]string{"guard", "outcome"},
		),
		GuardBlocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_guard_blocks_total",
				Help: "Total number of payments blocked by a guard",
			},
			[]string{"guard"},
		),

		IntentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_intents_total",
				Help: "Total number of intent transitions",
			},
			[]string{"status"},
		),
		IntentReservedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpay_intent_reservations_total",
				Help: "Total number of budget reservations taken for intents",
			},
		),
		IntentExpiredTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentpay_intent_expired_total",
				Help: "Total number of intents expired before approval",
			},
		),

		CrossChainTransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_crosschain_transfers_total",
				Help: "Total number of cross-chain transfer attempts",
			},
			[]string{"source", "destination", "status"},
		),
		CrossChainPhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_crosschain_phase_duration_seconds",
				Help:    "Duration of each cross-chain transfer phase",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),
		AttestationPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_attestation_polls_total",
				Help: "Total number of attestation service polls",
			},
			[]string{"outcome"},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_provider_calls_total",
				Help: "Total number of custodial provider API calls",
			},
			[]string{"operation", "status"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_provider_call_duration_seconds",
				Help:    "Duration of custodial provider API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_rpc_calls_total",
				Help: "Total number of RPC calls to blockchain endpoints",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to blockchain endpoints",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_rpc_errors_total",
				Help: "Total number of RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		TrustVerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_trust_verdicts_total",
				Help: "Total number of trust gate verdicts",
			},
			[]string{"action", "policy"},
		),
		TrustCacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_trust_cache_hits_total",
				Help: "Trust cache lookups by outcome",
			},
			[]string{"kind", "outcome"},
		),

		CircuitStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_circuit_state_changes_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"service", "from", "to"},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_webhook_events_total",
				Help: "Inbound provider webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpay_rate_limit_hits_total",
				Help: "Requests rejected by an ingress rate limiter",
			},
			[]string{"scope"},
		),

		WalletBalanceAtomic: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentpay_wallet_balance_atomic",
				Help: "Last observed USDC balance per wallet in atomic units",
			},
			[]string{"wallet_id"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpay_db_query_duration_seconds",
				Help:    "Storage backend operation duration",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObservePayment records a payment attempt and its outcome.
func (m *Metrics) ObservePayment(method, network string, success bool, duration time.Duration, amountAtomic int64) {
	m.PaymentsTotal.WithLabelValues(method, network).Inc()
	if success {
		m.PaymentsSuccessTotal.WithLabelValues(method, network).Inc()
		m.PaymentAmountTotal.WithLabelValues(method, network).Add(float64(amountAtomic))
	}
	m.PaymentDuration.WithLabelValues(method, network).Observe(duration.Seconds())
}

// ObservePaymentFailure records a failed payment with reason.
func (m *Metrics) ObservePaymentFailure(method, network, reason string) {
	m.PaymentsFailedTotal.WithLabelValues(method, network, reason).Inc()
}

// ObserveGuard records a guard evaluation.
func (m *Metrics) ObserveGuard(guard string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "blocked"
		m.GuardBlocksTotal.WithLabelValues(guard).Inc()
	}
	m.GuardChecksTotal.WithLabelValues(guard, outcome).Inc()
}

// ObserveIntent records an intent status transition.
func (m *Metrics) ObserveIntent(status string) {
	m.IntentsTotal.WithLabelValues(status).Inc()
}

// ObserveCrossChain records a cross-chain transfer outcome.
func (m *Metrics) ObserveCrossChain(source, destination, status string) {
	m.CrossChainTransfersTotal.WithLabelValues(source, destination, status).Inc()
}

// ObserveCrossChainPhase records the duration of a transfer phase.
func (m *Metrics) ObserveCrossChainPhase(phase string, duration time.Duration) {
	m.CrossChainPhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// ObserveProviderCall records a custodial provider API call.
func (m *Metrics) ObserveProviderCall(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRPCCall records an RPC call to a blockchain endpoint.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "other"
		if errStr := err.Error(); errStr != "" {
			switch {
			case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline"):
				errorType = "timeout"
			case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "429"):
				errorType = "rate_limit"
			case strings.Contains(errStr, "connection"):
				errorType = "connection"
			}
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveTrustVerdict records a trust gate decision.
func (m *Metrics) ObserveTrustVerdict(action, policy string) {
	m.TrustVerdictsTotal.WithLabelValues(action, policy).Inc()
}

// ObserveTrustCache records a trust cache lookup.
func (m *Metrics) ObserveTrustCache(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.TrustCacheHitsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveCircuitStateChange records a breaker transition.
func (m *Metrics) ObserveCircuitStateChange(service, from, to string) {
	m.CircuitStateChanges.WithLabelValues(service, from, to).Inc()
}

// ObserveWalletBalance records a wallet's USDC balance in atomic units.
func (m *Metrics) ObserveWalletBalance(walletID string, atomic int64) {
	m.WalletBalanceAtomic.WithLabelValues(walletID).Set(float64(atomic))
}

// ObserveWebhookEvent records an inbound webhook event.
func (m *Metrics) ObserveWebhookEvent(eventType, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// ObserveRateLimit records a request rejected by a rate limiter.
func (m *Metrics) ObserveRateLimit(scope string) {
	m.RateLimitHitsTotal.WithLabelValues(scope).Inc()
}

// ObserveDBQuery records a storage backend operation.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
