// Package monitoring watches wallet USDC balances and raises low-balance
// alerts so agents do not discover an empty wallet mid-payment.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/config"
	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/money"
)

// balanceReader is the wallet surface the monitor needs.
type balanceReader interface {
	USDCBalance(ctx context.Context, walletID string) (money.Amount, string, error)
}

// BalanceMonitor periodically checks wallet balances and sends alerts
// when a wallet drops below the configured threshold.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	wallets    balanceReader
	walletIDs  []string
	threshold  money.Amount
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        zerolog.Logger

	mu          sync.Mutex
	alertedKeys map[string]time.Time // wallet -> last alert time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert is the payload posted to the alert webhook.
type BalanceAlert struct {
	WalletID  string    `json:"wallet_id"`
	Balance   string    `json:"balance"`
	Threshold string    `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBalanceMonitor builds a monitor for the configured wallets. The
// threshold is parsed here so a bad config fails at startup, not on the
// first check.
func NewBalanceMonitor(cfg config.MonitoringConfig, wallets balanceReader, m *metrics.Metrics, log zerolog.Logger) (*BalanceMonitor, error) {
	threshold := money.Zero
	if cfg.LowBalanceThreshold != "" {
		parsed, err := money.FromMajor(cfg.LowBalanceThreshold)
		if err != nil {
			return nil, fmt.Errorf("parse low balance threshold: %w", err)
		}
		threshold = parsed
	}

	return &BalanceMonitor{
		cfg:         cfg,
		wallets:     wallets,
		walletIDs:   cfg.WalletIDs,
		threshold:   threshold,
		httpClient:  httputil.NewClient(cfg.Timeout.Duration),
		metrics:     m,
		log:         log.With().Str("component", "balance_monitor").Logger(),
		alertedKeys: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins the monitoring loop. It is a no-op when no wallets are
// configured.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if len(m.walletIDs) == 0 {
		m.log.Info().Msg("balance monitor disabled, no wallets configured")
		return
	}

	m.log.Info().
		Int("wallet_count", len(m.walletIDs)).
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Str("threshold", m.threshold.ToMajor()).
		Msg("balance monitor started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("balance monitor stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalances(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalances(ctx context.Context) {
	for _, walletID := range m.walletIDs {
		balance, _, err := m.wallets.USDCBalance(ctx, walletID)
		if err != nil {
			m.log.Error().Err(err).Str("wallet_id", walletID).Msg("balance fetch failed")
			continue
		}

		if m.metrics != nil {
			m.metrics.ObserveWalletBalance(walletID, balance.Atomic)
		}
		m.log.Debug().
			Str("wallet_id", walletID).
			Str("balance", balance.ToMajor()).
			Msg("balance checked")

		if !m.threshold.IsZero() && balance.LessThan(m.threshold) {
			if m.shouldAlert(walletID) {
				m.sendAlert(ctx, walletID, balance)
			}
		} else {
			// Balance recovered, re-arm the alert.
			m.clearAlert(walletID)
		}
	}
}

// shouldAlert limits alerts to one per wallet per 24 hours.
func (m *BalanceMonitor) shouldAlert(walletID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastAlert, exists := m.alertedKeys[walletID]
	if !exists {
		return true
	}
	return time.Since(lastAlert) > 24*time.Hour
}

func (m *BalanceMonitor) clearAlert(walletID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alertedKeys, walletID)
}

// sendAlert posts a low-balance notification to the configured webhook.
func (m *BalanceMonitor) sendAlert(ctx context.Context, walletID string, balance money.Amount) {
	if m.cfg.AlertURL == "" {
		m.log.Warn().
			Str("wallet_id", walletID).
			Str("balance", balance.ToMajor()).
			Msg("low balance, no alert url configured")
		return
	}

	alert := BalanceAlert{
		WalletID:  walletID,
		Balance:   balance.ToMajor(),
		Threshold: m.threshold.ToMajor(),
		Timestamp: time.Now().UTC(),
	}

	var body []byte
	var err error
	if m.cfg.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
	} else {
		body, err = json.Marshal(alert)
	}
	if err != nil {
		m.log.Error().Err(err).Str("wallet_id", walletID).Msg("alert body build failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.AlertURL, bytes.NewReader(body))
	if err != nil {
		m.log.Error().Err(err).Str("wallet_id", walletID).Msg("alert request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Error().Err(err).Str("wallet_id", walletID).Msg("alert send failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.log.Info().
			Str("wallet_id", walletID).
			Str("balance", balance.ToMajor()).
			Int("status_code", resp.StatusCode).
			Msg("low balance alert sent")
		m.mu.Lock()
		m.alertedKeys[walletID] = time.Now()
		m.mu.Unlock()
	} else {
		m.log.Warn().
			Str("wallet_id", walletID).
			Int("status_code", resp.StatusCode).
			Msg("alert endpoint rejected notification")
	}
}

func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute alert template: %w", err)
	}
	return buf.Bytes(), nil
}
