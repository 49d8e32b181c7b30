// agentpayd runs the long-lived side of the orchestrator: the provider
// webhook listener, the queued-payment drainer, the wallet balance
// monitor, and a Prometheus metrics endpoint. Payments themselves are
// made by programs embedding pkg/agentpay; this daemon keeps their
// ledger and queue converging while they are offline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/config"
	"github.com/agentpay/agentpay-go/internal/logger"
	"github.com/agentpay/agentpay-go/internal/monitoring"
	"github.com/agentpay/agentpay-go/internal/ratelimit"
	"github.com/agentpay/agentpay-go/internal/webhooks"
	"github.com/agentpay/agentpay-go/pkg/agentpay"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration")
		metricsAddr = flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
		drainEvery  = flag.Duration("drain-interval", 30*time.Second, "queued payment drain interval")
		drainBatch  = flag.Int("drain-batch", 10, "max queued payments per drain pass")
	)
	flag.Parse()

	if err := run(*configPath, *metricsAddr, *drainEvery, *drainBatch); err != nil {
		fmt.Fprintln(os.Stderr, "agentpayd:", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, drainEvery time.Duration, drainBatch int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "agentpayd",
		Environment: cfg.Logging.Environment,
	})

	registry := prometheus.NewRegistry()
	client, err := agentpay.New(cfg,
		agentpay.WithRegistry(registry),
		agentpay.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	metricsServer := &http.Server{
		Addr:        metricsAddr,
		Handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", metricsAddr).Msg("metrics listener started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	var listener *webhooks.Listener
	if cfg.Webhooks.Enabled {
		parser, err := webhooks.NewParser(cfg.Webhooks.PublicKey)
		if err != nil {
			return fmt.Errorf("webhook parser: %w", err)
		}
		rl := ratelimit.DefaultConfig()
		rl.PerIPLimit = cfg.Webhooks.RateLimit
		rl.PerIPWindow = cfg.Webhooks.RateLimitWindow.Duration
		listener = webhooks.NewListener(webhooks.ListenerConfig{
			Addr:               cfg.Webhooks.Address,
			CORSAllowedOrigins: cfg.Webhooks.CORSAllowedOrigins,
			RateLimit:          rl,
			ReadTimeout:        cfg.Webhooks.ReadTimeout.Duration,
			WriteTimeout:       cfg.Webhooks.WriteTimeout.Duration,
			IdleTimeout:        cfg.Webhooks.IdleTimeout.Duration,
		}, parser, client.Metrics(), log)
		listener.Register(webhooks.NewLedgerSync(client.Ledger, log).Handler())

		go func() {
			log.Info().Str("addr", cfg.Webhooks.Address).Msg("webhook listener started")
			if err := listener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("webhook listener: %w", err)
			}
		}()
	}

	monitor, err := monitoring.NewBalanceMonitor(monitorConfig(cfg), client.Wallets, client.Metrics(), log)
	if err != nil {
		return fmt.Errorf("balance monitor: %w", err)
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	go drainLoop(ctx, client, drainEvery, drainBatch, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if listener != nil {
		if err := listener.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("webhook listener shutdown failed")
		}
	}
	return metricsServer.Shutdown(shutdownCtx)
}

// monitorConfig defaults the watched wallets to the configured default
// wallet when no explicit list is set.
func monitorConfig(cfg *config.Config) config.MonitoringConfig {
	mc := cfg.Monitoring
	if len(mc.WalletIDs) == 0 && cfg.Wallet.DefaultWalletID != "" {
		mc.WalletIDs = []string{cfg.Wallet.DefaultWalletID}
	}
	return mc
}

// drainLoop periodically retries payments parked in the background
// queue by the QueueBackground strategy.
func drainLoop(ctx context.Context, client *agentpay.Client, every time.Duration, batch int, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := client.Queue().Drain(ctx, batch)
			if err != nil {
				log.Error().Err(err).Msg("queue drain failed")
				continue
			}
			if len(results) > 0 {
				succeeded := 0
				for _, r := range results {
					if r.Success {
						succeeded++
					}
				}
				log.Info().
					Int("drained", len(results)).
					Int("succeeded", succeeded).
					Msg("queue drained")
			}
		}
	}
}
