// Package agentpay is the client facade for the payment orchestrator.
// A Client wires storage, the custodial provider, guards, intents, the
// trust gate, and the payment router into one surface: Pay, Simulate,
// intents, batch execution, and guard management.
package agentpay

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/cctp"
	"github.com/agentpay/agentpay-go/internal/circuitbreaker"
	"github.com/agentpay/agentpay-go/internal/config"
	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/guards"
	"github.com/agentpay/agentpay-go/internal/intents"
	"github.com/agentpay/agentpay-go/internal/ledger"
	"github.com/agentpay/agentpay-go/internal/logger"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/payment"
	"github.com/agentpay/agentpay-go/internal/provider"
	"github.com/agentpay/agentpay-go/internal/resilience"
	"github.com/agentpay/agentpay-go/internal/rpc"
	"github.com/agentpay/agentpay-go/internal/storage"
	"github.com/agentpay/agentpay-go/internal/trust"
	"github.com/agentpay/agentpay-go/internal/wallet"
)

// Client is the orchestrator facade.
type Client struct {
	Config   *config.Config
	Store    storage.Backend
	Provider *provider.Client
	Wallets  *wallet.Service
	Ledger   *ledger.Ledger
	Guards   *guards.Manager
	Intents  *intents.Service
	Trust    *trust.Gate // nil when trust is disabled

	log      zerolog.Logger
	metrics  *metrics.Metrics
	breakers *circuitbreaker.Manager
	router   *payment.Router
	strategy payment.Strategy
	queue    *payment.Queue
	batch    *payment.BatchProcessor
	locks    *ledger.FundLocks
	reserved *intents.Reservations
	txReader transactionReader
}

// transactionReader is the provider surface SyncTransaction needs.
type transactionReader interface {
	GetTransaction(ctx context.Context, transactionID string) (*provider.Transaction, error)
}

// Option configures Client construction.
type Option func(*options)

type options struct {
	store    storage.Backend
	strategy payment.Strategy
	registry prometheus.Registerer
	logger   *zerolog.Logger
	confirm  guards.ConfirmCallback
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Backend) Option {
	return func(o *options) { o.store = store }
}

// WithStrategy sets the execution strategy. Default is FailFast.
func WithStrategy(s payment.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithRegistry sets the Prometheus registry for metrics.
func WithRegistry(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger instead of building one from config.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = &log }
}

// WithConfirmCallback installs the operator callback CONFIRM guards use.
func WithConfirmCallback(cb guards.ConfirmCallback) Option {
	return func(o *options) { o.confirm = cb }
}

// New assembles a client from configuration.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "configuration required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	var log zerolog.Logger
	if optState.logger != nil {
		log = *optState.logger
	} else {
		log = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "agentpay",
			Environment: cfg.Logging.Environment,
		})
	}

	store := optState.store
	if store == nil {
		var err error
		store, err = storage.New(storage.Config{
			Backend:       cfg.Storage.Backend,
			PostgresDSN:   cfg.Storage.PostgresDSN,
			MongoURI:      cfg.Storage.MongoURI,
			MongoDatabase: cfg.Storage.MongoDatabase,
			Prefix:        cfg.Storage.Prefix,
			PostgresPool: storage.PoolConfig{
				MaxOpenConns:    cfg.Storage.PostgresPool.MaxOpenConns,
				MaxIdleConns:    cfg.Storage.PostgresPool.MaxIdleConns,
				ConnMaxLifetime: cfg.Storage.PostgresPool.ConnMaxLifetime.Duration,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New(optState.registry)
	store = storage.WithMetrics(store, m, cfg.Storage.Backend)
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	prov, err := provider.New(provider.Config{
		APIKey:       cfg.Provider.APIKey,
		EntitySecret: cfg.Provider.EntitySecret,
		BaseURL:      cfg.Provider.BaseURL,
		Timeout:      cfg.Provider.Timeout.Duration,
		PollInterval: cfg.Provider.PollInterval.Duration,
		PollTimeout:  cfg.Provider.PollTimeout.Duration,
	}, breakers, m, log)
	if err != nil {
		return nil, err
	}

	wallets := wallet.NewService(prov, log)
	led := ledger.New(store, log)

	c := &Client{
		Config:   cfg,
		Store:    store,
		Provider: prov,
		Wallets:  wallets,
		Ledger:   led,
		Guards:   guards.NewManager(store, log),
		Intents:  intents.NewService(store, log),
		log:      log.With().Str("component", "agentpay").Logger(),
		metrics:  m,
		breakers: breakers,
		locks:    ledger.NewFundLocks(store, log),
		reserved: intents.NewReservations(store, log),
		txReader: prov,
	}
	if optState.confirm != nil {
		c.Guards.SetConfirmCallback(optState.confirm)
	}

	attestation := cctp.NewAttestationClient(m, log)
	attestation.SetEndpoint(cfg.Gateway.APIURL)
	attestation.SetPollInterval(cfg.CrossChain.AttestationPollInterval.Duration)
	attestation.SetTimeout(cfg.CrossChain.Timeout.Duration)
	transferer := cctp.NewTransferer(prov, wallets, attestation, m, log)
	transferer.SetPollInterval(cfg.CrossChain.PollInterval.Duration)
	transferer.SetDefaultMaxFee(cfg.CrossChain.DefaultMaxFee)

	c.router = payment.NewRouter(wallets, m, log)
	crossChain := payment.NewCrossChainAdapter(transferer, wallets, log)
	x402Adapter := payment.NewX402Adapter(wallets, crossChain, log)
	x402Adapter.SetMaxSettleTimeout(cfg.X402.MaxTimeout.Duration)
	if cfg.X402.FacilitatorURL != "" {
		// Settlement is always direct against the seller's address;
		// facilitator-mediated verify/settle needs payer-signed
		// authorizations custodial wallets do not produce.
		log.Warn().Str("facilitator_url", cfg.X402.FacilitatorURL).
			Msg("x402 facilitator configured but unsupported, settling directly")
	}
	c.router.Register(x402Adapter)
	c.router.Register(crossChain)
	c.router.Register(payment.NewTransferAdapter(wallets, log))

	c.queue = payment.NewQueue(store, c.router, log)
	c.strategy = optState.strategy
	if c.strategy == nil {
		c.strategy = payment.FailFast{}
	}
	c.batch = payment.NewBatchProcessor(facadePayer{c}, log)

	if cfg.Trust.Enabled {
		net, err := network.FromString(cfg.Network.Default)
		if err != nil {
			return nil, err
		}
		rpcClient := rpc.NewClient(cfg.Network.RPCURLs, m, log)
		if cfg.CircuitBreaker.Enabled {
			// Shared across instances through the storage backend, unlike
			// the in-process gobreaker wrapping the provider HTTP calls.
			rpcClient = rpcClient.WithBreaker(resilience.NewBreaker("rpc", store, resilience.BreakerOptions{
				FailureThreshold: int(cfg.CircuitBreaker.RPC.ConsecutiveFailures),
				RecoveryTimeout:  cfg.CircuitBreaker.RPC.Timeout.Duration,
			}, log))
		}
		c.Trust = trust.NewGate(rpcClient, store, net, trust.PolicyByName(cfg.Trust.Policy), m, log)
	}

	return c, nil
}

// Metrics exposes the metric set so embedding programs can share it
// with their own HTTP surfaces.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Queue exposes the background payment queue for drain daemons.
func (c *Client) Queue() *payment.Queue {
	return c.queue
}

// Router exposes adapter registration for callers adding transports.
func (c *Client) Router() *payment.Router {
	return c.router
}

// facadePayer adapts the full guarded Pay flow to the batch processor.
type facadePayer struct{ c *Client }

func (p facadePayer) Pay(ctx context.Context, req payment.Request) *payment.Result {
	result, err := p.c.Pay(ctx, req)
	if err != nil {
		return payment.Failed(req, payment.MethodTransfer, err.Error())
	}
	return result
}
