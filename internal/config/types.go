package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Provider       ProviderConfig       `yaml:"provider"`
	Network        NetworkConfig        `yaml:"network"`
	Wallet         WalletConfig         `yaml:"wallet"`
	Storage        StorageConfig        `yaml:"storage"`
	X402           X402Config           `yaml:"x402"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	CrossChain     CrossChainConfig     `yaml:"crosschain"`
	Trust          TrustConfig          `yaml:"trust"`
	Webhooks       WebhooksConfig       `yaml:"webhooks"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// ProviderConfig holds custodial wallet provider credentials and tuning.
type ProviderConfig struct {
	APIKey       string   `yaml:"-"` // Loaded from env only (CIRCLE_API_KEY)
	EntitySecret string   `yaml:"-"` // Loaded from env only (CIRCLE_ENTITY_SECRET)
	BaseURL      string   `yaml:"base_url"`
	Timeout      Duration `yaml:"timeout"`      // HTTP request timeout (default: 30s)
	PollInterval Duration `yaml:"poll_interval"` // Transaction state poll interval (default: 2s)
	PollTimeout  Duration `yaml:"poll_timeout"`  // Transaction confirmation timeout (default: 120s)
}

// NetworkConfig holds chain selection and RPC endpoints.
type NetworkConfig struct {
	Default string              `yaml:"default"` // Default blockchain identifier (e.g. "BASE-SEPOLIA")
	RPCURLs map[string][]string `yaml:"rpc_urls"` // Network -> ordered fallback RPC endpoints
}

// WalletConfig holds wallet defaults.
type WalletConfig struct {
	DefaultWalletID string `yaml:"default_wallet_id"` // Used when a payment omits the wallet
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Backend       string             `yaml:"backend"`        // "memory", "postgres", or "mongodb"
	PostgresDSN   string             `yaml:"postgres_dsn"`   // PostgreSQL connection string
	MongoURI      string             `yaml:"mongo_uri"`      // MongoDB connection string
	MongoDatabase string             `yaml:"mongo_database"` // MongoDB database name
	Prefix        string             `yaml:"prefix"`         // Table/key prefix (default: "agentpay")
	PostgresPool  PostgresPoolConfig `yaml:"postgres_pool"`
}

// X402Config holds x402 protocol settings.
type X402Config struct {
	FacilitatorURL string   `yaml:"facilitator_url"` // Facilitator for verify/settle (empty = direct settlement)
	MaxTimeout     Duration `yaml:"max_timeout"`     // Cap on accepted maxTimeoutSeconds (default: 5m)
}

// GatewayConfig holds cross-chain gateway API settings.
type GatewayConfig struct {
	APIURL string `yaml:"api_url"` // Attestation service base URL (default per environment)
}

// CrossChainConfig holds burn-and-mint transfer tuning.
type CrossChainConfig struct {
	Timeout                 Duration `yaml:"timeout"`                   // Overall transfer deadline (default: 5m)
	PollInterval            Duration `yaml:"poll_interval"`             // On-chain confirmation poll interval (default: 2s)
	AttestationPollInterval Duration `yaml:"attestation_poll_interval"` // Attestation service poll interval (default: 5s)
	DefaultMaxFee           int64    `yaml:"default_max_fee"`           // Atomic units offered for fast transfers (default: 500)
}

// TrustConfig holds counterparty verification settings.
type TrustConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Policy           string   `yaml:"policy"`            // "permissive", "standard", or "strict" (default: standard)
	IdentityCacheTTL Duration `yaml:"identity_cache_ttl"` // default: 5m
	ScoreCacheTTL    Duration `yaml:"score_cache_ttl"`    // default: 2m
	MetadataCacheTTL Duration `yaml:"metadata_cache_ttl"` // default: 10m
}

// WebhooksConfig holds the inbound event listener configuration.
type WebhooksConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Address            string   `yaml:"address"`    // Listen address (default: ":8090")
	PublicKey          string   `yaml:"public_key"` // Provider notification signing key (PEM, hex, or base64)
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RateLimit          int      `yaml:"rate_limit"`        // Requests per window per IP (default: 120)
	RateLimitWindow    Duration `yaml:"rate_limit_window"` // default: 1m
	ReadTimeout        Duration `yaml:"read_timeout"`      // default: 15s
	WriteTimeout       Duration `yaml:"write_timeout"`     // default: 15s
	IdleTimeout        Duration `yaml:"idle_timeout"`      // default: 60s
}

// MonitoringConfig holds low-balance wallet monitoring settings.
type MonitoringConfig struct {
	WalletIDs           []string          `yaml:"wallet_ids"`            // Wallets to watch (default: the default wallet)
	CheckInterval       Duration          `yaml:"check_interval"`        // default: 5m
	LowBalanceThreshold string            `yaml:"low_balance_threshold"` // USDC major units; empty disables alerting
	AlertURL            string            `yaml:"alert_url"`             // Webhook receiving low-balance alerts
	BodyTemplate        string            `yaml:"body_template"`         // Optional text/template for the alert body
	Headers             map[string]string `yaml:"headers"`               // Extra headers on alert requests
	Timeout             Duration          `yaml:"timeout"`               // Alert request timeout (default: 10s)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when dependencies are degraded.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`     // default: true
	Provider    BreakerServiceConfig `yaml:"provider"`    // Custodial provider API breaker
	Attestation BreakerServiceConfig `yaml:"attestation"` // Attestation service breaker
	Facilitator BreakerServiceConfig `yaml:"facilitator"` // x402 facilitator breaker
	RPC         BreakerServiceConfig `yaml:"rpc"`         // Trust registry RPC pool breaker (distributed)
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
