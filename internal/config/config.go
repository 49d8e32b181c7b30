package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		Provider: ProviderConfig{
			BaseURL:      "https://api.circle.com",
			Timeout:      Duration{Duration: 30 * time.Second},
			PollInterval: Duration{Duration: 2 * time.Second},
			PollTimeout:  Duration{Duration: 120 * time.Second},
		},
		Network: NetworkConfig{
			Default: "BASE-SEPOLIA",
			RPCURLs: map[string][]string{},
		},
		Storage: StorageConfig{
			Backend: "memory",
			Prefix:  "agentpay",
		},
		X402: X402Config{
			MaxTimeout: Duration{Duration: 5 * time.Minute},
		},
		CrossChain: CrossChainConfig{
			Timeout:                 Duration{Duration: 5 * time.Minute},
			PollInterval:            Duration{Duration: 2 * time.Second},
			AttestationPollInterval: Duration{Duration: 5 * time.Second},
			DefaultMaxFee:           500,
		},
		Trust: TrustConfig{
			Enabled:          false,
			Policy:           "standard",
			IdentityCacheTTL: Duration{Duration: 5 * time.Minute},
			ScoreCacheTTL:    Duration{Duration: 2 * time.Minute},
			MetadataCacheTTL: Duration{Duration: 10 * time.Minute},
		},
		Webhooks: WebhooksConfig{
			Enabled:         false,
			Address:         ":8090",
			RateLimit:       120,
			RateLimitWindow: Duration{Duration: 1 * time.Minute},
			ReadTimeout:     Duration{Duration: 15 * time.Second},
			WriteTimeout:    Duration{Duration: 15 * time.Second},
			IdleTimeout:     Duration{Duration: 60 * time.Second},
		},
		Monitoring: MonitoringConfig{
			CheckInterval: Duration{Duration: 5 * time.Minute},
			Timeout:       Duration{Duration: 10 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Provider: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Attestation: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // Attestations are slow; be tolerant
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
			Facilitator: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			RPC: BreakerServiceConfig{
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
