package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Provider
// credentials are env-only so they never land in a config file.
func (c *Config) applyEnvOverrides() {
	// Provider credentials
	setIfEnv(&c.Provider.APIKey, "CIRCLE_API_KEY")
	setIfEnv(&c.Provider.EntitySecret, "CIRCLE_ENTITY_SECRET")
	setIfEnv(&c.Provider.BaseURL, "AGENTPAY_PROVIDER_BASE_URL")
	setDurationIfEnv(&c.Provider.Timeout, "AGENTPAY_PROVIDER_TIMEOUT")
	setDurationIfEnv(&c.Provider.PollInterval, "AGENTPAY_POLL_INTERVAL")
	setDurationIfEnv(&c.Provider.PollTimeout, "AGENTPAY_POLL_TIMEOUT")

	// Logging
	setIfEnv(&c.Logging.Level, "AGENTPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "AGENTPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "AGENTPAY_ENVIRONMENT")

	// Network
	setIfEnv(&c.Network.Default, "AGENTPAY_NETWORK")
	// Per-network endpoints: AGENTPAY_RPC_URL_BASE_SEPOLIA=url1,url2
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "AGENTPAY_RPC_URL_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		name := strings.TrimPrefix(parts[0], "AGENTPAY_RPC_URL_")
		if name == "" {
			continue
		}
		// BASE_SEPOLIA -> BASE-SEPOLIA
		network := strings.ReplaceAll(strings.ToUpper(name), "_", "-")
		if c.Network.RPCURLs == nil {
			c.Network.RPCURLs = make(map[string][]string)
		}
		c.Network.RPCURLs[network] = splitAndTrim(parts[1])
	}

	// Wallet
	setIfEnv(&c.Wallet.DefaultWalletID, "AGENTPAY_DEFAULT_WALLET_ID")

	// Storage
	setIfEnv(&c.Storage.Backend, "AGENTPAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresDSN, "AGENTPAY_POSTGRES_DSN")
	setIfEnv(&c.Storage.MongoURI, "AGENTPAY_MONGO_URI")
	setIfEnv(&c.Storage.MongoDatabase, "AGENTPAY_MONGO_DATABASE")
	setIfEnv(&c.Storage.Prefix, "AGENTPAY_STORAGE_PREFIX")

	// Protocols
	setIfEnv(&c.X402.FacilitatorURL, "AGENTPAY_X402_FACILITATOR_URL")
	setIfEnv(&c.Gateway.APIURL, "AGENTPAY_GATEWAY_API_URL")
	setDurationIfEnv(&c.CrossChain.Timeout, "AGENTPAY_CROSSCHAIN_TIMEOUT")

	// Trust
	setBoolIfEnv(&c.Trust.Enabled, "AGENTPAY_TRUST_ENABLED")
	setIfEnv(&c.Trust.Policy, "AGENTPAY_TRUST_POLICY")

	// Webhooks
	setBoolIfEnv(&c.Webhooks.Enabled, "AGENTPAY_WEBHOOKS_ENABLED")
	setIfEnv(&c.Webhooks.Address, "AGENTPAY_WEBHOOKS_ADDRESS")
	setIfEnv(&c.Webhooks.PublicKey, "AGENTPAY_WEBHOOKS_PUBLIC_KEY")
	setIntIfEnv(&c.Webhooks.RateLimit, "AGENTPAY_WEBHOOKS_RATE_LIMIT")

	// Monitoring
	setIfEnv(&c.Monitoring.LowBalanceThreshold, "AGENTPAY_LOW_BALANCE_THRESHOLD")
	setIfEnv(&c.Monitoring.AlertURL, "AGENTPAY_LOW_BALANCE_ALERT_URL")
	setDurationIfEnv(&c.Monitoring.CheckInterval, "AGENTPAY_MONITORING_INTERVAL")
	if v := os.Getenv("AGENTPAY_MONITORING_WALLET_IDS"); v != "" {
		c.Monitoring.WalletIDs = splitAndTrim(v)
	}

	// Circuit breakers
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "AGENTPAY_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// splitAndTrim splits a comma-separated list, dropping empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
