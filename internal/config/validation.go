package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.circle.com"
	}
	if c.Provider.Timeout.Duration <= 0 {
		c.Provider.Timeout = Duration{Duration: 30 * time.Second}
	}
	if c.Provider.PollInterval.Duration <= 0 {
		c.Provider.PollInterval = Duration{Duration: 2 * time.Second}
	}
	if c.Provider.PollTimeout.Duration <= 0 {
		c.Provider.PollTimeout = Duration{Duration: 120 * time.Second}
	}
	if c.Network.Default == "" {
		c.Network.Default = "BASE-SEPOLIA"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = "agentpay"
	}
	if c.CrossChain.Timeout.Duration <= 0 {
		c.CrossChain.Timeout = Duration{Duration: 5 * time.Minute}
	}
	if c.CrossChain.PollInterval.Duration <= 0 {
		c.CrossChain.PollInterval = Duration{Duration: 2 * time.Second}
	}
	if c.CrossChain.AttestationPollInterval.Duration <= 0 {
		c.CrossChain.AttestationPollInterval = Duration{Duration: 5 * time.Second}
	}
	if c.CrossChain.DefaultMaxFee <= 0 {
		c.CrossChain.DefaultMaxFee = 500
	}
	if c.Trust.Policy == "" {
		c.Trust.Policy = "standard"
	}
	if c.Trust.IdentityCacheTTL.Duration <= 0 {
		c.Trust.IdentityCacheTTL = Duration{Duration: 5 * time.Minute}
	}
	if c.Trust.ScoreCacheTTL.Duration <= 0 {
		c.Trust.ScoreCacheTTL = Duration{Duration: 2 * time.Minute}
	}
	if c.Trust.MetadataCacheTTL.Duration <= 0 {
		c.Trust.MetadataCacheTTL = Duration{Duration: 10 * time.Minute}
	}
	if c.Webhooks.Address == "" {
		c.Webhooks.Address = ":8090"
	}
	if c.Webhooks.RateLimit <= 0 {
		c.Webhooks.RateLimit = 120
	}
	if c.Webhooks.RateLimitWindow.Duration <= 0 {
		c.Webhooks.RateLimitWindow = Duration{Duration: 1 * time.Minute}
	}
	if c.X402.MaxTimeout.Duration <= 0 {
		c.X402.MaxTimeout = Duration{Duration: 5 * time.Minute}
	}
	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 5 * time.Minute}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 10 * time.Second}
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.Provider.APIKey == "" {
		errs = append(errs, "provider api key is required (set CIRCLE_API_KEY)")
	}
	if c.Provider.EntitySecret == "" {
		errs = append(errs, "provider entity secret is required (set CIRCLE_ENTITY_SECRET)")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, "storage.postgres_dsn is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoURI == "" {
			errs = append(errs, "storage.mongo_uri is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (memory, postgres, mongodb)", c.Storage.Backend))
	}

	switch c.Trust.Policy {
	case "permissive", "standard", "strict":
	default:
		errs = append(errs, fmt.Sprintf("trust.policy %q is not supported (permissive, standard, strict)", c.Trust.Policy))
	}

	for network, urls := range c.Network.RPCURLs {
		for _, raw := range urls {
			if err := validateHTTPURL(raw); err != nil {
				errs = append(errs, fmt.Sprintf("network.rpc_urls[%s]: %v", network, err))
			}
		}
	}
	if c.X402.FacilitatorURL != "" {
		if err := validateHTTPURL(c.X402.FacilitatorURL); err != nil {
			errs = append(errs, fmt.Sprintf("x402.facilitator_url: %v", err))
		}
	}
	if c.Gateway.APIURL != "" {
		if err := validateHTTPURL(c.Gateway.APIURL); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.api_url: %v", err))
		}
	}
	if c.Monitoring.AlertURL != "" {
		if err := validateHTTPURL(c.Monitoring.AlertURL); err != nil {
			errs = append(errs, fmt.Sprintf("monitoring.alert_url: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// validateHTTPURL rejects endpoints that are not absolute http(s) URLs.
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q missing host", raw)
	}
	return nil
}
