// Package provider implements the custodial wallet provider HTTP client.
// All signing happens provider-side; this client only requests operations
// by wallet ID and attaches the entity secret ciphertext to writes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/circuitbreaker"
	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/metrics"
)

// Config holds provider client settings.
type Config struct {
	APIKey       string
	EntitySecret string // 32-byte hex
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Client talks to the custodial wallet provider API.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	cipher       *entityCipher
	breakers     *circuitbreaker.Manager
	metrics      *metrics.Metrics
	log          zerolog.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// New creates a provider client. breakers and m may be nil.
func New(cfg Config, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "provider api key is required")
	}
	cipher, err := newEntityCipher(cfg.EntitySecret)
	if err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.circle.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 120 * time.Second
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		http:         httputil.NewClient(timeout),
		cipher:       cipher,
		breakers:     breakers,
		metrics:      m,
		log:          log.With().Str("component", "provider").Logger(),
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}, nil
}

// do performs a request through the provider breaker with auth headers.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	call := func() (interface{}, error) {
		err := httputil.DoJSON(ctx, c.http, method, c.baseURL+path, headers, body, out)
		return nil, err
	}

	start := time.Now()
	var err error
	if c.breakers != nil {
		_, err = c.breakers.Execute(circuitbreaker.ServiceProvider, call)
	} else {
		_, err = call()
	}
	if c.metrics != nil {
		c.metrics.ObserveProviderCall(method+" "+path, time.Since(start), err)
	}

	if err != nil {
		return translateError(err, c.baseURL+path)
	}
	return nil
}

// translateError maps transport failures onto the error taxonomy.
func translateError(err error, url string) error {
	var statusErr *httputil.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return apperrors.NewNetworkError("provider rate limited", statusErr.StatusCode, url, err)
		case statusErr.StatusCode == http.StatusNotFound:
			return apperrors.Wrap(apperrors.ErrCodeWalletNotFound, "provider resource not found", err)
		case statusErr.StatusCode >= 500:
			return apperrors.NewNetworkError("provider server error", statusErr.StatusCode, url, err)
		default:
			return apperrors.Wrap(apperrors.ErrCodeProviderError, fmt.Sprintf("provider rejected request (%d)", statusErr.StatusCode), err)
		}
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewNetworkError("provider request failed", 0, url, err)
}

// CreateWalletSet creates a named wallet set.
func (c *Client) CreateWalletSet(ctx context.Context, name string) (*WalletSet, error) {
	ciphertext, err := c.cipher.ciphertext(ctx, c)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"idempotencyKey":         uuid.NewString(),
		"name":                   name,
		"entitySecretCiphertext": ciphertext,
	}
	var resp struct {
		Data struct {
			WalletSet WalletSet `json:"walletSet"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/walletSets", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.WalletSet, nil
}

// CreateWallets provisions count wallets on a blockchain inside a set.
func (c *Client) CreateWallets(ctx context.Context, req CreateWalletsRequest) ([]Wallet, error) {
	if req.Count < 1 || req.Count > 20 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField, "wallet count must be 1-20, got %d", req.Count)
	}

	ciphertext, err := c.cipher.ciphertext(ctx, c)
	if err != nil {
		return nil, err
	}

	accountType := req.AccountType
	if accountType == "" {
		accountType = "EOA"
	}
	body := map[string]any{
		"idempotencyKey":         uuid.NewString(),
		"walletSetId":            req.WalletSetID,
		"blockchains":            req.Blockchains,
		"count":                  req.Count,
		"accountType":            accountType,
		"entitySecretCiphertext": ciphertext,
	}
	var resp struct {
		Data struct {
			Wallets []Wallet `json:"wallets"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/wallets", body, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Wallets, nil
}

// GetWallet fetches a wallet by ID.
func (c *Client) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	var resp struct {
		Data struct {
			Wallet Wallet `json:"wallet"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/w3s/wallets/"+url.PathEscape(walletID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Wallet, nil
}

// ListWallets lists wallets, optionally filtered by set and blockchain.
func (c *Client) ListWallets(ctx context.Context, filter ListWalletsFilter) ([]Wallet, error) {
	q := url.Values{}
	if filter.WalletSetID != "" {
		q.Set("walletSetId", filter.WalletSetID)
	}
	if filter.Blockchain != "" {
		q.Set("blockchain", filter.Blockchain)
	}
	path := "/v1/w3s/wallets"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		Data struct {
			Wallets []Wallet `json:"wallets"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Wallets, nil
}

// GetWalletBalances returns all token balances on a wallet.
func (c *Client) GetWalletBalances(ctx context.Context, walletID string) ([]TokenBalance, error) {
	var resp struct {
		Data struct {
			TokenBalances []TokenBalance `json:"tokenBalances"`
		} `json:"data"`
	}
	path := "/v1/w3s/wallets/" + url.PathEscape(walletID) + "/balances"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.TokenBalances, nil
}

// CreateTransfer submits a token transfer from a custodied wallet.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	ciphertext, err := c.cipher.ciphertext(ctx, c)
	if err != nil {
		return nil, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	feeLevel := req.FeeLevel
	if feeLevel == "" {
		feeLevel = FeeLevelMedium
	}

	body := map[string]any{
		"idempotencyKey":         idempotencyKey,
		"walletId":               req.WalletID,
		"tokenId":                req.TokenID,
		"destinationAddress":     req.DestinationAddress,
		"amounts":                []string{req.Amount},
		"feeLevel":               feeLevel,
		"entitySecretCiphertext": ciphertext,
	}
	var resp struct {
		Data Transaction `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/transactions/transfer", body, &resp); err != nil {
		return nil, err
	}
	c.log.Debug().
		Str("transaction_id", resp.Data.ID).
		Str("wallet_id", req.WalletID).
		Str("amount", req.Amount).
		Msg("transfer submitted")
	return &resp.Data, nil
}

// CreateContractExecution submits a contract call from a custodied wallet.
// The provider does not document key-based deduplication for this path, so
// callers must not retry blindly after a transaction ID is returned.
func (c *Client) CreateContractExecution(ctx context.Context, req ContractExecutionRequest) (*Transaction, error) {
	ciphertext, err := c.cipher.ciphertext(ctx, c)
	if err != nil {
		return nil, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	feeLevel := req.FeeLevel
	if feeLevel == "" {
		feeLevel = FeeLevelMedium
	}

	body := map[string]any{
		"idempotencyKey":         idempotencyKey,
		"walletId":               req.WalletID,
		"contractAddress":        req.ContractAddress,
		"abiFunctionSignature":   req.FunctionSignature,
		"abiParameters":          req.Parameters,
		"feeLevel":               feeLevel,
		"entitySecretCiphertext": ciphertext,
	}
	var resp struct {
		Data Transaction `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/w3s/developer/transactions/contractExecution", body, &resp); err != nil {
		return nil, err
	}
	c.log.Debug().
		Str("transaction_id", resp.Data.ID).
		Str("contract", req.ContractAddress).
		Str("function", req.FunctionSignature).
		Msg("contract execution submitted")
	return &resp.Data, nil
}

// GetTransaction fetches a transaction by ID.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	var resp struct {
		Data struct {
			Transaction Transaction `json:"transaction"`
		} `json:"data"`
	}
	path := "/v1/w3s/transactions/" + url.PathEscape(transactionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data.Transaction, nil
}

// ListTransactions lists transactions, optionally filtered.
func (c *Client) ListTransactions(ctx context.Context, filter ListTransactionsFilter) ([]Transaction, error) {
	q := url.Values{}
	if filter.WalletID != "" {
		q.Set("walletIds", filter.WalletID)
	}
	if filter.Blockchain != "" {
		q.Set("blockchain", filter.Blockchain)
	}
	path := "/v1/w3s/transactions"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp struct {
		Data struct {
			Transactions []Transaction `json:"transactions"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Transactions, nil
}

// WaitForTransaction polls until the transaction reaches a terminal state
// or the deadline passes. The last observed transaction is returned with a
// transaction_timeout error on expiry.
func (c *Client) WaitForTransaction(ctx context.Context, transactionID string, timeout time.Duration) (*Transaction, error) {
	if timeout <= 0 {
		timeout = c.pollTimeout
	}

	deadline := time.Now().Add(timeout)
	var last *Transaction
	for {
		tx, err := c.GetTransaction(ctx, transactionID)
		if err != nil {
			return last, err
		}
		last = tx
		if tx.IsTerminal() {
			return tx, nil
		}

		if time.Now().After(deadline) {
			return last, apperrors.NewTransactionTimeoutError(transactionID, tx.State, timeout.Seconds())
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
