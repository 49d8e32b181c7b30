// Package rpc provides a minimal JSON-RPC client for read-only EVM
// calls, with ordered fallback across the endpoints configured per
// network. Only eth_call is needed: registry reads never sign or send
// transactions.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/resilience"
)

const defaultTimeout = 10 * time.Second

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Client issues eth_call requests against per-network endpoint lists.
// Endpoints are tried in order; an HTTP failure, transport error, or
// RPC error object moves on to the next one. A shared breaker, when
// set, trips the whole pool after repeated total failures.
type Client struct {
	endpoints map[string][]string
	http      *http.Client
	metrics   *metrics.Metrics
	breaker   *resilience.Breaker
	log       zerolog.Logger
}

// NewClient creates an RPC client over the configured endpoint map,
// keyed by canonical network identifier.
func NewClient(endpoints map[string][]string, met *metrics.Metrics, log zerolog.Logger) *Client {
	return &Client{
		endpoints: endpoints,
		http:      httputil.NewClient(defaultTimeout),
		metrics:   met,
		log:       log.With().Str("component", "rpc").Logger(),
	}
}

// WithBreaker guards the pool with a shared circuit breaker.
func (c *Client) WithBreaker(b *resilience.Breaker) *Client {
	c.breaker = b
	return c
}

// Endpoints returns the configured endpoints for a network.
func (c *Client) Endpoints(net network.Network) []string {
	return c.endpoints[net.String()]
}

// EthCall performs an eth_call of calldata against the contract on the
// given network, returning the raw hex result. An empty contract
// response ("0x" or "0x0") returns the empty string with no error.
func (c *Client) EthCall(ctx context.Context, net network.Network, to, data string) (string, error) {
	if c.breaker == nil {
		return c.ethCall(ctx, net, to, data)
	}
	var result string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = c.ethCall(ctx, net, to, data)
		return callErr
	})
	return result, err
}

func (c *Client) ethCall(ctx context.Context, net network.Network, to, data string) (string, error) {
	urls := c.endpoints[net.String()]
	if len(urls) == 0 {
		return "", apperrors.Newf(apperrors.ErrCodeConfig, "no RPC endpoints configured for %s", net)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "eth_call",
		Params:  []any{map[string]string{"to": to, "data": data}, "latest"},
		ID:      1,
	}

	var lastErr error
	for _, url := range urls {
		start := time.Now()
		result, err := c.call(ctx, url, req)
		if c.metrics != nil {
			c.metrics.ObserveRPCCall("eth_call", net.String(), time.Since(start), err)
		}
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("url", url).Str("network", net.String()).Msg("rpc endpoint failed, trying next")
			continue
		}
		return result, nil
	}
	return "", apperrors.Wrap(apperrors.ErrCodeRPCError, "all RPC endpoints failed for "+net.String(), lastErr)
}

func (c *Client) call(ctx context.Context, url string, req rpcRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var resp rpcResponse
	if err := httputil.DoJSON(callCtx, c.http, "POST", url, nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", apperrors.Newf(apperrors.ErrCodeRPCError, "rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result string
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return "", apperrors.Wrap(apperrors.ErrCodeRPCError, "decode rpc result", err)
		}
	}
	if result == "0x" || result == "0x0" {
		return "", nil
	}
	return result, nil
}
