package cctp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/network"
)

// Attestation polling parameters. Standard Transfers take 13-19 minutes
// to reach finality, so the window is generous.
const (
	attestationPollInterval = 5 * time.Second
	attestationTimeout      = 20 * time.Minute
	attestationHTTPTimeout  = 10 * time.Second
)

// Attestation is a completed Iris attestation: the message bytes and
// the signature needed by receiveMessage on the destination chain.
type Attestation struct {
	Message   string
	Signature string
}

type irisMessage struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
	Message     string `json:"message"`
}

type irisResponse struct {
	Messages []irisMessage `json:"messages"`
}

// AttestationClient polls the Circle Iris API for burn attestations.
type AttestationClient struct {
	http     *http.Client
	metrics  *metrics.Metrics
	log      zerolog.Logger
	interval time.Duration
	timeout  time.Duration
	baseURL  string // overrides the Iris endpoint when set
}

// NewAttestationClient creates an Iris client.
func NewAttestationClient(met *metrics.Metrics, log zerolog.Logger) *AttestationClient {
	return &AttestationClient{
		http:     httputil.NewClient(attestationHTTPTimeout),
		metrics:  met,
		log:      log.With().Str("component", "attestation").Logger(),
		interval: attestationPollInterval,
		timeout:  attestationTimeout,
	}
}

// SetEndpoint overrides the attestation service base URL for all
// networks. Empty keeps the per-network default.
func (c *AttestationClient) SetEndpoint(url string) {
	c.baseURL = url
}

// SetPollInterval overrides the attestation poll interval.
func (c *AttestationClient) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.interval = d
	}
}

// SetTimeout overrides the overall attestation wait deadline.
func (c *AttestationClient) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Wait polls until the burn transaction's attestation is complete. The
// first message with status "complete" wins. Not-yet-indexed responses
// (404, empty message lists) keep polling.
func (c *AttestationClient) Wait(ctx context.Context, net network.Network, domain uint32, burnTxHash string) (*Attestation, error) {
	base := c.baseURL
	if base == "" {
		base = IrisURL(net)
	}
	url := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", base, domain, burnTxHash)
	c.log.Info().Str("url", url).Msg("polling for attestation")

	deadline := time.Now().Add(c.timeout)
	for {
		attestation, err := c.poll(ctx, url)
		if err == nil && attestation != nil {
			c.observe("complete")
			return attestation, nil
		}
		if err != nil {
			c.log.Debug().Err(err).Msg("attestation poll attempt failed")
			c.observe("error")
		} else {
			c.observe("pending")
		}

		if time.Now().After(deadline) {
			return nil, apperrors.New(apperrors.ErrCodeTransactionTimeout,
				"attestation polling timed out").
				WithDetail("burn_tx_hash", burnTxHash).
				WithDetail("attestation_url", url)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.ErrCodeTransactionTimeout, "attestation wait cancelled", ctx.Err())
		case <-time.After(c.interval):
		}
	}
}

func (c *AttestationClient) poll(ctx context.Context, url string) (*Attestation, error) {
	var resp irisResponse
	if err := httputil.DoJSON(ctx, c.http, "GET", url, nil, nil, &resp); err != nil {
		var statusErr *httputil.StatusError
		// A 404 just means the indexer has not seen the burn yet.
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	for _, msg := range resp.Messages {
		if msg.Status == "complete" {
			return &Attestation{Message: msg.Message, Signature: msg.Attestation}, nil
		}
	}
	return nil, nil
}

func (c *AttestationClient) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.AttestationPollsTotal.WithLabelValues(outcome).Inc()
	}
}
