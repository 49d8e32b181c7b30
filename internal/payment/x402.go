package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/httputil"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/provider"
	"github.com/agentpay/agentpay-go/internal/wallet"
	"github.com/agentpay/agentpay-go/pkg/x402"
)

const (
	x402HTTPTimeout     = 30 * time.Second
	x402MaxResponseBody = 4 << 20
)

// x402WalletService adds wallet metadata lookup to the transfer surface;
// the payment proof carries the payer's on-chain address.
type x402WalletService interface {
	transferService
	Get(ctx context.Context, walletID string) (*provider.Wallet, error)
}

// X402Adapter pays for HTTP resources behind 402 responses: settle the
// demanded amount on chain, then retry the request with a payment proof
// header. Highest routing priority so URLs never fall through to the
// address adapters.
type X402Adapter struct {
	wallets    x402WalletService
	crossChain Adapter // settles when the seller lives on another chain
	http       *http.Client
	log        zerolog.Logger
	maxSettle  time.Duration // cap on the settlement window, 0 = unbounded
}

// NewX402Adapter creates the x402 adapter. crossChain may be nil, in
// which case cross-chain requirements fail the payment.
func NewX402Adapter(wallets x402WalletService, crossChain Adapter, log zerolog.Logger) *X402Adapter {
	return &X402Adapter{
		wallets:    wallets,
		crossChain: crossChain,
		http:       httputil.NewClient(x402HTTPTimeout),
		log:        log.With().Str("adapter", "x402").Logger(),
	}
}

// SetMaxSettleTimeout caps how long a settlement may run regardless of
// the maxTimeoutSeconds the seller advertises.
func (a *X402Adapter) SetMaxSettleTimeout(d time.Duration) {
	if d > 0 {
		a.maxSettle = d
	}
}

func (a *X402Adapter) Method() Method { return MethodX402 }
func (a *X402Adapter) Priority() int  { return PriorityX402 }

// Supports accepts any http(s) URL.
func (a *X402Adapter) Supports(recipient string, _, _ network.Network) bool {
	return network.IsURL(recipient)
}

func (a *X402Adapter) Execute(ctx context.Context, req Request, source network.Network) *Result {
	url := req.Recipient

	status, header, body, err := a.fetch(ctx, url, nil)
	if err != nil {
		return Failed(req, MethodX402, "resource request failed: "+err.Error())
	}
	if status != http.StatusPaymentRequired {
		// Free resource; nothing to settle.
		return &Result{
			Success:      true,
			Recipient:    url,
			Method:       MethodX402,
			Status:       StatusCompleted,
			ResourceData: body,
			Metadata:     map[string]any{"http_status": status, "note": "resource does not require payment"},
		}
	}

	requirements := parseRequirements(body, header, url)
	if requirements == nil {
		return Failed(req, MethodX402, "server returned 402 but no parseable payment requirements")
	}

	required, err := requirements.Amount()
	if err != nil {
		return Failed(req, MethodX402, "unreadable required amount: "+err.Error())
	}
	if required.GreaterThan(req.Amount) {
		return Failed(req, MethodX402,
			fmt.Sprintf("required %s exceeds cap %s", required.ToMajor(), req.Amount.ToMajor()))
	}
	if requirements.Recipient == "" {
		return Failed(req, MethodX402, "no payment address in requirements")
	}

	sellerNetwork, err := network.FromString(requirements.Network)
	if err != nil {
		return Failed(req, MethodX402, "invalid network in payment requirements: "+requirements.Network)
	}

	settleCtx := ctx
	if window := a.settleWindow(requirements); window > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, window)
		defer cancel()
	}
	txID, txHash, settleErr := a.settle(settleCtx, req, requirements.Recipient, required, source, sellerNetwork)
	if settleErr != "" {
		return Failed(req, MethodX402, settleErr)
	}

	payerWallet, err := a.wallets.Get(ctx, req.WalletID)
	if err != nil {
		return Failed(req, MethodX402, "payer wallet lookup failed: "+err.Error())
	}

	payload := x402.NewPayload(requirements, x402.Proof{
		TransactionHash: txHash,
		FromAddress:     payerWallet.Address,
		ToAddress:       requirements.Recipient,
		Amount:          required.ToMajor(),
	}, url)
	proofHeader, err := payload.Header()
	if err != nil {
		return Failed(req, MethodX402, err.Error())
	}

	finalStatus, finalHeader, finalBody, err := a.fetch(ctx, url, map[string]string{
		x402.HeaderPaymentSignature: proofHeader,
	})
	if err != nil {
		return Failed(req, MethodX402, "proof delivery failed: "+err.Error())
	}

	crossChain := sellerNetwork != source
	if finalStatus != http.StatusOK {
		// Settlement already landed on chain; the refusal is the
		// server's, and the transfer stays visible in the ledger.
		result := Failed(req, MethodX402, fmt.Sprintf("resource rejected payment proof: HTTP %d", finalStatus))
		result.TransactionID = txID
		result.BlockchainTx = txHash
		result.Amount = required
		return result
	}

	return &Result{
		Success:       true,
		TransactionID: txID,
		BlockchainTx:  txHash,
		Amount:        required,
		Recipient:     url,
		Method:        MethodX402,
		Status:        StatusCompleted,
		ResourceData:  finalBody,
		Metadata: map[string]any{
			"http_status":      finalStatus,
			"payment_response": finalHeader.Get(x402.HeaderPaymentResponse),
			"cross_chain":      crossChain,
			"seller_network":   sellerNetwork.String(),
		},
	}
}

// settleWindow is the smaller of the seller's maxTimeoutSeconds and the
// configured cap. Zero means no bound beyond the caller's context.
func (a *X402Adapter) settleWindow(requirements *x402.Requirements) time.Duration {
	window := a.maxSettle
	if requirements.MaxTimeoutSeconds > 0 {
		advertised := time.Duration(requirements.MaxTimeoutSeconds) * time.Second
		if window == 0 || advertised < window {
			window = advertised
		}
	}
	return window
}

// settle moves the funds: a direct transfer on the shared chain, or a
// cross-chain delegation when the seller lives elsewhere. Returns a
// non-empty error string on failure.
func (a *X402Adapter) settle(ctx context.Context, req Request, payTo string, amount money.Amount, source, seller network.Network) (txID, txHash string, errMsg string) {
	if seller != source {
		if a.crossChain == nil {
			return "", "", fmt.Sprintf("seller on %s but cross-chain settlement unavailable", seller)
		}
		sub := Request{
			WalletID:          req.WalletID,
			Recipient:         payTo,
			Amount:            amount,
			DestinationChain:  seller,
			FeeLevel:          req.FeeLevel,
			Purpose:           req.Purpose,
			WaitForCompletion: true,
		}
		result := a.crossChain.Execute(ctx, sub, source)
		if !result.Success {
			return result.TransactionID, result.BlockchainTx, "cross-chain settlement failed: " + result.Error
		}
		return result.TransactionID, result.BlockchainTx, ""
	}

	tx, err := a.wallets.Transfer(ctx, req.WalletID, payTo, amount, wallet.TransferOptions{
		FeeLevel:          req.FeeLevel,
		WaitForCompletion: true,
		Timeout:           req.Timeout,
	})
	if err != nil {
		return "", "", "transfer failed: " + err.Error()
	}
	if tx.IsTerminal() && !tx.Succeeded() {
		return tx.ID, tx.TxHash, "transfer ended in state " + tx.State
	}
	return tx.ID, tx.TxHash, ""
}

func (a *X402Adapter) Simulate(ctx context.Context, req Request, _ network.Network) *Simulation {
	if !network.IsURL(req.Recipient) {
		return &Simulation{Reason: "invalid URL format: " + req.Recipient}
	}

	status, header, body, err := a.fetch(ctx, req.Recipient, nil)
	if err != nil {
		return &Simulation{Reason: "error checking URL: " + err.Error()}
	}
	if status != http.StatusPaymentRequired {
		return &Simulation{WouldSucceed: true, Reason: "resource does not require payment"}
	}

	requirements := parseRequirements(body, header, req.Recipient)
	if requirements == nil {
		return &Simulation{Reason: "no payment requirements in 402 response"}
	}
	required, err := requirements.Amount()
	if err != nil {
		return &Simulation{Reason: "unreadable required amount: " + err.Error()}
	}
	if required.GreaterThan(req.Amount) {
		return &Simulation{
			RequiredAmount: required,
			Reason:         fmt.Sprintf("required %s exceeds cap %s", required.ToMajor(), req.Amount.ToMajor()),
		}
	}

	balance, _, err := a.wallets.USDCBalance(ctx, req.WalletID)
	if err != nil {
		return &Simulation{RequiredAmount: required, Reason: "balance check failed: " + err.Error()}
	}
	if balance.LessThan(required) {
		return &Simulation{
			RequiredAmount: required,
			CurrentBalance: balance,
			Reason:         fmt.Sprintf("insufficient balance: %s < %s", balance.ToMajor(), required.ToMajor()),
		}
	}
	return &Simulation{WouldSucceed: true, RequiredAmount: required, CurrentBalance: balance}
}

// parseRequirements prefers the JSON body, then the V1 header.
func parseRequirements(body []byte, header http.Header, url string) *x402.Requirements {
	if req, err := x402.ParseRequirements(body, url); err == nil {
		return req
	}
	if v1 := header.Get(x402.HeaderPaymentRequired); v1 != "" {
		if req, err := x402.ParseRequirementsHeader(v1); err == nil {
			return req
		}
	}
	return nil
}

// fetch performs a GET and returns status, headers, and a size-capped
// body.
func (a *X402Adapter) fetch(ctx context.Context, url string, headers map[string]string) (int, http.Header, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, x402MaxResponseBody))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}
