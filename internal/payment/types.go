// Package payment routes outbound USDC payments to protocol adapters:
// direct transfers, x402 HTTP resources, and cross-chain settlement.
package payment

import (
	"context"
	"time"

	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
)

// Method identifies a payment protocol.
type Method string

const (
	MethodTransfer   Method = "transfer"
	MethodX402       Method = "x402"
	MethodCrossChain Method = "crosschain"
)

// Status of a payment result.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Request describes one outbound payment. Recipient is an EVM address,
// a Solana address, an http(s) URL, or a chain:address pair.
type Request struct {
	WalletID          string
	Recipient         string
	Amount            money.Amount
	DestinationChain  network.Network
	FeeLevel          string
	Purpose           string
	IdempotencyKey    string
	WaitForCompletion bool
	Timeout           time.Duration
	Metadata          map[string]any
}

// Result reports the outcome of a payment attempt. Adapters fold
// expected failures into the result rather than returning errors, so
// callers branch on Success and Status.
type Result struct {
	Success       bool
	TransactionID string
	BlockchainTx  string
	Amount        money.Amount
	Recipient     string
	Method        Method
	Status        Status
	GuardsPassed  []string
	Error         string
	Metadata      map[string]any
	ResourceData  []byte
}

// Failed builds a failed result for a request.
func Failed(req Request, method Method, errMsg string) *Result {
	return &Result{
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Method:    method,
		Status:    StatusFailed,
		Error:     errMsg,
	}
}

// Simulation is the dry-run counterpart of Result.
type Simulation struct {
	WouldSucceed        bool
	Route               Method
	Reason              string
	RequiredAmount      money.Amount
	CurrentBalance      money.Amount
	EstimatedFee        money.Amount
	GuardsThatWouldPass []string
	GuardsThatWouldFail []string
}

// Adapter is a payment protocol implementation. Lower Priority values
// win routing; Supports decides eligibility for a recipient given the
// resolved source network.
type Adapter interface {
	Method() Method
	Priority() int
	Supports(recipient string, source, destination network.Network) bool
	Execute(ctx context.Context, req Request, source network.Network) *Result
	Simulate(ctx context.Context, req Request, source network.Network) *Simulation
}

// BatchResult aggregates a concurrent batch run.
type BatchResult struct {
	Total          int
	Succeeded      int
	Failed         int
	Results        []*Result
	TransactionIDs []string
}
