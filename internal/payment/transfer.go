package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/provider"
	"github.com/agentpay/agentpay-go/internal/wallet"
)

// transferService is the wallet surface the transfer adapter needs.
type transferService interface {
	Transfer(ctx context.Context, walletID, destination string, amount money.Amount, opts wallet.TransferOptions) (*provider.Transaction, error)
	USDCBalance(ctx context.Context, walletID string) (money.Amount, string, error)
}

// TransferAdapter settles payments with a direct USDC transfer on the
// source network. It is the lowest-priority fallback for plain
// addresses.
type TransferAdapter struct {
	wallets transferService
	log     zerolog.Logger
}

// NewTransferAdapter creates the direct-transfer adapter.
func NewTransferAdapter(wallets transferService, log zerolog.Logger) *TransferAdapter {
	return &TransferAdapter{wallets: wallets, log: log.With().Str("adapter", "transfer").Logger()}
}

func (a *TransferAdapter) Method() Method { return MethodTransfer }
func (a *TransferAdapter) Priority() int  { return PriorityTransfer }

// Supports accepts recipients whose format matches the source network's
// address shape, and only same-chain requests.
func (a *TransferAdapter) Supports(recipient string, source, destination network.Network) bool {
	if destination != "" && destination != source {
		return false
	}
	return source.MatchesAddressFormat(recipient)
}

func (a *TransferAdapter) Execute(ctx context.Context, req Request, source network.Network) *Result {
	tx, err := a.wallets.Transfer(ctx, req.WalletID, req.Recipient, req.Amount, wallet.TransferOptions{
		FeeLevel:          req.FeeLevel,
		IdempotencyKey:    req.IdempotencyKey,
		WaitForCompletion: req.WaitForCompletion,
		Timeout:           req.Timeout,
	})
	if err != nil {
		return Failed(req, MethodTransfer, err.Error())
	}

	status := StatusProcessing
	switch {
	case tx.Succeeded():
		status = StatusCompleted
	case tx.IsTerminal():
		status = StatusFailed
	}

	return &Result{
		Success:       status != StatusFailed,
		TransactionID: tx.ID,
		BlockchainTx:  tx.TxHash,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		Method:        MethodTransfer,
		Status:        status,
		Metadata: map[string]any{
			"purpose":         req.Purpose,
			"fee_level":       req.FeeLevel,
			"tx_state":        tx.State,
			"idempotency_key": req.IdempotencyKey,
			"source_network":  source.String(),
		},
	}
}

func (a *TransferAdapter) Simulate(ctx context.Context, req Request, source network.Network) *Simulation {
	if !a.Supports(req.Recipient, source, req.DestinationChain) {
		return &Simulation{Reason: fmt.Sprintf("invalid address format for %s: %s", source, req.Recipient)}
	}

	balance, _, err := a.wallets.USDCBalance(ctx, req.WalletID)
	if err != nil {
		return &Simulation{Reason: "balance check failed: " + err.Error()}
	}
	if balance.LessThan(req.Amount) {
		return &Simulation{
			CurrentBalance: balance,
			Reason:         fmt.Sprintf("insufficient balance: %s < %s", balance.ToMajor(), req.Amount.ToMajor()),
		}
	}
	return &Simulation{WouldSucceed: true, CurrentBalance: balance}
}
