package payment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/cctp"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/wallet"
)

// crossChainTransferer runs the burn/attest/mint sequence.
type crossChainTransferer interface {
	Transfer(ctx context.Context, req cctp.Request) (*cctp.Result, error)
}

// CrossChainAdapter settles payments on another chain. Same-chain
// requests that arrive with an explicit destination degrade to a direct
// transfer; everything else drives the CCTP state machine.
type CrossChainAdapter struct {
	cctp    crossChainTransferer
	wallets transferService
	log     zerolog.Logger
}

// NewCrossChainAdapter creates the cross-chain adapter.
func NewCrossChainAdapter(transferer crossChainTransferer, wallets transferService, log zerolog.Logger) *CrossChainAdapter {
	return &CrossChainAdapter{
		cctp:    transferer,
		wallets: wallets,
		log:     log.With().Str("adapter", "crosschain").Logger(),
	}
}

func (a *CrossChainAdapter) Method() Method { return MethodCrossChain }
func (a *CrossChainAdapter) Priority() int  { return PriorityCrossChain }

// Supports accepts any payment with an explicit destination chain.
func (a *CrossChainAdapter) Supports(_ string, _, destination network.Network) bool {
	return destination != ""
}

func (a *CrossChainAdapter) Execute(ctx context.Context, req Request, source network.Network) *Result {
	dest := req.DestinationChain
	if dest == "" {
		return Failed(req, MethodCrossChain, "destination chain is required")
	}

	if dest == source {
		return a.sameChain(ctx, req, source)
	}

	transfer, err := a.cctp.Transfer(ctx, cctp.Request{
		WalletID:       req.WalletID,
		Source:         source,
		Destination:    dest,
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		FeeLevel:       req.FeeLevel,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return Failed(req, MethodCrossChain, err.Error())
	}

	flow := "burn_attestation_mint"
	if transfer.Relayed {
		flow = "burn_attestation_relay"
	}
	return &Result{
		Success:       true,
		TransactionID: transfer.BurnTxID,
		BlockchainTx:  transfer.BurnTxHash,
		Amount:        req.Amount,
		Recipient:     req.Recipient,
		Method:        MethodCrossChain,
		Status:        StatusCompleted,
		Metadata: map[string]any{
			"cctp_version":            "v2",
			"cctp_flow":               flow,
			"transfer_mode":           transfer.TransferMode,
			"source_network":          source.String(),
			"destination_network":     dest.String(),
			"source_domain":           transfer.SourceDomain,
			"destination_domain":      transfer.DestinationDomain,
			"burn_tx_hash":            transfer.BurnTxHash,
			"mint_tx_hash":            transfer.MintTxHash,
			"manual_mint_required":    transfer.ManualMintRequired,
			"max_fee_atomic":          transfer.MaxFee,
			"min_finality_threshold":  transfer.FinalityThreshold,
			"purpose":                 req.Purpose,
		},
	}
}

// sameChain delegates to a plain transfer when the destination resolves
// to the wallet's own network.
func (a *CrossChainAdapter) sameChain(ctx context.Context, req Request, source network.Network) *Result {
	tx, err := a.wallets.Transfer(ctx, req.WalletID, req.Recipient, req.Amount, wallet.TransferOptions{
		FeeLevel:          req.FeeLevel,
		IdempotencyKey:    req.IdempotencyKey,
		WaitForCompletion: true,
		Timeout:           req.Timeout,
	})
	if err != nil {
		return Failed(req, MethodCrossChain, err.Error())
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
		Method:        MethodCrossChain,
		Status:        status,
		Metadata: map[string]any{
			"same_chain":          true,
			"destination_network": source.String(),
			"purpose":             req.Purpose,
		},
	}
}

func (a *CrossChainAdapter) Simulate(ctx context.Context, req Request, source network.Network) *Simulation {
	dest := req.DestinationChain
	if dest == "" {
		return &Simulation{Reason: "destination chain is required"}
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
	if dest == source {
		return &Simulation{WouldSucceed: true, CurrentBalance: balance}
	}

	if !cctp.Supported(source) || cctp.TokenMessenger(source) == "" {
		return &Simulation{Reason: fmt.Sprintf("source network %s not supported for cross-chain transfers", source)}
	}
	if !cctp.Supported(dest) {
		return &Simulation{Reason: fmt.Sprintf("destination network %s not supported for cross-chain transfers", dest)}
	}
	return &Simulation{WouldSucceed: true, CurrentBalance: balance}
}
