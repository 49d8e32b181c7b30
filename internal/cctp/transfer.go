package cctp

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/logger"
	"github.com/agentpay/agentpay-go/internal/metrics"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/provider"
)

// Phase names the step a transfer is in, recorded in metrics and
// surfaced in timeout errors.
type Phase string

const (
	PhaseApproving Phase = "APPROVING"
	PhaseBurning   Phase = "BURNING"
	PhaseAttesting Phase = "ATTESTING"
	PhaseMinting   Phase = "MINTING"
	PhaseDone      Phase = "DONE"
)

// Per-phase polling windows. The burn window is widest because some
// chains take minutes to surface a transaction hash.
const (
	txPollInterval = 2 * time.Second
	approveTimeout = 2 * time.Minute
	burnTimeout    = 5 * time.Minute
	mintTimeout    = 2 * time.Minute
)

// Executor is the provider subset that submits and polls on-chain
// contract executions.
type Executor interface {
	CreateContractExecution(ctx context.Context, req provider.ContractExecutionRequest) (*provider.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*provider.Transaction, error)
}

// WalletDirectory locates destination-chain wallets and reads gas
// balances.
type WalletDirectory interface {
	NativeBalance(ctx context.Context, walletID string) (string, error)
	FindLiveWallet(ctx context.Context, n network.Network, excludeID string) (*provider.Wallet, error)
}

// Request describes one cross-chain transfer.
type Request struct {
	WalletID       string
	Source         network.Network
	Destination    network.Network
	Recipient      string
	Amount         money.Amount
	StandardOnly   bool // force Standard Transfer over Fast
	FeeLevel       string
	IdempotencyKey string
}

// Result reports a finished transfer. The burn transaction is the
// primary record; the mint hash is set only for agent-side minting.
type Result struct {
	BurnTxID   string
	BurnTxHash string
	MintTxHash string

	Relayed            bool
	ManualMintRequired bool
	TransferMode       string
	SourceDomain       uint32
	DestinationDomain  uint32
	MaxFee             int64
	FinalityThreshold  int
	AttestationMessage string
	MintError          string
}

// Transferer runs the CCTP V2 state machine.
type Transferer struct {
	executor    Executor
	wallets     WalletDirectory
	attestation *AttestationClient
	metrics     *metrics.Metrics
	log         zerolog.Logger

	pollInterval time.Duration
	maxFee       int64
}

// NewTransferer creates a CCTP transferer.
func NewTransferer(executor Executor, wallets WalletDirectory, attestation *AttestationClient, met *metrics.Metrics, log zerolog.Logger) *Transferer {
	return &Transferer{
		executor:     executor,
		wallets:      wallets,
		attestation:  attestation,
		metrics:      met,
		log:          log.With().Str("component", "cctp").Logger(),
		pollInterval: txPollInterval,
		maxFee:       int64(DefaultMaxFee),
	}
}

// SetPollInterval overrides the on-chain confirmation poll interval.
func (t *Transferer) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// SetDefaultMaxFee overrides the atomic-unit fee offered for Fast
// Transfers.
func (t *Transferer) SetDefaultMaxFee(fee int64) {
	if fee > 0 {
		t.maxFee = fee
	}
}

// Transfer burns USDC on the source chain, waits for the attestation,
// and settles on the destination either via the forwarding service or
// by minting from a destination-chain wallet. A failed agent-side mint
// does not fail the transfer; the funds are attested and mintable, so
// the result flags manual minting instead.
func (t *Transferer) Transfer(ctx context.Context, req Request) (*Result, error) {
	sourceDomain, ok := Domain(req.Source)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig, "source network %s not supported by CCTP", req.Source)
	}
	destDomain, ok := Domain(req.Destination)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig, "destination network %s not supported by CCTP", req.Destination)
	}
	tokenMessenger := TokenMessenger(req.Source)
	usdcAddress := USDCContract(req.Source)
	if tokenMessenger == "" || usdcAddress == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeConfig, "CCTP V2 contracts not configured for %s", req.Source)
	}

	// Gas pre-flight. Arc pays gas in USDC and skips the check.
	if req.Source != network.ArcTestnet {
		nativeBalance, err := t.wallets.NativeBalance(ctx, req.WalletID)
		if err != nil {
			return nil, err
		}
		if ok, reason := CheckGas(req.Source, nativeBalance); !ok {
			return nil, apperrors.New(apperrors.ErrCodeInsufficientBalance, reason).
				WithDetail("wallet_id", req.WalletID)
		}
	}

	// Arc cannot source Fast Transfers, and relayed minting reverts
	// there, so it always runs Standard with agent-side settlement.
	finality := FastTransferThreshold
	maxFee := t.maxFee
	mode := "fast"
	if req.StandardOnly || req.Source == network.ArcTestnet {
		finality = StandardTransferThreshold
		mode = "standard"
	}
	if req.Source == network.ArcTestnet {
		maxFee = 0
	}

	result := &Result{
		TransferMode:      mode,
		SourceDomain:      sourceDomain,
		DestinationDomain: destDomain,
		MaxFee:            maxFee,
		FinalityThreshold: finality,
	}
	amountAtomic := strconv.FormatInt(req.Amount.Atomic, 10)

	t.log.Info().
		Str("wallet_id", req.WalletID).
		Str("source", req.Source.String()).
		Str("destination", req.Destination.String()).
		Str("recipient", logger.TruncateAddress(req.Recipient)).
		Str("amount", req.Amount.ToMajor()).
		Str("mode", mode).
		Msg("starting cross-chain transfer")

	// Approve the TokenMessenger before burning; submitting the burn
	// while the approval is unconfirmed races and reverts.
	if err := t.approve(ctx, req, tokenMessenger, usdcAddress, amountAtomic); err != nil {
		return nil, err
	}

	burnTx, err := t.burn(ctx, req, tokenMessenger, usdcAddress, amountAtomic, destDomain, maxFee, finality)
	if err != nil {
		return nil, err
	}
	result.BurnTxID = burnTx.ID
	result.BurnTxHash = burnTx.TxHash

	attestation, err := t.attest(ctx, req.Source, sourceDomain, burnTx.TxHash)
	if err != nil {
		return nil, err
	}
	result.AttestationMessage = attestation.Message

	// maxFee > 0 hands settlement to the forwarding service, except on
	// Arc where the relayer cannot deliver.
	result.Relayed = maxFee > 0
	shouldMint := !result.Relayed || req.Destination == network.ArcTestnet
	if shouldMint {
		mintHash, mintErr := t.mint(ctx, req.Destination, attestation)
		if mintErr != nil {
			t.log.Warn().Err(mintErr).Msg("agent-side mint failed, manual mint required")
			result.ManualMintRequired = true
			result.MintError = mintErr.Error()
		} else {
			result.MintTxHash = mintHash
		}
	}

	if t.metrics != nil {
		t.metrics.ObserveCrossChain(req.Source.String(), req.Destination.String(), "completed")
	}
	t.log.Info().
		Str("burn_tx_hash", result.BurnTxHash).
		Str("mint_tx_hash", result.MintTxHash).
		Bool("relayed", result.Relayed).
		Msg("cross-chain transfer settled")
	return result, nil
}

func (t *Transferer) approve(ctx context.Context, req Request, tokenMessenger, usdcAddress, amountAtomic string) error {
	defer t.phaseTimer(PhaseApproving)()

	approveTx, err := t.executor.CreateContractExecution(ctx, provider.ContractExecutionRequest{
		WalletID:          req.WalletID,
		ContractAddress:   usdcAddress,
		FunctionSignature: "approve(address,uint256)",
		Parameters:        []any{tokenMessenger, amountAtomic},
		FeeLevel:          req.FeeLevel,
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodePaymentFailed, "USDC approval submission failed", err)
	}

	tx, err := t.waitTerminalOrState(ctx, approveTx.ID, approveTimeout, PhaseApproving, false)
	if err != nil {
		return err
	}
	if tx.State == provider.TxStateFailed {
		return apperrors.New(apperrors.ErrCodePaymentFailed, "USDC approval reverted on chain").
			WithDetail("transaction_id", tx.ID)
	}
	t.log.Info().Str("tx_hash", tx.TxHash).Msg("approval confirmed")
	return nil
}

func (t *Transferer) burn(ctx context.Context, req Request, tokenMessenger, usdcAddress, amountAtomic string, destDomain uint32, maxFee int64, finality int) (*provider.Transaction, error) {
	defer t.phaseTimer(PhaseBurning)()

	burnTx, err := t.executor.CreateContractExecution(ctx, provider.ContractExecutionRequest{
		WalletID:          req.WalletID,
		ContractAddress:   tokenMessenger,
		FunctionSignature: "depositForBurn(uint256,uint32,bytes32,address,bytes32,uint256,uint32)",
		Parameters: []any{
			amountAtomic,
			strconv.FormatUint(uint64(destDomain), 10),
			MintRecipientWord(req.Recipient),
			usdcAddress,
			emptyDestinationCaller,
			strconv.FormatInt(maxFee, 10),
			strconv.Itoa(finality),
		},
		FeeLevel:       req.FeeLevel,
		IdempotencyKey: burnIdempotencyKey(req.IdempotencyKey),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodePaymentFailed, "depositForBurn submission failed", err)
	}

	tx, err := t.waitTerminalOrState(ctx, burnTx.ID, burnTimeout, PhaseBurning, true)
	if err != nil {
		return nil, err
	}
	if tx.State == provider.TxStateFailed {
		return nil, apperrors.New(apperrors.ErrCodePaymentFailed, "burn transaction reverted on chain").
			WithDetail("transaction_id", tx.ID).
			WithDetail("tx_hash", tx.TxHash)
	}
	if tx.TxHash == "" {
		return nil, apperrors.NewTransactionTimeoutError(tx.ID, tx.State, burnTimeout.Seconds())
	}
	t.log.Info().Str("tx_hash", tx.TxHash).Msg("burn confirmed")
	return tx, nil
}

// burnIdempotencyKey derives a distinct key for the depositForBurn
// submission so a replayed request converges on both the approval and
// the burn without the two calls colliding on one provider-side key.
func burnIdempotencyKey(key string) string {
	if key == "" {
		return ""
	}
	return key + "-burn"
}

func (t *Transferer) attest(ctx context.Context, source network.Network, domain uint32, burnTxHash string) (*Attestation, error) {
	defer t.phaseTimer(PhaseAttesting)()
	return t.attestation.Wait(ctx, source, domain, burnTxHash)
}

// mint settles on the destination chain by calling receiveMessage from
// any live wallet there.
func (t *Transferer) mint(ctx context.Context, dest network.Network, attestation *Attestation) (string, error) {
	defer t.phaseTimer(PhaseMinting)()

	transmitter := MessageTransmitter(dest)
	if transmitter == "" {
		return "", apperrors.Newf(apperrors.ErrCodeConfig, "no MessageTransmitter configured for %s", dest)
	}

	executor, err := t.wallets.FindLiveWallet(ctx, dest, "")
	if err != nil {
		return "", err
	}
	if executor == nil {
		return "", apperrors.Newf(apperrors.ErrCodeWalletNotFound,
			"no live wallet on %s to execute minting", dest)
	}

	mintTx, err := t.executor.CreateContractExecution(ctx, provider.ContractExecutionRequest{
		WalletID:          executor.ID,
		ContractAddress:   transmitter,
		FunctionSignature: "receiveMessage(bytes,bytes)",
		Parameters:        []any{attestation.Message, attestation.Signature},
		FeeLevel:          provider.FeeLevelMedium,
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodePaymentFailed, "mint submission failed", err)
	}

	tx, err := t.waitTerminalOrState(ctx, mintTx.ID, mintTimeout, PhaseMinting, false)
	if err != nil {
		return "", err
	}
	if tx.State == provider.TxStateFailed {
		return "", apperrors.New(apperrors.ErrCodePaymentFailed, "mint transaction reverted on chain").
			WithDetail("transaction_id", tx.ID)
	}
	return tx.TxHash, nil
}

// waitTerminalOrState polls a provider transaction until it is terminal
// or, when hashSuffices is set, until a transaction hash appears.
func (t *Transferer) waitTerminalOrState(ctx context.Context, txID string, timeout time.Duration, phase Phase, hashSuffices bool) (*provider.Transaction, error) {
	deadline := time.Now().Add(timeout)
	var last *provider.Transaction
	for {
		tx, err := t.executor.GetTransaction(ctx, txID)
		if err != nil {
			return nil, err
		}
		last = tx
		if tx.IsTerminal() || tx.State == provider.TxStateConfirmed {
			return tx, nil
		}
		if hashSuffices && tx.TxHash != "" {
			return tx, nil
		}

		if time.Now().After(deadline) {
			lastState := ""
			if last != nil {
				lastState = last.State
			}
			return nil, apperrors.NewTransactionTimeoutError(txID, lastState, timeout.Seconds()).
				WithDetail("phase", string(phase))
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.ErrCodeTransactionTimeout, "transaction wait cancelled", ctx.Err())
		case <-time.After(t.pollInterval):
		}
	}
}

func (t *Transferer) phaseTimer(phase Phase) func() {
	start := time.Now()
	return func() {
		if t.metrics != nil {
			t.metrics.ObserveCrossChainPhase(string(phase), time.Since(start))
		}
	}
}
