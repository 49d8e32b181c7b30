package agentpay

import (
	"context"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/guards"
	"github.com/agentpay/agentpay-go/internal/intents"
	"github.com/agentpay/agentpay-go/internal/ledger"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/payment"
	"github.com/agentpay/agentpay-go/internal/provider"
	"github.com/agentpay/agentpay-go/internal/trust"
)

// Pay executes one payment end to end: ledger entry, trust gate,
// available-balance check, guard reservation, routed execution, then
// commit or release. Guard denials and adapter failures come back as
// failed results; unexpected errors (storage, provider outages before
// execution) are returned as errors after the ledger entry is marked.
func (c *Client) Pay(ctx context.Context, req payment.Request) (*payment.Result, error) {
	if req.WalletID == "" {
		req.WalletID = c.Config.Wallet.DefaultWalletID
	}
	if req.WalletID == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingField, "wallet_id is required")
	}
	if req.Recipient == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingField, "recipient is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount, "amount must be positive")
	}
	req = payment.Normalize(req)

	w, err := c.Wallets.Get(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	source, err := network.FromString(w.Blockchain)
	if err != nil {
		return nil, err
	}

	lockToken, err := c.locks.Acquire(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	defer c.locks.Release(ctx, req.WalletID, lockToken)

	method, _ := c.router.DetectMethod(req.Recipient, source, req.DestinationChain)
	entry, err := c.Ledger.Record(ctx, ledger.Entry{
		WalletID:    req.WalletID,
		WalletSetID: w.WalletSetID,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		EntryType:   ledger.TypePayment,
		Status:      ledger.StatusPending,
		Method:      string(method),
		Purpose:     req.Purpose,
		Metadata:    map[string]any{"idempotency_key": req.IdempotencyKey},
	})
	if err != nil {
		return nil, err
	}

	pc := guards.PaymentContext{
		WalletID:    req.WalletID,
		WalletSetID: w.WalletSetID,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		Purpose:     req.Purpose,
		Metadata:    map[string]any{},
	}
	if confirmed, ok := req.Metadata[guards.OperatorConfirmedKey].(bool); ok && confirmed {
		pc.Metadata[guards.OperatorConfirmedKey] = true
	}

	if verdict := c.checkTrust(ctx, req, pc.Metadata); verdict != nil {
		c.ledgerStatus(ctx, entry.ID, ledger.StatusBlocked, "", map[string]any{
			"trust_verdict": string(verdict.Verdict),
			"trust_reason":  verdict.BlockReason,
		})
		result := payment.Failed(req, method, "trust gate: "+verdict.BlockReason)
		result.Status = payment.StatusBlocked
		result.Metadata = map[string]any{
			"trust_verdict":   string(verdict.Verdict),
			"ledger_entry_id": entry.ID,
		}
		return result, nil
	}

	available, err := c.AvailableBalance(ctx, req.WalletID)
	if err != nil {
		c.ledgerStatus(ctx, entry.ID, ledger.StatusFailed, "", map[string]any{"error": err.Error()})
		return nil, err
	}
	if req.Amount.GreaterThan(available) {
		insufficient := apperrors.NewInsufficientBalanceError(req.WalletID, available.ToMajor(), req.Amount.ToMajor())
		c.ledgerStatus(ctx, entry.ID, ledger.StatusFailed, "", map[string]any{"error": insufficient.Error()})
		return nil, insufficient
	}

	reservation, err := c.Guards.Reserve(ctx, pc)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeGuardBlocked) {
			if guards.RiskActionOf(err) == guards.RiskActionFlag {
				return c.holdForReview(ctx, req, method, entry.ID, err)
			}
			c.ledgerStatus(ctx, entry.ID, ledger.StatusBlocked, "", map[string]any{"error": err.Error()})
			result := payment.Failed(req, method, err.Error())
			result.Status = payment.StatusBlocked
			result.Metadata = map[string]any{"ledger_entry_id": entry.ID}
			return result, nil
		}
		c.ledgerStatus(ctx, entry.ID, ledger.StatusFailed, "", map[string]any{"error": err.Error()})
		return nil, err
	}

	result := c.strategy.Execute(ctx, c.router, req)
	result.GuardsPassed = reservation.PassedNames()
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["ledger_entry_id"] = entry.ID

	if result.Success {
		reservation.Commit(ctx)
	} else {
		reservation.Release(ctx)
	}

	c.ledgerStatus(ctx, entry.ID, ledgerStatusFor(result), result.BlockchainTx, map[string]any{
		"transaction_id": result.TransactionID,
		"method":         string(result.Method),
	})
	return result, nil
}

// holdForReview converts a risk-flagged payment into an intent awaiting
// operator confirmation instead of refusing it outright.
func (c *Client) holdForReview(ctx context.Context, req payment.Request, method payment.Method, entryID string, guardErr error) (*payment.Result, error) {
	intent, err := c.Intents.Create(ctx, intents.CreateParams{
		WalletID:  req.WalletID,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Purpose:   req.Purpose,
		Metadata: map[string]any{
			"risk_hold":       true,
			"ledger_entry_id": entryID,
		},
	})
	if err != nil {
		c.ledgerStatus(ctx, entryID, ledger.StatusBlocked, "", map[string]any{"error": guardErr.Error()})
		return nil, err
	}
	if err := c.reserved.Reserve(ctx, req.WalletID, req.Amount, intent.ID); err != nil {
		c.releaseHold(ctx, intent.ID)
		c.ledgerStatus(ctx, entryID, ledger.StatusBlocked, "", map[string]any{"error": guardErr.Error()})
		return nil, err
	}
	c.metrics.IntentReservedTotal.Inc()
	c.metrics.ObserveIntent(intents.StatusRequiresConfirmation)

	c.ledgerStatus(ctx, entryID, ledger.StatusBlocked, "", map[string]any{
		"error":     guardErr.Error(),
		"intent_id": intent.ID,
	})
	result := payment.Failed(req, method, guardErr.Error())
	result.Status = payment.StatusBlocked
	result.Metadata = map[string]any{
		"ledger_entry_id": entryID,
		"intent_id":       intent.ID,
		"risk_action":     guards.RiskActionFlag,
	}
	return result, nil
}

// checkTrust evaluates the trust gate for address recipients. A nil
// return means the payment may proceed; the recipient's WTS lands in
// guardMetadata for risk scoring when available.
func (c *Client) checkTrust(ctx context.Context, req payment.Request, guardMetadata map[string]any) *trust.CheckResult {
	if c.Trust == nil || !network.IsEVMAddress(req.Recipient) {
		return nil
	}
	verdict, err := c.Trust.Evaluate(ctx, req.Recipient, req.Amount, req.WalletID)
	if err != nil {
		c.log.Warn().Err(err).Str("recipient", req.Recipient).Msg("trust evaluation failed")
		return nil
	}
	if verdict.WTS != nil {
		guardMetadata[guards.TrustWTSKey] = *verdict.WTS
	}
	if verdict.Verdict == trust.VerdictApproved {
		return nil
	}
	return verdict
}

// AvailableBalance is the provider balance minus active intent holds.
func (c *Client) AvailableBalance(ctx context.Context, walletID string) (money.Amount, error) {
	balance, _, err := c.Wallets.USDCBalance(ctx, walletID)
	if err != nil {
		return money.Zero, err
	}
	reserved, err := c.reserved.ReservedTotal(ctx, walletID)
	if err != nil {
		return money.Zero, err
	}
	// Holds can exceed the live balance when funds moved out underneath
	// them; clamp to zero rather than report a negative amount.
	if reserved.GreaterThan(balance) {
		return money.Zero, nil
	}
	available, err := balance.Sub(reserved)
	if err != nil {
		return money.Zero, err
	}
	return available, nil
}

// Simulate reports whether a payment would succeed without mutating any
// state: non-mutating guard checks plus the selected adapter's dry run.
func (c *Client) Simulate(ctx context.Context, req payment.Request) (*payment.Simulation, error) {
	if req.WalletID == "" {
		req.WalletID = c.Config.Wallet.DefaultWalletID
	}
	w, err := c.Wallets.Get(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	sim := c.router.Simulate(ctx, req)

	guardResult, passed, err := c.Guards.Check(ctx, guards.PaymentContext{
		WalletID:    req.WalletID,
		WalletSetID: w.WalletSetID,
		Recipient:   req.Recipient,
		Amount:      req.Amount,
		Purpose:     req.Purpose,
	})
	if err != nil {
		return nil, err
	}
	sim.GuardsThatWouldPass = passed
	if !guardResult.Allowed {
		sim.WouldSucceed = false
		sim.Reason = guardResult.Reason
		sim.GuardsThatWouldFail = append(sim.GuardsThatWouldFail, guardResult.GuardName)
	}
	return sim, nil
}

// PayBatch executes requests with bounded concurrency through the full
// guarded flow. Result order matches request order.
func (c *Client) PayBatch(ctx context.Context, requests []payment.Request) *payment.BatchResult {
	return c.batch.Process(ctx, requests)
}

// SetBatchConcurrency overrides the batch worker limit.
func (c *Client) SetBatchConcurrency(n int) {
	c.batch.SetConcurrency(n)
}

// SyncTransaction refreshes a ledger entry from the provider's view of
// its transaction.
func (c *Client) SyncTransaction(ctx context.Context, entryID string) (*ledger.Entry, error) {
	entry, err := c.Ledger.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	txID, _ := entry.Metadata["transaction_id"].(string)
	if txID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "ledger entry has no provider transaction")
	}

	tx, err := c.txReader.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	status := entry.Status
	switch {
	case tx.Succeeded():
		status = ledger.StatusCompleted
	case tx.IsTerminal():
		status = ledger.StatusFailed
	case entry.Status == ledger.StatusPending:
		status = ledger.StatusProcessing
	}
	return c.Ledger.UpdateStatus(ctx, entryID, status, tx.TxHash, map[string]any{
		"tx_state": tx.State,
	})
}

// ledgerStatus updates an entry, logging rather than failing the
// payment when the write itself breaks.
func (c *Client) ledgerStatus(ctx context.Context, id, status, txHash string, metadata map[string]any) {
	if _, err := c.Ledger.UpdateStatus(ctx, id, status, txHash, metadata); err != nil {
		c.log.Error().Err(err).Str("entry_id", id).Str("status", status).Msg("ledger update failed")
	}
}

func ledgerStatusFor(result *payment.Result) string {
	switch result.Status {
	case payment.StatusCompleted:
		return ledger.StatusCompleted
	case payment.StatusProcessing:
		return ledger.StatusProcessing
	case payment.StatusPending:
		return ledger.StatusPending
	case payment.StatusBlocked:
		return ledger.StatusBlocked
	case payment.StatusCancelled:
		return ledger.StatusCancelled
	default:
		return ledger.StatusFailed
	}
}

// Transactions lists provider transactions for a wallet.
func (c *Client) Transactions(ctx context.Context, walletID string) ([]provider.Transaction, error) {
	return c.Provider.ListTransactions(ctx, provider.ListTransactionsFilter{WalletID: walletID})
}
