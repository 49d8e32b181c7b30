package agentpay

import (
	"context"
	"time"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/guards"
	"github.com/agentpay/agentpay-go/internal/intents"
	"github.com/agentpay/agentpay-go/internal/payment"
)

// CreateIntent authorises a payment without executing it: the request
// must pass simulation, then the amount is held against the wallet's
// available balance until the intent is confirmed or cancelled.
func (c *Client) CreateIntent(ctx context.Context, params intents.CreateParams) (*intents.Intent, error) {
	if params.WalletID == "" {
		params.WalletID = c.Config.Wallet.DefaultWalletID
	}

	sim, err := c.Simulate(ctx, payment.Request{
		WalletID:  params.WalletID,
		Recipient: params.Recipient,
		Amount:    params.Amount,
		Purpose:   params.Purpose,
	})
	if err != nil {
		return nil, err
	}
	if !sim.WouldSucceed {
		return nil, apperrors.Newf(apperrors.ErrCodePaymentFailed,
			"intent would not succeed: %s", sim.Reason)
	}

	available, err := c.AvailableBalance(ctx, params.WalletID)
	if err != nil {
		return nil, err
	}
	if params.Amount.GreaterThan(available) {
		return nil, apperrors.NewInsufficientBalanceError(params.WalletID,
			available.ToMajor(), params.Amount.ToMajor())
	}

	intent, err := c.Intents.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := c.reserved.Reserve(ctx, params.WalletID, params.Amount, intent.ID); err != nil {
		if _, cancelErr := c.Intents.Cancel(ctx, intent.ID, "reservation failed"); cancelErr != nil {
			c.log.Error().Err(cancelErr).Str("intent_id", intent.ID).Msg("intent cleanup failed")
		}
		return nil, err
	}

	c.metrics.IntentReservedTotal.Inc()
	c.metrics.ObserveIntent(intents.StatusRequiresConfirmation)
	return intent, nil
}

// ConfirmIntent captures an authorised intent: the hold is released
// just before execution so the guarded Pay flow sees true balance. An
// expired intent is cancelled and the confirmation fails.
func (c *Client) ConfirmIntent(ctx context.Context, intentID string) (*intents.Intent, *payment.Result, error) {
	intent, err := c.Intents.Get(ctx, intentID)
	if err != nil {
		return nil, nil, err
	}
	if intent == nil {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeInvalidField, "intent %s not found", intentID)
	}

	if intent.Expired(time.Now()) {
		c.releaseHold(ctx, intentID)
		if _, err := c.Intents.Cancel(ctx, intentID, "expired"); err != nil {
			return nil, nil, err
		}
		c.metrics.IntentExpiredTotal.Inc()
		return nil, nil, apperrors.New(apperrors.ErrCodeValidation, "intent has expired")
	}
	if intent.Status != intents.StatusRequiresConfirmation {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"intent is %s, not %s", intent.Status, intents.StatusRequiresConfirmation)
	}

	intent, err = c.Intents.UpdateStatus(ctx, intentID, intents.StatusProcessing)
	if err != nil {
		return nil, nil, err
	}
	c.metrics.ObserveIntent(intents.StatusProcessing)
	c.releaseHold(ctx, intentID)

	result, err := c.Pay(ctx, payment.Request{
		WalletID:  intent.WalletID,
		Recipient: intent.Recipient,
		Amount:    intent.Amount,
		Purpose:   intent.Purpose,
		Metadata:  map[string]any{guards.OperatorConfirmedKey: true},
	})
	if err != nil {
		if _, updateErr := c.Intents.UpdateStatus(ctx, intentID, intents.StatusFailed); updateErr != nil {
			c.log.Error().Err(updateErr).Str("intent_id", intentID).Msg("intent status update failed")
		}
		c.metrics.ObserveIntent(intents.StatusFailed)
		return nil, nil, err
	}

	final := intents.StatusFailed
	if result.Success {
		final = intents.StatusSucceeded
	}
	intent, err = c.Intents.UpdateStatus(ctx, intentID, final)
	if err != nil {
		return nil, result, err
	}
	c.metrics.ObserveIntent(final)
	return intent, result, nil
}

// CancelIntent cancels an unconfirmed intent and releases its hold.
func (c *Client) CancelIntent(ctx context.Context, intentID, reason string) (*intents.Intent, error) {
	intent, err := c.Intents.Cancel(ctx, intentID, reason)
	if err != nil {
		return nil, err
	}
	c.releaseHold(ctx, intentID)
	c.metrics.ObserveIntent(intents.StatusCanceled)
	return intent, nil
}

func (c *Client) releaseHold(ctx context.Context, intentID string) {
	if _, err := c.reserved.Release(ctx, intentID); err != nil {
		c.log.Error().Err(err).Str("intent_id", intentID).Msg("fund hold release failed")
	}
}
