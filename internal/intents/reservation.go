package intents

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

const reservationCollection = "fund_reservations"

// fundReservation is the stored hold, keyed by intent ID.
type fundReservation struct {
	WalletID  string       `json:"wallet_id"`
	Amount    money.Amount `json:"amount"`
	IntentID  string       `json:"intent_id"`
	CreatedAt time.Time    `json:"created_at"`
}

// Reservations tracks per-wallet fund holds for pending intents, so a
// direct payment and an unconfirmed intent cannot spend the same
// balance. Independent of guard reservations.
type Reservations struct {
	store storage.Backend
	log   zerolog.Logger
}

// NewReservations creates a fund reservation service.
func NewReservations(store storage.Backend, log zerolog.Logger) *Reservations {
	return &Reservations{
		store: store,
		log:   log.With().Str("component", "reservations").Logger(),
	}
}

// Reserve records a hold of amount on the wallet for an intent.
func (r *Reservations) Reserve(ctx context.Context, walletID string, amount money.Amount, intentID string) error {
	doc, err := storage.EncodeDocument(fundReservation{
		WalletID:  walletID,
		Amount:    amount,
		IntentID:  intentID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "encode reservation", err)
	}
	if err := r.store.Save(ctx, reservationCollection, intentID, doc); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "save reservation", err)
	}
	r.log.Debug().
		Str("wallet_id", walletID).
		Str("intent_id", intentID).
		Str("amount", amount.ToMajor()).
		Msg("funds reserved")
	return nil
}

// Release removes an intent's hold. Returns false when no hold exists.
func (r *Reservations) Release(ctx context.Context, intentID string) (bool, error) {
	released, err := r.store.Delete(ctx, reservationCollection, intentID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCodeStorageError, "release reservation", err)
	}
	if released {
		r.log.Debug().Str("intent_id", intentID).Msg("reservation released")
	}
	return released, nil
}

// ReservedTotal sums the wallet's active holds. Available balance is the
// provider balance minus this total.
func (r *Reservations) ReservedTotal(ctx context.Context, walletID string) (money.Amount, error) {
	docs, err := r.store.Query(ctx, reservationCollection, storage.Query{
		Filters: map[string]any{"wallet_id": walletID},
	})
	if err != nil {
		return money.Zero, apperrors.Wrap(apperrors.ErrCodeStorageError, "query reservations", err)
	}

	total := money.Zero
	for _, doc := range docs {
		delete(doc, storage.KeyField)
		var res fundReservation
		if err := storage.DecodeDocument(doc, &res); err != nil {
			r.log.Warn().Err(err).Msg("skipping unreadable reservation")
			continue
		}
		total, err = total.Add(res.Amount)
		if err != nil {
			return money.Zero, err
		}
	}
	return total, nil
}
