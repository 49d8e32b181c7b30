package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// Fund lock tuning. The lock covers the balance-check plus execute window
// of a payment so two concurrent payments cannot both observe the same
// available balance.
const (
	lockTTL      = 30 * time.Second
	lockAttempts = 3
	lockDelay    = 500 * time.Millisecond
)

// FundLocks serialises spending per wallet via storage advisory locks.
type FundLocks struct {
	store storage.Backend
	log   zerolog.Logger
}

// NewFundLocks creates a fund lock manager.
func NewFundLocks(store storage.Backend, log zerolog.Logger) *FundLocks {
	return &FundLocks{
		store: store,
		log:   log.With().Str("component", "fundlocks").Logger(),
	}
}

func lockKey(walletID string) string {
	return "lock:wallet:" + walletID
}

// Acquire takes the wallet's spending lock, retrying a few times before
// reporting the wallet busy. The returned token releases the lock.
func (f *FundLocks) Acquire(ctx context.Context, walletID string) (string, error) {
	key := lockKey(walletID)

	for attempt := 1; attempt <= lockAttempts; attempt++ {
		token, err := f.store.AcquireLock(ctx, key, lockTTL)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "acquire wallet lock", err)
		}
		if token != "" {
			return token, nil
		}

		if attempt < lockAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(lockDelay):
			}
		}
	}

	return "", apperrors.Newf(apperrors.ErrCodeWalletBusy,
		"wallet %s is locked by another payment", walletID).
		WithDetail("wallet_id", walletID)
}

// Release frees the wallet's spending lock. Releasing an expired or
// already-released lock is not an error.
func (f *FundLocks) Release(ctx context.Context, walletID, token string) {
	if token == "" {
		return
	}
	released, err := f.store.ReleaseLock(ctx, lockKey(walletID), token)
	if err != nil {
		f.log.Warn().Err(err).Str("wallet_id", walletID).Msg("release wallet lock failed")
		return
	}
	if !released {
		f.log.Debug().Str("wallet_id", walletID).Msg("wallet lock already released or expired")
	}
}
