// Package intents implements authorise-then-capture payments. An intent
// reserves funds and passes guards at creation but executes nothing until
// confirmed, so an operator or agent policy can approve between the two.
package intents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// Intent statuses.
const (
	StatusRequiresConfirmation = "REQUIRES_CONFIRMATION"
	StatusProcessing           = "PROCESSING"
	StatusSucceeded            = "SUCCEEDED"
	StatusCanceled             = "CANCELED"
	StatusFailed               = "FAILED"
)

const intentCollection = "payment_intents"

// Intent is one authorised payment awaiting confirmation.
type Intent struct {
	ID             string         `json:"id"`
	WalletID       string         `json:"wallet_id"`
	Recipient      string         `json:"recipient"`
	Amount         money.Amount   `json:"amount"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	Purpose        string         `json:"purpose,omitempty"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	ReservedAmount money.Amount   `json:"reserved_amount"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ClientSecret   string         `json:"client_secret,omitempty"`
}

// Expired reports whether the intent's confirmation window has passed.
func (i *Intent) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

var intentTransitions = map[string][]string{
	StatusRequiresConfirmation: {StatusProcessing, StatusCanceled, StatusFailed},
	StatusProcessing:           {StatusSucceeded, StatusFailed},
}

func intentTransitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range intentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateParams describe a new intent.
type CreateParams struct {
	WalletID  string
	Recipient string
	Amount    money.Amount
	Currency  string
	Purpose   string
	ExpiresIn time.Duration
	Metadata  map[string]any
}

// Service persists intents and enforces their status transitions.
type Service struct {
	store storage.Backend
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates an intent service.
func NewService(store storage.Backend, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "intents").Logger(),
		now:   time.Now,
	}
}

func intentKey(id string) string {
	return "intent:" + id
}

// Create persists a new intent in REQUIRES_CONFIRMATION. The caller is
// responsible for having reserved funds first.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Intent, error) {
	if params.WalletID == "" || params.Recipient == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingField, "intent requires wallet_id and recipient")
	}
	if !params.Amount.IsPositive() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount, "intent amount must be positive")
	}
	currency := params.Currency
	if currency == "" {
		currency = "USDC"
	}

	now := s.now().UTC()
	intent := &Intent{
		ID:             uuid.NewString(),
		WalletID:       params.WalletID,
		Recipient:      params.Recipient,
		Amount:         params.Amount,
		Currency:       currency,
		Status:         StatusRequiresConfirmation,
		CreatedAt:      now,
		Purpose:        params.Purpose,
		ReservedAmount: params.Amount,
		Metadata:       params.Metadata,
		ClientSecret:   "pis_" + uuid.NewString(),
	}
	if params.ExpiresIn > 0 {
		expires := now.Add(params.ExpiresIn)
		intent.ExpiresAt = &expires
	}

	if err := s.save(ctx, intent); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("intent_id", intent.ID).
		Str("wallet_id", intent.WalletID).
		Str("amount", intent.Amount.ToMajor()).
		Msg("payment intent created")
	return intent, nil
}

// Get fetches an intent by ID, or nil when missing.
func (s *Service) Get(ctx context.Context, id string) (*Intent, error) {
	doc, err := s.store.Get(ctx, intentCollection, intentKey(id))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "get intent", err)
	}
	if doc == nil {
		return nil, nil
	}
	var intent Intent
	if err := storage.DecodeDocument(doc, &intent); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "decode intent", err)
	}
	return &intent, nil
}

// UpdateStatus transitions an intent's status, enforcing the lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Intent, error) {
	intent, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !intentTransitionAllowed(intent.Status, status) {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField,
			"intent %s cannot transition %s -> %s", id, intent.Status, status)
	}

	intent.Status = status
	if err := s.save(ctx, intent); err != nil {
		return nil, err
	}
	s.log.Debug().Str("intent_id", id).Str("status", status).Msg("intent status updated")
	return intent, nil
}

// Cancel moves an intent to CANCELED with a reason. Only intents still
// awaiting confirmation can be cancelled.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Intent, error) {
	intent, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status != StatusRequiresConfirmation {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField,
			"cannot cancel intent in status %s", intent.Status)
	}

	intent.Status = StatusCanceled
	intent.CancelReason = reason
	if err := s.save(ctx, intent); err != nil {
		return nil, err
	}
	s.log.Info().Str("intent_id", id).Str("reason", reason).Msg("intent cancelled")
	return intent, nil
}

func (s *Service) mustGet(ctx context.Context, id string) (*Intent, error) {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField, "intent %s not found", id)
	}
	return intent, nil
}

func (s *Service) save(ctx context.Context, intent *Intent) error {
	doc, err := storage.EncodeDocument(intent)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "encode intent", err)
	}
	if err := s.store.Save(ctx, intentCollection, intentKey(intent.ID), doc); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeStorageError, "save intent", err)
	}
	return nil
}
