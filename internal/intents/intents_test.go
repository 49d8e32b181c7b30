package intents

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

func newService() *Service {
	return NewService(storage.NewMemoryBackend(), zerolog.Nop())
}

func createParams() CreateParams {
	return CreateParams{
		WalletID:  "w1",
		Recipient: "0x742d35Cc6634C0532925a3b844Bc9e7595f5e4a0",
		Amount:    money.MustFromMajor("25"),
		Purpose:   "api credits",
	}
}

func TestCreateFillsDefaults(t *testing.T) {
	ctx := context.Background()
	s := newService()

	intent, err := s.Create(ctx, createParams())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		t.Errorf("identity not filled: %+v", intent)
	}
	if intent.Status != StatusRequiresConfirmation {
		t.Errorf("status = %q", intent.Status)
	}
	if intent.Currency != "USDC" {
		t.Errorf("currency = %q", intent.Currency)
	}
	if !intent.ReservedAmount.Equal(intent.Amount) {
		t.Errorf("reserved = %v, amount = %v", intent.ReservedAmount, intent.Amount)
	}
	if intent.ExpiresAt != nil {
		t.Error("expiry set without ExpiresIn")
	}

	got, err := s.Get(ctx, intent.ID)
	if err != nil || got == nil {
		t.Fatalf("Get = (%+v, %v)", got, err)
	}
	if got.Recipient != intent.Recipient {
		t.Errorf("round trip lost fields: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s := newService()

	p := createParams()
	p.WalletID = ""
	if _, err := s.Create(ctx, p); !apperrors.Is(err, apperrors.ErrCodeMissingField) {
		t.Errorf("missing wallet err = %v", err)
	}

	p = createParams()
	p.Amount = money.Zero
	if _, err := s.Create(ctx, p); !apperrors.Is(err, apperrors.ErrCodeInvalidAmount) {
		t.Errorf("zero amount err = %v", err)
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	s := newService()

	p := createParams()
	p.ExpiresIn = time.Hour
	intent, err := s.Create(ctx, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if intent.ExpiresAt == nil {
		t.Fatal("expiry not recorded")
	}
	if intent.Expired(time.Now()) {
		t.Error("intent expired immediately")
	}
	if !intent.Expired(time.Now().Add(2 * time.Hour)) {
		t.Error("intent not expired past its window")
	}
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := newService()

	intent, _ := s.Create(ctx, createParams())

	if _, err := s.UpdateStatus(ctx, intent.ID, StatusSucceeded); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("skip to SUCCEEDED err = %v, want invalid_field", err)
	}

	if _, err := s.UpdateStatus(ctx, intent.ID, StatusProcessing); err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	updated, err := s.UpdateStatus(ctx, intent.ID, StatusSucceeded)
	if err != nil {
		t.Fatalf("to SUCCEEDED: %v", err)
	}
	if updated.Status != StatusSucceeded {
		t.Errorf("status = %q", updated.Status)
	}

	// Terminal intents reject further transitions.
	if _, err := s.UpdateStatus(ctx, intent.ID, StatusFailed); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("terminal transition err = %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s := newService()

	intent, _ := s.Create(ctx, createParams())
	cancelled, err := s.Cancel(ctx, intent.ID, "operator declined")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCanceled || cancelled.CancelReason != "operator declined" {
		t.Errorf("cancelled = %+v", cancelled)
	}

	// Cancelling twice is rejected.
	if _, err := s.Cancel(ctx, intent.ID, "again"); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("double cancel err = %v", err)
	}

	// Processing intents cannot be cancelled.
	processing, _ := s.Create(ctx, createParams())
	if _, err := s.UpdateStatus(ctx, processing.ID, StatusProcessing); err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	if _, err := s.Cancel(ctx, processing.ID, "too late"); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("cancel processing err = %v", err)
	}
}

func TestReservations(t *testing.T) {
	ctx := context.Background()
	r := NewReservations(storage.NewMemoryBackend(), zerolog.Nop())

	if err := r.Reserve(ctx, "w1", money.MustFromMajor("10"), "i1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := r.Reserve(ctx, "w1", money.MustFromMajor("5.50"), "i2"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := r.Reserve(ctx, "w2", money.MustFromMajor("99"), "i3"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	total, err := r.ReservedTotal(ctx, "w1")
	if err != nil {
		t.Fatalf("ReservedTotal: %v", err)
	}
	if total.ToMajor() != "15.500000" {
		t.Errorf("total = %s, want 15.500000", total.ToMajor())
	}

	released, err := r.Release(ctx, "i1")
	if err != nil || !released {
		t.Fatalf("Release = (%v, %v)", released, err)
	}
	total, _ = r.ReservedTotal(ctx, "w1")
	if total.ToMajor() != "5.500000" {
		t.Errorf("total after release = %s", total.ToMajor())
	}

	// Releasing a missing hold reports false without error.
	released, err = r.Release(ctx, "i1")
	if err != nil || released {
		t.Errorf("double release = (%v, %v)", released, err)
	}
}
