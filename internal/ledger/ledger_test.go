package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

func newLedger() *Ledger {
	return New(storage.NewMemoryBackend(), zerolog.Nop())
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	entry, err := l.Record(ctx, Entry{
		WalletID:  "w1",
		Recipient: "0x1111111111111111111111111111111111111111",
		Amount:    money.MustFromMajor("2.50"),
		Method:    "TRANSFER",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Errorf("identity not filled: %+v", entry)
	}
	if entry.Status != StatusPending {
		t.Errorf("status = %q, want PENDING", entry.Status)
	}
	if entry.EntryType != TypePayment {
		t.Errorf("entry type = %q, want PAYMENT", entry.EntryType)
	}

	got, err := l.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || !got.Amount.Equal(entry.Amount) {
		t.Errorf("got = %+v", got)
	}

	missing, err := l.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get missing = (%+v, %v), want (nil, nil)", missing, err)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	entry, err := l.Record(ctx, Entry{WalletID: "w1", Amount: money.MustFromMajor("1")})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	updated, err := l.UpdateStatus(ctx, entry.ID, StatusProcessing, "", nil)
	if err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Errorf("status = %q", updated.Status)
	}

	updated, err = l.UpdateStatus(ctx, entry.ID, StatusCompleted, "0xabc", map[string]any{"fee": "0.01"})
	if err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
	if updated.TxHash != "0xabc" || updated.Metadata["fee"] != "0.01" {
		t.Errorf("updated = %+v", updated)
	}

	// Terminal entries reject further transitions.
	if _, err := l.UpdateStatus(ctx, entry.ID, StatusFailed, "", nil); !apperrors.Is(err, apperrors.ErrCodeInvalidField) {
		t.Errorf("terminal transition err = %v, want invalid_field", err)
	}
}

func TestUpdateStatusMergesMetadata(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	entry, _ := l.Record(ctx, Entry{
		WalletID: "w1",
		Amount:   money.MustFromMajor("1"),
		Metadata: map[string]any{"purpose": "api", "attempt": "1"},
	})

	updated, err := l.UpdateStatus(ctx, entry.ID, StatusCompleted, "", map[string]any{"attempt": "2"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Metadata["purpose"] != "api" {
		t.Error("existing metadata lost on merge")
	}
	if updated.Metadata["attempt"] != "2" {
		t.Error("merged metadata not applied")
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	base := time.Now().UTC()

	seed := []Entry{
		{WalletID: "w1", Recipient: "r1", Status: StatusCompleted, Amount: money.MustFromMajor("1"), Timestamp: base.Add(-2 * time.Hour)},
		{WalletID: "w1", Recipient: "r2", Status: StatusFailed, Amount: money.MustFromMajor("2"), Timestamp: base.Add(-1 * time.Hour)},
		{WalletID: "w2", Recipient: "r1", Status: StatusCompleted, Amount: money.MustFromMajor("3"), Timestamp: base},
	}
	for _, e := range seed {
		if _, err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := l.Query(ctx, Filter{WalletID: "w1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].Timestamp.After(entries[1].Timestamp) {
		t.Error("entries not sorted newest first")
	}

	entries, err = l.Query(ctx, Filter{Status: StatusCompleted, FromDate: base.Add(-30 * time.Minute)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].WalletID != "w2" {
		t.Errorf("date filter = %+v", entries)
	}

	entries, err = l.Query(ctx, Filter{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Errorf("limit query = %d entries, err %v", len(entries), err)
	}
}

func TestTotalSpent(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	now := time.Now().UTC()

	seed := []Entry{
		{WalletID: "w1", Status: StatusCompleted, EntryType: TypePayment, Amount: money.MustFromMajor("5"), Timestamp: now.Add(-time.Hour)},
		{WalletID: "w1", Status: StatusCompleted, EntryType: TypeTransfer, Amount: money.MustFromMajor("3"), Timestamp: now},
		{WalletID: "w1", Status: StatusFailed, EntryType: TypePayment, Amount: money.MustFromMajor("100"), Timestamp: now},
		{WalletID: "w1", Status: StatusCompleted, EntryType: TypeDeposit, Amount: money.MustFromMajor("50"), Timestamp: now},
		{WalletID: "w2", Status: StatusCompleted, EntryType: TypePayment, Amount: money.MustFromMajor("7"), Timestamp: now},
	}
	for _, e := range seed {
		if _, err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	total, err := l.TotalSpent(ctx, "w1", time.Time{})
	if err != nil {
		t.Fatalf("TotalSpent: %v", err)
	}
	if total.ToMajor() != "8.000000" {
		t.Errorf("total = %s, want 8.000000", total.ToMajor())
	}

	recent, err := l.TotalSpent(ctx, "w1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("TotalSpent since: %v", err)
	}
	if recent.ToMajor() != "3.000000" {
		t.Errorf("recent total = %s, want 3.000000", recent.ToMajor())
	}
}

func TestHasPaidRecipient(t *testing.T) {
	ctx := context.Background()
	l := newLedger()

	if _, err := l.Record(ctx, Entry{WalletID: "w1", Recipient: "r1", Status: StatusCompleted, Amount: money.MustFromMajor("1")}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	known, err := l.HasPaidRecipient(ctx, "w1", "r1")
	if err != nil || !known {
		t.Errorf("HasPaidRecipient(known) = (%v, %v)", known, err)
	}
	unknown, err := l.HasPaidRecipient(ctx, "w1", "r-new")
	if err != nil || unknown {
		t.Errorf("HasPaidRecipient(unknown) = (%v, %v)", unknown, err)
	}
}

func TestFundLocks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	locks := NewFundLocks(store, zerolog.Nop())

	token, err := locks.Acquire(ctx, "w1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// A concurrent acquire exhausts its attempts and reports busy.
	if _, err := locks.Acquire(ctx, "w1"); !apperrors.Is(err, apperrors.ErrCodeWalletBusy) {
		t.Errorf("second acquire err = %v, want wallet_busy", err)
	}

	locks.Release(ctx, "w1", token)

	if _, err := locks.Acquire(ctx, "w1"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}
