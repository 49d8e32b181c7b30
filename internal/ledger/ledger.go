// Package ledger records every payment attempt as an append-once entry.
// Only status, tx hash, and merged metadata mutate after creation.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/storage"
)

// Entry statuses.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
	StatusBlocked    = "BLOCKED"
)

// Entry types.
const (
	TypePayment  = "PAYMENT"
	TypeTransfer = "TRANSFER"
	TypeDeposit  = "DEPOSIT"
)

const collection = "ledger"

// Entry is one payment attempt. All fields except Status, TxHash, and
// Metadata are immutable after Record.
type Entry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	WalletID    string         `json:"wallet_id"`
	WalletSetID string         `json:"wallet_set_id,omitempty"`
	Recipient   string         `json:"recipient"`
	Amount      money.Amount   `json:"amount"`
	EntryType   string         `json:"entry_type"`
	Status      string         `json:"status"`
	TxHash      string         `json:"tx_hash,omitempty"`
	Method      string         `json:"method,omitempty"`
	Purpose     string         `json:"purpose,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Filter narrows Query results. Zero values mean "any".
type Filter struct {
	WalletID    string
	WalletSetID string
	Recipient   string
	EntryType   string
	Status      string
	FromDate    time.Time
	ToDate      time.Time
	Limit       int
}

// allowedTransitions is the status DAG. Terminal statuses have no exits.
var allowedTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

func transitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Ledger persists entries in a storage backend.
type Ledger struct {
	store storage.Backend
	log   zerolog.Logger
}

// New creates a ledger over the given backend.
func New(store storage.Backend, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// Record appends a new entry. Missing ID, timestamp, and status are
// filled in; the entry is returned with those fields set.
func (l *Ledger) Record(ctx context.Context, entry Entry) (*Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	if entry.EntryType == "" {
		entry.EntryType = TypePayment
	}

	doc, err := storage.EncodeDocument(entry)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "encode ledger entry", err)
	}
	if err := l.store.Save(ctx, collection, entry.ID, doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "save ledger entry", err)
	}

	l.log.Debug().
		Str("entry_id", entry.ID).
		Str("wallet_id", entry.WalletID).
		Str("status", entry.Status).
		Msg("ledger entry recorded")
	return &entry, nil
}

// Get fetches an entry by ID, or nil when missing.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	doc, err := l.store.Get(ctx, collection, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "get ledger entry", err)
	}
	if doc == nil {
		return nil, nil
	}

	var entry Entry
	if err := storage.DecodeDocument(doc, &entry); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "decode ledger entry", err)
	}
	return &entry, nil
}

// UpdateStatus transitions an entry's status, optionally setting the tx
// hash and merging metadata. Transitions outside the status DAG fail.
func (l *Ledger) UpdateStatus(ctx context.Context, id, status, txHash string, metadata map[string]any) (*Entry, error) {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeStorageError, "ledger entry %s not found", id)
	}

	if !transitionAllowed(entry.Status, status) {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidField,
			"ledger entry %s cannot transition %s -> %s", id, entry.Status, status)
	}

	entry.Status = status
	if txHash != "" {
		entry.TxHash = txHash
	}
	if len(metadata) > 0 {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			entry.Metadata[k] = v
		}
	}

	doc, err := storage.EncodeDocument(entry)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "encode ledger entry", err)
	}
	if err := l.store.Save(ctx, collection, entry.ID, doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "save ledger entry", err)
	}

	l.log.Debug().
		Str("entry_id", id).
		Str("status", status).
		Str("tx_hash", txHash).
		Msg("ledger entry updated")
	return entry, nil
}

// Query returns entries matching the filter, newest first.
func (l *Ledger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	storageFilters := map[string]any{}
	if filter.WalletID != "" {
		storageFilters["wallet_id"] = filter.WalletID
	}
	if filter.WalletSetID != "" {
		storageFilters["wallet_set_id"] = filter.WalletSetID
	}
	if filter.Recipient != "" {
		storageFilters["recipient"] = filter.Recipient
	}
	if filter.EntryType != "" {
		storageFilters["entry_type"] = filter.EntryType
	}
	if filter.Status != "" {
		storageFilters["status"] = filter.Status
	}

	docs, err := l.store.Query(ctx, collection, storage.Query{Filters: storageFilters})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "query ledger", err)
	}

	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		delete(doc, storage.KeyField)
		var entry Entry
		if err := storage.DecodeDocument(doc, &entry); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeStorageError, "decode ledger entry", err)
		}
		if !filter.FromDate.IsZero() && entry.Timestamp.Before(filter.FromDate) {
			continue
		}
		if !filter.ToDate.IsZero() && entry.Timestamp.After(filter.ToDate) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// TotalSpent sums COMPLETED payment and transfer amounts for a wallet,
// optionally restricted to entries at or after since.
func (l *Ledger) TotalSpent(ctx context.Context, walletID string, since time.Time) (money.Amount, error) {
	entries, err := l.Query(ctx, Filter{WalletID: walletID, Status: StatusCompleted})
	if err != nil {
		return money.Zero, err
	}

	total := money.Zero
	for _, entry := range entries {
		if entry.EntryType != TypePayment && entry.EntryType != TypeTransfer {
			continue
		}
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		total, err = total.Add(entry.Amount)
		if err != nil {
			return money.Zero, err
		}
	}
	return total, nil
}

// HasPaidRecipient reports whether the wallet has any completed entry to
// the recipient. Used by risk scoring to detect first-time recipients.
func (l *Ledger) HasPaidRecipient(ctx context.Context, walletID, recipient string) (bool, error) {
	entries, err := l.Query(ctx, Filter{WalletID: walletID, Recipient: recipient, Status: StatusCompleted, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// CountSince counts entries for a wallet with timestamps inside the
// window ending now. Used by velocity risk scoring.
func (l *Ledger) CountSince(ctx context.Context, walletID string, window time.Duration) (int, error) {
	entries, err := l.Query(ctx, Filter{WalletID: walletID, FromDate: time.Now().UTC().Add(-window)})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
