package webhooks

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay-go/internal/ledger"
)

// LedgerSync reconciles provider payment notifications with ledger
// entries. Entries are matched by the provider transaction ID the
// orchestrator stored in entry metadata at payment time.
type LedgerSync struct {
	ledger *ledger.Ledger
	log    zerolog.Logger
}

// NewLedgerSync builds the handler.
func NewLedgerSync(l *ledger.Ledger, log zerolog.Logger) *LedgerSync {
	return &LedgerSync{
		ledger: l,
		log:    log.With().Str("component", "ledger_sync").Logger(),
	}
}

// Handler adapts LedgerSync for Listener.Register.
func (s *LedgerSync) Handler() Handler {
	return s.Handle
}

// Handle applies a payment event to the matching ledger entry. Events
// with no matching open entry are logged and dropped; the provider may
// notify about transactions this process never initiated.
func (s *LedgerSync) Handle(ctx context.Context, event *Event) error {
	status := statusFor(event.Type)
	if status == "" {
		return nil
	}

	txID := stringField(event.Data, "id")
	if txID == "" {
		s.log.Warn().Str("notification_id", event.ID).Msg("payment event without transaction id")
		return nil
	}

	entry, err := s.findByTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if entry == nil {
		s.log.Debug().Str("transaction_id", txID).Msg("no open ledger entry for notification")
		return nil
	}
	if entry.Status == status {
		return nil
	}

	txHash := stringField(event.Data, "txHash")
	_, err = s.ledger.UpdateStatus(ctx, entry.ID, status, txHash, map[string]any{
		"webhook_notification_id": event.ID,
		"webhook_event_type":      string(event.Type),
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("entry_id", entry.ID).
		Str("transaction_id", txID).
		Str("status", status).
		Msg("ledger entry synced from webhook")
	return nil
}

func statusFor(eventType EventType) string {
	switch eventType {
	case EventPaymentCompleted:
		return ledger.StatusCompleted
	case EventPaymentFailed:
		return ledger.StatusFailed
	case EventPaymentCanceled:
		return ledger.StatusCancelled
	default:
		return ""
	}
}

// findByTransaction scans open entries for one whose recorded provider
// transaction ID matches. Only PENDING and PROCESSING entries are
// candidates; terminal entries never move again.
func (s *LedgerSync) findByTransaction(ctx context.Context, txID string) (*ledger.Entry, error) {
	for _, status := range []string{ledger.StatusProcessing, ledger.StatusPending} {
		entries, err := s.ledger.Query(ctx, ledger.Filter{Status: status})
		if err != nil {
			return nil, err
		}
		for i := range entries {
			if stringField(entries[i].Metadata, "transaction_id") == txID {
				return &entries[i], nil
			}
		}
	}
	return nil, nil
}

func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}
