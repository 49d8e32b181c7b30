package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/agentpay/agentpay-go/internal/errors"
	"github.com/agentpay/agentpay-go/internal/money"
	"github.com/agentpay/agentpay-go/internal/network"
	"github.com/agentpay/agentpay-go/internal/storage"
)

const (
	queueCollection  = "payment_queue"
	maxQueueAttempts = 5
)

// QueuedPayment is a deferred payment awaiting a drain pass.
type QueuedPayment struct {
	ID               string `json:"id"`
	WalletID         string `json:"wallet_id"`
	Recipient        string `json:"recipient"`
	AmountAtomic     int64  `json:"amount_atomic"`
	DestinationChain string `json:"destination_chain,omitempty"`
	FeeLevel         string `json:"fee_level,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
	Reason           string `json:"reason"`
	EnqueuedAt       int64  `json:"enqueued_at"`
	Attempts         int    `json:"attempts"`
	LastError        string `json:"last_error,omitempty"`
}

func (q QueuedPayment) request() Request {
	return Request{
		WalletID:         q.WalletID,
		Recipient:        q.Recipient,
		Amount:           money.FromAtomic(q.AmountAtomic),
		DestinationChain: network.Network(q.DestinationChain),
		FeeLevel:         q.FeeLevel,
		Purpose:          q.Purpose,
		IdempotencyKey:   q.IdempotencyKey,
	}
}

// Queue is the storage-backed holding area for payments deferred by the
// QueueBackground strategy, drained out of band by the daemon.
type Queue struct {
	store  storage.Backend
	router *Router
	log    zerolog.Logger
	now    func() time.Time
}

// NewQueue creates a payment queue.
func NewQueue(store storage.Backend, router *Router, log zerolog.Logger) *Queue {
	return &Queue{
		store:  store,
		router: router,
		log:    log.With().Str("component", "payment_queue").Logger(),
		now:    time.Now,
	}
}

// Enqueue stores a request for later execution and returns the queue ID.
func (q *Queue) Enqueue(ctx context.Context, req Request, reason string) (string, error) {
	entry := QueuedPayment{
		ID:               uuid.NewString(),
		WalletID:         req.WalletID,
		Recipient:        req.Recipient,
		AmountAtomic:     req.Amount.Atomic,
		DestinationChain: req.DestinationChain.String(),
		FeeLevel:         req.FeeLevel,
		Purpose:          req.Purpose,
		IdempotencyKey:   req.IdempotencyKey,
		Reason:           reason,
		EnqueuedAt:       q.now().Unix(),
	}
	doc, err := storage.EncodeDocument(entry)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeStorageError, "encode queued payment", err)
	}
	if err := q.store.Save(ctx, queueCollection, entry.ID, doc); err != nil {
		return "", err
	}
	q.log.Info().Str("queue_id", entry.ID).Str("reason", reason).Msg("payment queued")
	return entry.ID, nil
}

// Pending lists queued payments, oldest first.
func (q *Queue) Pending(ctx context.Context, limit int) ([]QueuedPayment, error) {
	docs, err := q.store.Query(ctx, queueCollection, storage.Query{Limit: limit})
	if err != nil {
		return nil, err
	}
	entries := make([]QueuedPayment, 0, len(docs))
	for _, doc := range docs {
		delete(doc, storage.KeyField)
		var entry QueuedPayment
		if err := storage.DecodeDocument(doc, &entry); err != nil {
			q.log.Warn().Err(err).Msg("skipping undecodable queue entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Size counts queued payments.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.store.Count(ctx, queueCollection, nil)
	return int64(n), err
}

// Drain executes up to max queued payments. Successful and permanently
// exhausted entries leave the queue; transient failures stay with an
// incremented attempt count. Returns the executed results.
func (q *Queue) Drain(ctx context.Context, max int) ([]*Result, error) {
	entries, err := q.Pending(ctx, max)
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, entry := range entries {
		result := q.router.Pay(ctx, entry.request())
		results = append(results, result)

		if result.Success {
			if _, err := q.store.Delete(ctx, queueCollection, entry.ID); err != nil {
				q.log.Warn().Err(err).Str("queue_id", entry.ID).Msg("drained payment left in queue")
			}
			continue
		}

		entry.Attempts++
		entry.LastError = result.Error
		if entry.Attempts >= maxQueueAttempts {
			q.log.Error().
				Str("queue_id", entry.ID).
				Str("error", result.Error).
				Msg("queued payment exhausted its attempts, dropping")
			if _, err := q.store.Delete(ctx, queueCollection, entry.ID); err != nil {
				q.log.Warn().Err(err).Str("queue_id", entry.ID).Msg("exhausted payment left in queue")
			}
			continue
		}
		doc, encErr := storage.EncodeDocument(entry)
		if encErr != nil {
			continue
		}
		if err := q.store.Save(ctx, queueCollection, entry.ID, doc); err != nil {
			q.log.Warn().Err(err).Str("queue_id", entry.ID).Msg("queue entry update failed")
		}
	}
	return results, nil
}
