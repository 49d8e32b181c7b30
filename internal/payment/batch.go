package payment

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 5

// Payer executes one payment, folding failures into the result. Both
// the router and the facade's full guarded flow satisfy it.
type Payer interface {
	Pay(ctx context.Context, req Request) *Result
}

// BatchProcessor executes many payments with bounded concurrency.
type BatchProcessor struct {
	payer       Payer
	concurrency int
	log         zerolog.Logger
}

// NewBatchProcessor creates a batch processor over a payer.
func NewBatchProcessor(payer Payer, log zerolog.Logger) *BatchProcessor {
	return &BatchProcessor{
		payer:       payer,
		concurrency: defaultBatchConcurrency,
		log:         log.With().Str("component", "batch").Logger(),
	}
}

// SetConcurrency overrides the worker limit. Values below 1 keep the
// default.
func (p *BatchProcessor) SetConcurrency(n int) {
	if n >= 1 {
		p.concurrency = n
	}
}

// Process runs every request and aggregates the outcomes. Individual
// failures surface as failed results, never as errors; result order
// matches request order.
func (p *BatchProcessor) Process(ctx context.Context, requests []Request) *BatchResult {
	results := make([]*Result, len(requests))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, req := range requests {
		g.Go(func() error {
			results[i] = p.payer.Pay(ctx, req)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	batch := &BatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		if r.TransactionID != "" {
			batch.TransactionIDs = append(batch.TransactionIDs, r.TransactionID)
		}
	}
	p.log.Info().
		Int("total", batch.Total).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Msg("batch processed")
	return batch
}
