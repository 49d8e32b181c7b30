package storage

import (
	"context"
	"time"

	"github.com/agentpay/agentpay-go/internal/metrics"
)

// instrumentedBackend records an operation-duration histogram sample for
// every call it forwards.
type instrumentedBackend struct {
	next    Backend
	metrics *metrics.Metrics
	backend string
}

// WithMetrics wraps a backend with query timing. The backend label is
// the configured backend name. A nil metrics set returns the backend
// unwrapped.
func WithMetrics(next Backend, m *metrics.Metrics, backend string) Backend {
	if m == nil {
		return next
	}
	if backend == "" {
		backend = "memory"
	}
	return &instrumentedBackend{next: next, metrics: m, backend: backend}
}

func (i *instrumentedBackend) Save(ctx context.Context, collection, key string, data Document) error {
	defer metrics.MeasureDBQuery(i.metrics, "save", i.backend)()
	return i.next.Save(ctx, collection, key, data)
}

func (i *instrumentedBackend) Get(ctx context.Context, collection, key string) (Document, error) {
	defer metrics.MeasureDBQuery(i.metrics, "get", i.backend)()
	return i.next.Get(ctx, collection, key)
}

func (i *instrumentedBackend) Delete(ctx context.Context, collection, key string) (bool, error) {
	defer metrics.MeasureDBQuery(i.metrics, "delete", i.backend)()
	return i.next.Delete(ctx, collection, key)
}

func (i *instrumentedBackend) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	defer metrics.MeasureDBQuery(i.metrics, "query", i.backend)()
	return i.next.Query(ctx, collection, q)
}

func (i *instrumentedBackend) Update(ctx context.Context, collection, key string, data Document) (bool, error) {
	defer metrics.MeasureDBQuery(i.metrics, "update", i.backend)()
	return i.next.Update(ctx, collection, key, data)
}

func (i *instrumentedBackend) Count(ctx context.Context, collection string, filters map[string]any) (int, error) {
	defer metrics.MeasureDBQuery(i.metrics, "count", i.backend)()
	return i.next.Count(ctx, collection, filters)
}

func (i *instrumentedBackend) Clear(ctx context.Context, collection string) (int, error) {
	defer metrics.MeasureDBQuery(i.metrics, "clear", i.backend)()
	return i.next.Clear(ctx, collection)
}

func (i *instrumentedBackend) AtomicAdd(ctx context.Context, collection, key string, delta int64) (int64, error) {
	defer metrics.MeasureDBQuery(i.metrics, "atomic_add", i.backend)()
	return i.next.AtomicAdd(ctx, collection, key, delta)
}

func (i *instrumentedBackend) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	defer metrics.MeasureDBQuery(i.metrics, "acquire_lock", i.backend)()
	return i.next.AcquireLock(ctx, key, ttl)
}

func (i *instrumentedBackend) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	defer metrics.MeasureDBQuery(i.metrics, "release_lock", i.backend)()
	return i.next.ReleaseLock(ctx, key, token)
}

func (i *instrumentedBackend) HealthCheck(ctx context.Context) error {
	defer metrics.MeasureDBQuery(i.metrics, "health_check", i.backend)()
	return i.next.HealthCheck(ctx)
}

func (i *instrumentedBackend) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}
