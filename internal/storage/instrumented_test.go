package storage

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/agentpay/agentpay-go/internal/metrics"
)

func TestWithMetricsRecordsOperations(t *testing.T) {
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	b := WithMetrics(NewMemoryBackend(), m, "memory")

	if err := b.Save(ctx, "payments", "pay_1", Document{"status": "completed"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := b.Get(ctx, "payments", "pay_1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := b.AtomicAdd(ctx, "counters", "spent", 5); err != nil {
		t.Fatalf("AtomicAdd: %v", err)
	}

	// One histogram series per distinct operation label.
	if series := promtest.CollectAndCount(m.DBQueryDuration); series != 3 {
		t.Errorf("db query series = %d, want 3 (save, get, atomic_add)", series)
	}
}

func TestWithMetricsNilMetricsUnwrapped(t *testing.T) {
	b := NewMemoryBackend()
	if wrapped := WithMetrics(b, nil, "memory"); wrapped != Backend(b) {
		t.Error("nil metrics must return the backend unwrapped")
	}
}
