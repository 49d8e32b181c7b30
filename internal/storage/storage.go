// Package storage provides the pluggable key-value layer underneath the
// guard chain, intents, ledger, and trust cache. AtomicAdd is the only
// operation required to be strictly atomic across concurrent callers; it
// is the building block for every reservation.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record is missing.
var ErrNotFound = errors.New("storage: not found")

// KeyField is injected into query results so callers can recover the
// record key.
const KeyField = "_key"

// Document is a stored record: arbitrary JSON-compatible fields.
type Document = map[string]any

// Query selects records by top-level field equality.
type Query struct {
	Filters map[string]any
	Limit   int // 0 = unlimited
	Offset  int
}

// Backend captures the persistence contract. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Save stores data under (collection, key), replacing any existing
	// record.
	Save(ctx context.Context, collection, key string, data Document) error

	// Get returns the record or (nil, nil) on a miss.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, collection, key string) (bool, error)

	// Query returns matching records with KeyField injected.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Update merges data into an existing record, reporting whether it
	// existed.
	Update(ctx context.Context, collection, key string, data Document) (bool, error)

	// Count returns the number of records matching the filters.
	Count(ctx context.Context, collection string, filters map[string]any) (int, error)

	// Clear removes every record in a collection, returning the count.
	Clear(ctx context.Context, collection string) (int, error)

	// AtomicAdd adds delta to a numeric counter and returns the new
	// value. The increment must be atomic across concurrent callers.
	AtomicAdd(ctx context.Context, collection, key string, delta int64) (int64, error)

	// AcquireLock takes an advisory lock, returning an ownership token,
	// or "" when the lock is already held.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)

	// ReleaseLock releases a lock if the token matches.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// PoolConfig tunes the Postgres connection pool. Zero values fall back
// to the backend defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Config selects and configures a backend.
type Config struct {
	Backend       string `yaml:"backend"` // memory, postgres, mongodb
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	Prefix        string `yaml:"prefix"` // key/table prefix, default "agentpay"
	PostgresPool  PoolConfig
}

// New creates the configured backend.
func New(cfg Config) (Backend, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentpay"
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "postgres":
		return NewPostgresBackend(cfg.PostgresDSN, prefix, cfg.PostgresPool)
	case "mongodb":
		db := cfg.MongoDatabase
		if db == "" {
			db = prefix
		}
		return NewMongoBackend(cfg.MongoURI, db)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// EncodeDocument converts a struct with json tags into a Document.
func EncodeDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("storage: encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("storage: encode document: %w", err)
	}
	return doc, nil
}

// DecodeDocument converts a Document back into a struct with json tags.
func DecodeDocument(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("storage: decode document: %w", err)
	}
	return nil
}

// matchesFilters reports whether a document satisfies field-equality
// filters. Numeric comparisons go through JSON normalisation so int64 and
// float64 representations of the same value compare equal.
func matchesFilters(doc Document, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := doc[field]
		if !ok {
			return false
		}
		if !looselyEqual(got, want) {
			return false
		}
	}
	return true
}

func looselyEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
