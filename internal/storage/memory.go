package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps everything in process memory. It is the default for
// tests and single-process deployments; every operation holds the backend
// mutex so counters and locks behave the same as the durable backends.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	counters    map[string]int64
	locks       map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]map[string]Document),
		counters:    make(map[string]int64),
		locks:       make(map[string]memoryLock),
	}
}

func (m *MemoryBackend) Save(_ context.Context, collection, key string, data Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		m.collections[collection] = coll
	}
	coll[key] = cloneDocument(data)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][key]
	if !ok {
		return nil, nil
	}
	return cloneDocument(doc), nil
}

func (m *MemoryBackend) Delete(_ context.Context, collection, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		return false, nil
	}
	if _, ok := coll[key]; !ok {
		return false, nil
	}
	delete(coll, key)
	return true, nil
}

func (m *MemoryBackend) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Document
	for key, doc := range m.collections[collection] {
		if !matchesFilters(doc, q.Filters) {
			continue
		}
		out := cloneDocument(doc)
		out[KeyField] = key
		matched = append(matched, out)
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *MemoryBackend) Update(_ context.Context, collection, key string, data Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][key]
	if !ok {
		return false, nil
	}
	for field, value := range data {
		doc[field] = value
	}
	return true, nil
}

func (m *MemoryBackend) Count(_ context.Context, collection string, filters map[string]any) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, doc := range m.collections[collection] {
		if matchesFilters(doc, filters) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryBackend) Clear(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.collections[collection])
	delete(m.collections, collection)
	return count, nil
}

func (m *MemoryBackend) AtomicAdd(_ context.Context, collection, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := collection + "/" + key
	m.counters[ck] += delta
	return m.counters[ck], nil
}

func (m *MemoryBackend) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if held, ok := m.locks[key]; ok && held.expires.After(now) {
		return "", nil
	}

	token := uuid.NewString()
	m.locks[key] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (m *MemoryBackend) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[key]
	if !ok || held.token != token {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

func (m *MemoryBackend) HealthCheck(context.Context) error { return nil }

func (m *MemoryBackend) Close(context.Context) error { return nil }

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for field, value := range doc {
		out[field] = value
	}
	return out
}
