package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"
)

// PostgresBackend persists documents as jsonb rows. Counters use an
// INSERT ... ON CONFLICT upsert so increments are atomic in a single
// statement, and locks are rows with an expiry timestamp.
type PostgresBackend struct {
	db     *sql.DB
	prefix string
}

// NewPostgresBackend opens a connection pool and provisions the schema.
func NewPostgresBackend(dsn, prefix string, pool PoolConfig) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	lifetime := pool.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := &PostgresBackend{db: db, prefix: prefix}
	if err := b.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (p *PostgresBackend) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, key)
		)`, p.prefix),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_documents_data_idx
			ON %s_documents USING GIN (data jsonb_path_ops)`, p.prefix, p.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_counters (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (collection, key)
		)`, p.prefix),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_locks (
			key        TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`, p.prefix),
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresBackend) Save(ctx context.Context, collection, key string, data Document) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s_documents (collection, key, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key) DO UPDATE SET data = $3, updated_at = now()`, p.prefix)
	if _, err := p.db.ExecContext(ctx, query, collection, key, raw); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, collection, key string) (Document, error) {
	query := fmt.Sprintf(`SELECT data FROM %s_documents WHERE collection = $1 AND key = $2`, p.prefix)

	var raw []byte
	err := p.db.QueryRowContext(ctx, query, collection, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, collection, key string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s_documents WHERE collection = $1 AND key = $2`, p.prefix)
	res, err := p.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return n > 0, nil
}

func (p *PostgresBackend) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	query := fmt.Sprintf(`SELECT key, data FROM %s_documents WHERE collection = $1`, p.prefix)
	args := []any{collection}

	if len(q.Filters) > 0 {
		raw, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		query += ` AND data @> $2::jsonb`
		args = append(args, raw)
	}

	query += ` ORDER BY updated_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, q.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		doc[KeyField] = key
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	return results, nil
}

func (p *PostgresBackend) Update(ctx context.Context, collection, key string, data Document) (bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal document: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s_documents
		SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND key = $2`, p.prefix)
	res, err := p.db.ExecContext(ctx, query, collection, key, raw)
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	return n > 0, nil
}

func (p *PostgresBackend) Count(ctx context.Context, collection string, filters map[string]any) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s_documents WHERE collection = $1`, p.prefix)
	args := []any{collection}

	if len(filters) > 0 {
		raw, err := json.Marshal(filters)
		if err != nil {
			return 0, fmt.Errorf("marshal filters: %w", err)
		}
		query += ` AND data @> $2::jsonb`
		args = append(args, raw)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (p *PostgresBackend) Clear(ctx context.Context, collection string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s_documents WHERE collection = $1`, p.prefix)
	res, err := p.db.ExecContext(ctx, query, collection)
	if err != nil {
		return 0, fmt.Errorf("clear collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear collection: %w", err)
	}
	return int(n), nil
}

func (p *PostgresBackend) AtomicAdd(ctx context.Context, collection, key string, delta int64) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s_counters (collection, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = %s_counters.value + $3
		RETURNING value`, p.prefix, p.prefix)

	var value int64
	if err := p.db.QueryRowContext(ctx, query, collection, key, delta).Scan(&value); err != nil {
		return 0, fmt.Errorf("atomic add: %w", err)
	}
	return value, nil
}

func (p *PostgresBackend) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	// The upsert only steals the row when the previous holder expired, so
	// a single statement decides ownership.
	query := fmt.Sprintf(`INSERT INTO %s_locks (key, token, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE
		SET token = $2, expires_at = now() + $3 * interval '1 millisecond'
		WHERE %s_locks.expires_at <= now()
		RETURNING token`, p.prefix, p.prefix)

	var got string
	err := p.db.QueryRowContext(ctx, query, key, token, ttl.Milliseconds()).Scan(&got)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	return got, nil
}

func (p *PostgresBackend) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s_locks WHERE key = $1 AND token = $2`, p.prefix)
	res, err := p.db.ExecContext(ctx, query, key, token)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return n > 0, nil
}

func (p *PostgresBackend) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Close(context.Context) error {
	return p.db.Close()
}
