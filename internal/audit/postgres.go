package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists Records to a Postgres table, created by
// NewPostgresSink if it doesn't already exist.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and ensures the outcome_audit_log table
// exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit: postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: create postgres pool: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS outcome_audit_log (
		id TEXT PRIMARY KEY,
		credential_index INTEGER NOT NULL,
		method TEXT NOT NULL,
		group_size INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error_kind TEXT,
		error_code INTEGER,
		error_message TEXT,
		latency_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Save(ctx context.Context, r *Record) error {
	return s.SaveBatch(ctx, []*Record{r})
}

func (s *PostgresSink) SaveBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const insert = `INSERT INTO outcome_audit_log
		(id, credential_index, method, group_size, success, error_kind, error_code, error_message, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`
	for _, r := range records {
		batch.Queue(insert, r.CorrelationID, r.CredentialIndex, r.Method, r.GroupSize, r.Success,
			r.ErrorKind, r.ErrorCode, r.ErrorMessage, r.LatencyMs, r.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("audit: insert record: %w", err)
		}
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
