package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps each record as a single jsonb document.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err = pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, callerID string) (*Record, error) {
	if !ValidID(callerID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, callerID)
	}

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM caller_records WHERE caller_id = $1`, callerID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return New(callerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}

	var rec Record
	if err = json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record of %s: %w", callerID, err)
	}

	if rec.PhoneNumber == "" {
		rec.PhoneNumber = callerID
	}

	return &rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, callerID string, rec *Record) error {
	if !ValidID(callerID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, callerID)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO caller_records (caller_id, record)
		VALUES ($1, $2)
		ON CONFLICT (caller_id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`,
		callerID, data,
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	rec.isNew = false

	return nil
}

func (s *PostgresStore) Shutdown() error {
	s.pool.Close()
	return nil
}
