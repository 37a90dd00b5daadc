// Package store holds the external persistence adapters: PostgreSQL for
// operator vetoes and InfluxDB for the telemetry and healing archive.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"hydropulse/internal/model"
)

// DBPool is the subset of pgxpool.Pool the veto store uses.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateVetoes = `
        CREATE TABLE IF NOT EXISTS vetoes (
            action_id   TEXT        NOT NULL,
            action_type TEXT        NOT NULL DEFAULT '',
            reason      TEXT        NOT NULL,
            context     TEXT        NOT NULL DEFAULT '',
            created_at  TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS vetoes_created_at_idx ON vetoes (created_at);
    `
	sqlInsertVeto = `
        INSERT INTO vetoes (action_id, action_type, reason, context, created_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlSelectVetoesSince = `
        SELECT action_id, action_type, reason, context, created_at
        FROM vetoes
        WHERE created_at >= $1
        ORDER BY created_at;
    `
)

// PostgresVetoStore implements feedback.VetoStore on PostgreSQL.
type PostgresVetoStore struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPostgres creates a pgx pool for dsn.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return pool, nil
}

// NewPostgresVetoStore verifies the connection before returning.
func NewPostgresVetoStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresVetoStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresVetoStore{pool: pool, log: logger.Named("veto_store")}, nil
}

// Migrate creates the vetoes table if missing.
func (s *PostgresVetoStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateVetoes); err != nil {
		return fmt.Errorf("failed to migrate vetoes table: %w", err)
	}
	return nil
}

func (s *PostgresVetoStore) AddVeto(ctx context.Context, r model.VetoRecord) error {
	tag, err := s.pool.Exec(ctx, sqlInsertVeto, r.ActionID, r.ActionType, r.Reason, r.Context, r.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert veto %s: %w", r.ActionID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("insert veto %s affected %d rows", r.ActionID, tag.RowsAffected())
	}
	return nil
}

func (s *PostgresVetoStore) VetoesSince(ctx context.Context, since time.Time) ([]model.VetoRecord, error) {
	rows, err := s.pool.Query(ctx, sqlSelectVetoesSince, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query vetoes: %w", err)
	}
	defer rows.Close()

	var out []model.VetoRecord
	for rows.Next() {
		var r model.VetoRecord
		if err := rows.Scan(&r.ActionID, &r.ActionType, &r.Reason, &r.Context, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan veto row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vetoes: %w", err)
	}
	s.log.Debug("Loaded vetoes", zap.Time("since", since), zap.Int("count", len(out)))
	return out, nil
}
