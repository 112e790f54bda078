package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const recoveryLogDDL = `
	CREATE TABLE IF NOT EXISTS recovery_log (
		seq         BIGSERIAL PRIMARY KEY,
		entry_id    TEXT NOT NULL UNIQUE,
		action      TEXT NOT NULL,
		target_node TEXT NOT NULL,
		statement   TEXT NOT NULL,
		params      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		checksum    BIGINT NOT NULL
	)
`

// PostgresLogStore implements LogStore in a PostgreSQL table, so several
// catalog processes can share one recovery log
type PostgresLogStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLogStore connects to dsn and ensures the recovery_log table exists
func NewPostgresLogStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresLogStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, recoveryLogDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create recovery_log table: %w", err)
	}

	return &PostgresLogStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Append stores an entry at the end of the log
func (s *PostgresLogStore) Append(ctx context.Context, entry *model.LogEntry) error {
	if err := insertEntry(ctx, s.pool, entry); err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// Load returns all entries in append order
func (s *PostgresLogStore) Load(ctx context.Context) ([]*model.LogEntry, int, error) {
	query := `
		SELECT entry_id, action, target_node, statement, params, created_at, checksum
		FROM recovery_log
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load recovery log: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.LogEntry, 0)
	corrupt := 0
	row := 0
	for rows.Next() {
		row++
		var (
			entry    model.LogEntry
			action   string
			target   string
			params   string
			created  time.Time
			checksum int64
		)
		if err := rows.Scan(
			&entry.ID,
			&action,
			&target,
			&entry.Statement,
			&params,
			&created,
			&checksum,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Action = model.Action(action)
		entry.TargetNode = model.NodeRole(target)
		entry.Params = json.RawMessage(params)
		entry.Timestamp = created.UTC()
		entry.Checksum = uint32(checksum)

		if err := validateEntry(&entry); err != nil {
			corrupt++
			s.logger.Warn("Skipping corrupt recovery log row",
				zap.String("entry_id", entry.ID),
				zap.Error(errors.LogCorrupt(row, err)))
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, corrupt, rows.Err()
}

// Rewrite replaces the table contents in one transaction
func (s *PostgresLogStore) Rewrite(ctx context.Context, entries []*model.LogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rewrite: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM recovery_log`); err != nil {
		return fmt.Errorf("failed to clear recovery log: %w", err)
	}

	for _, entry := range entries {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to rewrite entry %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rewrite: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresLogStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresLogStore) Close() error {
	s.pool.Close()
	return nil
}

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEntry(ctx context.Context, db pgExecer, entry *model.LogEntry) error {
	query := `
		INSERT INTO recovery_log (
			entry_id, action, target_node, statement, params, created_at, checksum
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.Exec(ctx, query,
		entry.ID,
		string(entry.Action),
		string(entry.TargetNode),
		entry.Statement,
		string(entry.Params),
		entry.Timestamp,
		int64(entry.Checksum),
	)
	return err
}
