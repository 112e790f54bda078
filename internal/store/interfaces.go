package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/devrev/gamecatalog/internal/model"
)

// ErrNotFound is returned when a record or key is not found
var ErrNotFound = errors.New("not found")

// Connector opens dedicated connections to the three catalog nodes
type Connector interface {
	// Open returns a connection the caller must Close on every exit path
	Open(ctx context.Context, node *model.Node) (Conn, error)
	Close() error
}

// Conn is a single connection to one node
type Conn interface {
	Node() *model.Node
	Dialect() Dialect
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// LogStore persists the recovery log. Implementations keep entries in
// append order.
type LogStore interface {
	Append(ctx context.Context, entry *model.LogEntry) error
	// Load returns every intact entry and the number of corrupt lines skipped
	Load(ctx context.Context) ([]*model.LogEntry, int, error)
	// Rewrite atomically replaces the log contents with entries
	Rewrite(ctx context.Context, entries []*model.LogEntry) error
	Close() error
}

// ReplayLedger remembers log entries that were already replayed
type ReplayLedger interface {
	MarkReplayed(ctx context.Context, entryID string) error
	WasReplayed(ctx context.Context, entryID string) (bool, error)
	Close() error
}
