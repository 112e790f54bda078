package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/gamecatalog/internal/model"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// PoolOptions tunes the per-node database/sql pools
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// SQLConnector implements Connector over database/sql, keeping one lazily
// opened pool per node descriptor
type SQLConnector struct {
	mu     sync.Mutex
	pools  map[string]*sql.DB
	opts   PoolOptions
	logger *zap.Logger
}

// NewSQLConnector creates a new connector
func NewSQLConnector(opts PoolOptions, logger *zap.Logger) *SQLConnector {
	return &SQLConnector{
		pools:  make(map[string]*sql.DB),
		opts:   opts,
		logger: logger,
	}
}

// Open checks out a dedicated connection to node
func (c *SQLConnector) Open(ctx context.Context, node *model.Node) (Conn, error) {
	dialect, err := DialectFor(node.Driver)
	if err != nil {
		return nil, err
	}

	db, err := c.pool(node, dialect)
	if err != nil {
		return nil, err
	}

	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node %s: %w", node.Role, err)
	}

	return &sqlConn{node: node, dialect: dialect, conn: conn}, nil
}

func (c *SQLConnector) pool(node *model.Node, dialect Dialect) (*sql.DB, error) {
	key := node.Driver + "|" + node.DSN

	c.mu.Lock()
	defer c.mu.Unlock()

	if db, ok := c.pools[key]; ok {
		return db, nil
	}

	db, err := sql.Open(dialect.Driver, node.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open node %s: %w", node.Role, err)
	}
	if c.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.opts.MaxOpenConns)
	}
	if c.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.opts.MaxIdleConns)
	}
	if c.opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.opts.ConnMaxLifetime)
	}

	c.pools[key] = db
	c.logger.Info("Opened node pool",
		zap.String("node", string(node.Role)),
		zap.String("dialect", dialect.Name))

	return db, nil
}

// Close closes every pool
func (c *SQLConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, db := range c.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.pools, key)
	}
	return firstErr
}

type sqlConn struct {
	node    *model.Node
	dialect Dialect
	conn    *sql.Conn
}

func (c *sqlConn) Node() *model.Node {
	return c.node
}

func (c *sqlConn) Dialect() Dialect {
	return c.dialect
}

func (c *sqlConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *sqlConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *sqlConn) PingContext(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

func (c *sqlConn) Close() error {
	return c.conn.Close()
}
