// Package storetest provides embedded sqlite nodes and a fault injecting
// connector for tests that exercise real SQL against all three roles.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Nodes is a set of three sqlite backed nodes with their schema in place
type Nodes struct {
	Central *model.Node
	Early   *model.Node
	Late    *model.Node

	Connector *FaultConnector
	Records   *store.RecordStore
}

// NewNodes creates three sqlite databases under t.TempDir()
func NewNodes(t *testing.T) *Nodes {
	t.Helper()

	dir := t.TempDir()
	node := func(role model.NodeRole) *model.Node {
		path := filepath.Join(dir, string(role)+".db")
		return &model.Node{
			Role:   role,
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path),
		}
	}

	n := &Nodes{
		Central: node(model.Central),
		Early:   node(model.EarlyPartition),
		Late:    node(model.LatePartition),
		Records: store.NewRecordStore(),
	}
	n.Connector = NewFaultConnector(store.NewSQLConnector(store.PoolOptions{MaxOpenConns: 4}, zap.NewNop()))
	t.Cleanup(func() { n.Connector.Close() })

	ctx := context.Background()
	for _, nd := range n.All() {
		conn, err := n.Connector.Open(ctx, nd)
		require.NoError(t, err)
		require.NoError(t, n.Records.EnsureSchema(ctx, conn))
		require.NoError(t, conn.Close())
	}

	return n
}

// All returns the nodes in probe order
func (n *Nodes) All() []*model.Node {
	return []*model.Node{n.Central, n.Early, n.Late}
}

// Get reads a record straight from a node, bypassing fault injection
func (n *Nodes) Get(t *testing.T, node *model.Node, infoID int64) (*model.Record, bool) {
	t.Helper()

	conn, err := n.Connector.inner.Open(context.Background(), node)
	require.NoError(t, err)
	defer conn.Close()

	rec, err := n.Records.Get(context.Background(), conn, infoID, false)
	if err == store.ErrNotFound {
		return nil, false
	}
	require.NoError(t, err)
	return rec, true
}

// Put writes a record straight to a node, bypassing fault injection
func (n *Nodes) Put(t *testing.T, node *model.Node, rec *model.Record) {
	t.Helper()

	conn, err := n.Connector.inner.Open(context.Background(), node)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, n.Records.Upsert(context.Background(), conn, rec))
}

// Exec runs raw SQL on a node, e.g. to install a trigger that rejects writes
func (n *Nodes) Exec(t *testing.T, node *model.Node, query string) {
	t.Helper()

	conn, err := n.Connector.inner.Open(context.Background(), node)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(context.Background(), query)
	require.NoError(t, err)
}

// FaultConnector wraps a Connector and refuses connections to nodes marked down
type FaultConnector struct {
	inner store.Connector
	mu    sync.RWMutex
	down  map[model.NodeRole]bool
	opens map[model.NodeRole]int
}

// NewFaultConnector wraps inner
func NewFaultConnector(inner store.Connector) *FaultConnector {
	return &FaultConnector{
		inner: inner,
		down:  make(map[model.NodeRole]bool),
		opens: make(map[model.NodeRole]int),
	}
}

// SetDown marks a node unreachable or reachable again
func (f *FaultConnector) SetDown(role model.NodeRole, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[role] = down
}

// Opens returns how many connections were attempted against role
func (f *FaultConnector) Opens(role model.NodeRole) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opens[role]
}

// Open implements store.Connector
func (f *FaultConnector) Open(ctx context.Context, node *model.Node) (store.Conn, error) {
	f.mu.Lock()
	f.opens[node.Role]++
	down := f.down[node.Role]
	f.mu.Unlock()

	if down {
		return nil, fmt.Errorf("dial %s: connection refused", node.Role)
	}
	return f.inner.Open(ctx, node)
}

// Close implements store.Connector
func (f *FaultConnector) Close() error {
	return f.inner.Close()
}
