package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/gamecatalog/internal/health"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"github.com/devrev/gamecatalog/internal/store/storetest"
	"github.com/devrev/gamecatalog/internal/validation"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastRetry = RetryPolicy{Attempts: 3, Delay: time.Millisecond}

// MockLogStore is a mock implementation of store.LogStore
type MockLogStore struct {
	mock.Mock
}

func (m *MockLogStore) Append(ctx context.Context, entry *model.LogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLogStore) Load(ctx context.Context) ([]*model.LogEntry, int, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*model.LogEntry), args.Int(1), args.Error(2)
}

func (m *MockLogStore) Rewrite(ctx context.Context, entries []*model.LogEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockLogStore) Close() error {
	return nil
}

// MockProber is a mock implementation of health.Prober
type MockProber struct {
	mock.Mock
}

func (m *MockProber) AllReachable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

type fixture struct {
	nodes    *storetest.Nodes
	routing  *RoutingService
	logStore store.LogStore
	ledger   *store.MemoryReplayLedger
	recovery *RecoveryService
	reader   *ReadChecker
	catalog  *CatalogService
}

type fixtureOptions struct {
	logStore store.LogStore
	prober   health.Prober
	settle   time.Duration
	retry    RetryPolicy
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := zap.NewNop()

	nodes := storetest.NewNodes(t)
	routing, err := NewRoutingService(nodes.All())
	require.NoError(t, err)

	if opts.logStore == nil {
		fs, err := store.NewFileLogStore(filepath.Join(t.TempDir(), "recovery.log"), true, logger)
		require.NoError(t, err)
		opts.logStore = fs
	}
	if opts.prober == nil {
		opts.prober = health.NewNodeProber(nodes.Connector, nodes.All(), 0, nil, logger)
	}
	if opts.retry.Attempts == 0 {
		opts.retry = fastRetry
	}

	ledger := store.NewMemoryReplayLedger(time.Hour, 1000, logger)
	recovery := NewRecoveryService(opts.logStore, ledger, opts.prober, routing,
		nodes.Connector, nodes.Records, opts.retry, nil, logger)
	reader := NewReadChecker(routing, nodes.Connector, nodes.Records, opts.settle, true, nil, logger)
	catalog := NewCatalogService(routing, nodes.Connector, nodes.Records, recovery, reader,
		validation.NewValidator(), opts.retry, 5*time.Second, nil, logger)

	return &fixture{
		nodes:    nodes,
		routing:  routing,
		logStore: opts.logStore,
		ledger:   ledger,
		recovery: recovery,
		reader:   reader,
		catalog:  catalog,
	}
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	n, err := f.recovery.PendingCount(context.Background())
	require.NoError(t, err)
	return n
}

func game(id int64, name string, year int) *model.Record {
	return &model.Record{
		InfoID:           id,
		Name:             name,
		ReleaseDate:      model.NewDate(year, time.June, 1),
		Price:            14.99,
		DiscountDLCCount: 1,
		About:            "A game called " + name,
		Achievements:     25,
		Notes:            "",
		Developers:       "Dev Co",
		Publishers:       "Pub Co",
		Categories:       "Single-player",
		Genres:           "Adventure",
		Tags:             "Indie,Story Rich",
	}
}
