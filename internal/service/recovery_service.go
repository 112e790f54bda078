package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/health"
	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"go.uber.org/zap"
)

// pairKey identifies the per node ordering domain of a record
type pairKey struct {
	node   model.NodeRole
	infoID int64
}

// pendingPair counts the entries of one pair and remembers the newest action
type pendingPair struct {
	count int
	last  model.Action
}

// DrainReport summarises one recovery pass
type DrainReport struct {
	Skipped    bool `json:"skipped"`
	Loaded     int  `json:"loaded"`
	Replayed   int  `json:"replayed"`
	Retained   int  `json:"retained"`
	Duplicates int  `json:"duplicates"`
	Corrupt    int  `json:"corrupt"`
}

// RecoveryService owns the write-ahead recovery log. It is the only component
// that reads or writes log contents.
type RecoveryService struct {
	logStore  store.LogStore
	ledger    store.ReplayLedger
	prober    health.Prober
	routing   *RoutingService
	connector store.Connector
	records   *store.RecordStore
	retry     RetryPolicy
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// mu serialises appends against the load, replay and rewrite of a drain
	mu      sync.Mutex
	index   map[pairKey]pendingPair
	total   int
	indexed bool
}

// NewRecoveryService creates a new recovery service. ledger may be nil.
func NewRecoveryService(
	logStore store.LogStore,
	ledger store.ReplayLedger,
	prober health.Prober,
	routing *RoutingService,
	connector store.Connector,
	records *store.RecordStore,
	retry RetryPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RecoveryService {
	return &RecoveryService{
		logStore:  logStore,
		ledger:    ledger,
		prober:    prober,
		routing:   routing,
		connector: connector,
		records:   records,
		retry:     retry,
		metrics:   m,
		logger:    logger,
	}
}

// Append durably records a write that could not be applied to its node
func (s *RecoveryService) Append(ctx context.Context, entry *model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(ctx); err != nil {
		s.logger.Warn("Recovery log index unavailable", zap.Error(err))
	}

	if err := s.logStore.Append(ctx, entry); err != nil {
		s.metrics.RecordLogWriteError()
		s.logger.Error("Failed to append to recovery log",
			zap.String("entry_id", entry.ID),
			zap.String("node", string(entry.TargetNode)),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return errors.LogWriteFailure("failed to append to recovery log", err).
			WithDetail("entry_id", entry.ID).
			WithDetail("node", string(entry.TargetNode))
	}

	s.track(entry)
	s.total++
	s.metrics.SetPending(s.total)

	s.logger.Debug("Appended recovery log entry",
		zap.String("entry_id", entry.ID),
		zap.String("node", string(entry.TargetNode)),
		zap.String("action", string(entry.Action)))

	return nil
}

// HasPending reports whether the log holds an entry for infoID on node.
// Writes for such a pair must queue behind it.
func (s *RecoveryService) HasPending(ctx context.Context, node model.NodeRole, infoID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(ctx); err != nil {
		return false, err
	}
	return s.index[pairKey{node, infoID}].count > 0, nil
}

// LastPendingAction returns the action of the newest entry for infoID on
// node, and false when the pair has nothing pending.
func (s *RecoveryService) LastPendingAction(ctx context.Context, node model.NodeRole, infoID int64) (model.Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(ctx); err != nil {
		return "", false, err
	}
	p := s.index[pairKey{node, infoID}]
	return p.last, p.count > 0, nil
}

// PendingCount returns the number of entries waiting in the log
func (s *RecoveryService) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureIndex(ctx); err != nil {
		return 0, err
	}
	return s.total, nil
}

// Pending lists the entries waiting in the log, oldest first
func (s *RecoveryService) Pending(ctx context.Context) ([]*model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, corrupt, err := s.logStore.Load(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to load recovery log", err)
	}
	s.rebuildIndex(entries)
	s.metrics.RecordCorrupt(corrupt)
	return entries, nil
}

// DrainAndRetry replays every pending entry if all nodes are reachable.
// Replayed entries are dropped; entries that still fail, and any later
// entries for the same node and record, are kept for the next pass.
func (s *RecoveryService) DrainAndRetry(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{}

	if !s.prober.AllReachable(ctx) {
		report.Skipped = true
		s.metrics.RecordDrain("skipped")
		return report, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, corrupt, err := s.logStore.Load(ctx)
	if err != nil {
		s.metrics.RecordDrain("failed")
		return nil, errors.InternalError("failed to load recovery log", err)
	}
	report.Loaded = len(entries)
	report.Corrupt = corrupt
	s.metrics.RecordCorrupt(corrupt)

	if len(entries) == 0 && corrupt == 0 {
		s.rebuildIndex(nil)
		s.metrics.RecordDrain("empty")
		return report, nil
	}

	s.logger.Info("Draining recovery log",
		zap.Int("entries", len(entries)),
		zap.Int("corrupt", corrupt))

	blocked := make(map[pairKey]bool)
	remaining := make([]*model.LogEntry, 0)

	for i, entry := range entries {
		if ctx.Err() != nil {
			// keep everything not yet attempted
			remaining = append(remaining, entries[i:]...)
			report.Retained += len(entries) - i
			break
		}

		infoID, err := entry.InfoID()
		if err == nil && !replayable(entry) {
			err = fmt.Errorf("statement %q cannot replay %s", entry.Statement, entry.Action)
		}
		if err != nil {
			report.Corrupt++
			s.metrics.RecordCorrupt(1)
			s.logger.Warn("Dropping unreplayable recovery log entry",
				zap.String("entry_id", entry.ID),
				zap.Error(errors.LogCorrupt(i+1, err)))
			continue
		}

		key := pairKey{entry.TargetNode, infoID}
		if blocked[key] {
			remaining = append(remaining, entry)
			report.Retained++
			s.metrics.RecordReplay(string(entry.TargetNode), "blocked")
			continue
		}

		if s.alreadyReplayed(ctx, entry) {
			report.Duplicates++
			s.metrics.RecordReplay(string(entry.TargetNode), "duplicate")
			continue
		}

		if err := s.replay(ctx, entry); err != nil {
			blocked[key] = true
			remaining = append(remaining, entry)
			report.Retained++
			s.metrics.RecordReplay(string(entry.TargetNode), "retained")
			s.logger.Warn("Replay failed, keeping entry for next pass",
				zap.String("entry_id", entry.ID),
				zap.String("node", string(entry.TargetNode)),
				zap.String("action", string(entry.Action)),
				zap.Int64("info_id", infoID),
				zap.Error(err))
			continue
		}

		s.markReplayed(ctx, entry)
		report.Replayed++
		s.metrics.RecordReplay(string(entry.TargetNode), "replayed")
	}

	if len(remaining) != report.Loaded || report.Corrupt > 0 {
		// a cancelled request must not leave the log half rewritten
		if err := s.logStore.Rewrite(context.WithoutCancel(ctx), remaining); err != nil {
			s.metrics.RecordLogWriteError()
			s.metrics.RecordDrain("failed")
			s.logger.Error("Failed to rewrite recovery log", zap.Error(err))
			// the old log is still in place, so the index must reflect it
			s.indexed = false
			return report, errors.LogWriteFailure("failed to rewrite recovery log", err)
		}
	}

	s.rebuildIndex(remaining)
	s.metrics.RecordDrain("completed")

	s.logger.Info("Recovery log drain completed",
		zap.Int("replayed", report.Replayed),
		zap.Int("retained", report.Retained),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("corrupt", report.Corrupt))

	return report, nil
}

// RunPeriodic drains the log every interval until ctx is done
func (s *RecoveryService) RunPeriodic(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting periodic recovery", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Periodic recovery stopped")
			return
		case <-ticker.C:
			report, err := s.DrainAndRetry(ctx)
			if err != nil {
				s.logger.Error("Periodic recovery pass failed", zap.Error(err))
			} else if report.Skipped {
				s.logger.Debug("Periodic recovery skipped, a node is unreachable")
			}
		}
	}
}

// replay applies one entry to its node with the shared retry budget
func (s *RecoveryService) replay(ctx context.Context, entry *model.LogEntry) error {
	node, err := s.routing.Node(entry.TargetNode)
	if err != nil {
		return err
	}

	_, err = s.retry.Do(ctx, func() error {
		conn, err := s.connector.Open(ctx, node)
		if err != nil {
			return err
		}
		defer conn.Close()
		return s.records.Apply(ctx, conn, entry.Statement, entry.Params)
	}, func(attempt int, err error) {
		s.logger.Debug("Replay attempt failed",
			zap.String("entry_id", entry.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	return err
}

func (s *RecoveryService) alreadyReplayed(ctx context.Context, entry *model.LogEntry) bool {
	if s.ledger == nil {
		return false
	}
	seen, err := s.ledger.WasReplayed(ctx, entry.ID)
	if err != nil {
		s.logger.Warn("Replay ledger lookup failed",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
		return false
	}
	return seen
}

func (s *RecoveryService) markReplayed(ctx context.Context, entry *model.LogEntry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkReplayed(ctx, entry.ID); err != nil {
		s.logger.Warn("Failed to record replay in ledger",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
	}
}

// ensureIndex loads the pending pair index on first use. Callers hold mu.
func (s *RecoveryService) ensureIndex(ctx context.Context) error {
	if s.indexed {
		return nil
	}

	entries, corrupt, err := s.logStore.Load(ctx)
	if err != nil {
		s.index = make(map[pairKey]pendingPair)
		s.total = 0
		return fmt.Errorf("failed to load recovery log: %w", err)
	}
	s.metrics.RecordCorrupt(corrupt)
	s.rebuildIndex(entries)
	return nil
}

// rebuildIndex replaces the index with entries. Callers hold mu.
func (s *RecoveryService) rebuildIndex(entries []*model.LogEntry) {
	s.index = make(map[pairKey]pendingPair, len(entries))
	for _, entry := range entries {
		s.track(entry)
	}
	s.total = len(entries)
	s.indexed = true
	s.metrics.SetPending(s.total)
}

// track adds entry to the pair index. Callers hold mu.
func (s *RecoveryService) track(entry *model.LogEntry) {
	id, err := entry.InfoID()
	if err != nil {
		return
	}
	key := pairKey{entry.TargetNode, id}
	p := s.index[key]
	p.count++
	p.last = entry.Action
	s.index[key] = p
}

// replayable checks that the entry's statement matches its action
func replayable(entry *model.LogEntry) bool {
	switch entry.Action {
	case model.ActionInsert, model.ActionUpdate:
		return entry.Statement == store.StmtUpsertRecord ||
			entry.Statement == store.StmtInsertRecord ||
			entry.Statement == store.StmtUpdateRecord
	case model.ActionDelete:
		return entry.Statement == store.StmtDeleteRecord
	default:
		return false
	}
}
