package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"github.com/devrev/gamecatalog/internal/validation"
	"go.uber.org/zap"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Warning describes a physical write that was deferred to the recovery log,
// or one that could not even be deferred
type Warning struct {
	Node    model.NodeRole `json:"node"`
	Action  model.Action   `json:"action"`
	EntryID string         `json:"entry_id,omitempty"`
	Message string         `json:"message"`
}

// WriteResult reports what a logical write did on each node
type WriteResult struct {
	InfoID   int64            `json:"info_id"`
	Applied  []model.NodeRole `json:"applied"`
	Warnings []Warning        `json:"warnings,omitempty"`
}

// step is one physical write of a logical operation
type step struct {
	node      *model.Node
	action    model.Action
	statement string
	params    interface{}
}

// CatalogService orchestrates logical operations across Central and the
// partition nodes. Each physical write is an independent saga step: a failure
// is retried, then deferred to the recovery log, and never rolls back the
// other steps.
type CatalogService struct {
	routing      *RoutingService
	connector    store.Connector
	records      *store.RecordStore
	recovery     *RecoveryService
	reader       *ReadChecker
	validator    *validation.Validator
	retry        RetryPolicy
	writeTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	routing *RoutingService,
	connector store.Connector,
	records *store.RecordStore,
	recovery *RecoveryService,
	reader *ReadChecker,
	validator *validation.Validator,
	retry RetryPolicy,
	writeTimeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CatalogService {
	return &CatalogService{
		routing:      routing,
		connector:    connector,
		records:      records,
		recovery:     recovery,
		reader:       reader,
		validator:    validator,
		retry:        retry,
		writeTimeout: writeTimeout,
		metrics:      m,
		logger:       logger,
	}
}

// CheckDuplicate reports whether Central already holds infoID. A write for
// infoID still pending against Central decides the answer: the record exists
// unless the newest pending Central entry deletes it.
func (s *CatalogService) CheckDuplicate(ctx context.Context, infoID int64) (bool, error) {
	if err := s.validator.ValidateIdentifier(infoID); err != nil {
		return false, err
	}

	central := s.routing.Central()
	var count int
	_, err := s.retry.Do(ctx, func() error {
		conn, err := s.connector.Open(ctx, central)
		if err != nil {
			return err
		}
		defer conn.Close()

		count, err = s.records.Count(ctx, conn, infoID)
		return err
	}, nil)
	if err != nil {
		return false, errors.NodeUnreachable(string(model.Central), err).WithDetail("info_id", infoID)
	}

	action, pending, err := s.recovery.LastPendingAction(ctx, model.Central, infoID)
	if err != nil {
		s.logger.Warn("Could not check pending Central entries, using stored state",
			zap.Int64("info_id", infoID),
			zap.Error(err))
		return count > 0, nil
	}
	if pending {
		return action != model.ActionDelete, nil
	}
	return count > 0, nil
}

// Insert adds a new record to Central and to its partition node. It fails
// with DuplicateIdentifier if Central already holds the identifier.
func (s *CatalogService) Insert(ctx context.Context, rec *model.Record) (*WriteResult, error) {
	start := time.Now()

	if err := s.validator.ValidateRecord(rec); err != nil {
		s.metrics.RecordOperation("insert", "invalid", time.Since(start))
		return nil, err
	}

	exists, err := s.CheckDuplicate(ctx, rec.InfoID)
	if err != nil {
		s.logger.Error("Duplicate check failed, nothing written",
			zap.Int64("info_id", rec.InfoID),
			zap.Error(err))
		s.metrics.RecordOperation("insert", "unreachable", time.Since(start))
		return nil, err
	}
	if exists {
		s.metrics.RecordOperation("insert", "duplicate", time.Since(start))
		return nil, errors.DuplicateIdentifier(rec.InfoID)
	}

	steps := []step{
		{s.routing.Central(), model.ActionInsert, store.StmtInsertRecord, rec},
		{s.routing.Secondary(rec), model.ActionInsert, store.StmtUpsertRecord, rec},
	}

	result, err := s.run(ctx, rec.InfoID, steps)
	s.metrics.RecordOperation("insert", outcome(result, err), time.Since(start))
	return result, err
}

// Update replaces the record stored under infoID with next. old is the record
// as previously read by the caller; when nil it is resolved with a checked
// read. A release year crossing the partition boundary moves the record
// between partition nodes with a delete and an insert.
func (s *CatalogService) Update(ctx context.Context, infoID int64, old, next *model.Record) (*WriteResult, error) {
	start := time.Now()

	if err := s.validator.ValidateRecord(next); err != nil {
		s.metrics.RecordOperation("update", "invalid", time.Since(start))
		return nil, err
	}
	if next.InfoID != infoID {
		s.metrics.RecordOperation("update", "invalid", time.Since(start))
		return nil, errors.InvalidRecord("info_id", fmt.Sprintf("record id %d does not match %d", next.InfoID, infoID))
	}

	if old == nil {
		found, err := s.reader.FetchByIdentifier(ctx, infoID)
		if err != nil {
			s.metrics.RecordOperation("update", string(errors.GetCode(err)), time.Since(start))
			return nil, err
		}
		old = found.Record
	} else if old.InfoID != infoID {
		s.metrics.RecordOperation("update", "invalid", time.Since(start))
		return nil, errors.InvalidRecord("old.info_id", fmt.Sprintf("previous record id %d does not match %d", old.InfoID, infoID))
	}

	steps := []step{
		{s.routing.Central(), model.ActionUpdate, store.StmtUpdateRecord, next},
	}

	from, to := s.routing.Secondary(old), s.routing.Secondary(next)
	if from.Role == to.Role {
		steps = append(steps, step{to, model.ActionUpdate, store.StmtUpsertRecord, next})
	} else {
		s.logger.Info("Moving record between partitions",
			zap.Int64("info_id", infoID),
			zap.String("from", string(from.Role)),
			zap.String("to", string(to.Role)))
		steps = append(steps,
			step{from, model.ActionDelete, store.StmtDeleteRecord, model.IdentifierParams{InfoID: infoID}},
			step{to, model.ActionInsert, store.StmtUpsertRecord, next},
		)
	}

	result, err := s.run(ctx, infoID, steps)
	s.metrics.RecordOperation("update", outcome(result, err), time.Since(start))
	return result, err
}

// Delete removes infoID from Central and from the partition node its current
// release year selects. It fails with NotFound, writing nothing, if no node
// holds the record.
func (s *CatalogService) Delete(ctx context.Context, infoID int64) (*WriteResult, error) {
	start := time.Now()

	if err := s.validator.ValidateIdentifier(infoID); err != nil {
		s.metrics.RecordOperation("delete", "invalid", time.Since(start))
		return nil, err
	}

	found, err := s.reader.FetchByIdentifier(ctx, infoID)
	if err != nil {
		s.metrics.RecordOperation("delete", string(errors.GetCode(err)), time.Since(start))
		return nil, err
	}

	params := model.IdentifierParams{InfoID: infoID}
	steps := []step{
		{s.routing.Central(), model.ActionDelete, store.StmtDeleteRecord, params},
		{s.routing.Secondary(found.Record), model.ActionDelete, store.StmtDeleteRecord, params},
	}

	result, err := s.run(ctx, infoID, steps)
	s.metrics.RecordOperation("delete", outcome(result, err), time.Since(start))
	return result, err
}

// Search returns the record through the consistent read checker
func (s *CatalogService) Search(ctx context.Context, infoID int64) (*ReadResult, error) {
	start := time.Now()

	if err := s.validator.ValidateIdentifier(infoID); err != nil {
		return nil, err
	}

	result, err := s.reader.FetchByIdentifier(ctx, infoID)
	if err != nil {
		s.metrics.RecordOperation("search", string(errors.GetCode(err)), time.Since(start))
		return nil, err
	}
	s.metrics.RecordOperation("search", "ok", time.Since(start))
	return result, nil
}

// FetchPage lists records from Central ordered by identifier
func (s *CatalogService) FetchPage(ctx context.Context, offset, limit int) ([]*model.Record, error) {
	if offset < 0 {
		return nil, errors.InvalidRecord("offset", "must not be negative")
	}
	limit = PageLimit(limit)

	conn, err := s.connector.Open(ctx, s.routing.Central())
	if err != nil {
		return nil, errors.NodeUnreachable(string(model.Central), err)
	}
	defer conn.Close()

	records, err := s.records.Page(ctx, conn, offset, limit)
	if err != nil {
		return nil, errors.NodeUnreachable(string(model.Central), err)
	}
	return records, nil
}

// PageLimit is the page size FetchPage applies for a requested limit
func PageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}

// RecoverPending runs a recovery pass over the log
func (s *CatalogService) RecoverPending(ctx context.Context) (*DrainReport, error) {
	return s.recovery.DrainAndRetry(ctx)
}

// PendingEntries lists the recovery log
func (s *CatalogService) PendingEntries(ctx context.Context) ([]*model.LogEntry, error) {
	return s.recovery.Pending(ctx)
}

// run executes the steps in order. A Central failure is returned as
// NodeUnreachable after its step is deferred; a failed log append is returned
// as LogWriteFailure, which takes precedence since the write may be lost.
func (s *CatalogService) run(ctx context.Context, infoID int64, steps []step) (*WriteResult, error) {
	result := &WriteResult{InfoID: infoID, Applied: make([]model.NodeRole, 0, len(steps))}

	var centralErr, logErr error
	for _, st := range steps {
		applyErr, appendErr := s.apply(ctx, result, infoID, st)
		if st.node.Role == model.Central && stderrors.Is(applyErr, store.ErrNotFound) {
			return nil, errors.NotFound(infoID)
		}
		if appendErr != nil && logErr == nil {
			logErr = appendErr
		}
		if applyErr != nil && st.node.Role == model.Central && centralErr == nil {
			centralErr = errors.NodeUnreachable(string(model.Central), applyErr).
				WithDetail("info_id", infoID).
				WithDetail("deferred", appendErr == nil)
		}
	}

	if logErr != nil {
		return result, logErr
	}
	if centralErr != nil {
		return result, centralErr
	}
	return result, nil
}

// apply performs one step, deferring it to the recovery log on failure. A
// step whose node and record already have pending entries is deferred
// without being attempted, so it replays after them. An update that finds no
// row returns store.ErrNotFound and is not deferred.
func (s *CatalogService) apply(ctx context.Context, result *WriteResult, infoID int64, st step) (applyErr, appendErr error) {
	raw, err := json.Marshal(st.params)
	if err != nil {
		return err, errors.InternalError("failed to encode write params", err)
	}

	pending, err := s.recovery.HasPending(ctx, st.node.Role, infoID)
	if err != nil {
		s.logger.Warn("Could not check pending entries, writing directly",
			zap.String("node", string(st.node.Role)),
			zap.Int64("info_id", infoID),
			zap.Error(err))
	}

	if pending {
		applyErr = fmt.Errorf("queued behind pending recovery log entries")
	} else {
		_, applyErr = s.retry.Do(ctx, func() error {
			err := s.exec(ctx, st.node, st.statement, raw)
			if stderrors.Is(err, store.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}, func(attempt int, err error) {
			s.logger.Debug("Write attempt failed",
				zap.String("node", string(st.node.Role)),
				zap.String("action", string(st.action)),
				zap.Int64("info_id", infoID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		})
		if applyErr == nil {
			result.Applied = append(result.Applied, st.node.Role)
			s.metrics.RecordNodeWrite(string(st.node.Role), string(st.action), "ok")
			return nil, nil
		}
		if stderrors.Is(applyErr, store.ErrNotFound) {
			s.metrics.RecordNodeWrite(string(st.node.Role), string(st.action), "not_found")
			return applyErr, nil
		}
		s.metrics.RecordNodeWrite(string(st.node.Role), string(st.action), "failed")
	}

	fields := []zap.Field{
		zap.String("node", string(st.node.Role)),
		zap.String("action", string(st.action)),
		zap.Int64("info_id", infoID),
		zap.Error(applyErr),
	}
	if st.node.Role == model.Central {
		s.logger.Error("Central write failed, deferring to recovery log", fields...)
	} else {
		s.logger.Warn("Partition write failed, deferring to recovery log", fields...)
	}

	entry, err := model.NewLogEntry(st.action, st.node.Role, replayStatement(st.action), json.RawMessage(raw))
	if err != nil {
		return applyErr, errors.InternalError("failed to build recovery log entry", err)
	}

	if err := s.recovery.Append(ctx, entry); err != nil {
		result.Warnings = append(result.Warnings, Warning{
			Node:    st.node.Role,
			Action:  st.action,
			Message: fmt.Sprintf("write failed and could not be logged for retry: %v", err),
		})
		return applyErr, err
	}

	s.metrics.RecordDeferred(string(st.node.Role), string(st.action))
	result.Warnings = append(result.Warnings, Warning{
		Node:    st.node.Role,
		Action:  st.action,
		EntryID: entry.ID,
		Message: fmt.Sprintf("deferred to recovery log: %v", applyErr),
	})
	return applyErr, nil
}

// exec runs one attempt of a physical write
func (s *CatalogService) exec(ctx context.Context, node *model.Node, statement string, params json.RawMessage) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}

	conn, err := s.connector.Open(ctx, node)
	if err != nil {
		return err
	}
	defer conn.Close()

	return s.records.Apply(ctx, conn, statement, params)
}

// replayStatement is what a deferred step runs on replay. Inserts and updates
// replay as upserts so a repeated replay is harmless.
func replayStatement(action model.Action) string {
	if action == model.ActionDelete {
		return store.StmtDeleteRecord
	}
	return store.StmtUpsertRecord
}

func outcome(result *WriteResult, err error) string {
	switch {
	case err != nil:
		return string(errors.GetCode(err))
	case result != nil && len(result.Warnings) > 0:
		return "deferred"
	default:
		return "ok"
	}
}
