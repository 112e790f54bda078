package service

import (
	"context"
	"time"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"go.uber.org/zap"
)

// ReadResult is the outcome of a checked read
type ReadResult struct {
	Record *model.Record  `json:"record"`
	Node   model.NodeRole `json:"node"`
	// Changed is set when the re-read differed from the first read; Record
	// then holds the re-read value
	Changed bool `json:"changed"`
}

// ReadChecker reads a record twice under a shared lock, separated by a
// settle delay, so concurrent writers landing in the window are observed
type ReadChecker struct {
	routing     *RoutingService
	connector   store.Connector
	records     *store.RecordStore
	settleDelay time.Duration
	locked      bool
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewReadChecker creates a new read checker. With locked false the reads
// skip the share lock clause.
func NewReadChecker(
	routing *RoutingService,
	connector store.Connector,
	records *store.RecordStore,
	settleDelay time.Duration,
	locked bool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReadChecker {
	return &ReadChecker{
		routing:     routing,
		connector:   connector,
		records:     records,
		settleDelay: settleDelay,
		locked:      locked,
		metrics:     m,
		logger:      logger,
	}
}

// FetchByIdentifier tries Central, EarlyPartition and LatePartition in turn.
// The first reachable node holding the record answers. Unreachable nodes are
// skipped; if none could be reached at all the error is NodeUnreachable,
// otherwise a miss everywhere is NotFound.
func (c *ReadChecker) FetchByIdentifier(ctx context.Context, infoID int64) (*ReadResult, error) {
	answered := 0
	var lastErr error

	for _, node := range c.routing.ReadOrder() {
		result, err := c.readNode(ctx, node, infoID)
		switch {
		case err == nil:
			return result, nil
		case err == store.ErrNotFound:
			answered++
		case errors.Is(err, errors.ErrCodeNotFound):
			return nil, err
		default:
			lastErr = err
			c.logger.Warn("Skipping unreachable node during read",
				zap.String("node", string(node.Role)),
				zap.Int64("info_id", infoID),
				zap.Error(err))
		}
	}

	if answered == 0 && lastErr != nil {
		return nil, errors.NodeUnreachable("all", lastErr).WithDetail("info_id", infoID)
	}
	return nil, errors.NotFound(infoID)
}

// readNode performs the locked read, settle, re-read sequence on one node.
// The connection is held for the whole sequence; locks are statement scoped
// so writers are not blocked across the settle delay.
func (c *ReadChecker) readNode(ctx context.Context, node *model.Node, infoID int64) (*ReadResult, error) {
	conn, err := c.connector.Open(ctx, node)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	first, err := c.records.Get(ctx, conn, infoID, c.locked)
	if err != nil {
		return nil, err
	}

	if c.settleDelay > 0 {
		timer := time.NewTimer(c.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	second, err := c.records.Get(ctx, conn, infoID, c.locked)
	if err == store.ErrNotFound {
		c.metrics.RecordReadRace()
		c.logger.Warn("Record deleted during read",
			zap.String("node", string(node.Role)),
			zap.Int64("info_id", infoID))
		return nil, errors.NotFound(infoID).WithDetail("deleted_during_read", true)
	}
	if err != nil {
		return nil, err
	}

	result := &ReadResult{Record: second, Node: node.Role}
	if !first.Equal(second) {
		result.Changed = true
		c.metrics.RecordReadRace()
		c.logger.Warn("Concurrent modification detected during read",
			zap.String("node", string(node.Role)),
			zap.Int64("info_id", infoID))
	}

	return result, nil
}
