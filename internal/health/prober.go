package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/gamecatalog/internal/metrics"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober reports whether every catalog node can be reached
type Prober interface {
	AllReachable(ctx context.Context) bool
}

// NodeProber probes nodes by opening and immediately closing a connection
type NodeProber struct {
	connector store.Connector
	nodes     []*model.Node
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewNodeProber creates a prober over nodes, checked in the given order
func NewNodeProber(
	connector store.Connector,
	nodes []*model.Node,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *NodeProber {
	return &NodeProber{
		connector: connector,
		nodes:     nodes,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// Probe checks a single node
func (p *NodeProber) Probe(ctx context.Context, node *model.Node) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	conn, err := p.connector.Open(ctx, node)
	if err != nil {
		p.metrics.SetNodeReachable(string(node.Role), false)
		return err
	}
	defer conn.Close()

	if err := conn.PingContext(ctx); err != nil {
		p.metrics.SetNodeReachable(string(node.Role), false)
		return fmt.Errorf("ping %s: %w", node.Role, err)
	}

	p.metrics.SetNodeReachable(string(node.Role), true)
	return nil
}

// AllReachable probes the nodes in order and stops at the first failure
func (p *NodeProber) AllReachable(ctx context.Context) bool {
	for _, node := range p.nodes {
		if err := p.Probe(ctx, node); err != nil {
			p.logger.Warn("Node unreachable, skipping recovery pass",
				zap.String("node", string(node.Role)),
				zap.Error(err))
			return false
		}
	}
	return true
}

// ProbeAll probes every node concurrently and returns each node's error
func (p *NodeProber) ProbeAll(ctx context.Context) map[model.NodeRole]error {
	results := make(map[model.NodeRole]error, len(p.nodes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, node := range p.nodes {
		node := node
		g.Go(func() error {
			err := p.Probe(gctx, node)
			mu.Lock()
			results[node.Role] = err
			mu.Unlock()
			// a failed node must not cancel the other probes
			return nil
		})
	}
	g.Wait()

	return results
}
