package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryReplayLedger implements ReplayLedger using an in-memory map. It only
// guards against double replays within one process lifetime.
type MemoryReplayLedger struct {
	data    map[string]time.Time
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemoryReplayLedger creates a new in-memory ledger
func NewMemoryReplayLedger(ttl time.Duration, maxSize int, logger *zap.Logger) *MemoryReplayLedger {
	return &MemoryReplayLedger{
		data:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// MarkReplayed records entryID as replayed until the TTL elapses
func (l *MemoryReplayLedger) MarkReplayed(ctx context.Context, entryID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.maxSize > 0 && len(l.data) >= l.maxSize {
		for id, expiresAt := range l.data {
			if now.After(expiresAt) {
				delete(l.data, id)
			}
		}
		// Still full, drop an arbitrary entry
		if len(l.data) >= l.maxSize {
			for id := range l.data {
				delete(l.data, id)
				break
			}
		}
	}

	l.data[entryID] = now.Add(l.ttl)
	return nil
}

// WasReplayed reports whether entryID was marked and has not expired
func (l *MemoryReplayLedger) WasReplayed(ctx context.Context, entryID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expiresAt, exists := l.data[entryID]
	if !exists {
		return false, nil
	}
	return !l.now().After(expiresAt), nil
}

// Size returns the number of tracked entries
func (l *MemoryReplayLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

// Close is a no-op
func (l *MemoryReplayLedger) Close() error {
	return nil
}
