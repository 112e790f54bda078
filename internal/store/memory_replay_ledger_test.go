package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryReplayLedger_MarkAndExpire(t *testing.T) {
	l := NewMemoryReplayLedger(time.Minute, 10, zap.NewNop())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := l.WasReplayed(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.MarkReplayed(ctx, "a"))
	ok, err = l.WasReplayed(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = l.WasReplayed(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryReplayLedger_BoundedSize(t *testing.T) {
	l := NewMemoryReplayLedger(time.Hour, 2, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.MarkReplayed(ctx, "a"))
	require.NoError(t, l.MarkReplayed(ctx, "b"))
	require.NoError(t, l.MarkReplayed(ctx, "c"))

	assert.Equal(t, 2, l.Size())
	ok, err := l.WasReplayed(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Close())
}
