package service

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadChecker_ObservesConcurrentUpdate(t *testing.T) {
	f := newFixture(t, fixtureOptions{settle: 300 * time.Millisecond})
	ctx := context.Background()

	original := game(900, "Before", 2014)
	_, err := f.catalog.Insert(ctx, original)
	require.NoError(t, err)

	type outcome struct {
		result *ReadResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.catalog.Search(ctx, 900)
		done <- outcome{result, err}
	}()

	// land the write inside the reader's settle window
	time.Sleep(50 * time.Millisecond)
	updated := game(900, "After", 2014)
	_, err = f.catalog.Update(ctx, 900, original, updated)
	require.NoError(t, err)

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.result.Changed)
	assert.Equal(t, "After", got.result.Record.Name)
	assert.Equal(t, model.Central, got.result.Node)
}

func TestReadChecker_ObservesConcurrentDelete(t *testing.T) {
	f := newFixture(t, fixtureOptions{settle: 300 * time.Millisecond})
	ctx := context.Background()

	_, err := f.catalog.Insert(ctx, game(901, "Fleeting", 2014))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.reader.FetchByIdentifier(ctx, 901)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	f.nodes.Exec(t, f.nodes.Central, "DELETE FROM app_info WHERE info_id = 901")

	err = <-done
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestReadChecker_Unchanged(t *testing.T) {
	f := newFixture(t, fixtureOptions{settle: 10 * time.Millisecond})
	ctx := context.Background()

	rec := game(902, "Steady", 2001)
	_, err := f.catalog.Insert(ctx, rec)
	require.NoError(t, err)

	result, err := f.reader.FetchByIdentifier(ctx, 902)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.True(t, rec.Equal(result.Record))
}

func TestReadChecker_SkipsUnreachableNodes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	rec := game(903, "Fallback", 2001)
	_, err := f.catalog.Insert(ctx, rec)
	require.NoError(t, err)

	f.nodes.Connector.SetDown(model.Central, true)
	result, err := f.reader.FetchByIdentifier(ctx, 903)
	require.NoError(t, err)
	assert.Equal(t, model.EarlyPartition, result.Node)
	assert.True(t, rec.Equal(result.Record))
}

func TestReadChecker_NotFound(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.nodes.Connector.SetDown(model.LatePartition, true)
	_, err := f.reader.FetchByIdentifier(context.Background(), 904)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestReadChecker_AllUnreachable(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	for _, role := range model.AllRoles {
		f.nodes.Connector.SetDown(role, true)
	}

	_, err := f.reader.FetchByIdentifier(context.Background(), 905)
	assert.True(t, errors.Is(err, errors.ErrCodeNodeUnreachable))
}
