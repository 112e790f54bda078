package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/devrev/gamecatalog/internal/model"
	"github.com/devrev/gamecatalog/internal/store"
	"github.com/devrev/gamecatalog/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id int64, name string, year int) *model.Record {
	return &model.Record{
		InfoID:           id,
		Name:             name,
		ReleaseDate:      model.NewDate(year, time.March, 14),
		Price:            19.99,
		DiscountDLCCount: 2,
		About:            "about " + name,
		Achievements:     40,
		Developers:       "Studio",
		Publishers:       "Publisher",
		Categories:       "Single-player",
		Genres:           "Action,Indie",
		Tags:             "Roguelike",
	}
}

func TestRecordStore_CRUD(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	conn, err := nodes.Connector.Open(ctx, nodes.Central)
	require.NoError(t, err)
	defer conn.Close()

	rs := nodes.Records
	rec := testRecord(7, "Hades", 2020)

	require.NoError(t, rs.Insert(ctx, conn, rec))

	count, err := rs.Count(ctx, conn, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// plain insert refuses a duplicate identifier
	assert.Error(t, rs.Insert(ctx, conn, rec))

	got, err := rs.Get(ctx, conn, 7, false)
	require.NoError(t, err)
	assert.True(t, rec.Equal(got), "got %+v", got)

	rec.Name = "Hades II"
	require.NoError(t, rs.Update(ctx, conn, rec))
	got, err = rs.Get(ctx, conn, 7, true)
	require.NoError(t, err)
	assert.Equal(t, "Hades II", got.Name)

	require.NoError(t, rs.Delete(ctx, conn, 7))
	_, err = rs.Get(ctx, conn, 7, false)
	assert.Equal(t, store.ErrNotFound, err)

	// deleting twice is harmless
	assert.NoError(t, rs.Delete(ctx, conn, 7))

	// updating an absent record is not
	err = rs.Update(ctx, conn, rec)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordStore_UpdateUnchangedValues(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	conn, err := nodes.Connector.Open(ctx, nodes.Early)
	require.NoError(t, err)
	defer conn.Close()

	rec := testRecord(8, "Celeste", 2018)
	require.NoError(t, nodes.Records.Insert(ctx, conn, rec))
	assert.NoError(t, nodes.Records.Update(ctx, conn, rec))
	assert.NoError(t, nodes.Records.Update(ctx, conn, rec))
}

func TestRecordStore_UpsertIsIdempotent(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	conn, err := nodes.Connector.Open(ctx, nodes.Late)
	require.NoError(t, err)
	defer conn.Close()

	rec := testRecord(3, "Celeste", 2018)
	require.NoError(t, nodes.Records.Upsert(ctx, conn, rec))
	require.NoError(t, nodes.Records.Upsert(ctx, conn, rec))

	rec.Price = 4.99
	require.NoError(t, nodes.Records.Upsert(ctx, conn, rec))

	count, err := nodes.Records.Count(ctx, conn, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := nodes.Records.Get(ctx, conn, 3, false)
	require.NoError(t, err)
	assert.InDelta(t, 4.99, got.Price, 0.001)
}

func TestRecordStore_Apply(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	conn, err := nodes.Connector.Open(ctx, nodes.Early)
	require.NoError(t, err)
	defer conn.Close()

	rec := testRecord(11, "Portal", 2007)
	params, err := json.Marshal(rec)
	require.NoError(t, err)

	require.NoError(t, nodes.Records.Apply(ctx, conn, store.StmtUpsertRecord, params))
	require.NoError(t, nodes.Records.Apply(ctx, conn, store.StmtUpsertRecord, params))

	got, err := nodes.Records.Get(ctx, conn, 11, false)
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	del, err := json.Marshal(model.IdentifierParams{InfoID: 11})
	require.NoError(t, err)
	require.NoError(t, nodes.Records.Apply(ctx, conn, store.StmtDeleteRecord, del))

	_, err = nodes.Records.Get(ctx, conn, 11, false)
	assert.Equal(t, store.ErrNotFound, err)

	assert.Error(t, nodes.Records.Apply(ctx, conn, store.StmtSelectRecord, del))
}

func TestRecordStore_Page(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	conn, err := nodes.Connector.Open(ctx, nodes.Central)
	require.NoError(t, err)
	defer conn.Close()

	for _, id := range []int64{5, 1, 4, 2, 3} {
		require.NoError(t, nodes.Records.Insert(ctx, conn, testRecord(id, "game", 2012)))
	}

	page, err := nodes.Records.Page(ctx, conn, 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(2), page[0].InfoID)
	assert.Equal(t, int64(4), page[2].InfoID)

	page, err = nodes.Records.Page(ctx, conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFaultConnector_SetDown(t *testing.T) {
	nodes := storetest.NewNodes(t)
	ctx := context.Background()

	nodes.Connector.SetDown(model.LatePartition, true)
	_, err := nodes.Connector.Open(ctx, nodes.Late)
	assert.Error(t, err)

	nodes.Connector.SetDown(model.LatePartition, false)
	conn, err := nodes.Connector.Open(ctx, nodes.Late)
	require.NoError(t, err)
	assert.NoError(t, conn.PingContext(ctx))
	assert.Equal(t, model.LatePartition, conn.Node().Role)
	conn.Close()
}
