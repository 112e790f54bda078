package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		InfoID:           620,
		Name:             "Portal 2",
		ReleaseDate:      NewDate(2011, time.April, 18),
		Price:            9.99,
		DiscountDLCCount: 3,
		About:            "Co-op puzzles",
		Achievements:     51,
		Developers:       "Valve",
		Publishers:       "Valve",
		Categories:       "Single-player,Co-op",
		Genres:           "Puzzle",
		Tags:             "Puzzle,Co-op",
	}
}

func TestRecord_JSONDate(t *testing.T) {
	rec := sampleRecord()

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"release_date":"2011-04-18"`)

	var decoded Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, rec.Equal(&decoded))
	assert.Equal(t, 2011, decoded.ReleaseYear())
}

func TestRecord_EqualComparesCents(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Price = 9.990000001
	assert.True(t, a.Equal(b))

	b.Price = 10.49
	assert.False(t, a.Equal(b))

	assert.False(t, a.Equal(nil))
	var none *Record
	assert.True(t, none.Equal(nil))
}

func TestDate_Scan(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		want string
	}{
		{"mysql bytes", []byte("2005-06-01"), "2005-06-01"},
		{"sqlite string", "2005-06-01", "2005-06-01"},
		{"timestamp string", "2005-06-01T00:00:00Z", "2005-06-01"},
		{"time value", time.Date(2015, time.March, 2, 13, 4, 0, 0, time.UTC), "2015-03-02"},
		{"null", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			require.NoError(t, d.Scan(tt.src))
			assert.Equal(t, tt.want, d.String())
		})
	}

	var d Date
	assert.Error(t, d.Scan(42))
	assert.Error(t, d.Scan("yesterday"))
}

func TestNodeRole(t *testing.T) {
	for _, role := range AllRoles {
		parsed, err := ParseNodeRole(string(role))
		require.NoError(t, err)
		assert.Equal(t, role, parsed)
	}

	_, err := ParseNodeRole("server3")
	assert.Error(t, err)
}

func TestLogEntry_SealAndVerify(t *testing.T) {
	rec := sampleRecord()

	entry, err := NewLogEntry(ActionInsert, LatePartition, "upsert_record", rec)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.True(t, entry.Verify())

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var decoded LogEntry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Verify(), "checksum must survive a JSON round trip")

	got, err := decoded.Record()
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))

	id, err := decoded.InfoID()
	require.NoError(t, err)
	assert.Equal(t, int64(620), id)

	decoded.TargetNode = EarlyPartition
	assert.False(t, decoded.Verify())
}

func TestLogEntry_DeleteParams(t *testing.T) {
	entry, err := NewLogEntry(ActionDelete, EarlyPartition, "delete_record", IdentifierParams{InfoID: 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"info_id":7}`, string(entry.Params))

	id, err := entry.InfoID()
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestLogEntry_PreEncodedParams(t *testing.T) {
	raw := json.RawMessage(`{"info_id":9}`)
	entry, err := NewLogEntry(ActionDelete, Central, "delete_record", raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"info_id":9}`, string(entry.Params))

	id, err := entry.InfoID()
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	entry.Params = json.RawMessage(`{"info_id":19}`)
	assert.False(t, entry.Verify(), "params are part of the seal")
}
