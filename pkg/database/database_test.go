package database

import (
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_Scan(t *testing.T) {
	t.Run("should decode bytes from postgres", func(t *testing.T) {
		var v JSONB[map[string]any]
		require.NoError(t, v.Scan([]byte(`{"a":1}`)))
		assert.Equal(t, map[string]any{"a": 1.0}, v.GetValue())
	})

	t.Run("should decode strings from sqlite", func(t *testing.T) {
		var v JSONB[[]string]
		require.NoError(t, v.Scan(`["x","y"]`))
		assert.Equal(t, []string{"x", "y"}, v.GetValue())
	})

	t.Run("should reset on NULL", func(t *testing.T) {
		v := NewJSONB([]string{"x"})
		require.NoError(t, v.Scan(nil))
		assert.Nil(t, v.GetValue())
	})

	t.Run("should reject other types", func(t *testing.T) {
		var v JSONB[int]
		assert.Error(t, v.Scan(42))
	})
}

func TestInsertBuilder_OnConflictUpdate(t *testing.T) {
	t.Run("should render an upsert with sqlite placeholders", func(t *testing.T) {
		ib := NewInsertBuilder(sqlbuilder.SQLite)
		ib.InsertInto("record_assignments")
		ib.Cols("dataset_key", "record_id", "entity_id")
		ib.Values("donors", "crm:1", "E1")
		ib.OnConflictUpdate([]string{"dataset_key", "record_id"}, "entity_id")

		query, args := ib.Build()
		assert.Contains(t, query, "VALUES (?, ?, ?)")
		assert.Contains(t, query, "ON CONFLICT (dataset_key, record_id) DO UPDATE SET entity_id = EXCLUDED.entity_id")
		assert.Len(t, args, 3)
	})

	t.Run("should use numbered placeholders for postgres", func(t *testing.T) {
		ib := NewInsertBuilder(sqlbuilder.PostgreSQL)
		ib.InsertInto("dataset_state")
		ib.Cols("dataset_key", "version")
		ib.Values("donors", 0)
		ib.OnConflictDoNothing()

		query, _ := ib.Build()
		assert.Contains(t, query, "VALUES ($1, $2)")
		assert.Contains(t, query, "ON CONFLICT DO NOTHING")
	})
}

func TestChunk(t *testing.T) {
	rows := make([]int, maxRowsPerInsert*2+1)
	chunks := Chunk(rows)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], maxRowsPerInsert)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, Chunk([]int(nil)))
}
