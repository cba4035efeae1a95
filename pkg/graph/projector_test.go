package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

type captureWriter struct {
	statements []Statement
	err        error
}

func (w *captureWriter) ExecuteWrite(_ context.Context, statements []Statement) error {
	w.statements = append(w.statements, statements...)
	return w.err
}

func changes() []models.EntityChange {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []models.EntityChange{
		{
			Kind:    models.ChangeUpdated,
			Removed: []models.RecordID{"crm:9"},
			Entity: &models.CanonicalEntity{
				EntityID: "e-1",
				Status:   models.EntityActive,
				Fields: map[string]any{
					"full_name":  "Ana Silva",
					"address":    map[string]any{"city": "Lisbon"},
					"emails":     []any{"ana@example.org"},
					"gift_total": 125.5,
				},
				MemberSourceIDs: []models.RecordID{"crm:1", "events:7"},
				CreatedAt:       now,
				LastResolvedAt:  now,
				Version:         2,
			},
		},
		{
			Kind: models.ChangeTombstoned,
			Entity: &models.CanonicalEntity{
				EntityID:       "e-2",
				Status:         models.EntityTombstoned,
				Fields:         map[string]any{"full_name": "A. Silva"},
				ForwardedTo:    "e-1",
				CreatedAt:      now,
				LastResolvedAt: now,
				TombstonedAt:   &now,
				Version:        3,
			},
		},
	}
}

func TestStatements(t *testing.T) {
	t.Run("should upsert, unlink and link an active donor", func(t *testing.T) {
		stmts := Statements(changes()[:1])
		require.Len(t, stmts, 3)

		props := stmts[0].Params["props"].(map[string]any)
		assert.Equal(t, "Ana Silva", props["full_name"])
		assert.Equal(t, "Lisbon", props["address_city"])
		assert.Equal(t, []string{"ana@example.org"}, props["emails"])
		assert.Equal(t, int64(2), props["version"])
		assert.Equal(t, int64(2), props["member_count"])

		assert.Equal(t, []string{"crm:9"}, stmts[1].Params["removed"])

		members := stmts[2].Params["members"].([]map[string]any)
		require.Len(t, members, 2)
		assert.Equal(t, "events", members[1]["source_id"])
		assert.Equal(t, "7", members[1]["source_record_id"])
	})

	t.Run("should forward a tombstoned donor without its fields", func(t *testing.T) {
		stmts := Statements(changes()[1:])
		require.Len(t, stmts, 2)

		props := stmts[0].Params["props"].(map[string]any)
		assert.Equal(t, "tombstoned", props["status"])
		assert.NotContains(t, props, "full_name")
		assert.Equal(t, "e-1", stmts[1].Params["forwarded_to"])
	})
}

func TestProjector(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	result := &reconcile.RunResult{
		Run:       &models.ResolutionRun{RunID: "run-1"},
		Committed: true,
		Changes:   changes(),
	}

	t.Run("should write the run in one call", func(t *testing.T) {
		writer := &captureWriter{}
		require.NoError(t, NewProjector(writer, logger).Publish(context.Background(), result))
		assert.Len(t, writer.statements, 5)
	})

	t.Run("should skip runs that did not commit", func(t *testing.T) {
		writer := &captureWriter{}
		uncommitted := *result
		uncommitted.Committed = false
		require.NoError(t, NewProjector(writer, logger).Publish(context.Background(), &uncommitted))
		assert.Empty(t, writer.statements)
	})

	t.Run("should wrap write failures", func(t *testing.T) {
		writer := &captureWriter{err: errors.New("bolt closed")}
		err := NewProjector(writer, logger).Publish(context.Background(), result)
		assert.ErrorContains(t, err, "bolt closed")
	})
}
