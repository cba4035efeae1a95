package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

type capturePublisher struct {
	events []*kafka.EntityEvent
	err    error
}

func (p *capturePublisher) PublishEntityEvents(_ context.Context, events []*kafka.EntityEvent) error {
	p.events = append(p.events, events...)
	return p.err
}

func mergeResult() *reconcile.RunResult {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &reconcile.RunResult{
		Run:       &models.ResolutionRun{RunID: "run-1", DatasetKey: "donors"},
		Committed: true,
		Changes: []models.EntityChange{
			{
				Kind:     models.ChangeMerged,
				Absorbed: []string{"e-2"},
				Entity: &models.CanonicalEntity{
					EntityID:        "e-1",
					Status:          models.EntityActive,
					Fields:          map[string]any{"email": "ana@example.org"},
					MemberSourceIDs: []models.RecordID{"crm:1", "events:7"},
					LastResolvedAt:  now,
					Version:         3,
				},
			},
			{
				Kind: models.ChangeTombstoned,
				Entity: &models.CanonicalEntity{
					EntityID:       "e-2",
					Status:         models.EntityTombstoned,
					Fields:         map[string]any{"email": "old@example.org"},
					ForwardedTo:    "e-1",
					LastResolvedAt: now,
					Version:        2,
				},
			},
		},
	}
}

func TestEmitter(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should emit one event per change", func(t *testing.T) {
		publisher := &capturePublisher{}
		require.NoError(t, NewEmitter(publisher, logger).Publish(context.Background(), mergeResult()))
		require.Len(t, publisher.events, 2)

		merged := publisher.events[0]
		assert.Equal(t, "entity.merged", merged.EventType)
		assert.Equal(t, []string{"e-2"}, merged.Absorbed)
		assert.Equal(t, []models.RecordID{"crm:1", "events:7"}, merged.MemberSourceIDs)
		assert.Equal(t, "run-1", merged.RunID)
		assert.Equal(t, 3, merged.Version)

		tombstone := publisher.events[1]
		assert.Equal(t, "entity.tombstoned", tombstone.EventType)
		assert.Equal(t, "e-1", tombstone.ForwardedTo)
		assert.Nil(t, tombstone.Fields)
	})

	t.Run("should stay silent for runs that did not commit", func(t *testing.T) {
		publisher := &capturePublisher{}
		result := mergeResult()
		result.Committed = false
		require.NoError(t, NewEmitter(publisher, logger).Publish(context.Background(), result))
		assert.Empty(t, publisher.events)
	})

	t.Run("should return publisher failures", func(t *testing.T) {
		publisher := &capturePublisher{err: errors.New("broker down")}
		err := NewEmitter(publisher, logger).Publish(context.Background(), mergeResult())
		assert.Error(t, err)
	})
}

func TestEventTypeFor(t *testing.T) {
	cases := map[models.EntityChangeKind]EventType{
		models.ChangeCreated:    EventTypeEntityCreated,
		models.ChangeUpdated:    EventTypeEntityUpdated,
		models.ChangeMerged:     EventTypeEntityMerged,
		models.ChangeSplit:      EventTypeEntitySplit,
		models.ChangeTombstoned: EventTypeEntityTombstoned,
	}
	for kind, want := range cases {
		assert.Equal(t, want, EventTypeFor(kind), kind)
	}
}
