package identitystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/repositories/identitystore"
	"github.com/Ramsey-B/sage/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/sage/internal/testutil"
	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

var drivers = map[string]func(t *testing.T) database.DB{
	"sqlite":   testutil.SQLite,
	"postgres": testutil.Postgres,
}

var created = time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)

func sampleCommit() *models.CommitRequest {
	tombstonedAt := created.Add(time.Hour)
	updated := created.Add(-24 * time.Hour)
	return &models.CommitRequest{
		ExpectedVersion: 0,
		Entities: []*models.CanonicalEntity{
			{
				EntityID: "E1",
				Status:   models.EntityActive,
				Fields: map[string]any{
					models.KeyFamilyName:  "Doe",
					models.KeyGiftTotal:   125.5,
					models.KeyIdentifiers: []any{"tax_id:123"},
				},
				SurvivorshipTrace: map[string]models.TraceEntry{
					models.KeyFamilyName: {SourceRecordID: "crm:1", Rule: models.RuleSourcePriority, Candidates: 2},
				},
				MemberSourceIDs: []models.RecordID{"crm:1", "events:9"},
				CreatedAt:       created,
				LastResolvedAt:  created,
				Version:         2,
			},
			{
				EntityID:       "E2",
				Status:         models.EntityTombstoned,
				Fields:         map[string]any{models.KeyFamilyName: "Doe"},
				ForwardedTo:    "E1",
				CreatedAt:      created,
				LastResolvedAt: tombstonedAt,
				TombstonedAt:   &tombstonedAt,
				Version:        2,
			},
		},
		Records: []models.StoredRecord{
			{
				Record: models.SourceRecord{
					SourceID: "crm", SourceRecordID: "1", GivenName: "Jane", FamilyName: "Doe",
					GiftTotal: 100, UpdatedAt: updated, IngestedAt: created,
				},
				Fingerprint: "fp-1",
				FirstSeenAt: created,
			},
			{
				Record:      models.SourceRecord{SourceID: "events", SourceRecordID: "9", FamilyName: "Doe", IngestedAt: created},
				Fingerprint: "fp-9",
				FirstSeenAt: created,
			},
		},
		Assignments: map[models.RecordID]string{"crm:1": "E1", "events:9": "E1"},
	}
}

func TestRepository_CommitAndLoad(t *testing.T) {
	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := identitystore.NewRepository(open(t), testutil.Logger(), "donors")

			t.Run("should load an empty dataset at version zero", func(t *testing.T) {
				state, err := repo.Load(ctx)
				require.NoError(t, err)
				assert.Zero(t, state.Version)
				assert.Empty(t, state.Entities)
			})

			version, err := repo.Commit(ctx, sampleCommit())
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)

			t.Run("should round trip the committed state", func(t *testing.T) {
				state, err := repo.Load(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), state.Version)

				e1 := state.Entities["E1"]
				require.NotNil(t, e1)
				assert.Equal(t, "Doe", e1.Fields[models.KeyFamilyName])
				assert.Equal(t, 125.5, e1.Fields[models.KeyGiftTotal])
				assert.Equal(t, []any{"tax_id:123"}, e1.Fields[models.KeyIdentifiers])
				assert.Equal(t, models.RuleSourcePriority, e1.SurvivorshipTrace[models.KeyFamilyName].Rule)
				assert.Equal(t, []models.RecordID{"crm:1", "events:9"}, e1.MemberSourceIDs)
				assert.True(t, created.Equal(e1.CreatedAt))

				e2 := state.Entities["E2"]
				require.NotNil(t, e2)
				assert.Equal(t, "E1", e2.ForwardedTo)
				require.NotNil(t, e2.TombstonedAt)

				rec := state.Records["crm:1"]
				assert.Equal(t, "fp-1", rec.Fingerprint)
				assert.Equal(t, "Jane", rec.Record.GivenName)
				assert.InDelta(t, 100.0, rec.Record.GiftTotal, 1e-9)
				assert.Equal(t, "E1", state.Assignments["events:9"])
			})

			t.Run("should reject a commit from a stale version", func(t *testing.T) {
				_, err := repo.Commit(ctx, &models.CommitRequest{
					ExpectedVersion: 0,
					Assignments:     map[models.RecordID]string{"crm:1": "E9"},
				})
				require.Error(t, err)
				assert.True(t, models.IsPersistenceConflict(err))

				entityID, err := repo.GetAssignment(ctx, "crm:1")
				require.NoError(t, err)
				assert.Equal(t, "E1", entityID)
			})

			t.Run("should report missing rows as not found", func(t *testing.T) {
				_, err := repo.GetEntity(ctx, "nope")
				assert.ErrorIs(t, err, identity.ErrNotFound)
				_, err = repo.GetAssignment(ctx, "crm:404")
				assert.ErrorIs(t, err, identity.ErrNotFound)
			})
		})
	}
}

func TestRepository_ReconcilerRoundTrip(t *testing.T) {
	for name, open := range drivers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := open(t)
			store := identitystore.NewRepository(db, testutil.Logger(), "donors")
			runs := resolutionrun.NewRepository(db, testutil.Logger(), "donors")
			rec := reconcile.New("donors", store, runs, identity.NewFileLocker(t.TempDir()), config.DefaultPolicy(), testutil.Logger())

			lastGift := time.Date(2024, 12, 24, 0, 0, 0, 0, time.UTC)
			batch := []models.SourceRecord{
				{SourceID: "crm", SourceRecordID: "1", GivenName: "Jane", FamilyName: "Doe", Email: "jane.doe@example.org", GiftCount: 2, GiftTotal: 50, LastGiftAt: &lastGift},
				{SourceID: "events", SourceRecordID: "4", GivenName: "Jane", FamilyName: "Doe", Email: "jane.doe@example.org", EngagementCount: 3},
			}

			first, err := rec.Run(ctx, batch)
			require.NoError(t, err)
			assert.Equal(t, 1, first.Run.EntitiesCreated)

			second, err := rec.Run(ctx, batch)
			require.NoError(t, err)
			assert.Zero(t, second.Run.ScopeRecords)
			assert.Empty(t, second.Changes)

			state, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, first.Run.StateVersion, state.Version)

			history, err := runs.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, second.Run.RunID, history[0].RunID)

			got, err := runs.Get(ctx, first.Run.RunID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.EntitiesCreated)
		})
	}
}
