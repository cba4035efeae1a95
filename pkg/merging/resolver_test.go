package merging

import (
	"testing"
	"time"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testPolicy() *config.Policy {
	policy := config.DefaultPolicy()
	policy.SourcePriority = []string{"crm", "wealth", "events"}
	return policy
}

func members() []models.SourceRecord {
	return []models.SourceRecord{
		{
			SourceID: "events", SourceRecordID: "e-1",
			GivenName: "JANE", FamilyName: "DOE",
			Email: "jane@events.example", Phone: "617-555-0100",
			GiftCount: 2, GiftTotal: 150.5,
			LastGiftAt: at("2024-03-01T00:00:00Z"), JoinedAt: at("2019-05-01T00:00:00Z"),
			UpdatedAt: *at("2024-06-01T00:00:00Z"),
		},
		{
			SourceID: "crm", SourceRecordID: "c-9",
			GivenName: "Jane", MiddleName: "Q", FamilyName: "Doe",
			Email:       "Jane.Doe@Example.org",
			Address:     models.RawAddress{Line1: "12 Beacon St", City: "boston", State: "ma", PostalCode: "02108", Country: "USA"},
			Identifiers: map[string]string{"crm_donor_id": "D-100"},
			GiftCount:   3, GiftTotal: 200,
			LastGiftAt: at("2023-12-24T00:00:00Z"), JoinedAt: at("2015-01-10T00:00:00Z"),
			GiftHistoryRef: "crm/gifts/c-9",
			UpdatedAt:      *at("2022-01-01T00:00:00Z"),
		},
		{
			SourceID: "wealth", SourceRecordID: "w-4",
			FullName: "Jane Doe", Organization: "Doe Family Foundation",
			BirthYear:   1970,
			WealthIndex: func() *float64 { v := 0.82; return &v }(),
			Identifiers: map[string]string{"wealth_id": "W-4"},
			UpdatedAt:   *at("2024-01-01T00:00:00Z"),
		},
	}
}

func TestResolver_Resolve(t *testing.T) {
	resolver, err := NewResolver(testPolicy())
	require.NoError(t, err)

	fields, trace := resolver.Resolve(members())

	t.Run("should prefer the highest priority source", func(t *testing.T) {
		assert.Equal(t, "jane.doe@example.org", fields[models.KeyEmail])
		assert.Equal(t, models.RecordID("crm:c-9"), trace[models.KeyEmail].SourceRecordID)
		assert.Equal(t, models.RuleSourcePriority, trace[models.KeyEmail].Rule)
		assert.Equal(t, 2, trace[models.KeyEmail].Candidates)
	})

	t.Run("should keep composite groups together", func(t *testing.T) {
		assert.Equal(t, "Jane", fields[models.KeyGivenName])
		assert.Equal(t, "Q", fields[models.KeyMiddleName])
		assert.Equal(t, "Doe", fields[models.KeyFamilyName])
		assert.Equal(t, "Boston", fields[models.KeyCity])
		assert.Equal(t, "MA", fields[models.KeyState])
		assert.Equal(t, "US", fields[models.KeyCountry])
		assert.Equal(t, trace[models.KeyCity], trace[models.KeyAddressLine1])
	})

	t.Run("should take the only non-empty value", func(t *testing.T) {
		assert.Equal(t, "+16175550100", fields[models.KeyPhone])
		assert.Equal(t, models.RuleNonEmpty, trace[models.KeyPhone].Rule)
		assert.Equal(t, float64(1970), fields[models.KeyBirthYear])
		assert.Equal(t, 0.82, fields[models.KeyWealthIndex])
	})

	t.Run("should aggregate activity", func(t *testing.T) {
		assert.Equal(t, float64(5), fields[models.KeyGiftCount])
		assert.Equal(t, 350.5, fields[models.KeyGiftTotal])
		assert.Equal(t, "2024-03-01T00:00:00Z", fields[models.KeyLastGiftAt])
		assert.Equal(t, "2015-01-10T00:00:00Z", fields[models.KeyJoinedAt])
		assert.Equal(t, []any{"crm_donor_id:D-100", "wealth_id:W-4"}, fields[models.KeyIdentifiers])
		assert.Equal(t, []any{"crm/gifts/c-9"}, fields[models.KeyGiftHistoryRefs])
		assert.Equal(t, []models.RecordID{"crm:c-9", "events:e-1"}, trace[models.KeyGiftCount].Contributors)
		assert.Equal(t, models.RuleAggregate, trace[models.KeyGiftCount].Rule)
	})

	t.Run("should trace every surviving field", func(t *testing.T) {
		for key := range fields {
			entry, ok := trace[key]
			require.True(t, ok, key)
			assert.NotEmpty(t, entry.SourceRecordID, key)
			assert.NotEmpty(t, entry.Rule, key)
		}
	})
}

func TestResolver_Determinism(t *testing.T) {
	resolver, err := NewResolver(testPolicy())
	require.NoError(t, err)

	recs := members()
	wantFields, wantTrace := resolver.Resolve(recs)

	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range permutations {
		shuffled := []models.SourceRecord{recs[perm[0]], recs[perm[1]], recs[perm[2]]}
		fields, trace := resolver.Resolve(shuffled)
		assert.Equal(t, wantFields, fields)
		assert.Equal(t, wantTrace, trace)
	}
}

func TestResolver_RecencyAndTieBreak(t *testing.T) {
	policy := testPolicy()
	policy.Survivorship = map[string]models.FieldRule{
		models.SurvivorEmail: {Rules: []models.RuleKind{models.RuleNonEmpty, models.RuleRecency}},
	}
	resolver, err := NewResolver(policy)
	require.NoError(t, err)

	t.Run("should pick the most recent value", func(t *testing.T) {
		fields, trace := resolver.Resolve(members())
		assert.Equal(t, "jane@events.example", fields[models.KeyEmail])
		assert.Equal(t, models.RuleRecency, trace[models.KeyEmail].Rule)
	})

	t.Run("should fall back to the lowest record id", func(t *testing.T) {
		same := *at("2024-01-01T00:00:00Z")
		fields, trace := resolver.Resolve([]models.SourceRecord{
			{SourceID: "events", SourceRecordID: "2", Email: "b@example.org", UpdatedAt: same},
			{SourceID: "events", SourceRecordID: "1", Email: "a@example.org", UpdatedAt: same},
		})
		assert.Equal(t, "a@example.org", fields[models.KeyEmail])
		assert.Equal(t, models.RuleCanonicalOrder, trace[models.KeyEmail].Rule)
	})
}

func TestNewResolver_RejectsCompositeAggregate(t *testing.T) {
	policy := testPolicy()
	policy.Survivorship = map[string]models.FieldRule{
		models.SurvivorAddress: {Rules: []models.RuleKind{models.RuleAggregate}, Aggregate: models.AggregateUnion},
	}
	_, err := NewResolver(policy)
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))
}
