package blocking

import (
	"testing"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalized(recs ...models.SourceRecord) []models.NormalizedRecord {
	out := make([]models.NormalizedRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, normalizers.NormalizeRecord(r))
	}
	return out
}

func allStrategies(t *testing.T, identifiers ...string) *Blocker {
	t.Helper()
	b, err := New([]string{
		StrategyFamilySoundexPostal,
		StrategyEmailLocalPrefix,
		StrategyPhoneSuffix,
		StrategyNameMetaphoneCity,
	}, identifiers)
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	t.Run("should reject unknown strategies", func(t *testing.T) {
		_, err := New([]string{"zodiac_sign"}, nil)
		assert.Error(t, err)
	})

	t.Run("should reject an empty configuration", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})

	t.Run("should accept identifiers alone", func(t *testing.T) {
		_, err := New([]string{StrategyIdentifier}, []string{"crm_donor_id"})
		assert.NoError(t, err)
	})
}

func TestBlocker_Block(t *testing.T) {
	records := normalized(
		models.SourceRecord{SourceID: "crm", SourceRecordID: "1", GivenName: "Robert", FamilyName: "Smith",
			Email: "bob.smith@example.org", Address: models.RawAddress{City: "Boston", PostalCode: "02110"}},
		models.SourceRecord{SourceID: "events", SourceRecordID: "7", GivenName: "Bob", FamilyName: "Smyth",
			Address: models.RawAddress{City: "Boston", PostalCode: "02110"}},
		models.SourceRecord{SourceID: "wealth", SourceRecordID: "3", FullName: "Ann Lee", Phone: "617-555-0100"},
		models.SourceRecord{SourceID: "wealth", SourceRecordID: "4", FullName: "Zed"},
	)
	blocks := allStrategies(t).Block(records)

	t.Run("should place every record in at least one block", func(t *testing.T) {
		for _, r := range records {
			assert.NotEmpty(t, blocks.KeysFor(r.ID), r.ID)
		}
	})

	t.Run("should give unkeyed records a singleton block", func(t *testing.T) {
		assert.Equal(t, []string{"singleton:wealth:4"}, blocks.KeysFor("wealth:4"))
	})

	t.Run("should union strategies and assign each pair once", func(t *testing.T) {
		owner, ok := blocks.Owner("crm:1", "events:7")
		require.True(t, ok)
		assert.Equal(t, "family_soundex_postal:S530|02110", owner)

		seen := map[[2]models.RecordID]int{}
		for _, b := range blocks.All() {
			for _, p := range blocks.Pairs(b) {
				seen[p]++
			}
		}
		assert.Equal(t, map[[2]models.RecordID]int{{"crm:1", "events:7"}: 1}, seen)
		assert.Equal(t, 1, blocks.PairCount())
	})

	t.Run("should never pair records without a shared key", func(t *testing.T) {
		_, ok := blocks.Owner("crm:1", "wealth:3")
		assert.False(t, ok)
	})
}

func TestBlocker_Identifier(t *testing.T) {
	records := normalized(
		models.SourceRecord{SourceID: "crm", SourceRecordID: "1", FullName: "Jane Doe", Identifiers: map[string]string{"crm_donor_id": "D-9"}},
		models.SourceRecord{SourceID: "events", SourceRecordID: "2", FullName: "J Roe", Identifiers: map[string]string{"CRM_DONOR_ID": "d-9"}},
	)
	blocks := allStrategies(t, "crm_donor_id").Block(records)

	owner, ok := blocks.Owner("crm:1", "events:2")
	require.True(t, ok)
	assert.Equal(t, "identifier:crm_donor_id=d-9", owner)
}
