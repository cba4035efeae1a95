package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicy(t *testing.T) {
	t.Run("should return the defaults for an empty path", func(t *testing.T) {
		policy, err := LoadPolicy("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), policy)
	})

	t.Run("should overlay the file on the defaults", func(t *testing.T) {
		policy, err := LoadPolicy(writePolicy(t, `
match_threshold: 0.8
source_priority: [crm, wealth]
survivorship:
  email:
    rules: [source_priority, most_recent]
`))
		require.NoError(t, err)
		assert.Equal(t, 0.8, policy.MatchThreshold)
		assert.Equal(t, 0.9, policy.StrongThreshold)
		assert.Equal(t, []models.RuleKind{models.RuleSourcePriority, models.RuleRecency}, policy.Survivorship[models.SurvivorEmail].Rules)
	})

	t.Run("should reject a missing file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
		var configErr *models.ConfigurationError
		assert.ErrorAs(t, err, &configErr)
	})

	t.Run("should reject malformed yaml", func(t *testing.T) {
		_, err := LoadPolicy(writePolicy(t, "match_threshold: [0.8"))
		var configErr *models.ConfigurationError
		assert.ErrorAs(t, err, &configErr)
	})
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Policy)
		problem string
	}{
		{
			name:    "should reject a threshold above one",
			mutate:  func(p *Policy) { p.MatchThreshold = 1.5 },
			problem: "MatchThreshold",
		},
		{
			name:    "should reject a strong threshold below the match threshold",
			mutate:  func(p *Policy) { p.StrongThreshold = 0.5 },
			problem: "strong_threshold",
		},
		{
			name: "should reject more strong edges than a large cluster can hold",
			mutate: func(p *Policy) {
				p.LargeClusterSize = 3
				p.MinStrongEdgesForLargeCluster = 4
			},
			problem: "min_strong_edges_for_large_cluster 4",
		},
		{
			name:    "should reject an unknown weighted field",
			mutate:  func(p *Policy) { p.FieldWeights["shoe_size"] = 0.1 },
			problem: `unknown field "shoe_size"`,
		},
		{
			name:    "should reject all-zero weights",
			mutate:  func(p *Policy) { p.FieldWeights = map[string]float64{models.FieldName: 0} },
			problem: "positive weight",
		},
		{
			name:    "should reject a duplicated source",
			mutate:  func(p *Policy) { p.SourcePriority = []string{"crm", "crm"} },
			problem: "more than once",
		},
		{
			name:    "should require two blocking strategies",
			mutate:  func(p *Policy) { p.BlockingStrategies = p.BlockingStrategies[:1] },
			problem: "at least two",
		},
		{
			name:    "should reject an unknown blocking strategy",
			mutate:  func(p *Policy) { p.BlockingStrategies = append(p.BlockingStrategies, "zip_only") },
			problem: `unknown strategy "zip_only"`,
		},
		{
			name: "should reject an aggregate rule without a function",
			mutate: func(p *Policy) {
				p.Survivorship = map[string]models.FieldRule{
					models.SurvivorGiftTotal: {Rules: []models.RuleKind{models.RuleAggregate}},
				}
			},
			problem: "aggregate rule needs",
		},
		{
			name: "should reject an unknown survivorship field",
			mutate: func(p *Policy) {
				p.Survivorship = map[string]models.FieldRule{
					"nickname": {Rules: []models.RuleKind{models.RuleNonEmpty}},
				}
			},
			problem: `unknown field "nickname"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tt.mutate(policy)

			err := policy.Validate()
			var configErr *models.ConfigurationError
			require.ErrorAs(t, err, &configErr)
			assert.Contains(t, configErr.Error(), tt.problem)
		})
	}

	t.Run("should accept the defaults", func(t *testing.T) {
		assert.NoError(t, DefaultPolicy().Validate())
	})
}

func TestPolicy_Fingerprint(t *testing.T) {
	a := DefaultPolicy()
	b := DefaultPolicy()

	t.Run("should be stable for equal policies", func(t *testing.T) {
		assert.NotEmpty(t, a.Fingerprint())
		assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("should change with the policy", func(t *testing.T) {
		b.MatchThreshold = 0.75
		assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
		assert.Equal(t, b.Fingerprint(), b.RunPolicy().Fingerprint)
	})
}

func TestPolicy_SourceRank(t *testing.T) {
	policy := &Policy{SourcePriority: []string{"crm", "wealth"}}
	assert.Equal(t, 0, policy.SourceRank("crm"))
	assert.Equal(t, 1, policy.SourceRank("wealth"))
	assert.Equal(t, 2, policy.SourceRank("events"))
}
