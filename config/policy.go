package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sage/pkg/blocking"
	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/models"
)

// Policy is the resolution policy read from the policy file
type Policy struct {
	MatchThreshold                float64                     `yaml:"match_threshold" json:"match_threshold" validate:"gte=0,lte=1"`
	StrongThreshold               float64                     `yaml:"strong_threshold" json:"strong_threshold" validate:"gte=0,lte=1"`
	FieldWeights                  map[string]float64          `yaml:"field_weights" json:"field_weights"`
	SourcePriority                []string                    `yaml:"source_priority" json:"source_priority"`
	BlockingStrategies            []string                    `yaml:"blocking_strategies" json:"blocking_strategies"`
	MinStrongEdgesForLargeCluster int                         `yaml:"min_strong_edges_for_large_cluster" json:"min_strong_edges_for_large_cluster" validate:"gte=0"`
	LargeClusterSize              int                         `yaml:"large_cluster_size" json:"large_cluster_size" validate:"gte=2"`
	EngagementWindowDays          int                         `yaml:"engagement_window_days" json:"engagement_window_days" validate:"gte=0"`
	AuthoritativeIdentifiers      []string                    `yaml:"authoritative_identifiers" json:"authoritative_identifiers"`
	GeoMaxDistanceKM              float64                     `yaml:"geo_max_distance_km" json:"geo_max_distance_km" validate:"gt=0"`
	NearMissMargin                float64                     `yaml:"near_miss_margin" json:"near_miss_margin" validate:"gte=0,lte=1"`
	Survivorship                  map[string]models.FieldRule `yaml:"survivorship" json:"survivorship"`
}

// DefaultPolicy returns the built-in policy. Thresholds and weights are starting points and
// are expected to be tuned per dataset.
func DefaultPolicy() *Policy {
	return &Policy{
		MatchThreshold:  0.7,
		StrongThreshold: 0.9,
		FieldWeights: map[string]float64{
			models.FieldName:         0.35,
			models.FieldEmail:        0.25,
			models.FieldPhone:        0.15,
			models.FieldAddress:      0.15,
			models.FieldOrganization: 0.05,
			models.FieldBirthYear:    0.05,
		},
		BlockingStrategies: []string{
			blocking.StrategyFamilySoundexPostal,
			blocking.StrategyEmailLocalPrefix,
			blocking.StrategyPhoneSuffix,
			blocking.StrategyNameMetaphoneCity,
		},
		MinStrongEdgesForLargeCluster: 1,
		LargeClusterSize:              3,
		EngagementWindowDays:          365,
		GeoMaxDistanceKM:              5,
		NearMissMargin:                0.1,
	}
}

// LoadPolicy reads a YAML policy file over the defaults and validates it. An empty path
// returns the validated defaults.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("read policy file %s: %v", path, err)}}
		}
		if err := yaml.Unmarshal(raw, policy); err != nil {
			return nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("parse policy file %s: %v", path, err)}}
		}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

var policyValidator = validator.New()

// Validate checks the policy and returns a ConfigurationError listing every problem
func (p *Policy) Validate() error {
	var problems []string

	if err := policyValidator.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s fails %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if p.StrongThreshold < p.MatchThreshold {
		problems = append(problems, fmt.Sprintf("strong_threshold %.3f is below match_threshold %.3f", p.StrongThreshold, p.MatchThreshold))
	}

	if maxEdges := p.LargeClusterSize * (p.LargeClusterSize - 1) / 2; p.LargeClusterSize >= 2 && p.MinStrongEdgesForLargeCluster > maxEdges {
		problems = append(problems, fmt.Sprintf("min_strong_edges_for_large_cluster %d exceeds the %d edges a cluster of %d can hold",
			p.MinStrongEdgesForLargeCluster, maxEdges, p.LargeClusterSize))
	}

	total := 0.0
	for _, field := range sortedKeys(p.FieldWeights) {
		weight := p.FieldWeights[field]
		if !slices.Contains(models.ComparableFields, field) {
			problems = append(problems, fmt.Sprintf("field_weights references unknown field %q", field))
		}
		if weight < 0 {
			problems = append(problems, fmt.Sprintf("field_weights[%s] is negative", field))
		}
		total += weight
	}
	if total <= 0 {
		problems = append(problems, "field_weights must give at least one field a positive weight")
	}

	seen := make(map[string]bool)
	for _, source := range p.SourcePriority {
		if source == "" {
			problems = append(problems, "source_priority contains an empty source id")
		}
		if seen[source] {
			problems = append(problems, fmt.Sprintf("source_priority lists %q more than once", source))
		}
		seen[source] = true
	}

	if len(p.BlockingStrategies) < 2 {
		problems = append(problems, "blocking_strategies needs at least two independent strategies")
	}
	for _, name := range p.BlockingStrategies {
		if !blocking.IsKnownStrategy(name) {
			problems = append(problems, fmt.Sprintf("blocking_strategies references unknown strategy %q", name))
		}
	}

	for _, group := range sortedKeys(p.Survivorship) {
		rule := p.Survivorship[group]
		if !slices.Contains(SurvivorshipGroups, group) {
			problems = append(problems, fmt.Sprintf("survivorship references unknown field %q", group))
		}
		for _, kind := range rule.Rules {
			switch kind {
			case models.RuleNonEmpty, models.RuleSourcePriority, models.RuleRecency, models.RuleCanonicalOrder:
			case models.RuleAggregate:
				switch rule.Aggregate {
				case models.AggregateSum, models.AggregateMax, models.AggregateMin, models.AggregateUnion:
				default:
					problems = append(problems, fmt.Sprintf("survivorship[%s] aggregate rule needs sum, max, min or union", group))
				}
			default:
				problems = append(problems, fmt.Sprintf("survivorship[%s] references unknown rule %q", group, kind))
			}
		}
	}

	if len(problems) > 0 {
		return &models.ConfigurationError{Problems: problems}
	}
	return nil
}

// SurvivorshipGroups lists the field groups a survivorship override can target
var SurvivorshipGroups = []string{
	models.SurvivorName, models.SurvivorEmail, models.SurvivorPhone, models.SurvivorAddress,
	models.SurvivorOrganization, models.SurvivorBirthYear, models.SurvivorWealthIndex,
	models.SurvivorGiftCount, models.SurvivorGiftTotal, models.SurvivorEngagementCount,
	models.SurvivorLastGiftAt, models.SurvivorJoinedAt, models.SurvivorIdentifiers,
	models.SurvivorGiftHistory,
}

// SourceRank returns the position of a source in source_priority; unknown sources rank last
func (p *Policy) SourceRank(sourceID string) int {
	if i := slices.Index(p.SourcePriority, sourceID); i >= 0 {
		return i
	}
	return len(p.SourcePriority)
}

// IsStrong reports whether a score reaches the strong threshold
func (p *Policy) IsStrong(score float64) bool {
	return score >= p.StrongThreshold
}

// Fingerprint identifies the policy content, recorded on every run
func (p *Policy) Fingerprint() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	fp, err := fingerprint.GenerateFromJSON(raw)
	if err != nil {
		return ""
	}
	return fp
}

// RunPolicy is the summary stored with each run
func (p *Policy) RunPolicy() models.RunPolicy {
	return models.RunPolicy{
		Fingerprint:          p.Fingerprint(),
		MatchThreshold:       p.MatchThreshold,
		StrongThreshold:      p.StrongThreshold,
		EngagementWindowDays: p.EngagementWindowDays,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
