// Package matching scores candidate record pairs produced by blocking
package matching

import (
	"context"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/blocking"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	emailOneEditScore     = 0.8
	phoneNationalScore    = 0.9
	phoneSuffixScore      = 0.7
	phoneSuffixLength     = 7
	cityOnlyCap           = 0.5
	streetMatchFloor      = 0.85
	birthYearOffByOne     = 0.5
	initialGivenNameScore = 0.8
)

// PairScorer computes the weighted similarity of two normalized records
type PairScorer struct {
	policy *config.Policy
	scorer *Scorer
}

// NewPairScorer creates a scorer for a validated policy
func NewPairScorer(policy *config.Policy) *PairScorer {
	return &PairScorer{policy: policy, scorer: NewScorer()}
}

// Score compares two records. The result does not depend on argument order: records are put in
// id order before any arithmetic. Fields missing from either record are left out of both the
// numerator and the denominator.
func (p *PairScorer) Score(a, b *models.NormalizedRecord) models.CandidatePair {
	if b.ID < a.ID {
		a, b = b, a
	}
	pair := models.NewCandidatePair(a.ID, b.ID)

	for _, ns := range p.policy.AuthoritativeIdentifiers {
		va, vb := a.Identifiers[ns], b.Identifiers[ns]
		if va != "" && va == vb {
			pair.Score = 1.0
			pair.Strong = true
			pair.Bypass = ns
			return pair
		}
	}

	var weighted, total float64
	for _, field := range models.ComparableFields {
		weight := p.policy.FieldWeights[field]
		if weight <= 0 || !a.Has(field) || !b.Has(field) {
			continue
		}
		sim, ok := p.fieldSimilarity(field, a, b)
		if !ok {
			continue
		}
		if pair.SubScores == nil {
			pair.SubScores = make(map[string]float64)
		}
		pair.SubScores[field] = sim
		weighted += weight * sim
		total += weight
	}

	if total > 0 {
		pair.Score = weighted / total
	}
	pair.Strong = p.policy.IsStrong(pair.Score)
	return pair
}

// fieldSimilarity reports false when both values are present but share nothing comparable
func (p *PairScorer) fieldSimilarity(field string, a, b *models.NormalizedRecord) (float64, bool) {
	switch field {
	case models.FieldName:
		return p.nameSimilarity(a.Name, b.Name), true
	case models.FieldEmail:
		return p.emailSimilarity(a.Email, b.Email), true
	case models.FieldPhone:
		return p.phoneSimilarity(a.Phone, b.Phone), true
	case models.FieldAddress:
		return p.addressSimilarity(a.Address, b.Address)
	case models.FieldOrganization:
		return p.scorer.JaroWinkler(a.Organization, b.Organization), true
	case models.FieldBirthYear:
		switch diff := a.BirthYear - b.BirthYear; {
		case diff == 0:
			return 1.0, true
		case diff == 1 || diff == -1:
			return birthYearOffByOne, true
		}
		return 0.0, true
	}
	return 0.0, false
}

// nameSimilarity takes the better of a structured comparison and a token-set comparison, so
// swapped or partially supplied names still line up
func (p *PairScorer) nameSimilarity(a, b models.NormalizedName) float64 {
	structured := 0.0
	switch {
	case a.Family != "" && b.Family != "" && a.Given != "" && b.Given != "":
		structured = 0.5*p.scorer.JaroWinkler(a.Family, b.Family) + 0.5*p.givenSimilarity(a, b)
	case a.Family != "" && b.Family != "":
		structured = p.scorer.JaroWinkler(a.Family, b.Family)
	}
	return max(structured, p.scorer.TokenSet(a.Tokens, b.Tokens))
}

func (p *PairScorer) givenSimilarity(a, b models.NormalizedName) float64 {
	if a.GivenGroup != "" && a.GivenGroup == b.GivenGroup {
		return 1.0
	}
	if p.scorer.Initial(a.Given, b.Given) {
		return initialGivenNameScore
	}
	return p.scorer.JaroWinkler(a.Given, b.Given)
}

func (p *PairScorer) emailSimilarity(a, b models.NormalizedEmail) float64 {
	if a.Address == b.Address {
		return 1.0
	}
	if p.scorer.LevenshteinDistance(a.Address, b.Address) == 1 {
		return emailOneEditScore
	}
	return 0.0
}

func (p *PairScorer) phoneSimilarity(a, b models.NormalizedPhone) float64 {
	switch {
	case a.Digits == b.Digits:
		return 1.0
	case a.National != "" && a.National == b.National:
		return phoneNationalScore
	case len(a.Digits) >= phoneSuffixLength && len(b.Digits) >= phoneSuffixLength &&
		a.Digits[len(a.Digits)-phoneSuffixLength:] == b.Digits[len(b.Digits)-phoneSuffixLength:]:
		return phoneSuffixScore
	}
	return 0.0
}

// addressSimilarity uses distance when both sides are geocoded, components otherwise. Agreement
// on locality alone never scores above cityOnlyCap. Addresses with no component in common, such
// as street only against city only, are not comparable.
func (p *PairScorer) addressSimilarity(a, b models.NormalizedAddress) (float64, bool) {
	if a.HasCoordinates() && b.HasCoordinates() {
		km := p.scorer.HaversineKM(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
		return p.scorer.NumericProximity(0, km, p.policy.GeoMaxDistanceKM), true
	}

	street := -1.0
	if a.Street != "" && b.Street != "" {
		street = 0.0
		if a.Number == b.Number || a.Number == "" || b.Number == "" {
			if sim := p.scorer.JaroWinkler(a.Street, b.Street); sim >= streetMatchFloor {
				street = sim
			}
		}
	}

	locality := -1.0
	switch {
	case a.PostalCode != "" && b.PostalCode != "":
		locality = p.scorer.ExactMatch(a.PostalCode, b.PostalCode)
	case a.City != "" && b.City != "":
		locality = p.scorer.ExactMatch(a.City, b.City)
		if a.State != "" && b.State != "" && a.State != b.State {
			locality = 0.0
		}
	}

	switch {
	case street >= 0 && locality >= 0:
		if street == 0 {
			return min(locality, cityOnlyCap) * 0.6, true
		}
		return 0.7*street + 0.3*locality, true
	case street >= 0:
		return 0.8 * street, true
	case locality >= 0:
		return min(locality, cityOnlyCap), true
	}
	return 0.0, false
}

// ScoreBlocks scores every pair owned by each block. Blocks run in parallel, limited to workers;
// the result is sorted canonically regardless of scheduling.
func (p *PairScorer) ScoreBlocks(ctx context.Context, blocks *blocking.Blocks, records map[models.RecordID]*models.NormalizedRecord, workers int) ([]models.CandidatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.PairScorer.ScoreBlocks")
	defer span.End()

	all := blocks.All()
	results := make([][]models.CandidatePair, len(all))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, block := range all {
		if len(block.Members) < 2 {
			continue
		}
		g.Go(func() error {
			for _, ids := range blocks.Pairs(block) {
				if err := gctx.Err(); err != nil {
					return err
				}
				a, b := records[ids[0]], records[ids[1]]
				if a == nil || b == nil {
					continue
				}
				pair := p.Score(a, b)
				pair.Block = block.Key
				results[i] = append(results[i], pair)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pairs []models.CandidatePair
	for _, r := range results {
		pairs = append(pairs, r...)
	}
	slices.SortFunc(pairs, func(x, y models.CandidatePair) int {
		switch {
		case x.Less(y):
			return -1
		case y.Less(x):
			return 1
		}
		return 0
	})
	return pairs, nil
}

// FormatScore renders a score for logs and reports
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 3, 64)
}
