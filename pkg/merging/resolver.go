// Package merging decides the surviving value of every canonical field of an entity
package merging

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
)

var selectionRules = []models.RuleKind{models.RuleNonEmpty, models.RuleSourcePriority, models.RuleRecency}

// DefaultRules returns the built-in survivorship rules per group
func DefaultRules() map[string]models.FieldRule {
	rules := make(map[string]models.FieldRule)
	for _, group := range []string{
		models.SurvivorName, models.SurvivorEmail, models.SurvivorPhone, models.SurvivorAddress,
		models.SurvivorOrganization, models.SurvivorBirthYear, models.SurvivorWealthIndex,
	} {
		rules[group] = models.FieldRule{Rules: selectionRules}
	}
	aggregate := func(fn models.AggregateFunc) models.FieldRule {
		return models.FieldRule{Rules: []models.RuleKind{models.RuleAggregate}, Aggregate: fn}
	}
	rules[models.SurvivorGiftCount] = aggregate(models.AggregateSum)
	rules[models.SurvivorGiftTotal] = aggregate(models.AggregateSum)
	rules[models.SurvivorEngagementCount] = aggregate(models.AggregateSum)
	rules[models.SurvivorLastGiftAt] = aggregate(models.AggregateMax)
	rules[models.SurvivorJoinedAt] = aggregate(models.AggregateMin)
	rules[models.SurvivorIdentifiers] = aggregate(models.AggregateUnion)
	rules[models.SurvivorGiftHistory] = aggregate(models.AggregateUnion)
	return rules
}

// group describes how a survivorship group reads its canonical keys from a record
type group struct {
	name    string
	keys    []string
	extract func(r *models.SourceRecord) map[string]any
}

var groups = []group{
	{models.SurvivorName, []string{models.KeyGivenName, models.KeyMiddleName, models.KeyFamilyName, models.KeyNameSuffix}, extractName},
	{models.SurvivorEmail, []string{models.KeyEmail}, func(r *models.SourceRecord) map[string]any {
		return single(models.KeyEmail, strings.ToLower(strings.TrimSpace(r.Email)))
	}},
	{models.SurvivorPhone, []string{models.KeyPhone}, extractPhone},
	{models.SurvivorAddress, []string{
		models.KeyAddressLine1, models.KeyAddressLine2, models.KeyCity, models.KeyState,
		models.KeyPostalCode, models.KeyCountry, models.KeyLatitude, models.KeyLongitude,
	}, extractAddress},
	{models.SurvivorOrganization, []string{models.KeyOrganization}, func(r *models.SourceRecord) map[string]any {
		return single(models.KeyOrganization, strings.TrimSpace(r.Organization))
	}},
	{models.SurvivorBirthYear, []string{models.KeyBirthYear}, func(r *models.SourceRecord) map[string]any {
		if r.BirthYear <= 0 {
			return nil
		}
		return map[string]any{models.KeyBirthYear: float64(r.BirthYear)}
	}},
	{models.SurvivorWealthIndex, []string{models.KeyWealthIndex}, func(r *models.SourceRecord) map[string]any {
		if r.WealthIndex == nil {
			return nil
		}
		return map[string]any{models.KeyWealthIndex: *r.WealthIndex}
	}},
	{models.SurvivorGiftCount, []string{models.KeyGiftCount}, func(r *models.SourceRecord) map[string]any {
		return positive(models.KeyGiftCount, float64(r.GiftCount))
	}},
	{models.SurvivorGiftTotal, []string{models.KeyGiftTotal}, func(r *models.SourceRecord) map[string]any {
		return positive(models.KeyGiftTotal, r.GiftTotal)
	}},
	{models.SurvivorEngagementCount, []string{models.KeyEngagementCount}, func(r *models.SourceRecord) map[string]any {
		return positive(models.KeyEngagementCount, float64(r.EngagementCount))
	}},
	{models.SurvivorLastGiftAt, []string{models.KeyLastGiftAt}, func(r *models.SourceRecord) map[string]any {
		return timestamp(models.KeyLastGiftAt, r.LastGiftAt)
	}},
	{models.SurvivorJoinedAt, []string{models.KeyJoinedAt}, func(r *models.SourceRecord) map[string]any {
		return timestamp(models.KeyJoinedAt, r.JoinedAt)
	}},
	{models.SurvivorIdentifiers, []string{models.KeyIdentifiers}, extractIdentifiers},
	{models.SurvivorGiftHistory, []string{models.KeyGiftHistoryRefs}, func(r *models.SourceRecord) map[string]any {
		if ref := strings.TrimSpace(r.GiftHistoryRef); ref != "" {
			return map[string]any{models.KeyGiftHistoryRefs: []any{ref}}
		}
		return nil
	}},
}

// Resolver computes canonical fields from the members of a cluster
type Resolver struct {
	policy *config.Policy
	rules  map[string]models.FieldRule
	merger *FieldMerger
}

// NewResolver builds a resolver from the policy. Survivorship overrides in the policy replace the
// default rule list of their group. Aggregates are only allowed on single-value groups.
func NewResolver(policy *config.Policy) (*Resolver, error) {
	rules := DefaultRules()
	for name, rule := range policy.Survivorship {
		rules[name] = rule
	}

	var problems []string
	for _, g := range groups {
		rule := rules[g.name]
		if slices.Contains(rule.Rules, models.RuleAggregate) && len(g.keys) > 1 {
			problems = append(problems, fmt.Sprintf("survivorship[%s] cannot aggregate a composite group", g.name))
		}
	}
	if len(problems) > 0 {
		return nil, &models.ConfigurationError{Problems: problems}
	}

	return &Resolver{policy: policy, rules: rules, merger: NewFieldMerger()}, nil
}

// Resolve returns the canonical fields and the trace of every field. The result depends only on
// the set of members, never on their order.
func (r *Resolver) Resolve(members []models.SourceRecord) (map[string]any, map[string]models.TraceEntry) {
	sorted := slices.Clone(members)
	slices.SortFunc(sorted, func(a, b models.SourceRecord) int { return cmp.Compare(a.Key(), b.Key()) })

	fields := make(map[string]any)
	trace := make(map[string]models.TraceEntry)

	for _, g := range groups {
		values := make([]fieldValue, 0, len(sorted))
		for i := range sorted {
			rec := &sorted[i]
			values = append(values, fieldValue{
				Record:   rec.Key(),
				SourceID: rec.SourceID,
				Rank:     r.policy.SourceRank(rec.SourceID),
				Touched:  rec.LastTouched(),
				Values:   g.extract(rec),
			})
		}

		rule := r.rules[g.name]
		if slices.Contains(rule.Rules, models.RuleAggregate) {
			key := g.keys[0]
			if value, entry, ok := r.merger.Aggregate(key, values, rule.Aggregate); ok {
				fields[key] = value
				trace[key] = entry
			}
			continue
		}

		survivor, entry, ok := r.merger.Select(values, rule.Rules)
		if !ok {
			continue
		}
		for _, key := range g.keys {
			if val, present := survivor.Values[key]; present && !isEmpty(val) {
				fields[key] = val
				trace[key] = entry
			}
		}
	}

	return fields, trace
}

func single(key, value string) map[string]any {
	if value == "" {
		return nil
	}
	return map[string]any{key: value}
}

func positive(key string, value float64) map[string]any {
	if value <= 0 {
		return nil
	}
	return map[string]any{key: value}
}

func timestamp(key string, at *time.Time) map[string]any {
	if at == nil || at.IsZero() {
		return nil
	}
	return map[string]any{key: at.UTC().Format(time.RFC3339)}
}

// displayName keeps the source casing unless it is all upper or all lower case. Casers hold state,
// so one is built per call.
func displayName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		return cases.Title(language.Und).String(strings.ToLower(s))
	}
	return s
}

func extractName(r *models.SourceRecord) map[string]any {
	given, middle, family, suffix := r.GivenName, r.MiddleName, r.FamilyName, r.Suffix
	if strings.TrimSpace(given) == "" && strings.TrimSpace(family) == "" && strings.TrimSpace(r.FullName) != "" {
		parsed, issue := normalizers.ParseName("", "", "", "", r.FullName)
		if issue != nil || parsed.Status != models.FieldPresent {
			return nil
		}
		given, middle, family, suffix = parsed.Given, parsed.Middle, parsed.Family, parsed.Suffix
	}
	out := make(map[string]any)
	for key, value := range map[string]string{
		models.KeyGivenName:  given,
		models.KeyMiddleName: middle,
		models.KeyFamilyName: family,
	} {
		if v := displayName(value); v != "" {
			out[key] = v
		}
	}
	if s := strings.TrimSpace(suffix); s != "" {
		out[models.KeyNameSuffix] = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func extractPhone(r *models.SourceRecord) map[string]any {
	phone, issue := normalizers.ParsePhone(r.Phone)
	if issue != nil || phone.Status != models.FieldPresent {
		return nil
	}
	if phone.CountryCode != "" {
		return single(models.KeyPhone, "+"+phone.Digits)
	}
	return single(models.KeyPhone, phone.Digits)
}

func extractAddress(r *models.SourceRecord) map[string]any {
	a := r.Address
	out := make(map[string]any)
	set := func(key, value string) {
		if value = strings.Join(strings.Fields(value), " "); value != "" {
			out[key] = value
		}
	}
	set(models.KeyAddressLine1, a.Line1)
	set(models.KeyAddressLine2, a.Line2)
	set(models.KeyCity, displayName(a.City))
	set(models.KeyState, strings.ToUpper(strings.TrimSpace(a.State)))
	set(models.KeyPostalCode, strings.ToUpper(normalizers.NormalizePostalCode(a.PostalCode)))
	set(models.KeyCountry, strings.ToUpper(normalizers.NormalizeCountry(a.Country)))
	if a.Latitude != nil && a.Longitude != nil {
		out[models.KeyLatitude] = *a.Latitude
		out[models.KeyLongitude] = *a.Longitude
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func extractIdentifiers(r *models.SourceRecord) map[string]any {
	if len(r.Identifiers) == 0 {
		return nil
	}
	var ids []any
	for ns, value := range r.Identifiers {
		ns, value = strings.TrimSpace(ns), strings.TrimSpace(value)
		if ns != "" && value != "" {
			ids = append(ids, strings.ToLower(ns)+":"+value)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return map[string]any{models.KeyIdentifiers: ids}
}
