package extractor

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/normalizers"
)

// SourceMapping describes how one source's rows become SourceRecords. Fields maps a target
// field (e.g. "given_name", "address.city", "identifiers.crm_donor_id") to a JMESPath expression
// over the raw row; Normalize names registry normalizers applied to a target's string value.
type SourceMapping struct {
	SourceID  string              `yaml:"id"`
	Format    string              `yaml:"format,omitempty"`
	Fields    map[string]string   `yaml:"fields"`
	Normalize map[string][]string `yaml:"normalize,omitempty"`
}

// SourcesFile is the sources.yaml document
type SourcesFile struct {
	Sources []SourceMapping `yaml:"sources"`
}

// timeLayouts are tried in order for date-valued targets
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

type setter func(rec *models.SourceRecord, value any) error

var setters = map[string]setter{
	"source_record_id":    stringField(func(r *models.SourceRecord, v string) { r.SourceRecordID = v }),
	"given_name":          stringField(func(r *models.SourceRecord, v string) { r.GivenName = v }),
	"middle_name":         stringField(func(r *models.SourceRecord, v string) { r.MiddleName = v }),
	"family_name":         stringField(func(r *models.SourceRecord, v string) { r.FamilyName = v }),
	"suffix":              stringField(func(r *models.SourceRecord, v string) { r.Suffix = v }),
	"full_name":           stringField(func(r *models.SourceRecord, v string) { r.FullName = v }),
	"email":               stringField(func(r *models.SourceRecord, v string) { r.Email = v }),
	"phone":               stringField(func(r *models.SourceRecord, v string) { r.Phone = v }),
	"organization":        stringField(func(r *models.SourceRecord, v string) { r.Organization = v }),
	"gift_history_ref":    stringField(func(r *models.SourceRecord, v string) { r.GiftHistoryRef = v }),
	"address.line1":       stringField(func(r *models.SourceRecord, v string) { r.Address.Line1 = v }),
	"address.line2":       stringField(func(r *models.SourceRecord, v string) { r.Address.Line2 = v }),
	"address.city":        stringField(func(r *models.SourceRecord, v string) { r.Address.City = v }),
	"address.state":       stringField(func(r *models.SourceRecord, v string) { r.Address.State = v }),
	"address.postal_code": stringField(func(r *models.SourceRecord, v string) { r.Address.PostalCode = v }),
	"address.country":     stringField(func(r *models.SourceRecord, v string) { r.Address.Country = v }),
	"birth_year":          intField(func(r *models.SourceRecord, v int) { r.BirthYear = v }),
	"gift_count":          intField(func(r *models.SourceRecord, v int) { r.GiftCount = v }),
	"engagement_count":    intField(func(r *models.SourceRecord, v int) { r.EngagementCount = v }),
	"gift_total":          floatField(func(r *models.SourceRecord, v float64) { r.GiftTotal = v }),
	"wealth_index":        floatField(func(r *models.SourceRecord, v float64) { r.WealthIndex = &v }),
	"address.latitude":    floatField(func(r *models.SourceRecord, v float64) { r.Address.Latitude = &v }),
	"address.longitude":   floatField(func(r *models.SourceRecord, v float64) { r.Address.Longitude = &v }),
	"updated_at":          timeField(func(r *models.SourceRecord, v time.Time) { r.UpdatedAt = v }),
	"last_gift_at":        timeField(func(r *models.SourceRecord, v time.Time) { r.LastGiftAt = &v }),
	"joined_at":           timeField(func(r *models.SourceRecord, v time.Time) { r.JoinedAt = &v }),
}

const identifierPrefix = "identifiers."

// LoadSources reads and validates a sources.yaml file
func LoadSources(path string) (map[string]*SourceMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var file SourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("parse sources file: %v", err)}}
	}

	evaluator := NewEvaluator()
	out := make(map[string]*SourceMapping, len(file.Sources))
	var problems []string
	for i := range file.Sources {
		m := &file.Sources[i]
		if _, dup := out[m.SourceID]; dup {
			problems = append(problems, fmt.Sprintf("source %q is mapped twice", m.SourceID))
			continue
		}
		problems = append(problems, m.Validate(evaluator)...)
		out[m.SourceID] = m
	}
	if len(problems) > 0 {
		return nil, &models.ConfigurationError{Problems: problems}
	}
	return out, nil
}

// Validate returns every problem with the mapping
func (m *SourceMapping) Validate(evaluator *Evaluator) []string {
	var problems []string
	if m.SourceID == "" {
		problems = append(problems, "source mapping without an id")
	}
	if _, ok := m.Fields["source_record_id"]; !ok {
		problems = append(problems, fmt.Sprintf("source %q: no source_record_id expression", m.SourceID))
	}
	for _, target := range sortedKeys(m.Fields) {
		if !knownTarget(target) {
			problems = append(problems, fmt.Sprintf("source %q: unknown target field %q", m.SourceID, target))
		}
		if err := evaluator.Validate(m.Fields[target]); err != nil {
			problems = append(problems, fmt.Sprintf("source %q: field %q: invalid expression: %v", m.SourceID, target, err))
		}
	}
	for _, target := range sortedKeys(m.Normalize) {
		for _, name := range m.Normalize[target] {
			if _, ok := normalizers.Get(name); !ok {
				problems = append(problems, fmt.Sprintf("source %q: field %q: unknown normalizer %q", m.SourceID, target, name))
			}
		}
	}
	return problems
}

// Extract builds a SourceRecord from one raw row. Missing or null values leave the field empty.
func (m *SourceMapping) Extract(evaluator *Evaluator, row map[string]any) (models.SourceRecord, error) {
	rec := models.SourceRecord{SourceID: m.SourceID}
	for _, target := range sortedKeys(m.Fields) {
		value, err := evaluator.Evaluate(m.Fields[target], row)
		if err != nil {
			return rec, err
		}
		if value == nil {
			continue
		}
		if chain := m.Normalize[target]; len(chain) > 0 {
			if s, ok := value.(string); ok {
				value = normalizers.ApplyChain(s, chain...)
			}
		}

		if ns, ok := strings.CutPrefix(target, identifierPrefix); ok {
			id := toString(value)
			if id == "" {
				continue
			}
			if rec.Identifiers == nil {
				rec.Identifiers = make(map[string]string)
			}
			rec.Identifiers[ns] = id
			continue
		}
		set, ok := setters[target]
		if !ok {
			return rec, fmt.Errorf("unknown target field %q", target)
		}
		if err := set(&rec, value); err != nil {
			return rec, fmt.Errorf("field %s: %w", target, err)
		}
	}
	return rec, nil
}

func knownTarget(target string) bool {
	if ns, ok := strings.CutPrefix(target, identifierPrefix); ok {
		return ns != ""
	}
	_, ok := setters[target]
	return ok
}

func stringField(set func(*models.SourceRecord, string)) setter {
	return func(rec *models.SourceRecord, value any) error {
		set(rec, toString(value))
		return nil
	}
}

func intField(set func(*models.SourceRecord, int)) setter {
	return func(rec *models.SourceRecord, value any) error {
		switch v := value.(type) {
		case float64:
			set(rec, int(v))
		case string:
			if strings.TrimSpace(v) == "" {
				return nil
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
				if ferr != nil {
					return fmt.Errorf("cannot parse %q as an integer", v)
				}
				n = int(f)
			}
			set(rec, n)
		default:
			return fmt.Errorf("cannot convert %T to an integer", value)
		}
		return nil
	}
}

func floatField(set func(*models.SourceRecord, float64)) setter {
	return func(rec *models.SourceRecord, value any) error {
		switch v := value.(type) {
		case float64:
			set(rec, v)
		case string:
			if strings.TrimSpace(v) == "" {
				return nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("cannot parse %q as a number", v)
			}
			set(rec, f)
		default:
			return fmt.Errorf("cannot convert %T to a number", value)
		}
		return nil
	}
}

func timeField(set func(*models.SourceRecord, time.Time)) setter {
	return func(rec *models.SourceRecord, value any) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("cannot convert %T to a time", value)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				set(rec, t.UTC())
				return nil
			}
		}
		return fmt.Errorf("cannot parse %q as a time", s)
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
