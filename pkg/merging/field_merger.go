package merging

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/Ramsey-B/sage/pkg/models"
)

// fieldValue is one member's contribution to a survivorship group
type fieldValue struct {
	Record   models.RecordID
	SourceID string
	Rank     int
	Touched  time.Time
	// Values holds the group's canonical keys; empty means the member has nothing for the group
	Values map[string]any
}

func (v fieldValue) empty() bool {
	for _, val := range v.Values {
		if !isEmpty(val) {
			return false
		}
	}
	return true
}

// FieldMerger applies an ordered rule list to the values of one survivorship group
type FieldMerger struct{}

// NewFieldMerger creates a new FieldMerger
func NewFieldMerger() *FieldMerger {
	return &FieldMerger{}
}

// Select narrows the candidates rule by rule and returns the survivor. The canonical order rule
// is always applied last, so the result is unique for any input order. ok is false when no
// member has a value.
func (m *FieldMerger) Select(values []fieldValue, rules []models.RuleKind) (fieldValue, models.TraceEntry, bool) {
	candidates := make([]fieldValue, 0, len(values))
	for _, v := range values {
		if !v.empty() {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return fieldValue{}, models.TraceEntry{}, false
	}
	slices.SortFunc(candidates, func(a, b fieldValue) int { return cmp.Compare(a.Record, b.Record) })

	trace := models.TraceEntry{Candidates: len(candidates)}
	decided := func(rule models.RuleKind, reason string) (fieldValue, models.TraceEntry, bool) {
		trace.Rule = rule
		trace.Reason = reason
		trace.SourceRecordID = candidates[0].Record
		trace.Contributors = []models.RecordID{candidates[0].Record}
		return candidates[0], trace, true
	}

	if len(candidates) == 1 {
		return decided(models.RuleNonEmpty, "only member with a value")
	}

	for _, rule := range rules {
		switch rule {
		case models.RuleNonEmpty:
			// already applied
		case models.RuleSourcePriority:
			candidates = m.keepBest(candidates, func(a, b fieldValue) int { return cmp.Compare(b.Rank, a.Rank) })
			if len(candidates) == 1 {
				return decided(rule, fmt.Sprintf("source %s has the highest priority", candidates[0].SourceID))
			}
		case models.RuleRecency:
			candidates = m.keepBest(candidates, func(a, b fieldValue) int { return a.Touched.Compare(b.Touched) })
			if len(candidates) == 1 {
				return decided(rule, fmt.Sprintf("most recently updated at %s", candidates[0].Touched.UTC().Format(time.RFC3339)))
			}
		case models.RuleCanonicalOrder:
			return decided(rule, "lowest record id among tied candidates")
		}
	}
	return decided(models.RuleCanonicalOrder, "lowest record id among tied candidates")
}

// keepBest returns the candidates that compare greatest under better, preserving order
func (m *FieldMerger) keepBest(values []fieldValue, better func(a, b fieldValue) int) []fieldValue {
	best := values[0]
	for _, v := range values[1:] {
		if better(v, best) > 0 {
			best = v
		}
	}
	out := values[:0:0]
	for _, v := range values {
		if better(v, best) == 0 {
			out = append(out, v)
		}
	}
	return out
}

// Aggregate combines the value under key across every member that has one
func (m *FieldMerger) Aggregate(key string, values []fieldValue, fn models.AggregateFunc) (any, models.TraceEntry, bool) {
	var contributors []models.RecordID
	var nums []float64
	var times []time.Time
	var items []string

	for _, v := range values {
		val, ok := v.Values[key]
		if !ok || isEmpty(val) {
			continue
		}
		contributors = append(contributors, v.Record)
		switch tv := val.(type) {
		case float64:
			nums = append(nums, tv)
		case string:
			if at, err := time.Parse(time.RFC3339Nano, tv); err == nil && fn != models.AggregateUnion {
				times = append(times, at)
			} else {
				items = append(items, tv)
			}
		case []any:
			for _, item := range tv {
				items = append(items, fmt.Sprint(item))
			}
		}
	}
	if len(contributors) == 0 {
		return nil, models.TraceEntry{}, false
	}
	slices.Sort(contributors)

	trace := models.TraceEntry{
		SourceRecordID: contributors[0],
		Contributors:   contributors,
		Rule:           models.RuleAggregate,
		Reason:         fmt.Sprintf("%s over %d members", fn, len(contributors)),
		Candidates:     len(contributors),
	}

	switch {
	case fn == models.AggregateUnion:
		slices.Sort(items)
		items = slices.Compact(items)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out, trace, true
	case len(times) > 0:
		slices.SortFunc(times, func(a, b time.Time) int { return a.Compare(b) })
		switch fn {
		case models.AggregateMin:
			return times[0].UTC().Format(time.RFC3339), trace, true
		case models.AggregateMax:
			return times[len(times)-1].UTC().Format(time.RFC3339), trace, true
		}
	case len(nums) > 0:
		// summed in a fixed order so the result is bit-identical across runs
		slices.Sort(nums)
		switch fn {
		case models.AggregateSum:
			total := 0.0
			for _, n := range nums {
				total += n
			}
			return total, trace, true
		case models.AggregateMin:
			return nums[0], trace, true
		case models.AggregateMax:
			return nums[len(nums)-1], trace, true
		}
	}
	return nil, models.TraceEntry{}, false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
