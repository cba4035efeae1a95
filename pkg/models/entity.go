package models

import (
	"slices"
	"time"
)

// EntityStatus is the lifecycle state of a canonical entity
type EntityStatus string

const (
	EntityActive     EntityStatus = "active"
	EntityTombstoned EntityStatus = "tombstoned"
)

// TraceEntry records which record(s) and which rule produced a surviving field value
type TraceEntry struct {
	SourceRecordID RecordID   `json:"source_record_id,omitempty"`
	Contributors   []RecordID `json:"contributors,omitempty"`
	Rule           RuleKind   `json:"rule"`
	Reason         string     `json:"reason,omitempty"`
	Candidates     int        `json:"candidates"`
}

// CanonicalEntity is the merged, durable donor profile
type CanonicalEntity struct {
	EntityID          string                `json:"entity_id" db:"entity_id"`
	Status            EntityStatus          `json:"status" db:"status"`
	Fields            map[string]any        `json:"fields"`
	SurvivorshipTrace map[string]TraceEntry `json:"survivorship_trace"`
	MemberSourceIDs   []RecordID            `json:"member_source_ids"`
	ForwardedTo       string                `json:"forwarded_to,omitempty" db:"forwarded_to"`
	CreatedAt         time.Time             `json:"created_at" db:"created_at"`
	LastResolvedAt    time.Time             `json:"last_resolved_at" db:"last_resolved_at"`
	TombstonedAt      *time.Time            `json:"tombstoned_at,omitempty" db:"tombstoned_at"`
	Version           int                   `json:"version" db:"version"`
}

// IsActive reports whether the entity still owns members
func (e *CanonicalEntity) IsActive() bool {
	return e.Status == EntityActive
}

// Clone returns a deep copy
func (e *CanonicalEntity) Clone() *CanonicalEntity {
	if e == nil {
		return nil
	}
	out := *e
	out.Fields = make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		switch tv := v.(type) {
		case map[string]any:
			cp := make(map[string]any, len(tv))
			for ik, iv := range tv {
				cp[ik] = iv
			}
			v = cp
		case []any:
			v = slices.Clone(tv)
		}
		out.Fields[k] = v
	}
	out.SurvivorshipTrace = make(map[string]TraceEntry, len(e.SurvivorshipTrace))
	for k, v := range e.SurvivorshipTrace {
		v.Contributors = slices.Clone(v.Contributors)
		out.SurvivorshipTrace[k] = v
	}
	out.MemberSourceIDs = slices.Clone(e.MemberSourceIDs)
	if e.TombstonedAt != nil {
		t := *e.TombstonedAt
		out.TombstonedAt = &t
	}
	return &out
}

// EntityChangeKind describes what a run did to an entity
type EntityChangeKind string

const (
	ChangeCreated    EntityChangeKind = "created"
	ChangeUpdated    EntityChangeKind = "updated"
	ChangeMerged     EntityChangeKind = "merged"
	ChangeSplit      EntityChangeKind = "split"
	ChangeTombstoned EntityChangeKind = "tombstoned"
)

// EntityChange is one entity-level outcome of a run, consumed by post-commit publishers
type EntityChange struct {
	Kind     EntityChangeKind `json:"kind"`
	Entity   *CanonicalEntity `json:"entity"`
	Absorbed []string         `json:"absorbed,omitempty"`
	// SplitFrom is the entity a newly minted entity was carved out of
	SplitFrom string `json:"split_from,omitempty"`
	// Removed lists members that left the entity in this run
	Removed []RecordID `json:"removed,omitempty"`
}
