package models

import "sort"

// IdentityState is one consistent snapshot of the canonical store
type IdentityState struct {
	Version     int64                       `json:"version"`
	Entities    map[string]*CanonicalEntity `json:"entities"`
	Records     map[RecordID]StoredRecord   `json:"records"`
	Assignments map[RecordID]string         `json:"assignments"`
}

// NewIdentityState returns an empty state
func NewIdentityState() *IdentityState {
	return &IdentityState{
		Entities:    make(map[string]*CanonicalEntity),
		Records:     make(map[RecordID]StoredRecord),
		Assignments: make(map[RecordID]string),
	}
}

// Clone returns a deep copy that can be mutated without affecting readers
func (s *IdentityState) Clone() *IdentityState {
	out := &IdentityState{
		Version:     s.Version,
		Entities:    make(map[string]*CanonicalEntity, len(s.Entities)),
		Records:     make(map[RecordID]StoredRecord, len(s.Records)),
		Assignments: make(map[RecordID]string, len(s.Assignments)),
	}
	for id, e := range s.Entities {
		out.Entities[id] = e.Clone()
	}
	for id, r := range s.Records {
		out.Records[id] = r
	}
	for id, e := range s.Assignments {
		out.Assignments[id] = e
	}
	return out
}

// Resolve follows forwarding references from a tombstoned entity to the active entity that absorbed it
func (s *IdentityState) Resolve(entityID string) (*CanonicalEntity, bool) {
	seen := make(map[string]bool)
	for {
		e, ok := s.Entities[entityID]
		if !ok || seen[entityID] {
			return nil, false
		}
		if e.IsActive() || e.ForwardedTo == "" {
			return e, true
		}
		seen[entityID] = true
		entityID = e.ForwardedTo
	}
}

// Pending lists persisted records that belong to no entity, sorted
func (s *IdentityState) Pending() []RecordID {
	var ids []RecordID
	for id := range s.Records {
		if _, ok := s.Assignments[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveEntities returns active entities sorted by id
func (s *IdentityState) ActiveEntities() []*CanonicalEntity {
	out := make([]*CanonicalEntity, 0, len(s.Entities))
	for _, e := range s.Entities {
		if e.IsActive() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// CommitRequest carries the delta a run writes at the end
type CommitRequest struct {
	ExpectedVersion int64               `json:"expected_version"`
	Entities        []*CanonicalEntity  `json:"entities"`
	Records         []StoredRecord      `json:"records"`
	Assignments     map[RecordID]string `json:"assignments"`
}

// IsEmpty reports whether the commit changes nothing
func (c *CommitRequest) IsEmpty() bool {
	return len(c.Entities) == 0 && len(c.Records) == 0 && len(c.Assignments) == 0
}

// Apply writes the delta onto the state and bumps its version
func (s *IdentityState) Apply(req *CommitRequest) {
	for _, e := range req.Entities {
		s.Entities[e.EntityID] = e.Clone()
	}
	for _, r := range req.Records {
		s.Records[r.Record.Key()] = r
	}
	for id, entityID := range req.Assignments {
		s.Assignments[id] = entityID
	}
	s.Version++
}
