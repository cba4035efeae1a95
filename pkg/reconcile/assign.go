package reconcile

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Ramsey-B/sage/pkg/merging"
	"github.com/Ramsey-B/sage/pkg/models"
)

// outcome is the entity a cluster resolves to
type outcome struct {
	cluster models.EntityCluster
	// entityID is the prior entity that keeps its id; empty when a new entity is minted
	entityID  string
	absorbed  []string
	splitFrom string
}

// standing orders merge survivors: oldest entity, then earliest first-seen member, then best source
type standing struct {
	createdAt time.Time
	firstSeen time.Time
	rank      int
}

func (s standing) compare(o standing) int {
	if c := s.createdAt.Compare(o.createdAt); c != 0 {
		return c
	}
	if c := s.firstSeen.Compare(o.firstSeen); c != 0 {
		return c
	}
	switch {
	case s.rank < o.rank:
		return -1
	case s.rank > o.rank:
		return 1
	}
	return 0
}

// conflicts reports whether two entities created together disagree on who should survive:
// first-seen time favors one and source rank the other
func (s standing) conflicts(o standing) bool {
	if !s.createdAt.Equal(o.createdAt) || s.firstSeen.Equal(o.firstSeen) || s.rank == o.rank {
		return false
	}
	return s.firstSeen.Before(o.firstSeen) != (s.rank < o.rank)
}

// assign maps clusters onto prior entities. Clusters that share prior entities form a unit and
// are decided together: each prior entity follows the cluster holding most of its members, a
// cluster claimed by one entity keeps its id, a cluster claimed by several merges them into the
// best standing entity, and an unclaimed cluster mints a new entity. Entities with equal standing
// are ordered by id. A unit whose merge candidates conflict is held out whole.
func (r *Reconciler) assign(ws *workingSet, clusters []models.EntityCluster) ([]outcome, []*models.AmbiguousMergeError) {
	parent := make([]int, len(clusters))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	counts := make([]map[string]int, len(clusters))
	firstCluster := make(map[string]int)
	for i, c := range clusters {
		counts[i] = make(map[string]int)
		for _, m := range c.Members {
			entityID, ok := ws.assigned[m]
			if !ok {
				continue
			}
			counts[i][entityID]++
			if j, seen := firstCluster[entityID]; seen {
				if ri, rj := find(i), find(j); ri != rj {
					parent[max(ri, rj)] = min(ri, rj)
				}
			} else {
				firstCluster[entityID] = i
			}
		}
	}

	var roots []int
	units := make(map[int][]int)
	for i := range clusters {
		root := find(i)
		if _, ok := units[root]; !ok {
			roots = append(roots, root)
		}
		units[root] = append(units[root], i)
	}

	var outcomes []outcome
	var held []*models.AmbiguousMergeError
	for _, root := range roots {
		outs, amb := r.assignUnit(ws, clusters, counts, units[root])
		if amb != nil {
			held = append(held, amb)
			continue
		}
		outcomes = append(outcomes, outs...)
	}
	return outcomes, held
}

func (r *Reconciler) assignUnit(ws *workingSet, clusters []models.EntityCluster, counts []map[string]int, unit []int) ([]outcome, *models.AmbiguousMergeError) {
	var entities []string
	for _, ci := range unit {
		for entityID := range counts[ci] {
			if !slices.Contains(entities, entityID) {
				entities = append(entities, entityID)
			}
		}
	}
	slices.Sort(entities)

	claimers := make(map[int][]string)
	for _, entityID := range entities {
		best := -1
		for _, ci := range unit {
			n := counts[ci][entityID]
			if n == 0 {
				continue
			}
			if best < 0 || n > counts[best][entityID] ||
				(n == counts[best][entityID] && ws.earliestIn(entityID, clusters[ci]).Before(ws.earliestIn(entityID, clusters[best]))) {
				best = ci
			}
		}
		claimers[best] = append(claimers[best], entityID)
	}

	outs := make([]outcome, 0, len(unit))
	for _, ci := range unit {
		o := outcome{cluster: clusters[ci]}
		claimed := claimers[ci]
		switch len(claimed) {
		case 0:
			top := 0
			for _, entityID := range entities {
				if n := counts[ci][entityID]; n > top {
					top = n
					o.splitFrom = entityID
				}
			}
		case 1:
			o.entityID = claimed[0]
		default:
			ranked := slices.Clone(claimed)
			slices.SortFunc(ranked, func(a, b string) int {
				if c := r.standing(ws, a).compare(r.standing(ws, b)); c != 0 {
					return c
				}
				return cmp.Compare(a, b)
			})
			survivor := r.standing(ws, ranked[0])
			for _, other := range ranked[1:] {
				if !survivor.conflicts(r.standing(ws, other)) {
					continue
				}
				var members []models.RecordID
				for _, cj := range unit {
					members = append(members, clusters[cj].Members...)
				}
				slices.Sort(members)
				return nil, &models.AmbiguousMergeError{
					Entities: entities,
					Members:  members,
					Reason: fmt.Sprintf("entities %s and %s were created together; first-seen time and source rank disagree",
						ranked[0], other),
				}
			}
			o.entityID = ranked[0]
			o.absorbed = ranked[1:]
		}
		outs = append(outs, o)
	}
	return outs, nil
}

// earliestIn returns the first-seen time of the entity's earliest prior member inside the cluster
func (ws *workingSet) earliestIn(entityID string, cluster models.EntityCluster) time.Time {
	var earliest time.Time
	for _, m := range cluster.Members {
		if ws.assigned[m] != entityID {
			continue
		}
		if seen := ws.records[m].FirstSeenAt; earliest.IsZero() || seen.Before(earliest) {
			earliest = seen
		}
	}
	return earliest
}

func (r *Reconciler) standing(ws *workingSet, entityID string) standing {
	s := standing{rank: len(r.policy.SourcePriority)}
	if e, ok := ws.state.Entities[entityID]; ok {
		s.createdAt = e.CreatedAt
	}
	for _, m := range ws.members[entityID] {
		rec := ws.records[m]
		if s.firstSeen.IsZero() || rec.FirstSeenAt.Before(s.firstSeen) {
			s.firstSeen = rec.FirstSeenAt
		}
		s.rank = min(s.rank, r.policy.SourceRank(rec.Record.SourceID))
	}
	return s
}

// apply runs survivorship for every outcome and writes entities and assignments into the commit
func (r *Reconciler) apply(ws *workingSet, outcomes []outcome, resolver *merging.Resolver, commit *models.CommitRequest, run *models.ResolutionRun) []models.EntityChange {
	now := r.now()
	var changes []models.EntityChange
	forwards := make(map[string]string)

	for _, o := range outcomes {
		members := slices.Clone(o.cluster.Members)
		sources := make([]models.SourceRecord, 0, len(members))
		for _, m := range members {
			sources = append(sources, ws.records[m].Record)
		}
		fields, trace := resolver.Resolve(sources)

		if o.entityID == "" {
			entity := &models.CanonicalEntity{
				EntityID:          r.newID(),
				Status:            models.EntityActive,
				Fields:            fields,
				SurvivorshipTrace: trace,
				MemberSourceIDs:   members,
				CreatedAt:         now,
				LastResolvedAt:    now,
				Version:           1,
			}
			change := models.EntityChange{Kind: models.ChangeCreated, Entity: entity}
			if o.splitFrom != "" {
				change.Kind = models.ChangeSplit
				change.SplitFrom = o.splitFrom
				run.EntitiesSplit++
			} else {
				run.EntitiesCreated++
			}
			commit.Entities = append(commit.Entities, entity)
			changes = append(changes, change)
			link(ws, commit, members, entity.EntityID)
			continue
		}

		prior := ws.state.Entities[o.entityID]
		if len(o.absorbed) == 0 && slices.Equal(prior.MemberSourceIDs, members) &&
			sameContent(prior.Fields, fields) && sameContent(prior.SurvivorshipTrace, trace) {
			run.EntitiesUnchanged++
			link(ws, commit, members, prior.EntityID)
			continue
		}

		next := prior.Clone()
		next.Fields = fields
		next.SurvivorshipTrace = trace
		next.MemberSourceIDs = members
		next.LastResolvedAt = now
		next.Version++
		change := models.EntityChange{Kind: models.ChangeUpdated, Entity: next, Removed: removedMembers(prior.MemberSourceIDs, members)}

		if len(o.absorbed) > 0 {
			change.Kind = models.ChangeMerged
			change.Absorbed = o.absorbed
			run.EntitiesMerged += len(o.absorbed)
			for _, loserID := range o.absorbed {
				loser := ws.state.Entities[loserID].Clone()
				tombstonedAt := now
				loser.Status = models.EntityTombstoned
				loser.ForwardedTo = next.EntityID
				loser.MemberSourceIDs = nil
				loser.TombstonedAt = &tombstonedAt
				loser.LastResolvedAt = now
				loser.Version++
				commit.Entities = append(commit.Entities, loser)
				changes = append(changes, models.EntityChange{Kind: models.ChangeTombstoned, Entity: loser})
				forwards[loserID] = next.EntityID
			}
		} else {
			run.EntitiesUpdated++
		}
		commit.Entities = append(commit.Entities, next)
		changes = append(changes, change)
		link(ws, commit, members, next.EntityID)
	}

	// older tombstones that pointed at an entity absorbed in this run now point at its survivor
	if len(forwards) > 0 {
		ids := make([]string, 0, len(ws.state.Entities))
		for id := range ws.state.Entities {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			e := ws.state.Entities[id]
			if e.IsActive() {
				continue
			}
			if _, absorbedNow := forwards[id]; absorbedNow {
				continue
			}
			survivor, ok := forwards[e.ForwardedTo]
			if !ok {
				continue
			}
			repointed := e.Clone()
			repointed.ForwardedTo = survivor
			repointed.Version++
			commit.Entities = append(commit.Entities, repointed)
		}
	}

	slices.SortStableFunc(changes, func(a, b models.EntityChange) int {
		return strings.Compare(a.Entity.EntityID, b.Entity.EntityID)
	})
	return changes
}

func link(ws *workingSet, commit *models.CommitRequest, members []models.RecordID, entityID string) {
	for _, m := range members {
		if ws.assigned[m] != entityID {
			commit.Assignments[m] = entityID
		}
	}
}

func removedMembers(before, after []models.RecordID) []models.RecordID {
	var removed []models.RecordID
	for _, m := range before {
		if !slices.Contains(after, m) {
			removed = append(removed, m)
		}
	}
	return removed
}

// sameContent compares stored and freshly resolved values through their JSON form, which is how
// they are persisted
func sameContent(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
