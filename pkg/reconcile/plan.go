package reconcile

import (
	"context"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/blocking"
	"github.com/Ramsey-B/sage/pkg/clustering"
	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/merging"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// plan is the delta a run will commit and the entity changes it reports
type plan struct {
	commit  *models.CommitRequest
	changes []models.EntityChange
}

// workingSet is the run's view of the dataset: stored record versions overlaid with incoming ones
type workingSet struct {
	state      *models.IdentityState
	records    map[models.RecordID]models.StoredRecord
	normalized map[models.RecordID]*models.NormalizedRecord
	// assigned maps records to their active entity, forwarding references already followed
	assigned map[models.RecordID]string
	members  map[string][]models.RecordID
}

func (r *Reconciler) plan(
	ctx context.Context,
	log ectologger.Logger,
	state *models.IdentityState,
	incoming []incomingRecord,
	blocker *blocking.Blocker,
	resolver *merging.Resolver,
	run *models.ResolutionRun,
) (*plan, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Reconciler.plan")
	defer span.End()

	commit := &models.CommitRequest{
		ExpectedVersion: state.Version,
		Assignments:     make(map[models.RecordID]string),
	}
	for _, in := range incoming {
		commit.Records = append(commit.Records, in.stored)
	}

	ws, err := r.workingSet(ctx, state, incoming)
	if err != nil {
		return nil, err
	}
	scope := r.scope(ws, incoming, blocker)
	run.ScopeRecords = len(scope)
	if len(scope) == 0 {
		return &plan{commit: commit}, nil
	}

	scoped := make([]models.NormalizedRecord, 0, len(scope))
	for _, id := range scope {
		scoped = append(scoped, *ws.normalized[id])
	}
	blocks := blocker.Block(scoped)
	pairs, err := matching.NewPairScorer(r.policy).ScoreBlocks(ctx, blocks, ws.normalized, r.workers)
	if err != nil {
		return nil, err
	}
	run.Comparisons = len(pairs)
	nearMissFloor := r.policy.MatchThreshold - r.policy.NearMissMargin
	for _, p := range pairs {
		switch {
		case p.Score >= r.policy.MatchThreshold:
			run.CandidateMatches++
		case r.policy.NearMissMargin > 0 && p.Score >= nearMissFloor:
			run.NearMisses = append(run.NearMisses, p)
		}
	}

	clusters := clustering.NewBuilder(clustering.PolicyFrom(r.policy)).Build(scope, pairs)
	run.ClustersFormed = len(clusters.Clusters)
	if len(clusters.Guarded) > 0 {
		log.Debugf("Chaining guard refused %d match edges", len(clusters.Guarded))
	}
	log.WithFields(map[string]any{
		"scope":       len(scope),
		"blocks":      blocks.Len(),
		"comparisons": run.Comparisons,
		"clusters":    run.ClustersFormed,
	}).Debug("Scored and clustered run scope")

	outcomes, held := r.assign(ws, clusters.Clusters)
	for _, amb := range held {
		log.WithError(amb).Warn("Holding out ambiguous merge for review")
		run.Ambiguous = append(run.Ambiguous, models.AmbiguousCluster{
			Members:  amb.Members,
			Entities: amb.Entities,
			Reason:   amb.Reason,
		})
	}

	changes := r.apply(ws, outcomes, resolver, commit, run)
	return &plan{commit: commit, changes: changes}, nil
}

// workingSet normalizes every stored record the batch does not replace, so block keys can be
// compared across the whole dataset
func (r *Reconciler) workingSet(ctx context.Context, state *models.IdentityState, incoming []incomingRecord) (*workingSet, error) {
	ws := &workingSet{
		state:      state,
		records:    make(map[models.RecordID]models.StoredRecord, len(state.Records)+len(incoming)),
		normalized: make(map[models.RecordID]*models.NormalizedRecord, len(state.Records)+len(incoming)),
		assigned:   make(map[models.RecordID]string, len(state.Assignments)),
		members:    make(map[string][]models.RecordID),
	}
	for i := range incoming {
		in := &incoming[i]
		ws.records[in.normalized.ID] = in.stored
		ws.normalized[in.normalized.ID] = &in.normalized
	}

	var stored []models.StoredRecord
	for id, rec := range state.Records {
		if _, replaced := ws.records[id]; replaced {
			continue
		}
		ws.records[id] = rec
		stored = append(stored, rec)
	}
	normalized, err := r.normalize(ctx, stored)
	if err != nil {
		return nil, err
	}
	for i := range normalized {
		ws.normalized[normalized[i].ID] = &normalized[i]
	}

	for id, entityID := range state.Assignments {
		if _, ok := ws.records[id]; !ok {
			continue
		}
		entity, ok := state.Resolve(entityID)
		if !ok || !entity.IsActive() {
			continue
		}
		ws.assigned[id] = entity.EntityID
		ws.members[entity.EntityID] = append(ws.members[entity.EntityID], id)
	}
	for _, ms := range ws.members {
		slices.Sort(ms)
	}
	return ws, nil
}

// scope returns the records a run re-resolves: new and changed records, records still pending from
// earlier runs, and every member of an active entity that shares a block key with one of them or
// currently owns one of them.
func (r *Reconciler) scope(ws *workingSet, incoming []incomingRecord, blocker *blocking.Blocker) []models.RecordID {
	seeds := make(map[models.RecordID]bool)
	for i := range incoming {
		seeds[incoming[i].normalized.ID] = true
	}
	for _, id := range ws.state.Pending() {
		if _, ok := ws.normalized[id]; ok {
			seeds[id] = true
		}
	}

	keys := make(map[string]bool)
	touched := make(map[string]bool)
	for id := range seeds {
		for _, k := range blocker.Keys(ws.normalized[id]) {
			keys[k] = true
		}
		if entityID, ok := ws.assigned[id]; ok {
			touched[entityID] = true
		}
	}
	if len(keys) > 0 {
		for id, entityID := range ws.assigned {
			if touched[entityID] {
				continue
			}
			for _, k := range blocker.Keys(ws.normalized[id]) {
				if keys[k] {
					touched[entityID] = true
					break
				}
			}
		}
	}

	inScope := make(map[models.RecordID]bool, len(seeds))
	for id := range seeds {
		inScope[id] = true
	}
	for entityID := range touched {
		for _, id := range ws.members[entityID] {
			inScope[id] = true
		}
	}
	scope := make([]models.RecordID, 0, len(inScope))
	for id := range inScope {
		scope = append(scope, id)
	}
	slices.Sort(scope)
	return scope
}
