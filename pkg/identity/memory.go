package identity

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Ramsey-B/sage/pkg/models"
)

// MemoryStore keeps the identity state and run history in process. Commits clone the current
// state, apply the delta to the clone and swap it in, so readers never observe a partial commit.
type MemoryStore struct {
	datasetKey string

	mu    sync.RWMutex
	state *models.IdentityState
	runs  []models.ResolutionRun
}

// NewMemoryStore creates an empty store
func NewMemoryStore(datasetKey string) *MemoryStore {
	return &MemoryStore{
		datasetKey: datasetKey,
		state:      models.NewIdentityState(),
	}
}

// Load returns a private copy of the committed state
func (s *MemoryStore) Load(ctx context.Context) (*models.IdentityState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

// Commit applies the delta when the version has not moved since the caller's snapshot
func (s *MemoryStore) Commit(ctx context.Context, req *models.CommitRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Version != req.ExpectedVersion {
		return 0, &models.PersistenceConflictError{
			DatasetKey: s.datasetKey,
			Reason:     fmt.Sprintf("state version is %d, run started from %d", s.state.Version, req.ExpectedVersion),
		}
	}

	next := s.state.Clone()
	next.Apply(req)
	s.state = next
	return next.Version, nil
}

// GetEntity returns one entity as stored, tombstones included
func (s *MemoryStore) GetEntity(ctx context.Context, entityID string) (*models.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.Entities[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// GetAssignment returns the entity a record belongs to
func (s *MemoryStore) GetAssignment(ctx context.Context, recordID models.RecordID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entityID, ok := s.state.Assignments[recordID]
	if !ok {
		return "", ErrNotFound
	}
	return entityID, nil
}

// Append adds a run to the history
func (s *MemoryStore) Append(ctx context.Context, run *models.ResolutionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.RunID == run.RunID {
			return fmt.Errorf("run %s already recorded", run.RunID)
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

// List returns the most recent runs first
func (s *MemoryStore) List(ctx context.Context, limit int) ([]models.ResolutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.runs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns one run
func (s *MemoryStore) Get(ctx context.Context, runID string) (*models.ResolutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.runs {
		if s.runs[i].RunID == runID {
			run := s.runs[i]
			return &run, nil
		}
	}
	return nil, ErrNotFound
}
