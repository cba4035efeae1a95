// Package identity defines the canonical identity store contracts and their in-process implementations
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/Ramsey-B/sage/pkg/models"
)

var (
	// ErrLockHeld is returned by a Locker when another writer owns the dataset
	ErrLockHeld = errors.New("dataset lock is held by another writer")
	// ErrNotFound is returned when an entity, assignment or run does not exist
	ErrNotFound = errors.New("not found")
)

// Store persists the identity state of one dataset. Commit is all-or-nothing: it applies the delta
// only when the stored version still equals req.ExpectedVersion and returns the new version.
type Store interface {
	Load(ctx context.Context) (*models.IdentityState, error)
	Commit(ctx context.Context, req *models.CommitRequest) (int64, error)
}

// Reader answers point lookups against the last committed state
type Reader interface {
	GetEntity(ctx context.Context, entityID string) (*models.CanonicalEntity, error)
	GetAssignment(ctx context.Context, recordID models.RecordID) (string, error)
}

// RunLog is the append-only history of resolution runs
type RunLog interface {
	Append(ctx context.Context, run *models.ResolutionRun) error
	List(ctx context.Context, limit int) ([]models.ResolutionRun, error)
	Get(ctx context.Context, runID string) (*models.ResolutionRun, error)
}

// Locker grants the single-writer lock of a dataset
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock
type Unlocker interface {
	Release(ctx context.Context) error
}
