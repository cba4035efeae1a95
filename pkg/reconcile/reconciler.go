// Package reconcile runs incremental resolution of source record batches against the canonical store
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/blocking"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/merging"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	defaultWorkers = 8
	defaultLockTTL = 30 * time.Minute
)

// Sink receives the result of every run after it has been recorded. Sinks are best-effort:
// a failing sink is logged and never undoes the commit.
type Sink interface {
	Name() string
	Publish(ctx context.Context, result *RunResult) error
}

// RunResult is everything a run produced
type RunResult struct {
	Run     *models.ResolutionRun
	Changes []models.EntityChange
	// Assignments are the record -> entity links written by the run
	Assignments map[models.RecordID]string
	// Committed is false when the run stopped before its commit
	Committed bool
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator replaces the uuid generator used for run and entity ids
func WithIDGenerator(next func() string) Option {
	return func(r *Reconciler) { r.newID = next }
}

// WithWorkers bounds normalization and scoring parallelism
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLockTTL sets how long a crashed writer can hold the dataset lock
func WithLockTTL(ttl time.Duration) Option {
	return func(r *Reconciler) {
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithSinks adds post-run publishers
func WithSinks(sinks ...Sink) Option {
	return func(r *Reconciler) { r.sinks = append(r.sinks, sinks...) }
}

// Runner resolves one batch against a dataset
type Runner interface {
	Run(ctx context.Context, batch []models.SourceRecord) (*RunResult, error)
}

// Reconciler is the single writer of one dataset's canonical state
type Reconciler struct {
	datasetKey string
	store      identity.Store
	runLog     identity.RunLog
	locker     identity.Locker
	policy     *config.Policy
	logger     ectologger.Logger

	now      func() time.Time
	newID    func() string
	workers  int
	lockTTL  time.Duration
	sinks    []Sink
	validate *validator.Validate
}

// New creates a reconciler for one dataset
func New(
	datasetKey string,
	store identity.Store,
	runLog identity.RunLog,
	locker identity.Locker,
	policy *config.Policy,
	logger ectologger.Logger,
	opts ...Option,
) *Reconciler {
	r := &Reconciler{
		datasetKey: datasetKey,
		store:      store,
		runLog:     runLog,
		locker:     locker,
		policy:     policy,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		workers:    defaultWorkers,
		lockTTL:    defaultLockTTL,
		validate:   validator.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resolves one batch. A run record is appended for every call, including failed and rejected
// ones. The returned error is a ConfigurationError, a PersistenceConflictError, a context error or a
// storage failure; malformed records and ambiguous merges never fail the run.
func (r *Reconciler) Run(ctx context.Context, batch []models.SourceRecord) (*RunResult, error) {
	run := &models.ResolutionRun{
		RunID:        r.newID(),
		DatasetKey:   r.datasetKey,
		Status:       models.RunFailed,
		StartedAt:    r.now(),
		InputRecords: len(batch),
		Quarantined:  []models.QuarantinedRecord{},
		Ambiguous:    []models.AmbiguousCluster{},
	}
	result := &RunResult{Run: run}
	ctx, span := tracing.StartRunSpan(ctx, r.datasetKey, run.RunID, len(batch))
	var err error
	defer func() { tracing.FinishRun(span, string(run.Status), err) }()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":      run.RunID,
		"dataset_key": r.datasetKey,
	})
	log.Infof("Starting resolution run with %d records", len(batch))

	err = r.execute(ctx, log, batch, result)
	if err != nil {
		run.Error = err.Error()
		run.Status = models.RunFailed
		if models.IsPersistenceConflict(err) {
			run.Status = models.RunRejected
		}
	}
	run.FinishedAt = r.now()

	detached := context.WithoutCancel(ctx)
	if appendErr := r.runLog.Append(detached, run); appendErr != nil {
		log.WithError(appendErr).Error("Failed to record resolution run")
	}
	r.publish(detached, log, result)

	if err != nil {
		log.WithError(err).Errorf("Resolution run %s", run.Status)
		return result, err
	}
	log.WithFields(map[string]any{
		"status":      run.Status,
		"created":     run.EntitiesCreated,
		"updated":     run.EntitiesUpdated,
		"merged":      run.EntitiesMerged,
		"split":       run.EntitiesSplit,
		"quarantined": len(run.Quarantined),
		"ambiguous":   len(run.Ambiguous),
		"duration":    run.Duration().String(),
	}).Info("Resolution run finished")
	return result, nil
}

func (r *Reconciler) execute(ctx context.Context, log ectologger.Logger, batch []models.SourceRecord, result *RunResult) error {
	run := result.Run

	if r.policy == nil {
		return &models.ConfigurationError{Problems: []string{"no resolution policy loaded"}}
	}
	if err := r.policy.Validate(); err != nil {
		return err
	}
	run.Policy = r.policy.RunPolicy()
	blocker, err := blocking.New(r.policy.BlockingStrategies, r.policy.AuthoritativeIdentifiers)
	if err != nil {
		return &models.ConfigurationError{Problems: []string{err.Error()}}
	}
	resolver, err := merging.NewResolver(r.policy)
	if err != nil {
		return err
	}

	lock, err := r.locker.Acquire(ctx, r.datasetKey, r.lockTTL)
	if err != nil {
		if errors.Is(err, identity.ErrLockHeld) {
			return &models.PersistenceConflictError{DatasetKey: r.datasetKey, Reason: "another run holds the dataset lock"}
		}
		return fmt.Errorf("acquire dataset lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release dataset lock")
		}
	}()

	state, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load identity state: %w", err)
	}
	run.StateVersion = state.Version

	incoming, err := r.prepare(ctx, batch, state, run)
	if err != nil {
		return err
	}
	for _, q := range run.Quarantined {
		log.WithField("record_id", q.RecordID).Warnf("Quarantined record: %s", q.Error)
	}

	p, err := r.plan(ctx, log, state, incoming, blocker, resolver, run)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.commit.IsEmpty() {
		version, err := r.store.Commit(ctx, p.commit)
		if err != nil {
			return fmt.Errorf("commit run: %w", err)
		}
		run.StateVersion = version
	}

	result.Committed = true
	result.Changes = p.changes
	result.Assignments = p.commit.Assignments
	run.Status = models.RunSucceeded
	if len(run.Quarantined) > 0 || len(run.Ambiguous) > 0 {
		run.Status = models.RunPartial
	}
	return nil
}

func (r *Reconciler) publish(ctx context.Context, log ectologger.Logger, result *RunResult) {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, result); err != nil {
			log.WithError(err).WithField("sink", sink.Name()).Warn("Post-run publish failed")
		}
	}
}
