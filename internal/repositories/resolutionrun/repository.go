package resolutionrun

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Repository is the append-only run history of one dataset
type Repository struct {
	db         database.DB
	logger     ectologger.Logger
	datasetKey string
}

// NewRepository creates a new resolution run repository
func NewRepository(db database.DB, logger ectologger.Logger, datasetKey string) *Repository {
	return &Repository{
		db:         db,
		logger:     logger,
		datasetKey: datasetKey,
	}
}

// Append records a run. Runs are never updated.
func (r *Repository) Append(ctx context.Context, run *models.ResolutionRun) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Append")
	defer span.End()

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto("resolution_runs")
	ib.Cols("run_id", "dataset_key", "status", "started_at", "finished_at", "state_version", "summary")
	ib.Values(run.RunID, r.datasetKey, string(run.Status), run.StartedAt.UTC(), run.FinishedAt.UTC(), run.StateVersion, database.NewJSONB(run))

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", run.RunID).Error("Failed to append resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append resolution run")
	}
	return nil
}

// List returns the most recent runs first. A limit of zero or less returns every run.
func (r *Repository) List(ctx context.Context, limit int) ([]models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.List")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("summary")
	sb.From("resolution_runs")
	sb.Where(sb.Equal("dataset_key", r.datasetKey))
	sb.OrderBy("started_at DESC", "run_id DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	var rows []database.JSONB[models.ResolutionRun]
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list resolution runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list resolution runs")
	}

	runs := make([]models.ResolutionRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.GetValue())
	}
	return runs, nil
}

// Get returns one run
func (r *Repository) Get(ctx context.Context, runID string) (*models.ResolutionRun, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("summary")
	sb.From("resolution_runs")
	sb.Where(
		sb.Equal("dataset_key", r.datasetKey),
		sb.Equal("run_id", runID),
	)
	query, args := sb.Build()

	var row database.JSONB[models.ResolutionRun]
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("Failed to get resolution run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution run")
	}
	run := row.GetValue()
	return &run, nil
}
