package identitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var (
	entityColumns = []string{
		"dataset_key", "entity_id", "status", "fields", "survivorship_trace", "member_source_ids",
		"forwarded_to", "created_at", "last_resolved_at", "tombstoned_at", "version",
	}
	recordColumns = []string{
		"dataset_key", "record_id", "source_id", "source_record_id", "record", "fingerprint",
		"first_seen_at", "ingested_at",
	}
	assignmentColumns = []string{"dataset_key", "record_id", "entity_id", "assigned_at"}
)

type entityRow struct {
	EntityID          string                                       `db:"entity_id"`
	Status            string                                       `db:"status"`
	Fields            database.JSONB[map[string]any]               `db:"fields"`
	SurvivorshipTrace database.JSONB[map[string]models.TraceEntry] `db:"survivorship_trace"`
	MemberSourceIDs   database.JSONB[[]models.RecordID]            `db:"member_source_ids"`
	ForwardedTo       sql.NullString                               `db:"forwarded_to"`
	CreatedAt         time.Time                                    `db:"created_at"`
	LastResolvedAt    time.Time                                    `db:"last_resolved_at"`
	TombstonedAt      *time.Time                                   `db:"tombstoned_at"`
	Version           int                                          `db:"version"`
}

func (r entityRow) toModel() *models.CanonicalEntity {
	e := &models.CanonicalEntity{
		EntityID:          r.EntityID,
		Status:            models.EntityStatus(r.Status),
		Fields:            r.Fields.GetValue(),
		SurvivorshipTrace: r.SurvivorshipTrace.GetValue(),
		MemberSourceIDs:   r.MemberSourceIDs.GetValue(),
		ForwardedTo:       r.ForwardedTo.String,
		CreatedAt:         r.CreatedAt.UTC(),
		LastResolvedAt:    r.LastResolvedAt.UTC(),
		Version:           r.Version,
	}
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	if e.SurvivorshipTrace == nil {
		e.SurvivorshipTrace = make(map[string]models.TraceEntry)
	}
	if r.TombstonedAt != nil {
		t := r.TombstonedAt.UTC()
		e.TombstonedAt = &t
	}
	return e
}

type recordRow struct {
	RecordID    string                               `db:"record_id"`
	Record      database.JSONB[models.SourceRecord] `db:"record"`
	Fingerprint string                               `db:"fingerprint"`
	FirstSeenAt time.Time                            `db:"first_seen_at"`
}

type assignmentRow struct {
	RecordID string `db:"record_id"`
	EntityID string `db:"entity_id"`
}

// Repository persists the identity state of one dataset in Postgres or SQLite
type Repository struct {
	db         database.DB
	logger     ectologger.Logger
	datasetKey string
}

// NewRepository creates a new identity store repository
func NewRepository(db database.DB, logger ectologger.Logger, datasetKey string) *Repository {
	return &Repository{
		db:         db,
		logger:     logger,
		datasetKey: datasetKey,
	}
}

// Load reads the whole dataset inside one snapshot transaction
func (r *Repository) Load(ctx context.Context) (*models.IdentityState, error) {
	ctx, span := tracing.StartSpan(ctx, "identitystore.Repository.Load")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, r.db.SnapshotOptions())
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	state := models.NewIdentityState()
	version, err := r.version(ctx, tx)
	if err != nil {
		return nil, err
	}
	state.Version = version

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(entityColumns[1:]...)
	sb.From("canonical_entities")
	sb.Where(sb.Equal("dataset_key", r.datasetKey))
	query, args := sb.Build()
	var entities []entityRow
	if err := tx.SelectContext(ctx, &entities, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load canonical entities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load canonical entities")
	}
	for _, row := range entities {
		state.Entities[row.EntityID] = row.toModel()
	}

	sb = r.db.Flavor().NewSelectBuilder()
	sb.Select("record_id", "record", "fingerprint", "first_seen_at")
	sb.From("source_records")
	sb.Where(sb.Equal("dataset_key", r.datasetKey))
	query, args = sb.Build()
	var records []recordRow
	if err := tx.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load source records")
	}
	for _, row := range records {
		state.Records[models.RecordID(row.RecordID)] = models.StoredRecord{
			Record:      row.Record.GetValue(),
			Fingerprint: row.Fingerprint,
			FirstSeenAt: row.FirstSeenAt.UTC(),
		}
	}

	sb = r.db.Flavor().NewSelectBuilder()
	sb.Select("record_id", "entity_id")
	sb.From("record_assignments")
	sb.Where(sb.Equal("dataset_key", r.datasetKey))
	query, args = sb.Build()
	var assignments []assignmentRow
	if err := tx.SelectContext(ctx, &assignments, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load record assignments")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load record assignments")
	}
	for _, row := range assignments {
		state.Assignments[models.RecordID(row.RecordID)] = row.EntityID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"dataset_key": r.datasetKey,
		"version":     state.Version,
		"entities":    len(state.Entities),
		"records":     len(state.Records),
	}).Debug("Loaded identity state")
	return state, nil
}

// Commit writes the delta in one transaction. The dataset version acts as an optimistic lock:
// the commit only applies when the stored version still equals req.ExpectedVersion.
func (r *Repository) Commit(ctx context.Context, req *models.CommitRequest) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "identitystore.Repository.Commit")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if err := r.bumpVersion(ctx, tx, req.ExpectedVersion, now); err != nil {
		return 0, err
	}
	if err := r.upsertEntities(ctx, tx, req.Entities); err != nil {
		return 0, err
	}
	if err := r.upsertRecords(ctx, tx, req.Records); err != nil {
		return 0, err
	}
	if err := r.upsertAssignments(ctx, tx, req.Assignments, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	version := req.ExpectedVersion + 1
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"dataset_key": r.datasetKey,
		"version":     version,
		"entities":    len(req.Entities),
		"records":     len(req.Records),
		"assignments": len(req.Assignments),
	}).Info("Committed identity state")
	return version, nil
}

func (r *Repository) version(ctx context.Context, tx database.Tx) (int64, error) {
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("version")
	sb.From("dataset_state")
	sb.Where(sb.Equal("dataset_key", r.datasetKey))
	query, args := sb.Build()

	var version int64
	if err := tx.GetContext(ctx, &version, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read dataset version")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read dataset version")
	}
	return version, nil
}

func (r *Repository) bumpVersion(ctx context.Context, tx database.Tx, expected int64, now time.Time) error {
	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto("dataset_state")
	ib.Cols("dataset_key", "version", "updated_at")
	ib.Values(r.datasetKey, 0, now)
	ib.OnConflictDoNothing()
	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to initialize dataset state")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to initialize dataset state")
	}

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update("dataset_state")
	ub.Set(
		ub.Add("version", 1),
		ub.Assign("updated_at", now),
	)
	ub.Where(
		ub.Equal("dataset_key", r.datasetKey),
		ub.Equal("version", expected),
	)
	query, args = ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to bump dataset version")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to bump dataset version")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		current, err := r.version(ctx, tx)
		if err != nil {
			return err
		}
		return &models.PersistenceConflictError{
			DatasetKey: r.datasetKey,
			Reason:     fmt.Sprintf("state version is %d, run started from %d", current, expected),
		}
	}
	return nil
}

func (r *Repository) upsertEntities(ctx context.Context, tx database.Tx, entities []*models.CanonicalEntity) error {
	for _, chunk := range database.Chunk(entities) {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto("canonical_entities")
		ib.Cols(entityColumns...)
		for _, e := range chunk {
			fields := e.Fields
			if fields == nil {
				fields = map[string]any{}
			}
			trace := e.SurvivorshipTrace
			if trace == nil {
				trace = map[string]models.TraceEntry{}
			}
			members := e.MemberSourceIDs
			if members == nil {
				members = []models.RecordID{}
			}
			ib.Values(
				r.datasetKey, e.EntityID, string(e.Status),
				database.NewJSONB(fields), database.NewJSONB(trace), database.NewJSONB(members),
				sql.NullString{String: e.ForwardedTo, Valid: e.ForwardedTo != ""},
				e.CreatedAt.UTC(), e.LastResolvedAt.UTC(), e.TombstonedAt, e.Version,
			)
		}
		ib.OnConflictUpdate([]string{"dataset_key", "entity_id"}, entityColumns[2:]...)

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert canonical entities")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert canonical entities")
		}
	}
	return nil
}

func (r *Repository) upsertRecords(ctx context.Context, tx database.Tx, records []models.StoredRecord) error {
	for _, chunk := range database.Chunk(records) {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto("source_records")
		ib.Cols(recordColumns...)
		for _, rec := range chunk {
			ib.Values(
				r.datasetKey, string(rec.Record.Key()), rec.Record.SourceID, rec.Record.SourceRecordID,
				database.NewJSONB(rec.Record), rec.Fingerprint, rec.FirstSeenAt.UTC(), rec.Record.IngestedAt.UTC(),
			)
		}
		ib.OnConflictUpdate([]string{"dataset_key", "record_id"}, recordColumns[4:]...)

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert source records")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert source records")
		}
	}
	return nil
}

func (r *Repository) upsertAssignments(ctx context.Context, tx database.Tx, assignments map[models.RecordID]string, now time.Time) error {
	ids := make([]models.RecordID, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, chunk := range database.Chunk(ids) {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto("record_assignments")
		ib.Cols(assignmentColumns...)
		for _, id := range chunk {
			ib.Values(r.datasetKey, string(id), assignments[id], now)
		}
		ib.OnConflictUpdate([]string{"dataset_key", "record_id"}, "entity_id", "assigned_at")

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("Failed to upsert record assignments")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert record assignments")
		}
	}
	return nil
}

// GetEntity returns one entity as stored, tombstones included
func (r *Repository) GetEntity(ctx context.Context, entityID string) (*models.CanonicalEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "identitystore.Repository.GetEntity")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(entityColumns[1:]...)
	sb.From("canonical_entities")
	sb.Where(
		sb.Equal("dataset_key", r.datasetKey),
		sb.Equal("entity_id", entityID),
	)
	query, args := sb.Build()

	var row entityRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get canonical entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get canonical entity")
	}
	return row.toModel(), nil
}

// GetAssignment returns the entity a record belongs to
func (r *Repository) GetAssignment(ctx context.Context, recordID models.RecordID) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "identitystore.Repository.GetAssignment")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("entity_id")
	sb.From("record_assignments")
	sb.Where(
		sb.Equal("dataset_key", r.datasetKey),
		sb.Equal("record_id", string(recordID)),
	)
	query, args := sb.Build()

	var entityID string
	if err := r.db.GetContext(ctx, &entityID, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", identity.ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get record assignment")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record assignment")
	}
	return entityID, nil
}
