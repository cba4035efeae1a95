package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/inject"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	"github.com/Ramsey-B/sage/pkg/routes/validation"
)

type api struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T) *api {
	t.Helper()
	return newAPIWithRunner(t, true)
}

func newAPIWithRunner(t *testing.T, acceptBatches bool) *api {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := identity.NewMemoryStore("donors")
	policy := config.DefaultPolicy()
	policy.SourcePriority = []string{"crm", "events"}
	policy.AuthoritativeIdentifiers = []string{"tax_id"}

	reg := prometheus.NewRegistry()
	rec := reconcile.New("donors", store, store, identity.NewFileLocker(t.TempDir()), policy, logger,
		reconcile.WithSinks(metrics.NewRecorder(reg)),
	)

	container, err := inject.NewContainer(logger)
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[*config.Config](container, &config.Config{
		DatasetKey:      "donors",
		MaxRunRecords:   3,
		RunHistoryLimit: 50,
	}))
	require.NoError(t, ectoinject.RegisterInstance[ectologger.Logger](container, logger))
	require.NoError(t, ectoinject.RegisterInstance[*identity.Lookup](container, identity.NewLookup(logger, store, nil)))
	require.NoError(t, ectoinject.RegisterInstance[identity.RunLog](container, store))
	require.NoError(t, ectoinject.RegisterInstance[*validator.Validate](container, validator.New()))

	if acceptBatches {
		require.NoError(t, ectoinject.RegisterInstance[reconcile.Runner](container, rec))
	}

	e := echo.New()
	Register(e, Dependencies{
		ContainerID: container.GetContainerID(),
		DatasetKey:  "donors",
		Logger:      logger,
		Health:      health.NewChecker("test"),
		Gatherer:    reg,
	})
	return &api{t: t, e: e}
}

func (a *api) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func donor(source, id, email string) models.SourceRecord {
	return models.SourceRecord{
		SourceID:       source,
		SourceRecordID: id,
		GivenName:      "Ada",
		FamilyName:     "Lovelace",
		Email:          email,
		Identifiers:    map[string]string{"tax_id": "998-12"},
		IngestedAt:     time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAPI_Runs(t *testing.T) {
	a := newAPI(t)
	batch := map[string]any{"records": []models.SourceRecord{
		donor("crm", "1", "ada@example.org"),
		donor("events", "77", "ada.l@example.org"),
	}}

	created := a.do(http.MethodPost, "/api/v1/runs", batch)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	run := decode[models.ResolutionRun](t, created)

	t.Run("should resolve the batch into one entity", func(t *testing.T) {
		assert.Equal(t, models.RunSucceeded, run.Status)
		assert.Equal(t, 2, run.InputRecords)
		assert.Equal(t, 1, run.EntitiesCreated)
	})

	t.Run("should list and fetch the run", func(t *testing.T) {
		list := a.do(http.MethodGet, "/api/v1/runs?limit=5", nil)
		require.Equal(t, http.StatusOK, list.Code)
		runs := decode[[]models.ResolutionRun](t, list)
		require.Len(t, runs, 1)
		assert.Equal(t, run.RunID, runs[0].RunID)

		got := a.do(http.MethodGet, "/api/v1/runs/"+run.RunID, nil)
		require.Equal(t, http.StatusOK, got.Code)
		assert.Equal(t, run.RunID, decode[models.ResolutionRun](t, got).RunID)
	})

	t.Run("should 404 an unknown run", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/runs/nope", nil).Code)
	})

	t.Run("should reject a bad limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/v1/runs?limit=zero", nil).Code)
	})

	t.Run("should reject an empty batch", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/runs", map[string]any{"records": []models.SourceRecord{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject an oversized batch", func(t *testing.T) {
		records := []models.SourceRecord{
			donor("crm", "1", ""), donor("crm", "2", ""), donor("crm", "3", ""), donor("crm", "4", ""),
		}
		rec := a.do(http.MethodPost, "/api/v1/runs", map[string]any{"records": records})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("should reject another dataset", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/runs", batch, middleware.HeaderDatasetKey, "alumni")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("should expose run metrics", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "runs_total")
	})
}

func TestAPI_Entities(t *testing.T) {
	a := newAPI(t)
	created := a.do(http.MethodPost, "/api/v1/runs", map[string]any{"records": []models.SourceRecord{
		donor("crm", "1", "ada@example.org"),
	}})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	byRecord := a.do(http.MethodGet, "/api/v1/records/crm/1/entity", nil)
	require.Equal(t, http.StatusOK, byRecord.Code, byRecord.Body.String())
	entity := decode[models.CanonicalEntity](t, byRecord)

	t.Run("should resolve a record to its entity", func(t *testing.T) {
		assert.Equal(t, models.EntityActive, entity.Status)
		assert.Equal(t, []models.RecordID{"crm:1"}, entity.MemberSourceIDs)
	})

	t.Run("should fetch the entity by id", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/v1/entities/"+entity.EntityID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, entity.EntityID, decode[models.CanonicalEntity](t, rec).EntityID)
	})

	t.Run("should return the survivorship trace", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/v1/entities/"+entity.EntityID+"/trace", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, entity.EntityID, body["entity_id"])
		assert.NotEmpty(t, body["survivorship_trace"])
		assert.NotContains(t, body, "requested_id")
	})

	t.Run("should 404 unknown entities and records", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/entities/missing", nil).Code)
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/records/crm/404/entity", nil).Code)
	})
}

func TestAPI_Validate(t *testing.T) {
	a := newAPI(t)
	missingID := donor("crm", "", "ada@example.org")

	rec := a.do(http.MethodPost, "/api/v1/records/validate", map[string]any{"records": []models.SourceRecord{
		donor("crm", "1", "ada@example.org"),
		missingID,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[validation.ValidateResponse](t, rec)

	t.Run("should flag the invalid record only", func(t *testing.T) {
		assert.False(t, body.Valid)
		require.Len(t, body.Records, 2)
		assert.True(t, body.Records[0].Valid)
		assert.False(t, body.Records[1].Valid)
		assert.NotEmpty(t, body.Records[1].Errors)
	})

	t.Run("should not commit anything", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/v1/records/crm/1/entity", nil).Code)
	})
}

func TestAPI_ReadOnly(t *testing.T) {
	a := newAPIWithRunner(t, false)

	t.Run("should refuse batches without a runner", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/runs", map[string]any{"records": []models.SourceRecord{
			donor("crm", "1", "ada@example.org"),
		}})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("should still list runs", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/v1/runs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]models.ResolutionRun](t, rec))
	})
}
