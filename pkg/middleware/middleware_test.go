package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/inject"
	"github.com/Ramsey-B/sage/pkg/models"
)

func newServer(handler echo.HandlerFunc) *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context("donors"))
	e.Use(Logger(logger))
	e.GET("/test", handler)
	return e
}

func TestContext(t *testing.T) {
	t.Run("should propagate request id and dataset key", func(t *testing.T) {
		var requestID, datasetKey string
		e := newServer(func(c echo.Context) error {
			requestID = context.GetRequestID(c.Request().Context())
			datasetKey = context.GetDatasetKey(c.Request().Context())
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-7")
		req.Header.Set(HeaderDatasetKey, "alumni")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "req-7", requestID)
		assert.Equal(t, "alumni", datasetKey)
		assert.Equal(t, "req-7", rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("should default the dataset key and mint a request id", func(t *testing.T) {
		var requestID, datasetKey string
		e := newServer(func(c echo.Context) error {
			requestID = context.GetRequestID(c.Request().Context())
			datasetKey = context.GetDatasetKey(c.Request().Context())
			return nil
		})

		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.NotEmpty(t, requestID)
		assert.Equal(t, "donors", datasetKey)
	})
}

func TestError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"configuration", &models.ConfigurationError{Problems: []string{"match_threshold out of range"}}, http.StatusBadRequest},
		{"not found", fmt.Errorf("entity e-1: %w", identity.ErrNotFound), http.StatusNotFound},
		{"conflict", &models.PersistenceConflictError{DatasetKey: "donors", Reason: "lock held"}, http.StatusConflict},
		{"malformed", &models.MalformedRecordError{RecordID: "crm:1", Cause: errors.New("source_id required")}, http.StatusUnprocessableEntity},
		{"http error", httperror.NewHTTPError(http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run("should map "+tc.name, func(t *testing.T) {
			e := newServer(func(echo.Context) error { return tc.err })

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-9")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "req-9", body.RequestID)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestDataset(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context("donors"))
	e.Use(Dataset("donors"))
	e.GET("/test", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("should serve the configured dataset", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("should reject other datasets", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(HeaderDatasetKey, "alumni")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

type datasetInfo struct{ key string }

func TestContainer(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	container, err := inject.NewContainer(logger)
	require.NoError(t, err)
	require.NoError(t, ectoinject.RegisterInstance[*datasetInfo](container, &datasetInfo{key: "donors"}))

	serve := func(containerID string) *httptest.ResponseRecorder {
		e := echo.New()
		e.HTTPErrorHandler = Error(logger)
		e.Use(Container(containerID))
		e.GET("/test", func(c echo.Context) error {
			_, info, err := ectoinject.GetContext[*datasetInfo](c.Request().Context())
			if err != nil {
				return err
			}
			return c.String(http.StatusOK, info.key)
		})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		return rec
	}

	t.Run("should resolve services from the container", func(t *testing.T) {
		rec := serve(container.GetContainerID())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "donors", rec.Body.String())
	})

	t.Run("should fail for an unknown container", func(t *testing.T) {
		rec := serve("missing")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
