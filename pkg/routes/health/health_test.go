package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(c *Checker, path string) *httptest.ResponseRecorder {
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestChecker_Health(t *testing.T) {
	ok := Check{Name: "database", Ping: func(context.Context) error { return nil }}
	down := Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("should report healthy when every check passes", func(t *testing.T) {
		rec := serve(NewChecker("1.2.0", ok), "/api/v1/health")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "1.2.0", body.Version)
		assert.Equal(t, "healthy", body.Checks["database"].Status)
	})

	t.Run("should report unhealthy when a check fails", func(t *testing.T) {
		rec := serve(NewChecker("1.2.0", ok, down), "/api/v1/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["redis"].Message)
	})
}

func TestChecker_Ready(t *testing.T) {
	c := NewChecker("dev")

	t.Run("should not be ready until marked", func(t *testing.T) {
		assert.Equal(t, http.StatusServiceUnavailable, serve(c, "/api/v1/health/ready").Code)
	})

	t.Run("should be ready once marked", func(t *testing.T) {
		c.SetReady(true)
		assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/ready").Code)
	})

	t.Run("should always be live", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(c, "/api/v1/health/live").Code)
	})
}
