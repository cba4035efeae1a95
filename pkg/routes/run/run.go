package run

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/reconcile"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// Register registers run routes
func Register(g *echo.Group) {
	g.GET("", ListRuns)
	g.GET("/:id", GetRun)
	g.POST("", CreateRun)
}

// CreateRunRequest is a batch of source records to resolve
type CreateRunRequest struct {
	Records []models.SourceRecord `json:"records"`
}

// ListRuns returns the most recent runs first
func ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, cfg, err := ectoinject.GetContext[*config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	limit := cfg.RunHistoryLimit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		}
		limit = n
	}

	ctx, runLog, err := ectoinject.GetContext[identity.RunLog](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	runs, err := runLog.List(ctx, limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []models.ResolutionRun{}
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one run
func GetRun(c echo.Context) error {
	ctx, runLog, err := ectoinject.GetContext[identity.RunLog](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := runLog.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// CreateRun resolves the posted batch synchronously and returns the run record. Instances
// without a registered runner are read-only.
func CreateRun(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, runner, err := ectoinject.GetContext[reconcile.Runner](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "this instance does not accept batches")
	}
	ctx, cfg, err := ectoinject.GetContext[*config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "records is required")
	}
	if cfg.MaxRunRecords > 0 && len(req.Records) > cfg.MaxRunRecords {
		return httperror.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("a run accepts at most %d records", cfg.MaxRunRecords))
	}

	ctx, logger, err := ectoinject.GetContext[ectologger.Logger](ctx)
	if err == nil {
		logger.WithContext(ctx).WithField("records", len(req.Records)).Debug("Accepted batch")
	}

	result, err := runner.Run(ctx, req.Records)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result.Run)
}
