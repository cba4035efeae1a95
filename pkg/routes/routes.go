// Package routes mounts the HTTP API
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/routes/entity"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	"github.com/Ramsey-B/sage/pkg/routes/run"
	"github.com/Ramsey-B/sage/pkg/routes/validation"
)

// Dependencies configure the router. Handlers resolve the services they read from and write to
// out of the container named by ContainerID.
type Dependencies struct {
	ContainerID string
	DatasetKey  string
	Logger      ectologger.Logger
	Health      *health.Checker
	Gatherer    prometheus.Gatherer
}

// Register installs the error handler, request middleware and every route on e
func Register(e *echo.Echo, deps Dependencies) {
	e.HTTPErrorHandler = middleware.Error(deps.Logger)
	e.Use(middleware.Context(deps.DatasetKey))
	e.Use(middleware.Logger(deps.Logger))

	if deps.Health != nil {
		deps.Health.RegisterRoutes(e)
	}
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1", middleware.Dataset(deps.DatasetKey), middleware.Container(deps.ContainerID))

	entity.Register(api.Group("/entities"))

	records := api.Group("/records")
	entity.RegisterRecords(records)
	validation.Register(records)

	run.Register(api.Group("/runs"))
}
