package middleware

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/context"
)

// HeaderDatasetKey selects the dataset a request reads or writes
const HeaderDatasetKey = "X-Dataset-Key"

// Context copies request metadata into the request context. Requests without a dataset header
// work on defaultDatasetKey.
func Context(defaultDatasetKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			datasetKey := req.Header.Get(HeaderDatasetKey)
			if datasetKey == "" {
				datasetKey = defaultDatasetKey
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetDatasetKey(ctx, datasetKey)

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// Dataset rejects requests addressed to a dataset this process does not serve
func Dataset(datasetKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requested := context.GetDatasetKey(c.Request().Context())
			if requested != "" && requested != datasetKey {
				return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown dataset %q", requested))
			}
			return next(c)
		}
	}
}
