package entity

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
)

// Register registers entity routes
func Register(g *echo.Group) {
	g.GET("/:id", GetEntity)
	g.GET("/:id/trace", GetEntityTrace)
}

// RegisterRecords registers the record -> entity lookup
func RegisterRecords(g *echo.Group) {
	g.GET("/:sourceId/:recordId/entity", GetRecordEntity)
}

// TraceResponse explains where each surviving field came from
type TraceResponse struct {
	EntityID string `json:"entity_id"`
	// RequestedID is set when the requested id was forwarded to a surviving entity
	RequestedID       string                       `json:"requested_id,omitempty"`
	Version           int                          `json:"version"`
	MemberSourceIDs   []models.RecordID            `json:"member_source_ids"`
	SurvivorshipTrace map[string]models.TraceEntry `json:"survivorship_trace"`
}

func lookup(ctx context.Context) (context.Context, *identity.Lookup, error) {
	ctx, l, err := ectoinject.GetContext[*identity.Lookup](ctx)
	if err != nil {
		return ctx, nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	return ctx, l, nil
}

// GetEntity returns the active entity for an id, following merge forwarding
func GetEntity(c echo.Context) error {
	ctx, l, err := lookup(c.Request().Context())
	if err != nil {
		return err
	}

	entity, err := l.EntityByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}

// GetEntityTrace returns the survivorship trace of an entity
func GetEntityTrace(c echo.Context) error {
	ctx, l, err := lookup(c.Request().Context())
	if err != nil {
		return err
	}

	id := c.Param("id")
	entity, err := l.EntityByID(ctx, id)
	if err != nil {
		return err
	}

	resp := TraceResponse{
		EntityID:          entity.EntityID,
		Version:           entity.Version,
		MemberSourceIDs:   entity.MemberSourceIDs,
		SurvivorshipTrace: entity.SurvivorshipTrace,
	}
	if entity.EntityID != id {
		resp.RequestedID = id
	}
	return c.JSON(http.StatusOK, resp)
}

// GetRecordEntity returns the entity a source record resolved to
func GetRecordEntity(c echo.Context) error {
	ctx, l, err := lookup(c.Request().Context())
	if err != nil {
		return err
	}

	entity, err := l.EntityForRecord(ctx, c.Param("sourceId"), c.Param("recordId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entity)
}
