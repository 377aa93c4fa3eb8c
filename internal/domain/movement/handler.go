package movement

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/auth"
)

// VisitResolver maps an encounter string onto the visit it identifies.
type VisitResolver interface {
	ResolveEncounter(ctx context.Context, encounter string) (uuid.UUID, error)
}

type Handler struct {
	tracker *Tracker
	visits  VisitResolver
}

func NewHandler(tracker *Tracker, visits VisitResolver) *Handler {
	return &Handler{tracker: tracker, visits: visits}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "clinician", "analyst"))
	read.GET("/visits/:encounter/stays", h.ListStays)
}

// ListStays returns the visit's location stays in admission order, open stay
// last.
func (h *Handler) ListStays(c echo.Context) error {
	ctx := c.Request().Context()
	visitID, err := h.visits.ResolveEncounter(ctx, c.Param("encounter"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	stays, err := h.tracker.ListStays(ctx, visitID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stays)
}
