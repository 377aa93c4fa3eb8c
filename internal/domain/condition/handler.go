package condition

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/auth"
	"github.com/UCLH-DHCT/emap-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "clinician", "analyst"))
	read.GET("/patients/:mrnId/conditions", h.ListConditions)
	read.GET("/patients/:mrnId/conditions/history", h.ListConditionHistory)
}

// ListConditions returns the patient's current conditions.
func (h *Handler) ListConditions(c echo.Context) error {
	mrnID, err := uuid.Parse(c.Param("mrnId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mrn id")
	}
	conditions, err := h.svc.ListConditions(c.Request().Context(), mrnID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, conditions)
}

// ListConditionHistory returns every superseded condition state for the
// patient, ordered by when each state stopped being current.
func (h *Handler) ListConditionHistory(c echo.Context) error {
	mrnID, err := uuid.Parse(c.Param("mrnId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mrn id")
	}
	audits, err := h.svc.ListConditionHistory(c.Request().Context(), mrnID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(audits, p), len(audits), p.Limit, p.Offset))
}
