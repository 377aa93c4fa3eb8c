package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "clinician", "analyst"))
	read.GET("/visits/:encounter", h.GetVisit)
	read.GET("/patients/:mrnId/visits", h.ListVisits)
}

func (h *Handler) GetVisit(c echo.Context) error {
	v, err := h.svc.GetVisit(c.Request().Context(), c.Param("encounter"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	mrnID, err := uuid.Parse(c.Param("mrnId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid mrn id")
	}
	visits, err := h.svc.ListVisits(c.Request().Context(), mrnID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, visits)
}
