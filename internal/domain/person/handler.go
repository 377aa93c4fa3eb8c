package person

import (
	"net/http"

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
	read.GET("/patients/:mrn", h.GetPatient)
	read.GET("/patients/:mrn/identifiers", h.ListIdentifiers)
	read.GET("/patients/:mrn/demographics/history", h.ListDemographicHistory)
}

// GetPatient resolves an MRN through the live mapping and returns the live
// identity plus its current demographic snapshot.
func (h *Handler) GetPatient(c echo.Context) error {
	ctx := c.Request().Context()

	mrn := c.Param("mrn")
	m, err := h.svc.repo.FindMrnByMrn(ctx, mrn)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	live, err := h.svc.resolveLive(ctx, m)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	demo, err := h.svc.GetDemographic(ctx, live.ID)
	if err != nil {
		demo = nil
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"identifier":  live,
		"demographic": demo,
	})
}

// ListDemographicHistory returns every superseded demographic state for the
// live identity behind the given MRN.
func (h *Handler) ListDemographicHistory(c echo.Context) error {
	audits, err := h.svc.ListDemographicHistory(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(audits, p), len(audits), p.Limit, p.Offset))
}

// ListIdentifiers returns every identifier resolving to the same live
// identity as the given MRN.
func (h *Handler) ListIdentifiers(c echo.Context) error {
	mrns, err := h.svc.ListIdentifiers(c.Request().Context(), c.Param("mrn"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, mrns)
}
