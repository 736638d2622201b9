package prescribervolume

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician))
	staff.GET("/prescribers/:id/stats", h.GetStats)

	// Threshold values are an administrative decision.
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/prescribers/:id/thresholds", h.SetThresholds)
}

func (h *Handler) GetStats(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	st, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load prescriber stats")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) SetThresholds(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var t Thresholds
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.PrescriberID = id
	if err := h.svc.SetThresholds(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}
