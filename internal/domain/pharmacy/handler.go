package pharmacy

import (
	"errors"
	"net/http"

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
	staff.GET("/pharmacy", h.GetProfile)
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.Profile(c.Request().Context())
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load pharmacy profile")
	}
	return c.JSON(http.StatusOK, p)
}
