package opportunity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/platform/auth"
	"github.com/oppdash/oppdash/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RolePharmacist, auth.RoleTechnician))
	staff.GET("/opportunities/:id", h.GetOpportunity)
	staff.GET("/patients/:id/opportunities", h.ListByPatient)
	staff.PATCH("/opportunities/:id/status", h.UpdateStatus)
	staff.PATCH("/opportunities/:id/notes", h.UpdateNotes)

	// Reopen undoes recorded work, so it stays with pharmacists.
	pharmacist := api.Group("", auth.RequireRole(auth.RolePharmacist))
	pharmacist.POST("/opportunities/:id/reopen", h.Reopen)
}

type statusRequest struct {
	Status string `json:"status"`
}

type notesRequest struct {
	StaffNotes string `json:"staff_notes"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// writeError maps service errors onto HTTP statuses. The message is always
// safe to show to staff.
func writeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "opportunity not found")
	case errors.Is(err, prescribervolume.ErrVolumeBlocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, prescribervolume.ErrStatsUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "prescriber volume check unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update opportunity")
	}
}

func (h *Handler) GetOpportunity(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.Detail(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "opportunity not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(ctx, id, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.UpdateStatus(c.Request().Context(), id, target)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) Reopen(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.Reopen(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateNotes(c.Request().Context(), id, req.StaffNotes); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "opportunity not found")
		case errors.Is(err, ErrNotesTooLong):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to update opportunity")
		}
	}
	return c.NoContent(http.StatusNoContent)
}
