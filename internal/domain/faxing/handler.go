package faxing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
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
	staff.POST("/opportunities/:id/fax/preflight", h.Preflight)
	staff.POST("/opportunities/:id/fax/send", h.Send)
	staff.GET("/opportunities/:id/fax/transmissions", h.ListTransmissions)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// MsgSentNotRecorded is shown to staff when a fax went out but its record did
// not. The status is a 4xx so clients do not offer a resend.
const MsgSentNotRecorded = "fax was sent but could not be recorded; contact support before sending it again"

// writeError maps service errors onto HTTP statuses. Clients treat 5xx as
// retryable and 4xx as a hard rejection.
func writeError(err error) error {
	switch {
	case errors.Is(err, opportunity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "opportunity not found")
	case errors.Is(err, ErrInvalidFaxNumber), errors.Is(err, ErrInvalidNPI), errors.Is(err, ErrNotConfirmed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotSendable), errors.Is(err, prescribervolume.ErrVolumeBlocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDailyLimitReached):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrSentNotRecorded):
		return echo.NewHTTPError(http.StatusConflict, MsgSentNotRecorded)
	case errors.Is(err, ErrTransmissionRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "the fax provider rejected this fax; check the number")
	case errors.Is(err, ErrTransmission):
		return echo.NewHTTPError(http.StatusBadGateway, "the fax could not be transmitted, try again")
	case errors.Is(err, prescribervolume.ErrStatsUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "prescriber volume check unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "fax request failed")
	}
}

func (h *Handler) Preflight(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PreflightRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Preflight(c.Request().Context(), id, req.PrescriberNPI)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Send(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	res, err := h.svc.Send(ctx, id, req, auth.UserIDFromContext(ctx))
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListTransmissions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListTransmissions(c.Request().Context(), id)
	if err != nil {
		return writeError(err)
	}
	if items == nil {
		items = []*Transmission{}
	}
	return c.JSON(http.StatusOK, items)
}
