package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/platform/auth"
	"github.com/oppdash/oppdash/internal/platform/metrics"
)

func requestID(c echo.Context) string {
	rid, _ := c.Get("request_id").(string)
	return rid
}

func pharmacyID(c echo.Context) string {
	id, _ := c.Get("pharmacy_id").(string)
	return id
}

// statusOf returns the code the client will see. Echo writes the error
// response after the middleware chain unwinds, so a returned error has not
// been committed yet.
func statusOf(c echo.Context, err error) int {
	if err != nil && !c.Response().Committed {
		if he, ok := err.(*echo.HTTPError); ok {
			return he.Code
		}
		return 500
	}
	return c.Response().Status
}

// Logger writes one access line per API request and records its latency.
// Probe routes (/health, /metrics) log at debug so they do not drown the
// fax audit trail.
func Logger(logger zerolog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			route := c.Path()
			status := statusOf(c, err)
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status/100)+"xx").
				Observe(elapsed.Seconds())

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn().Err(err)
			case route == "/metrics" || strings.HasPrefix(route, "/health"):
				evt = logger.Debug()
			default:
				evt = logger.Info()
			}
			// Read after next() so the auth middleware has run.
			evt.
				Str("request_id", requestID(c)).
				Str("pharmacy_id", pharmacyID(c)).
				Str("user_id", auth.UserIDFromContext(c.Request().Context())).
				Str("method", c.Request().Method).
				Str("route", route).
				Int("status", status).
				Dur("latency", elapsed).
				Msg("request")
			return err
		}
	}
}
