package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/platform/auth"
	"github.com/oppdash/oppdash/internal/platform/metrics"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	rec := httptest.NewRecorder()
	return e.NewContext(httptest.NewRequest(method, path, nil), rec), rec
}

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")

	var seen string
	err := RequestID()(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected response header %q, got %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, "fax-req-7")

	RequestID()(func(c echo.Context) error { return nil })(c)

	if rec.Header().Get(RequestIDHeader) != "fax-req-7" {
		t.Errorf("expected fax-req-7, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, strings.Repeat("x", 200))

	RequestID()(func(c echo.Context) error { return nil })(c)

	if got := rec.Header().Get(RequestIDHeader); len(got) > 128 {
		t.Errorf("expected a fresh id, got %d bytes", len(got))
	}
}

func TestLogger_RecordsPharmacyAndUser(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.Nop()
	c, _ := newContext(http.MethodPatch, "/api/v1/opportunities/x/status")
	c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "tech-1", nil)))
	c.SetPath("/api/v1/opportunities/:id/status")
	c.Set("pharmacy_id", "store42")
	c.Set("request_id", "req-123")

	err := Logger(zerolog.New(&buf), m)(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`"pharmacy_id":"store42"`, `"user_id":"tech-1"`, `"request_id":"req-123"`,
		`"route":"/api/v1/opportunities/:id/status"`, `"status":204`, `"level":"info"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log line to contain %s, got %s", want, out)
		}
	}
	if n := testutil.CollectAndCount(m.HTTPRequests); n != 1 {
		t.Errorf("expected one latency series, got %d", n)
	}
}

func TestLogger_UncommittedErrorUsesHTTPErrorCode(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodPost, "/api/v1/opportunities/x/fax/send")
	c.SetPath("/api/v1/opportunities/:id/fax/send")

	err := Logger(zerolog.New(&buf), metrics.Nop())(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "daily fax limit reached")
	})(c)
	if err == nil {
		t.Fatal("expected the handler error to pass through")
	}

	out := buf.String()
	if !strings.Contains(out, `"status":429`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected a warn line with status 429, got %s", out)
	}
}

func TestLogger_ProbesLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodGet, "/health")
	c.SetPath("/health")

	Logger(zerolog.New(&buf).Level(zerolog.InfoLevel), metrics.Nop())(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)

	if buf.Len() != 0 {
		t.Errorf("expected probe line to be filtered at info, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.Nop()
	c, _ := newContext(http.MethodPost, "/api/v1/opportunities/x/fax/send")
	c.Set("pharmacy_id", "store42")

	err := Recovery(zerolog.New(&buf), m)(func(c echo.Context) error {
		panic("render failed")
	})(c)

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if got := testutil.ToFloat64(m.Panics); got != 1 {
		t.Errorf("expected 1 panic counted, got %v", got)
	}
	if !strings.Contains(buf.String(), `"panic":"render failed"`) || !strings.Contains(buf.String(), `"pharmacy_id":"store42"`) {
		t.Errorf("unexpected log %s", buf.String())
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	m := metrics.Nop()
	c, _ := newContext(http.MethodGet, "/ok")

	err := Recovery(zerolog.Nop(), m)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(m.Panics); got != 0 {
		t.Errorf("expected no panics, got %v", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")

	if err := SecurityHeaders()(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range map[string]string{
		"Cache-Control":          "no-store",
		"Pragma":                 "no-cache",
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: expected %q, got %q", k, v, got)
		}
	}
}
