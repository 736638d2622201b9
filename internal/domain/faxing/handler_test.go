package faxing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/platform/auth"
	"github.com/oppdash/oppdash/internal/platform/faxgateway"
)

func newRequest(method, id, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(req.Context(), "tech-1", []string{auth.RoleTechnician}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func httpCode(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

const sendBody = `{"prescriber_fax_number":"5551230000","prescriber_npi":"1234567893","npi_confirmed":true}`

func TestHandler_Preflight(t *testing.T) {
	f := newFixture()
	f.faxes.priorToday = 3
	h := NewHandler(f.svc)
	o := f.opp(opportunity.StatusNotSubmitted)

	c, rec := newRequest(http.MethodPost, o.ID.String(), `{"prescriber_npi":"1234567893"}`)
	if err := h.Preflight(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got PreflightResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.CanSend || got.DailyCount != 3 || got.DailyLimit != 50 {
		t.Errorf("unexpected result %+v", got)
	}
	if !strings.Contains(rec.Body.String(), `"warnings":[]`) {
		t.Errorf("expected an empty warnings array, got %s", rec.Body.String())
	}
}

func TestHandler_Send(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(opportunity.StatusNotSubmitted)

	c, rec := newRequest(http.MethodPost, o.ID.String(), sendBody)
	if err := h.Send(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got SendResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != opportunity.StatusSubmitted || got.TransmissionID == uuid.Nil {
		t.Errorf("unexpected response %+v", got)
	}
	if f.faxes.transmissions[0].SentBy != "tech-1" {
		t.Errorf("expected sender from the request user, got %q", f.faxes.transmissions[0].SentBy)
	}
}

func TestHandler_SendErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		setup func(f *fixture)
		code  int
	}{
		{"unconfirmed", `{"prescriber_fax_number":"5551230000","prescriber_npi":"1234567893"}`, nil, http.StatusBadRequest},
		{"malformed", `{"prescriber_fax_number":`, nil, http.StatusBadRequest},
		{"quota", sendBody, func(f *fixture) { f.faxes.priorToday = 50 }, http.StatusTooManyRequests},
		{"volume block", sendBody, func(f *fixture) { f.guard.err = prescribervolume.ErrVolumeBlocked }, http.StatusConflict},
		{"stats unavailable", sendBody, func(f *fixture) { f.guard.err = prescribervolume.ErrStatsUnavailable }, http.StatusServiceUnavailable},
		{"gateway down", sendBody, func(f *fixture) { f.transport.Fail(faxgateway.ErrUnavailable) }, http.StatusBadGateway},
		{"gateway rejects", sendBody, func(f *fixture) { f.transport.Fail(faxgateway.ErrRejected) }, http.StatusUnprocessableEntity},
		{"sent but not recorded", sendBody, func(f *fixture) {
			f.svc.WithTx = func(context.Context, func(context.Context) error) error { return errors.New("commit: connection reset") }
		}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			h := NewHandler(f.svc)
			o := f.opp(opportunity.StatusNotSubmitted)

			c, _ := newRequest(http.MethodPost, o.ID.String(), tt.body)
			err := h.Send(c)
			if httpCode(err) != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
			if f.opps.status(o.ID) != opportunity.StatusNotSubmitted {
				t.Error("status changed on a failed send")
			}
		})
	}
}

// After the provider accepted a fax, a failed commit is reported as a hard
// stop so the client does not send the same fax again.
func TestHandler_SendNotRecorded(t *testing.T) {
	f := newFixture()
	commit := f.svc.WithTx
	failures := 1
	f.svc.WithTx = func(ctx context.Context, fn func(context.Context) error) error {
		if failures > 0 {
			failures--
			return errors.New("commit: connection reset")
		}
		return commit(ctx, fn)
	}
	h := NewHandler(f.svc)
	o := f.opp(opportunity.StatusNotSubmitted)

	c, _ := newRequest(http.MethodPost, o.ID.String(), sendBody)
	err := h.Send(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected an HTTP error, got %v", err)
	}
	if he.Code < 400 || he.Code >= 500 {
		t.Fatalf("expected a 4xx so clients do not retry, got %d", he.Code)
	}
	if he.Message != MsgSentNotRecorded {
		t.Errorf("unexpected message %v", he.Message)
	}
	if n := len(f.transport.Sent()); n != 1 {
		t.Errorf("expected one fax, got %d", n)
	}
}

func TestHandler_NotFoundAndBadID(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	c, _ := newRequest(http.MethodPost, uuid.NewString(), sendBody)
	if code := httpCode(h.Send(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	c, _ = newRequest(http.MethodPost, "nope", sendBody)
	if code := httpCode(h.Preflight(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListTransmissions(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(opportunity.StatusNotSubmitted)

	c, rec := newRequest(http.MethodGet, o.ID.String(), "")
	if err := h.ListTransmissions(c); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected an empty list, got %s", rec.Body.String())
	}
}
