package opportunity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/platform/auth"
)

func newRequest(method, id, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
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

func TestHandler_UpdateStatus(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(StatusNotSubmitted)

	c, rec := newRequest(http.MethodPatch, o.ID.String(), `{"status":"submitted"}`)
	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got Opportunity
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusSubmitted {
		t.Errorf("expected submitted, got %s", got.Status)
	}
}

func TestHandler_UpdateStatus_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture) string
		body     string
		wantCode int
	}{
		{"invalid id", func(*fixture) string { return "nope" }, `{"status":"submitted"}`, http.StatusBadRequest},
		{"unknown status", func(f *fixture) string { return f.opp(StatusNotSubmitted).ID.String() }, `{"status":"sent"}`, http.StatusBadRequest},
		{"not found", func(*fixture) string { return uuid.New().String() }, `{"status":"submitted"}`, http.StatusNotFound},
		{"backward", func(f *fixture) string { return f.opp(StatusApproved).ID.String() }, `{"status":"submitted"}`, http.StatusConflict},
		{"volume block", func(f *fixture) string {
			f.guard.err = fmt.Errorf("%w: over", prescribervolume.ErrVolumeBlocked)
			return f.opp(StatusNotSubmitted).ID.String()
		}, `{"status":"submitted"}`, http.StatusConflict},
		{"stats unavailable", func(f *fixture) string {
			f.guard.err = fmt.Errorf("%w: db", prescribervolume.ErrStatsUnavailable)
			return f.opp(StatusNotSubmitted).ID.String()
		}, `{"status":"approved"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			h := NewHandler(f.svc)
			c, _ := newRequest(http.MethodPatch, tt.setup(f), tt.body)
			if code := httpCode(h.UpdateStatus(c)); code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, code)
			}
		})
	}
}

func TestHandler_Reopen(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(StatusDenied)

	c, rec := newRequest(http.MethodPost, o.ID.String(), "")
	if err := h.Reopen(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if f.repo.items[o.ID].Status != StatusNotSubmitted {
		t.Error("expected opportunity reopened")
	}
}

func TestHandler_UpdateNotes(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(StatusNotSubmitted)

	c, rec := newRequest(http.MethodPatch, o.ID.String(), `{"staff_notes":"left voicemail"}`)
	if err := h.UpdateNotes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newRequest(http.MethodPatch, uuid.New().String(), `{"staff_notes":"x"}`)
	if code := httpCode(h.UpdateNotes(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_UpdateNotes_Errors(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(StatusNotSubmitted)

	long := strings.Repeat("x", maxNotesLen+1)
	c, _ := newRequest(http.MethodPatch, o.ID.String(), `{"staff_notes":"`+long+`"}`)
	if code := httpCode(h.UpdateNotes(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized notes, got %d", code)
	}

	f.repo.notesErr = fmt.Errorf("update notes: %w", errors.New("conn closed"))
	c, _ = newRequest(http.MethodPatch, o.ID.String(), `{"staff_notes":"left voicemail"}`)
	err := h.UpdateNotes(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if he.Message != "failed to update opportunity" {
		t.Errorf("expected a generic message, got %v", he.Message)
	}
}

func TestHandler_GetOpportunity_MasksName(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	o := f.opp(StatusNotSubmitted)

	c, rec := newRequest(http.MethodGet, o.ID.String(), "")
	if err := h.GetOpportunity(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"patient_name":"M*******"`) {
		t.Errorf("expected masked name in body, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "Lopez") {
		t.Error("expected last name not to leak")
	}
}

func TestHandler_ListByPatient(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	f.opp(StatusNotSubmitted)
	f.opp(StatusNotSubmitted)

	c, rec := newRequest(http.MethodGet, f.patient.ID.String(), "")
	if err := h.ListByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 2 || len(body.Data) != 2 {
		t.Errorf("expected 2 opportunities, got %d/%d", len(body.Data), body.Total)
	}
}
