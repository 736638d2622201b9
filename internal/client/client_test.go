package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/faxflow"
	"github.com/oppdash/oppdash/internal/safetygate"
	"github.com/oppdash/oppdash/pkg/pagination"
)

var (
	_ faxflow.Remote           = (*Client)(nil)
	_ faxflow.RemoteError      = (*APIError)(nil)
	_ safetygate.StatsSource   = (*Client)(nil)
	_ safetygate.StatusUpdater = (*Client)(nil)
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok", "main_street")
}

func TestClient_SendsHeadersAndBody(t *testing.T) {
	id := uuid.New()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/opportunities/"+id.String()+"/fax/send" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-Pharmacy-ID") != "main_street" {
			t.Errorf("missing auth or tenant headers: %v", r.Header)
		}
		var req faxing.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.PrescriberFaxNumber != "5551230000" || !req.NPIConfirmed {
			t.Errorf("unexpected body %+v", req)
		}
		writeJSON(w, http.StatusOK, faxing.SendResponse{TransmissionID: id, Status: opportunity.StatusSubmitted, DailyCount: 4, DailyLimit: 50})
	})

	resp, err := c.Send(context.Background(), id, faxing.SendRequest{
		PrescriberFaxNumber: "5551230000", PrescriberNPI: "1234567893", NPIConfirmed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != opportunity.StatusSubmitted || resp.DailyCount != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusConflict, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, map[string]string{"message": "nope"})
			})
			err := c.UpdateStatus(context.Background(), uuid.New(), opportunity.StatusApproved)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.code || apiErr.Retryable() != tt.retryable || apiErr.Reason() != "nope" {
				t.Errorf("unexpected %+v retryable=%v", apiErr, apiErr.Retryable())
			}
			if !IsStatus(err, tt.code) {
				t.Error("IsStatus mismatch")
			}
		})
	}
}

func TestMessage(t *testing.T) {
	if got := Message(&APIError{StatusCode: 409, Message: "blocked"}, "fallback"); got != "blocked" {
		t.Errorf("got %q", got)
	}
	if got := Message(&APIError{StatusCode: 500}, "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
	if got := Message(errors.New("dial tcp: connection refused"), "fallback"); got != "fallback" {
		t.Errorf("raw transport errors must not leak, got %q", got)
	}
}

func TestClient_ListByPatientPages(t *testing.T) {
	patient := uuid.New()
	total := pagination.MaxLimit + 3
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var data []*opportunity.Detail
		for i := offset; i < total && i < offset+limit; i++ {
			data = append(data, &opportunity.Detail{
				Opportunity: &opportunity.Opportunity{ID: uuid.New(), PatientID: patient, Status: opportunity.StatusNotSubmitted},
				PatientName: "M*******",
			})
		}
		writeJSON(w, http.StatusOK, pagination.NewResponse(data, total, limit, offset))
	})

	got, err := c.ListByPatient(context.Background(), patient)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != total {
		t.Fatalf("expected %d opportunities, got %d", total, len(got))
	}
	if got[0].PatientID != patient || got[0].PatientName != "M*******" {
		t.Errorf("unexpected detail %+v", got[0])
	}
}

func TestClient_NoContent(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.UpdateNotes(context.Background(), uuid.New(), "called office"); err != nil {
		t.Fatal(err)
	}
}

// fakeAPI serves the endpoints a fax flow uses. sendCode selects the send outcome.
func fakeAPI(t *testing.T, sendCode int, sends *atomic.Int32) *Client {
	return newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/fax/preflight"):
			saved := "5551230000"
			writeJSON(w, http.StatusOK, faxing.PreflightResult{CanSend: true, Warnings: []string{}, SavedFaxNumber: &saved, DailyLimit: 50})
		case strings.HasSuffix(r.URL.Path, "/stats"):
			writeJSON(w, http.StatusOK, prescribervolume.Stats{WarnThreshold: 10})
		default:
			sends.Add(1)
			if sendCode != http.StatusOK {
				writeJSON(w, sendCode, map[string]string{"message": "server said " + strconv.Itoa(sendCode)})
				return
			}
			writeJSON(w, http.StatusOK, faxing.SendResponse{Status: opportunity.StatusSubmitted})
		}
	})
}

func runFlow(t *testing.T, c *Client) (faxflow.State, error) {
	t.Helper()
	ctx := context.Background()
	ref := safetygate.OpportunityRef{ID: uuid.New(), PrescriberID: uuid.New()}
	gate := safetygate.New(c, c, safetygate.DeclinePrompter{}, zerolog.Nop())
	f := faxflow.New(ref, "1234567893", c, gate, zerolog.Nop())
	if _, err := f.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.ConfirmNPI(true); err != nil {
		t.Fatal(err)
	}
	return f.Send(ctx)
}

func TestClient_DrivesFaxFlow(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"sent", http.StatusOK, faxflow.Sent{}.Name()},
		{"gateway down is retryable", http.StatusBadGateway, faxflow.SendFailed{}.Name()},
		{"quota is a hard stop", http.StatusTooManyRequests, faxflow.PreflightBlocked{}.Name()},
		{"bad input is a hard stop", http.StatusBadRequest, faxflow.PreflightBlocked{}.Name()},
		{"sent but not recorded is a hard stop", http.StatusConflict, faxflow.PreflightBlocked{}.Name()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sends atomic.Int32
			st, err := runFlow(t, fakeAPI(t, tt.code, &sends))
			if err != nil {
				t.Fatal(err)
			}
			if st.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, st.Name())
			}
			if n := sends.Load(); n != 1 {
				t.Errorf("expected exactly one send, got %d", n)
			}
			if tt.code != http.StatusOK {
				var reason string
				switch s := st.(type) {
				case faxflow.SendFailed:
					reason = s.Reason
				case faxflow.PreflightBlocked:
					reason = s.Reason
				}
				if reason != "server said "+strconv.Itoa(tt.code) {
					t.Errorf("expected the server message, got %q", reason)
				}
			}
		})
	}
}
