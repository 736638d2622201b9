package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/client"
	"github.com/oppdash/oppdash/internal/config"
	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/pharmacy"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/safetygate"
	"github.com/oppdash/oppdash/pkg/pagination"
)

type fakeServer struct {
	patientID uuid.UUID
	details   []*opportunity.Detail
	stats     prescribervolume.Stats
	sends     atomic.Int32
	updates   atomic.Int32
}

func strp(s string) *string { return &s }

func newFakeServer() *fakeServer {
	patient := uuid.New()
	dob := time.Date(1961, 7, 4, 0, 0, 0, 0, time.UTC)
	reyes := opportunity.Prescriber{ID: uuid.New(), Name: "Dr. Ana Reyes", NPI: strp("1234567893"), NPIVerified: true, FaxNumber: strp("5551230000")}
	chen := opportunity.Prescriber{ID: uuid.New(), Name: "Dr. Li Chen", NPI: strp("1987654328")}
	mk := func(pr opportunity.Prescriber, current, recommended string) *opportunity.Detail {
		return &opportunity.Detail{
			Opportunity: &opportunity.Opportunity{
				ID: uuid.New(), PatientID: patient, PrescriberID: pr.ID,
				CurrentDrug: current, RecommendedDrug: recommended, Status: opportunity.StatusNotSubmitted,
			},
			PatientName: "M*******",
			PatientDOB:  &dob,
			Prescriber:  pr,
		}
	}
	return &fakeServer{
		patientID: patient,
		details: []*opportunity.Detail{
			mk(reyes, "Nexium 40mg", "Omeprazole 20mg"),
			mk(reyes, "Crestor 10mg", "Atorvastatin 20mg"),
			mk(chen, "Lipitor 40mg", "Atorvastatin 40mg"),
		},
		stats: prescribervolume.Stats{WarnThreshold: 25},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/patients/{id}/opportunities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pagination.NewResponse(s.details, len(s.details), pagination.MaxLimit, 0))
	})
	mux.HandleFunc("GET /api/v1/opportunities/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, d := range s.details {
			if d.ID.String() == r.PathValue("id") {
				writeJSON(w, d)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/v1/pharmacy", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pharmacy.Profile{Name: "Main Street Pharmacy", Phone: "5559870000", Fax: "5559870001", NPI: "1588667638"})
	})
	mux.HandleFunc("GET /api/v1/prescribers/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.stats)
	})
	mux.HandleFunc("PATCH /api/v1/opportunities/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		s.updates.Add(1)
		writeJSON(w, map[string]string{})
	})
	mux.HandleFunc("POST /api/v1/opportunities/{id}/fax/preflight", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, faxing.PreflightResult{CanSend: true, Warnings: []string{}, SavedFaxNumber: strp("5551230000"), DailyCount: 2, DailyLimit: 50})
	})
	mux.HandleFunc("POST /api/v1/opportunities/{id}/fax/send", func(w http.ResponseWriter, r *http.Request) {
		s.sends.Add(1)
		writeJSON(w, faxing.SendResponse{TransmissionID: uuid.New(), Status: opportunity.StatusSubmitted, DailyCount: 3, DailyLimit: 50})
	})
	return mux
}

func newTestApp(t *testing.T, s *fakeServer, input string) (*app, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	var out bytes.Buffer
	return &app{
		cfg: &config.ClientConfig{
			APIURL:          srv.URL,
			HistoryPath:     filepath.Join(dir, "history.db"),
			HistoryCapacity: 5,
			OutputDir:       dir,
		},
		api:      client.New(srv.URL, "", ""),
		logger:   zerolog.Nop(),
		prompter: &safetygate.TerminalPrompter{In: strings.NewReader(input), Out: &out},
		out:      &out,
	}, &out
}

func TestComposeFax_BatchForPrescriber(t *testing.T) {
	s := newFakeServer()
	a, _ := newTestApp(t, s, "")
	ctx := context.Background()

	path, err := composeFax(ctx, a, composeOptions{
		patientID: s.patientID, prescriber: "Dr. Ana Reyes", grouping: "patient", outDir: a.cfg.OutputDir,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.HasSuffix(path, ".pdf") || !strings.Contains(filepath.Base(path), "_batch_") {
		t.Errorf("unexpected file name %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil || !bytes.HasPrefix(raw, []byte("%PDF-")) {
		t.Fatalf("expected a PDF at %s: %v", path, err)
	}

	store, err := a.openHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	entries := store.Entries()
	if len(entries) != 1 || len(entries[0].OpportunityIDs) != 2 || entries[0].PrescriberName != "Dr. Ana Reyes" {
		t.Errorf("unexpected history %+v", entries)
	}
}

func TestComposeFax_CrossPrescriberToggleRefused(t *testing.T) {
	s := newFakeServer()
	a, out := newTestApp(t, s, "")

	path, err := composeFax(context.Background(), a, composeOptions{
		patientID:     s.patientID,
		opportunities: []uuid.UUID{s.details[0].ID, s.details[2].ID},
		grouping:      "patient",
		outDir:        a.cfg.OutputDir,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(out.String(), "only go to one prescriber") {
		t.Errorf("expected a notice, got %q", out.String())
	}
	if !strings.Contains(filepath.Base(path), "_single_") {
		t.Errorf("expected a single document, got %s", path)
	}
}

func TestComposeFax_BatchNeedsPatientGrouping(t *testing.T) {
	s := newFakeServer()
	a, _ := newTestApp(t, s, "")
	_, err := composeFax(context.Background(), a, composeOptions{
		patientID: s.patientID, prescriber: "Dr. Ana Reyes", grouping: "drug", outDir: a.cfg.OutputDir,
	})
	if err == nil {
		t.Fatal("expected batch to be unavailable outside patient grouping")
	}
}

func TestComposeFax_NothingSelected(t *testing.T) {
	s := newFakeServer()
	a, _ := newTestApp(t, s, "")
	_, err := composeFax(context.Background(), a, composeOptions{patientID: s.patientID, grouping: "patient"})
	if !errors.Is(err, errNoSelection) {
		t.Errorf("expected errNoSelection, got %v", err)
	}
}

func TestSendFax_AcceptsSavedNumber(t *testing.T) {
	s := newFakeServer()
	a, out := newTestApp(t, s, "\ny\n")

	if err := sendFax(context.Background(), a, s.details[0].ID, "", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out.String(), "[5551230000]") || !strings.Contains(out.String(), "Fax sent") {
		t.Errorf("unexpected output %q", out.String())
	}
	if s.sends.Load() != 1 {
		t.Errorf("expected one send, got %d", s.sends.Load())
	}
}

func TestSendFax_UnconfirmedNPISendsNothing(t *testing.T) {
	s := newFakeServer()
	a, _ := newTestApp(t, s, "n\n")

	err := sendFax(context.Background(), a, s.details[0].ID, "5551230000", false)
	if !errors.Is(err, errNotSent) {
		t.Fatalf("expected errNotSent, got %v", err)
	}
	if s.sends.Load() != 0 {
		t.Error("nothing should be sent without NPI confirmation")
	}
}

func TestSetStatus_WarningDeclined(t *testing.T) {
	s := newFakeServer()
	s.stats = prescribervolume.Stats{UniquePatientsActioned: 30, WarnThreshold: 25, ShouldWarn: true}
	a, out := newTestApp(t, s, "n\n")

	err := setStatus(context.Background(), a, s.details[0].ID, opportunity.StatusApproved)
	if !errors.Is(err, errStatusUnchanged) {
		t.Fatalf("expected errStatusUnchanged, got %v", err)
	}
	if s.updates.Load() != 0 {
		t.Error("status must not change after declining")
	}
	if !strings.Contains(out.String(), "Proceed anyway?") {
		t.Errorf("expected the warning prompt, got %q", out.String())
	}
}

func TestSetStatus_WarningProceedsOnce(t *testing.T) {
	s := newFakeServer()
	s.stats = prescribervolume.Stats{UniquePatientsActioned: 30, WarnThreshold: 25, ShouldWarn: true}
	a, _ := newTestApp(t, s, "y\n")

	if err := setStatus(context.Background(), a, s.details[0].ID, opportunity.StatusApproved); err != nil {
		t.Fatal(err)
	}
	if s.updates.Load() != 1 {
		t.Errorf("expected exactly one update, got %d", s.updates.Load())
	}
}

func TestSetStatus_Blocked(t *testing.T) {
	s := newFakeServer()
	block := 40
	s.stats = prescribervolume.Stats{UniquePatientsActioned: 41, WarnThreshold: 25, BlockThreshold: &block, ShouldWarn: true, ShouldBlock: true}
	a, out := newTestApp(t, s, "y\n")

	err := setStatus(context.Background(), a, s.details[0].ID, opportunity.StatusSubmitted)
	if !errors.Is(err, errStatusUnchanged) {
		t.Fatalf("expected errStatusUnchanged, got %v", err)
	}
	if s.updates.Load() != 0 {
		t.Error("a block has no override")
	}
	if !strings.Contains(out.String(), "BLOCKED") {
		t.Errorf("expected the block notice, got %q", out.String())
	}
}
