package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/pharmacy"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/platform/blobstore"
	"github.com/oppdash/oppdash/internal/platform/db"
	"github.com/oppdash/oppdash/internal/platform/faxgateway"
	"github.com/oppdash/oppdash/internal/platform/hipaa"
	"github.com/oppdash/oppdash/internal/platform/metrics"
)

type faxEnv struct {
	svc       *faxing.Service
	transport *faxgateway.LoopbackTransport
	archive   *blobstore.InMemoryBlobStore
	opps      opportunity.Repository
}

func newFaxEnv(dailyLimit int) *faxEnv {
	env := &faxEnv{
		transport: faxgateway.NewLoopbackTransport(),
		archive:   blobstore.NewInMemoryBlobStore(),
		opps:      opportunity.NewRepoPG(globalPool),
	}
	volume := prescribervolume.NewService(prescribervolume.NewRepoPG(globalPool),
		prescribervolume.Thresholds{Warn: 25}, 30, metrics.Nop(), zerolog.Nop())
	env.svc = faxing.NewService(faxing.Deps{
		Opportunities: env.opps,
		Patients:      opportunity.NewPatientRepoPG(globalPool),
		Prescribers:   opportunity.NewPrescriberRepoPG(globalPool),
		Pharmacy:      pharmacy.NewService(pharmacy.NewRepoPG(globalPool)),
		Guard:         volume,
		Faxes:         faxing.NewRepoPG(globalPool),
		Transport:     env.transport,
		Disclosures:   hipaa.NewPGDisclosureStore(globalPool),
		Archive:       env.archive,
		WithTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, globalPool, fn)
		},
		Fork: func(ctx context.Context) (context.Context, func(), error) {
			return db.Fork(ctx, globalPool)
		},
	}, faxing.Config{DailyLimit: dailyLimit}, metrics.Nop(), zerolog.Nop())
	return env
}

func TestFax_PreflightAndSend(t *testing.T) {
	ctx := context.Background()
	pharmacyID := createPharmacy(t, ctx, "fax")
	env := newFaxEnv(50)

	err := withPharmacyConn(ctx, pharmacyID, func(ctx context.Context) error {
		s := seedPharmacy(t, ctx)
		id := insertOpportunity(t, ctx, s, "not_submitted", nil)

		pre, err := env.svc.Preflight(ctx, id, "1234567893")
		if err != nil {
			t.Fatalf("preflight: %v", err)
		}
		if !pre.CanSend || len(pre.Warnings) != 0 || pre.DailyCount != 0 {
			t.Fatalf("unexpected preflight %+v", pre)
		}
		if pre.SavedFaxNumber == nil || *pre.SavedFaxNumber != "5551230000" {
			t.Errorf("expected the record fax number as default, got %v", pre.SavedFaxNumber)
		}

		resp, err := env.svc.Send(ctx, id, faxing.SendRequest{
			PrescriberFaxNumber: "(555) 123-9999", PrescriberNPI: "1234567893", NPIConfirmed: true,
		}, "tech-1")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if resp.Status != opportunity.StatusSubmitted || resp.DailyCount != 1 {
			t.Errorf("unexpected response %+v", resp)
		}

		o, err := env.opps.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != opportunity.StatusSubmitted || o.ActionedAt == nil {
			t.Errorf("expected submitted with actioned_at, got %+v", o)
		}

		txs, err := env.svc.ListTransmissions(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(txs) != 1 || txs[0].FaxNumber != "5551239999" || txs[0].SentBy != "tech-1" {
			t.Fatalf("unexpected transmissions %+v", txs)
		}
		if txs[0].ArchiveKey == nil || env.archive.Len() != 1 {
			t.Errorf("expected the sent document to be archived")
		}

		// The number just used becomes the saved default.
		pre, err = env.svc.Preflight(ctx, id, "1234567893")
		if err != nil {
			t.Fatal(err)
		}
		if pre.SavedFaxNumber == nil || *pre.SavedFaxNumber != "5551239999" {
			t.Errorf("expected the saved number, got %v", pre.SavedFaxNumber)
		}
		if pre.DailyCount != 1 || len(pre.Warnings) != 1 {
			t.Errorf("expected a resend warning and a count of 1, got %+v", pre)
		}

		disclosures, err := hipaa.NewPGDisclosureStore(globalPool).ListByPatient(ctx, s.patientID, time.Time{}, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(disclosures) != 1 || disclosures[0].Method != hipaa.MethodFax {
			t.Errorf("expected one fax disclosure, got %+v", disclosures)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFax_FailedTransmissionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	pharmacyID := createPharmacy(t, ctx, "faxfail")
	env := newFaxEnv(50)

	err := withPharmacyConn(ctx, pharmacyID, func(ctx context.Context) error {
		s := seedPharmacy(t, ctx)
		id := insertOpportunity(t, ctx, s, "not_submitted", nil)

		env.transport.Fail(faxgateway.ErrUnavailable)
		_, err := env.svc.Send(ctx, id, faxing.SendRequest{
			PrescriberFaxNumber: "5551230000", PrescriberNPI: "1234567893", NPIConfirmed: true,
		}, "tech-1")
		if !errors.Is(err, faxing.ErrTransmission) {
			t.Fatalf("expected ErrTransmission, got %v", err)
		}

		o, _ := env.opps.GetByID(ctx, id)
		if o.Status != opportunity.StatusNotSubmitted || o.ActionedAt != nil {
			t.Errorf("status must be unchanged after a failed send, got %+v", o)
		}
		count, err := faxing.NewRepoPG(globalPool).CountSince(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if count != 0 {
			t.Errorf("failed sends must not count toward the quota, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFax_DailyQuota(t *testing.T) {
	ctx := context.Background()
	pharmacyID := createPharmacy(t, ctx, "quota")
	env := newFaxEnv(1)

	err := withPharmacyConn(ctx, pharmacyID, func(ctx context.Context) error {
		s := seedPharmacy(t, ctx)
		first := insertOpportunity(t, ctx, s, "not_submitted", nil)
		second := insertOpportunity(t, ctx, s, "not_submitted", nil)
		req := faxing.SendRequest{PrescriberFaxNumber: "5551230000", PrescriberNPI: "1234567893", NPIConfirmed: true}

		if _, err := env.svc.Send(ctx, first, req, "tech-1"); err != nil {
			t.Fatalf("first send: %v", err)
		}
		if _, err := env.svc.Send(ctx, second, req, "tech-1"); !errors.Is(err, faxing.ErrDailyLimitReached) {
			t.Fatalf("expected ErrDailyLimitReached, got %v", err)
		}
		pre, err := env.svc.Preflight(ctx, second, "1234567893")
		if err != nil {
			t.Fatal(err)
		}
		if pre.CanSend {
			t.Error("preflight should block once the quota is used")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
