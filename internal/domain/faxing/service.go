package faxing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/oppdash/oppdash/internal/composer"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/pharmacy"
	"github.com/oppdash/oppdash/internal/export"
	"github.com/oppdash/oppdash/internal/platform/blobstore"
	"github.com/oppdash/oppdash/internal/platform/db"
	"github.com/oppdash/oppdash/internal/platform/faxgateway"
	"github.com/oppdash/oppdash/internal/platform/hipaa"
	"github.com/oppdash/oppdash/internal/platform/metrics"
)

var (
	ErrInvalidFaxNumber  = errors.New("prescriber_fax_number must be a 10-digit fax number")
	ErrInvalidNPI        = errors.New("prescriber_npi is not a valid NPI")
	ErrNotConfirmed      = errors.New("npi_confirmed must be true")
	ErrNotSendable       = errors.New("opportunity cannot be faxed in its current status")
	ErrDailyLimitReached = errors.New("daily fax limit reached")
	// ErrTransmission is a provider or network failure; the send may be retried.
	ErrTransmission = errors.New("fax transmission failed")
	// ErrTransmissionRejected means the provider refused this fax outright.
	ErrTransmissionRejected = errors.New("fax rejected by provider")
	// ErrSentNotRecorded means the provider accepted the fax but the
	// transmission could not be written. Sending again would fax the
	// prescriber twice.
	ErrSentNotRecorded = errors.New("fax was sent but could not be recorded")
)

type ProfileSource interface {
	Profile(ctx context.Context) (*pharmacy.Profile, error)
}

// TxFunc runs fn in one database transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// ForkFunc gives a goroutine its own database handle; see db.Fork.
type ForkFunc func(ctx context.Context) (context.Context, func(), error)

type Deps struct {
	Opportunities opportunity.Repository
	Patients      opportunity.PatientRepository
	Prescribers   opportunity.PrescriberRepository
	Pharmacy      ProfileSource
	Guard         opportunity.VolumeGuard
	Faxes         Repository
	Transport     faxgateway.Transport
	Disclosures   hipaa.DisclosureRecorder
	// Archive is optional.
	Archive blobstore.BlobStore
	WithTx  TxFunc
	Fork    ForkFunc
}

type Config struct {
	DailyLimit int
	// Location decides where the daily quota resets. Defaults to UTC.
	Location *time.Location
}

type Service struct {
	Deps
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(deps Deps, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.WithTx == nil {
		deps.WithTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if deps.Fork == nil {
		deps.Fork = func(ctx context.Context) (context.Context, func(), error) { return ctx, func() {}, nil }
	}
	return &Service{
		Deps:    deps,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) startOfDay() time.Time {
	t := s.now().In(s.cfg.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.cfg.Location)
}

// -- Preflight --

// Preflight reports whether a fax for oppID would be accepted now. The
// prescriber record, saved fax number and daily count are read concurrently.
func (s *Service) Preflight(ctx context.Context, oppID uuid.UUID, npi string) (*PreflightResult, error) {
	o, err := s.Opportunities.GetByID(ctx, oppID)
	if err != nil {
		return nil, err
	}

	var (
		prescriber *opportunity.Prescriber
		saved      *SavedFax
		count      int
	)
	g, gctx := errgroup.WithContext(ctx)
	s.lookup(g, gctx, func(ctx context.Context) (err error) {
		prescriber, err = s.Prescribers.GetByID(ctx, o.PrescriberID)
		return err
	})
	s.lookup(g, gctx, func(ctx context.Context) (err error) {
		saved, err = s.Faxes.GetSavedFax(ctx, o.PrescriberID)
		return err
	})
	s.lookup(g, gctx, func(ctx context.Context) (err error) {
		count, err = s.Faxes.CountSince(ctx, s.startOfDay())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("preflight lookups: %w", err)
	}

	res := &PreflightResult{
		CanSend:    true,
		Warnings:   []string{},
		DailyCount: count,
		DailyLimit: s.cfg.DailyLimit,
	}
	block := func(msg string) {
		res.CanSend = false
		res.Warnings = append(res.Warnings, msg)
	}
	warn := func(msg string) { res.Warnings = append(res.Warnings, msg) }

	switch o.Status {
	case opportunity.StatusNotSubmitted:
	case opportunity.StatusSubmitted:
		warn("This opportunity was already submitted. Sending again will not change its status.")
	default:
		block(fmt.Sprintf("This opportunity is %s and cannot be faxed.", o.Status))
	}

	switch {
	case npi == "":
		block("Prescriber NPI is missing.")
	case !ValidNPI(npi):
		block(fmt.Sprintf("Prescriber NPI %s is not a valid NPI.", npi))
	case prescriber.NPI == nil:
		warn("No NPI is on file for this prescriber. Check it against the hardcopy.")
	case *prescriber.NPI != npi:
		warn(fmt.Sprintf("NPI %s does not match the prescriber record (%s).", npi, *prescriber.NPI))
	case !prescriber.NPIVerified:
		warn("The prescriber's NPI has not been verified.")
	}

	if count >= s.cfg.DailyLimit {
		block(fmt.Sprintf("Daily fax limit reached (%d/%d).", count, s.cfg.DailyLimit))
	}

	switch {
	case saved != nil:
		res.SavedFaxNumber = &saved.FaxNumber
	case prescriber.FaxNumber != nil:
		res.SavedFaxNumber = prescriber.FaxNumber
	}

	outcome := "ready"
	if !res.CanSend {
		outcome = "blocked"
	}
	s.metrics.Preflights.WithLabelValues(outcome).Inc()
	return res, nil
}

func (s *Service) lookup(g *errgroup.Group, ctx context.Context, fn func(ctx context.Context) error) {
	g.Go(func() error {
		fctx, release, err := s.Fork(ctx)
		if err != nil {
			return err
		}
		defer release()
		return fn(fctx)
	})
}

// -- Send --

// Send transmits a single-opportunity request to the prescriber. The
// opportunity moves from not_submitted to submitted only after the provider
// accepted the fax, in the same transaction that records the transmission.
func (s *Service) Send(ctx context.Context, oppID uuid.UUID, req SendRequest, sender string) (*SendResponse, error) {
	number, ok := NormalizeFaxNumber(req.PrescriberFaxNumber)
	if !ok {
		return nil, ErrInvalidFaxNumber
	}
	if !ValidNPI(req.PrescriberNPI) {
		return nil, ErrInvalidNPI
	}
	if !req.NPIConfirmed {
		return nil, ErrNotConfirmed
	}

	o, err := s.Opportunities.GetByID(ctx, oppID)
	if err != nil {
		return nil, err
	}
	if o.Status != opportunity.StatusNotSubmitted && o.Status != opportunity.StatusSubmitted {
		return nil, fmt.Errorf("%w: %s", ErrNotSendable, o.Status)
	}

	count, err := s.Faxes.CountSince(ctx, s.startOfDay())
	if err != nil {
		return nil, fmt.Errorf("count today's faxes: %w", err)
	}
	if count >= s.cfg.DailyLimit {
		s.metrics.Sends.WithLabelValues("quota").Inc()
		return nil, fmt.Errorf("%w (%d/%d)", ErrDailyLimitReached, count, s.cfg.DailyLimit)
	}

	transition := o.Status == opportunity.StatusNotSubmitted
	if transition && s.Guard != nil {
		if err := s.Guard.Guard(ctx, o.PrescriberID); err != nil {
			s.metrics.Sends.WithLabelValues("gated").Inc()
			return nil, err
		}
	}

	sentAt := s.now()
	r, err := s.render(ctx, o, number, req.PrescriberNPI, sentAt)
	if err != nil {
		return nil, err
	}

	txID := uuid.New()
	receipt, err := s.transmit(ctx, txID, number, r)
	if err != nil {
		return nil, err
	}

	t := &Transmission{
		ID:            txID,
		OpportunityID: o.ID,
		PatientID:     o.PatientID,
		PrescriberID:  o.PrescriberID,
		FaxNumber:     number,
		PrescriberNPI: req.PrescriberNPI,
		ProviderRef:   receipt.ProviderRef,
		PageCount:     len(r.doc.Pages),
		SentBy:        sender,
		SentAt:        sentAt,
	}
	status, err := s.record(ctx, o, t, r.prescriber, r.patient, transition)
	if err != nil {
		// The fax is out; only the bookkeeping failed.
		s.logger.Error().Err(err).
			Str("opportunity_id", o.ID.String()).
			Str("transmission_id", txID.String()).
			Str("provider_ref", receipt.ProviderRef).
			Msg("fax sent but not recorded")
		s.metrics.Sends.WithLabelValues("unrecorded").Inc()
		return nil, fmt.Errorf("%w (transmission %s, provider ref %s): %w", ErrSentNotRecorded, txID, receipt.ProviderRef, err)
	}

	s.archive(ctx, t, r.pdf)
	s.metrics.Sends.WithLabelValues("sent").Inc()
	s.metrics.DocumentPages.Observe(float64(len(r.doc.Pages)))
	s.logger.Info().
		Str("opportunity_id", o.ID.String()).
		Str("transmission_id", txID.String()).
		Str("status", string(status)).
		Int("pages", len(r.doc.Pages)).
		Msg("fax sent")

	return &SendResponse{
		TransmissionID: txID,
		Status:         status,
		DailyCount:     count + 1,
		DailyLimit:     s.cfg.DailyLimit,
	}, nil
}

// rendered is a composed and encoded document with the records it was
// built from.
type rendered struct {
	doc        *composer.Document
	pdf        []byte
	prescriber *opportunity.Prescriber
	patient    *opportunity.Patient
	from       string
}

func (s *Service) render(ctx context.Context, o *opportunity.Opportunity, number, npi string, at time.Time) (*rendered, error) {
	patient, err := s.Patients.GetByID(ctx, o.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	prescriber, err := s.Prescribers.GetByID(ctx, o.PrescriberID)
	if err != nil {
		return nil, fmt.Errorf("load prescriber: %w", err)
	}
	var ph composer.PharmacySummary
	profile, err := s.Pharmacy.Profile(ctx)
	switch {
	case err == nil:
		ph = composer.PharmacySummary{Name: profile.Name, Address: profile.Address(), Phone: profile.Phone, Fax: profile.Fax, NPI: profile.NPI}
	case errors.Is(err, pharmacy.ErrNotConfigured):
		s.logger.Warn().Msg("pharmacy profile not configured; sending with a blank pharmacy block")
	default:
		return nil, fmt.Errorf("load pharmacy profile: %w", err)
	}

	// The prescriber's copy identifies the patient in full.
	ps := composer.PatientSummary{ID: patient.ID, DisplayName: patient.FullName()}
	if patient.DateOfBirth != nil {
		ps.DateOfBirth = patient.DateOfBirth.Format("01/02/2006")
	}
	pr := prescriber.Summary()
	pr.Fax = number
	pr.NPI = npi

	doc, err := composer.Compose(composer.Request{
		Patient:       ps,
		Prescriber:    pr,
		Pharmacy:      ph,
		Opportunities: []composer.OpportunitySummary{o.Summary()},
		Mode:          composer.ModeSingle,
		GeneratedAt:   at,
	}, composer.Options{})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	pdf, err := export.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return &rendered{doc: doc, pdf: pdf, prescriber: prescriber, patient: patient, from: ph.Fax}, nil
}

func (s *Service) transmit(ctx context.Context, id uuid.UUID, number string, r *rendered) (*faxgateway.Receipt, error) {
	start := time.Now()
	receipt, err := s.Transport.Transmit(ctx, faxgateway.Fax{
		To:          number,
		From:        r.from,
		Reference:   id.String(),
		ContentType: export.ContentType,
		Pages:       len(r.doc.Pages),
		Document:    r.pdf,
	})
	s.metrics.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn().Err(err).Str("transmission_id", id.String()).Msg("fax transmission failed")
		if errors.Is(err, faxgateway.ErrRejected) {
			s.metrics.Sends.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTransmissionRejected, err)
		}
		s.metrics.Sends.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransmission, err)
	}
	return receipt, nil
}

// record writes the transmission, the saved number, the status change and
// the disclosure in one transaction. It returns the opportunity's status
// after the write.
func (s *Service) record(
	ctx context.Context, o *opportunity.Opportunity, t *Transmission,
	prescriber *opportunity.Prescriber, patient *opportunity.Patient, transition bool,
) (opportunity.Status, error) {
	status := o.Status
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Faxes.InsertTransmission(ctx, t); err != nil {
			return fmt.Errorf("insert transmission: %w", err)
		}
		if err := s.Faxes.UpsertSavedFax(ctx, t.PrescriberID, t.FaxNumber, t.SentBy); err != nil {
			return fmt.Errorf("save fax number: %w", err)
		}
		if transition {
			actionedAt := o.ActionedAt
			if actionedAt == nil {
				actionedAt = &t.SentAt
			}
			ok, err := s.Opportunities.CompareAndSetStatus(ctx, o.ID, opportunity.StatusNotSubmitted, opportunity.StatusSubmitted, actionedAt)
			if err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			if ok {
				status = opportunity.StatusSubmitted
			} else {
				// Someone else moved it first. The fax still happened, so
				// keep the record and report the current status.
				cur, err := s.Opportunities.GetByID(ctx, o.ID)
				if err != nil {
					return fmt.Errorf("reload opportunity: %w", err)
				}
				status = cur.Status
				s.logger.Warn().Str("opportunity_id", o.ID.String()).Str("status", string(cur.Status)).
					Msg("opportunity changed during send; status left as is")
			}
		}
		return s.Disclosures.Record(ctx, &hipaa.Disclosure{
			PatientID:      patient.ID,
			OpportunityIDs: []uuid.UUID{o.ID},
			DisclosedTo:    prescriber.Name,
			Destination:    t.FaxNumber,
			Purpose:        hipaa.PurposeTreatment,
			Method:         hipaa.MethodFax,
			Description:    fmt.Sprintf("Therapy change request: %s to %s", o.CurrentDrug, o.RecommendedDrug),
			DisclosedBy:    t.SentBy,
			DateDisclosed:  t.SentAt,
		})
	})
	if err != nil {
		return "", err
	}
	if status == opportunity.StatusSubmitted && o.Status != status {
		s.metrics.StatusUpdates.WithLabelValues(string(status)).Inc()
	}
	return status, nil
}

// archive keeps a copy of the sent document when a store is configured.
// Failures are counted and logged; the send already succeeded.
func (s *Service) archive(ctx context.Context, t *Transmission, pdf []byte) {
	if s.Archive == nil {
		return
	}
	pharmacyID := db.PharmacyFromContext(ctx)
	if pharmacyID == "" {
		pharmacyID = "default"
	}
	key := blobstore.FaxKey(pharmacyID, t.ID.String(), t.SentAt)
	_, err := s.Archive.Put(ctx, key, export.ContentType, bytes.NewReader(pdf), map[string]string{
		"opportunity_id": t.OpportunityID.String(),
		"prescriber_id":  t.PrescriberID.String(),
	})
	if err == nil {
		err = s.Faxes.SetArchiveKey(ctx, t.ID, key)
	}
	if err != nil {
		s.metrics.ArchiveFailures.Inc()
		s.logger.Error().Err(err).Str("transmission_id", t.ID.String()).Msg("fax archive failed")
		return
	}
	t.ArchiveKey = &key
}

func (s *Service) ListTransmissions(ctx context.Context, oppID uuid.UUID) ([]*Transmission, error) {
	if _, err := s.Opportunities.GetByID(ctx, oppID); err != nil {
		return nil, err
	}
	return s.Faxes.ListByOpportunity(ctx, oppID)
}
