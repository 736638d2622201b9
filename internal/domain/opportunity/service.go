package opportunity

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/platform/metrics"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict means the status changed underneath the caller.
	ErrConflict     = errors.New("opportunity was modified concurrently")
	ErrNotesTooLong = fmt.Errorf("staff_notes must be at most %d characters", maxNotesLen)
)

const maxNotesLen = 4000

// VolumeGuard refuses actioned transitions for prescribers over their block
// threshold. It returns nil when the update may proceed.
type VolumeGuard interface {
	Guard(ctx context.Context, prescriberID uuid.UUID) error
}

type Service struct {
	opps        Repository
	patients    PatientRepository
	prescribers PrescriberRepository
	guard       VolumeGuard
	demoAccount string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(
	opps Repository,
	patients PatientRepository,
	prescribers PrescriberRepository,
	guard VolumeGuard,
	demoAccount string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	return &Service{
		opps:        opps,
		patients:    patients,
		prescribers: prescribers,
		guard:       guard,
		demoAccount: demoAccount,
		metrics:     m,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Opportunity, error) {
	return s.opps.GetByID(ctx, id)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPrescriber(ctx context.Context, id uuid.UUID) (*Prescriber, error) {
	return s.prescribers.GetByID(ctx, id)
}

func (s *Service) Detail(ctx context.Context, id uuid.UUID, viewer string) (*Detail, error) {
	o, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	patient, err := s.patients.GetByID(ctx, o.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	return s.detail(ctx, o, patient, viewer, map[uuid.UUID]*Prescriber{})
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, viewer string, limit, offset int) ([]*Detail, int, error) {
	patient, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	opps, total, err := s.opps.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	cache := map[uuid.UUID]*Prescriber{}
	out := make([]*Detail, 0, len(opps))
	for _, o := range opps {
		d, err := s.detail(ctx, o, patient, viewer, cache)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, nil
}

func (s *Service) detail(ctx context.Context, o *Opportunity, patient *Patient, viewer string, cache map[uuid.UUID]*Prescriber) (*Detail, error) {
	pr, ok := cache[o.PrescriberID]
	if !ok {
		var err error
		pr, err = s.prescribers.GetByID(ctx, o.PrescriberID)
		if err != nil {
			return nil, fmt.Errorf("load prescriber: %w", err)
		}
		cache[o.PrescriberID] = pr
	}
	d := &Detail{
		Opportunity: o,
		PatientName: patient.DisplayName(viewer, s.demoAccount),
		Prescriber:  *pr,
	}
	if s.demoAccount != "" && viewer == s.demoAccount {
		d.PatientDOB = patient.DateOfBirth
	}
	return d, nil
}

// -- Writes --

// UpdateStatus advances an opportunity to target. Moving back to
// not_submitted goes through Reopen. Actioned targets are checked against
// the prescriber's volume block before anything is written.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, target Status) (*Opportunity, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("invalid status: %s", target)
	}
	o, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == target {
		return o, nil
	}
	if !o.Status.CanAdvanceTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}

	if target.IsActioned() && s.guard != nil {
		if err := s.guard.Guard(ctx, o.PrescriberID); err != nil {
			return nil, err
		}
	}

	actionedAt := o.ActionedAt
	if target.IsActioned() && actionedAt == nil {
		now := s.now()
		actionedAt = &now
	}

	ok, err := s.opps.CompareAndSetStatus(ctx, id, o.Status, target, actionedAt)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}
	s.metrics.StatusUpdates.WithLabelValues(string(target)).Inc()
	s.logger.Info().
		Str("opportunity_id", id.String()).
		Str("from", string(o.Status)).
		Str("to", string(target)).
		Msg("opportunity status updated")

	o.Status = target
	o.ActionedAt = actionedAt
	return o, nil
}

// Reopen returns an opportunity to not_submitted and clears its actioned
// timestamp.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) (*Opportunity, error) {
	o, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusNotSubmitted {
		return nil, fmt.Errorf("%w: opportunity is already open", ErrInvalidTransition)
	}
	ok, err := s.opps.CompareAndSetStatus(ctx, id, o.Status, StatusNotSubmitted, nil)
	if err != nil {
		return nil, fmt.Errorf("reopen: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}
	s.metrics.StatusUpdates.WithLabelValues(string(StatusNotSubmitted)).Inc()
	s.logger.Info().
		Str("opportunity_id", id.String()).
		Str("from", string(o.Status)).
		Msg("opportunity reopened")

	o.Status = StatusNotSubmitted
	o.ActionedAt = nil
	return o, nil
}

func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	var v *string
	if notes != "" {
		v = &notes
	}
	return s.opps.UpdateNotes(ctx, id, v)
}
