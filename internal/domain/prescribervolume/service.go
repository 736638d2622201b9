package prescribervolume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oppdash/oppdash/internal/platform/metrics"
)

var (
	ErrVolumeBlocked = errors.New("prescriber volume block")
	// ErrStatsUnavailable is returned by Guard when the counts cannot be
	// read. Guard fails closed.
	ErrStatsUnavailable = errors.New("prescriber volume stats unavailable")
)

type Service struct {
	repo       Repository
	defaults   Thresholds
	windowDays int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService uses defaults for prescribers without an override row.
func NewService(repo Repository, defaults Thresholds, windowDays int, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Service{
		repo:       repo,
		defaults:   defaults,
		windowDays: windowDays,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Stats(ctx context.Context, prescriberID uuid.UUID) (*Stats, error) {
	th, err := s.repo.GetThresholds(ctx, prescriberID)
	if err != nil {
		return nil, fmt.Errorf("load thresholds: %w", err)
	}
	if th == nil {
		th = &s.defaults
	}

	since := s.now().AddDate(0, 0, -s.windowDays)
	unique, total, err := s.repo.ActionedCounts(ctx, prescriberID, since)
	if err != nil {
		return nil, fmt.Errorf("count actioned opportunities: %w", err)
	}

	st := &Stats{
		PrescriberID:           prescriberID,
		UniquePatientsActioned: unique,
		TotalOppsActioned:      total,
		WarnThreshold:          th.Warn,
		BlockThreshold:         th.Block,
		WindowDays:             s.windowDays,
	}
	st.Evaluate()
	return st, nil
}

// Guard is the server-side half of the volume gate. Warnings are left to the
// client; a block is refused here no matter what the client decided.
func (s *Service) Guard(ctx context.Context, prescriberID uuid.UUID) error {
	st, err := s.Stats(ctx, prescriberID)
	if err != nil {
		s.metrics.GateDecisions.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}
	if st.ShouldBlock {
		s.metrics.GateDecisions.WithLabelValues("block").Inc()
		s.logger.Warn().
			Str("prescriber_id", prescriberID.String()).
			Int("unique_patients", st.UniquePatientsActioned).
			Int("block_threshold", *st.BlockThreshold).
			Msg("actioned update refused by prescriber volume block")
		return fmt.Errorf("%w: %d patients actioned in the last %d days (block threshold %d)",
			ErrVolumeBlocked, st.UniquePatientsActioned, st.WindowDays, *st.BlockThreshold)
	}
	if st.ShouldWarn {
		s.metrics.GateDecisions.WithLabelValues("warn").Inc()
	} else {
		s.metrics.GateDecisions.WithLabelValues("allow").Inc()
	}
	return nil
}

func (s *Service) SetThresholds(ctx context.Context, t *Thresholds) error {
	if t.PrescriberID == uuid.Nil {
		return fmt.Errorf("prescriber_id is required")
	}
	if t.Warn < 0 {
		return fmt.Errorf("warn_threshold must not be negative")
	}
	if t.Block != nil {
		if *t.Block <= 0 {
			return fmt.Errorf("block_threshold must be positive")
		}
		if *t.Block < t.Warn {
			return fmt.Errorf("block_threshold must not be below warn_threshold")
		}
	}
	return s.repo.UpsertThresholds(ctx, t)
}
