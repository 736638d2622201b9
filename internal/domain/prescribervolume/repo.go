package prescribervolume

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// ActionedCounts returns distinct patients and total opportunities in an
	// actioned status whose actioned_at falls on or after since.
	ActionedCounts(ctx context.Context, prescriberID uuid.UUID, since time.Time) (uniquePatients, total int, err error)
	// GetThresholds returns the per-prescriber override, or nil when none is set.
	GetThresholds(ctx context.Context, prescriberID uuid.UUID) (*Thresholds, error)
	UpsertThresholds(ctx context.Context, t *Thresholds) error
}
