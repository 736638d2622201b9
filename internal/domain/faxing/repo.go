package faxing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// CountSince counts transmissions sent at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	// GetSavedFax returns nil when no number was saved for the prescriber.
	GetSavedFax(ctx context.Context, prescriberID uuid.UUID) (*SavedFax, error)
	UpsertSavedFax(ctx context.Context, prescriberID uuid.UUID, number, updatedBy string) error
	InsertTransmission(ctx context.Context, t *Transmission) error
	SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error
	ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]*Transmission, error)
}
