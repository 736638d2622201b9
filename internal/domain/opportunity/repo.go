package opportunity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Opportunity, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Opportunity, int, error)
	// CompareAndSetStatus moves id from -> to and reports false when the
	// row no longer holds from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, actionedAt *time.Time) (bool, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error
}

type PatientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type PrescriberRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Prescriber, error)
}
