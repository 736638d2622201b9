package composer

import (
	"errors"
	"fmt"
)

var (
	ErrNoOpportunities   = errors.New("at least one opportunity is required")
	ErrMixedPatients     = errors.New("opportunities belong to more than one patient")
	ErrMixedPrescribers  = errors.New("opportunities belong to more than one prescriber")
	ErrSingleModeMulti   = errors.New("single mode takes exactly one opportunity")
	ErrUnknownMode       = errors.New("unknown document mode")
	ErrMissingPrescriber = errors.New("prescriber name is required")
)

// Validate enforces one patient and one prescriber per document. Compose
// calls it first; callers may call it earlier to reject a selection.
func Validate(r Request) error {
	if len(r.Opportunities) == 0 {
		return ErrNoOpportunities
	}
	switch r.Mode {
	case ModeSingle:
		if len(r.Opportunities) != 1 {
			return fmt.Errorf("%w: got %d", ErrSingleModeMulti, len(r.Opportunities))
		}
	case ModeBatch:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}
	if r.Prescriber.Name == "" {
		return ErrMissingPrescriber
	}
	for _, o := range r.Opportunities {
		if o.PatientID != r.Patient.ID {
			return fmt.Errorf("%w: opportunity %s", ErrMixedPatients, o.ID)
		}
		if o.PrescriberID != r.Prescriber.ID {
			return fmt.Errorf("%w: opportunity %s", ErrMixedPrescribers, o.ID)
		}
	}
	return nil
}
