package hipaa

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdash/oppdash/internal/platform/db"
)

// Disclosure records PHI leaving the pharmacy, such as a request faxed to a
// prescriber's office.
type Disclosure struct {
	ID             uuid.UUID   `json:"id"`
	PatientID      uuid.UUID   `json:"patient_id"`
	OpportunityIDs []uuid.UUID `json:"opportunity_ids,omitempty"`
	DisclosedTo    string      `json:"disclosed_to"`
	Destination    string      `json:"destination,omitempty"`
	Purpose        string      `json:"purpose"`
	Method         string      `json:"method"`
	Description    string      `json:"description,omitempty"`
	DisclosedBy    string      `json:"disclosed_by"`
	DateDisclosed  time.Time   `json:"date_disclosed"`
}

const (
	PurposeTreatment = "treatment"
	PurposePayment   = "payment"
	PurposeOther     = "other"
)

const (
	MethodFax    = "fax"
	MethodExport = "export"
)

// DisclosureRecorder is implemented by every disclosure backend.
type DisclosureRecorder interface {
	Record(ctx context.Context, d *Disclosure) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Disclosure, error)
}

func (d *Disclosure) prepare() error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("disclosure: patient_id is required")
	}
	if d.DisclosedTo == "" {
		return fmt.Errorf("disclosure: disclosed_to is required")
	}
	if d.Purpose == "" {
		return fmt.Errorf("disclosure: purpose is required")
	}
	if d.Method == "" {
		return fmt.Errorf("disclosure: method is required")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DateDisclosed.IsZero() {
		d.DateDisclosed = time.Now().UTC()
	}
	return nil
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryDisclosureStore is used in development and tests.
type MemoryDisclosureStore struct {
	mu          sync.RWMutex
	disclosures []*Disclosure
}

func NewMemoryDisclosureStore() *MemoryDisclosureStore {
	return &MemoryDisclosureStore{}
}

func (s *MemoryDisclosureStore) Record(_ context.Context, d *Disclosure) error {
	if err := d.prepare(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disclosures = append(s.disclosures, d)
	return nil
}

// ListByPatient returns the patient's disclosures inside [from, to], most
// recent first. Zero bounds are open.
func (s *MemoryDisclosureStore) ListByPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Disclosure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Disclosure
	for _, d := range s.disclosures {
		if d.PatientID != patientID {
			continue
		}
		if !from.IsZero() && d.DateDisclosed.Before(from) {
			continue
		}
		if !to.IsZero() && d.DateDisclosed.After(to) {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DateDisclosed.After(result[j].DateDisclosed)
	})
	return result, nil
}

// ---------------------------------------------------------------------------
// Postgres store
// ---------------------------------------------------------------------------

// PGDisclosureStore writes to the pharmacy's disclosure table. Record joins
// the caller's transaction when one is open on ctx.
type PGDisclosureStore struct {
	pool *pgxpool.Pool
}

func NewPGDisclosureStore(pool *pgxpool.Pool) *PGDisclosureStore {
	return &PGDisclosureStore{pool: pool}
}

func (s *PGDisclosureStore) Record(ctx context.Context, d *Disclosure) error {
	if err := d.prepare(); err != nil {
		return err
	}
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO disclosure (id, patient_id, opportunity_ids, disclosed_to, destination,
			purpose, method, description, disclosed_by, date_disclosed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.PatientID, d.OpportunityIDs, d.DisclosedTo, d.Destination,
		d.Purpose, d.Method, d.Description, d.DisclosedBy, d.DateDisclosed)
	if err != nil {
		return fmt.Errorf("record disclosure: %w", err)
	}
	return nil
}

func (s *PGDisclosureStore) ListByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Disclosure, error) {
	q := `SELECT id, patient_id, opportunity_ids, disclosed_to, destination, purpose, method,
		description, disclosed_by, date_disclosed
		FROM disclosure WHERE patient_id = $1`
	args := []any{patientID}
	if !from.IsZero() {
		args = append(args, from)
		q += fmt.Sprintf(" AND date_disclosed >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		q += fmt.Sprintf(" AND date_disclosed <= $%d", len(args))
	}
	q += " ORDER BY date_disclosed DESC"

	rows, err := db.Conn(ctx, s.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list disclosures: %w", err)
	}
	defer rows.Close()

	var out []*Disclosure
	for rows.Next() {
		d := &Disclosure{}
		if err := rows.Scan(&d.ID, &d.PatientID, &d.OpportunityIDs, &d.DisclosedTo, &d.Destination,
			&d.Purpose, &d.Method, &d.Description, &d.DisclosedBy, &d.DateDisclosed); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
