package opportunity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdash/oppdash/internal/platform/db"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Opportunity Repository ===========

type opportunityRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &opportunityRepoPG{pool: pool}
}

const oppCols = `id, patient_id, prescriber_id, current_drug, recommended_drug,
	per_fill_margin, annual_margin, insurance_bin, insurance_group, insurance_pcn,
	insurance_contract, insurance_plan, opportunity_type, rationale, status,
	staff_notes, actioned_at, created_at, updated_at`

func (r *opportunityRepoPG) scanOpp(row pgx.Row) (*Opportunity, error) {
	var o Opportunity
	err := row.Scan(&o.ID, &o.PatientID, &o.PrescriberID, &o.CurrentDrug, &o.RecommendedDrug,
		&o.PerFillMargin, &o.AnnualMargin, &o.InsuranceBIN, &o.InsuranceGroup, &o.InsurancePCN,
		&o.InsuranceContract, &o.InsurancePlan, &o.OpportunityType, &o.Rationale, &o.Status,
		&o.StaffNotes, &o.ActionedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (r *opportunityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Opportunity, error) {
	return r.scanOpp(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+oppCols+` FROM opportunity WHERE id = $1`, id))
}

func (r *opportunityRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Opportunity, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM opportunity WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+oppCols+` FROM opportunity WHERE patient_id = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Opportunity
	for rows.Next() {
		o, err := r.scanOpp(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

func (r *opportunityRepoPG) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to Status, actionedAt *time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE opportunity SET status = $3, actioned_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, actionedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *opportunityRepoPG) UpdateNotes(ctx context.Context, id uuid.UUID, notes *string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE opportunity SET staff_notes = $2, updated_at = NOW() WHERE id = $1`, id, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, first_name, last_name, date_of_birth FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// =========== Prescriber Repository ===========

type prescriberRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriberRepoPG(pool *pgxpool.Pool) PrescriberRepository {
	return &prescriberRepoPG{pool: pool}
}

func (r *prescriberRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescriber, error) {
	var p Prescriber
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, npi, npi_verified, fax_number, phone FROM prescriber WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.NPI, &p.NPIVerified, &p.FaxNumber, &p.Phone)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
