package faxing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdash/oppdash/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const transmissionCols = `id, opportunity_id, patient_id, prescriber_id, fax_number,
	prescriber_npi, provider_ref, page_count, archive_key, sent_by, sent_at`

func (r *repoPG) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM fax_transmission WHERE sent_at >= $1`, since).Scan(&n)
	return n, err
}

func (r *repoPG) GetSavedFax(ctx context.Context, prescriberID uuid.UUID) (*SavedFax, error) {
	var s SavedFax
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT prescriber_id, fax_number, updated_at FROM prescriber_saved_fax WHERE prescriber_id = $1`,
		prescriberID).Scan(&s.PrescriberID, &s.FaxNumber, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) UpsertSavedFax(ctx context.Context, prescriberID uuid.UUID, number, updatedBy string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO prescriber_saved_fax (prescriber_id, fax_number, updated_by, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (prescriber_id) DO UPDATE
		SET fax_number = EXCLUDED.fax_number, updated_by = EXCLUDED.updated_by, updated_at = NOW()`,
		prescriberID, number, updatedBy)
	return err
}

func (r *repoPG) InsertTransmission(ctx context.Context, t *Transmission) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO fax_transmission (`+transmissionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.OpportunityID, t.PatientID, t.PrescriberID, t.FaxNumber,
		t.PrescriberNPI, t.ProviderRef, t.PageCount, t.ArchiveKey, t.SentBy, t.SentAt)
	return err
}

func (r *repoPG) SetArchiveKey(ctx context.Context, id uuid.UUID, key string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE fax_transmission SET archive_key = $2 WHERE id = $1`, id, key)
	return err
}

func (r *repoPG) ListByOpportunity(ctx context.Context, opportunityID uuid.UUID) ([]*Transmission, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+transmissionCols+` FROM fax_transmission WHERE opportunity_id = $1 ORDER BY sent_at DESC`,
		opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transmission
	for rows.Next() {
		var t Transmission
		if err := rows.Scan(&t.ID, &t.OpportunityID, &t.PatientID, &t.PrescriberID, &t.FaxNumber,
			&t.PrescriberNPI, &t.ProviderRef, &t.PageCount, &t.ArchiveKey, &t.SentBy, &t.SentAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
