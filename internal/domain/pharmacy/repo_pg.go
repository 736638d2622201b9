package pharmacy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdash/oppdash/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context) (*Profile, error) {
	var p Profile
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT name, address_line, city, state, postal_code, phone, fax, npi, updated_at
		FROM pharmacy_profile WHERE id = 1`).
		Scan(&p.Name, &p.AddressLine, &p.City, &p.State, &p.PostalCode, &p.Phone, &p.Fax, &p.NPI, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
