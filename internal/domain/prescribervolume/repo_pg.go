package prescribervolume

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

func (r *repoPG) ActionedCounts(ctx context.Context, prescriberID uuid.UUID, since time.Time) (int, int, error) {
	var unique, total int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(DISTINCT patient_id), COUNT(*)
		FROM opportunity
		WHERE prescriber_id = $1
		  AND status IN ('submitted', 'approved', 'completed')
		  AND actioned_at >= $2`,
		prescriberID, since).Scan(&unique, &total)
	return unique, total, err
}

func (r *repoPG) GetThresholds(ctx context.Context, prescriberID uuid.UUID) (*Thresholds, error) {
	t := Thresholds{PrescriberID: prescriberID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT warn_threshold, block_threshold, updated_at
		FROM prescriber_volume_threshold WHERE prescriber_id = $1`, prescriberID).
		Scan(&t.Warn, &t.Block, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) UpsertThresholds(ctx context.Context, t *Thresholds) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriber_volume_threshold (prescriber_id, warn_threshold, block_threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (prescriber_id) DO UPDATE
		SET warn_threshold = EXCLUDED.warn_threshold,
		    block_threshold = EXCLUDED.block_threshold,
		    updated_at = NOW()
		RETURNING updated_at`,
		t.PrescriberID, t.Warn, t.Block).Scan(&t.UpdatedAt)
}
