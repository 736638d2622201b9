package pharmacy

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("pharmacy profile not configured")

type Repository interface {
	Get(ctx context.Context) (*Profile, error)
}
