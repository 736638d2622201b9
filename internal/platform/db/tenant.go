package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/oppdash/oppdash/internal/platform/auth"
)

type contextKey string

const (
	PharmacyIDKey contextKey = "pharmacy_id"
	DBConnKey     contextKey = "db_conn"
)

var pharmacyIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the Postgres schema holding one pharmacy's data.
func SchemaFor(pharmacyID string) string {
	return fmt.Sprintf("pharmacy_%s", pharmacyID)
}

// PharmacyMiddleware pins every request to one pharmacy's schema. Each
// pharmacy owns its opportunities, fax log and quota, so the connection is
// acquired here and released when the handler returns.
func PharmacyMiddleware(pool *pgxpool.Pool, defaultPharmacy string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			pharmacyID := extractPharmacyID(c, defaultPharmacy)

			if !pharmacyIDPattern.MatchString(pharmacyID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid pharmacy identifier")
			}

			ctx := c.Request().Context()
			conn, err := acquirePharmacyConn(ctx, pool, pharmacyID)
			if err != nil {
				if errors.Is(err, errSearchPath) {
					return echo.NewHTTPError(http.StatusInternalServerError, "pharmacy resolution failed")
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			ctx = context.WithValue(ctx, PharmacyIDKey, pharmacyID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("pharmacy_id", pharmacyID)

			return next(c)
		}
	}
}

var errSearchPath = errors.New("set search_path")

func acquirePharmacyConn(ctx context.Context, pool *pgxpool.Pool, pharmacyID string) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(pharmacyID))); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: %v", errSearchPath, err)
	}
	return conn, nil
}

// Fork returns a context carrying its own connection to the same pharmacy
// schema, for queries that run concurrently with others from one request.
// A single pgx connection cannot be shared between goroutines. release must
// be called once the goroutine is done. Fork must not be used inside WithTx.
func Fork(ctx context.Context, pool *pgxpool.Pool) (context.Context, func(), error) {
	pid := PharmacyFromContext(ctx)
	if pid == "" || ConnFromContext(ctx) == nil {
		return ctx, func() {}, nil
	}
	conn, err := acquirePharmacyConn(ctx, pool, pid)
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, DBConnKey, conn), conn.Release, nil
}

func extractPharmacyID(c echo.Context, defaultPharmacy string) string {
	if pid, ok := c.Get("jwt_pharmacy_id").(string); ok && pid != "" {
		return pid
	}
	if pid := c.Request().Header.Get(auth.PharmacyHeader); pid != "" {
		return pid
	}
	return defaultPharmacy
}

// ConnFromContext retrieves the pharmacy-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// PharmacyFromContext retrieves the pharmacy ID from context.
func PharmacyFromContext(ctx context.Context) string {
	pid, _ := ctx.Value(PharmacyIDKey).(string)
	return pid
}

// CreatePharmacySchema creates the schema for a pharmacy and migrates it.
func CreatePharmacySchema(ctx context.Context, pool *pgxpool.Pool, pharmacyID string, migrator *Migrator) error {
	if !pharmacyIDPattern.MatchString(pharmacyID) {
		return fmt.Errorf("invalid pharmacy identifier: %s", pharmacyID)
	}
	schema := SchemaFor(pharmacyID)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
