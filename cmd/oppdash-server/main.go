package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oppdash/oppdash/internal/config"
	"github.com/oppdash/oppdash/internal/domain/faxing"
	"github.com/oppdash/oppdash/internal/domain/opportunity"
	"github.com/oppdash/oppdash/internal/domain/pharmacy"
	"github.com/oppdash/oppdash/internal/domain/prescribervolume"
	"github.com/oppdash/oppdash/internal/platform/auth"
	"github.com/oppdash/oppdash/internal/platform/blobstore"
	"github.com/oppdash/oppdash/internal/platform/db"
	"github.com/oppdash/oppdash/internal/platform/faxgateway"
	"github.com/oppdash/oppdash/internal/platform/hipaa"
	"github.com/oppdash/oppdash/internal/platform/metrics"
	"github.com/oppdash/oppdash/internal/platform/middleware"
	"github.com/oppdash/oppdash/migrations"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "oppdash-server",
		Short:   "Opportunity dashboard API server",
		Version: version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pharmacyCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func poolOptions(cfg *config.Config) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
	}
}

// openPool loads config and connects; callers close the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pharmacyID, _ := cmd.Flags().GetString("pharmacy")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			schema := db.SchemaFor(pharmacyID)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("pharmacy", "default", "Pharmacy whose schema is migrated")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			pharmacyID, _ := cmd.Flags().GetString("pharmacy")

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaFor(pharmacyID)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("pharmacy", "default", "Pharmacy whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

func pharmacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pharmacy",
		Short: "Manage pharmacy schemas",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a pharmacy schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating pharmacy schema: %s\n", db.SchemaFor(name))
			if err := db.CreatePharmacySchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Pharmacy created and migrated.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Pharmacy identifier (alphanumeric)")
	cmd.AddCommand(createCmd)
	return cmd
}

func newArchive(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.FaxArchiveDriver {
	case "", "none":
		return nil, nil
	case "memory":
		return blobstore.NewInMemoryBlobStore(), nil
	case "s3":
		return blobstore.NewS3BlobStore(ctx, blobstore.S3Config{
			Bucket:    cfg.FaxArchiveS3Bucket,
			Region:    cfg.FaxArchiveS3Region,
			Endpoint:  cfg.FaxArchiveS3Endpoint,
			PathStyle: cfg.FaxArchiveS3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown FAX_ARCHIVE_DRIVER %q", cfg.FaxArchiveDriver)
	}
}

func newTransport(cfg *config.Config, logger zerolog.Logger) faxgateway.Transport {
	if cfg.FaxGatewayURL == "" {
		logger.Warn().Msg("FAX_GATEWAY_URL not set; faxes are accepted by the loopback transport and not delivered")
		return faxgateway.NewLoopbackTransport()
	}
	return faxgateway.NewHTTPTransport(cfg.FaxGatewayURL, cfg.FaxGatewayToken)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	archive, err := newArchive(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure fax archive")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger, m))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, m))
	e.Use(middleware.SecurityHeaders())
	// Request bodies here are small JSON documents.
	e.Use(echomw.BodyLimit("64K"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.PharmacyHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler(reg))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(db.PharmacyMiddleware(pool, cfg.DefaultPharmacy))

	// Prescriber volume
	volumeSvc := prescribervolume.NewService(
		prescribervolume.NewRepoPG(pool),
		prescribervolume.Thresholds{Warn: cfg.PrescriberWarnThreshold, Block: cfg.BlockThreshold()},
		cfg.PrescriberVolumeWindowDays, m, logger,
	)
	prescribervolume.NewHandler(volumeSvc).RegisterRoutes(apiV1)

	// Opportunities
	oppRepo := opportunity.NewRepoPG(pool)
	patientRepo := opportunity.NewPatientRepoPG(pool)
	prescriberRepo := opportunity.NewPrescriberRepoPG(pool)
	oppSvc := opportunity.NewService(oppRepo, patientRepo, prescriberRepo, volumeSvc, cfg.DemoAccount, m, logger)
	opportunity.NewHandler(oppSvc).RegisterRoutes(apiV1)

	// Pharmacy profile
	pharmacySvc := pharmacy.NewService(pharmacy.NewRepoPG(pool))
	pharmacy.NewHandler(pharmacySvc).RegisterRoutes(apiV1)

	// Faxing
	faxSvc := faxing.NewService(faxing.Deps{
		Opportunities: oppRepo,
		Patients:      patientRepo,
		Prescribers:   prescriberRepo,
		Pharmacy:      pharmacySvc,
		Guard:         volumeSvc,
		Faxes:         faxing.NewRepoPG(pool),
		Transport:     newTransport(cfg, logger),
		Disclosures:   hipaa.NewPGDisclosureStore(pool),
		Archive:       archive,
		WithTx: func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		Fork: func(ctx context.Context) (context.Context, func(), error) {
			return db.Fork(ctx, pool)
		},
	}, faxing.Config{DailyLimit: cfg.DailyFaxLimit}, m, logger)
	faxing.NewHandler(faxSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
