package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mentis/mentis/internal/config"
	"github.com/mentis/mentis/internal/domain/assessment"
	"github.com/mentis/mentis/internal/domain/scale"
	"github.com/mentis/mentis/internal/platform/auth"
	"github.com/mentis/mentis/internal/platform/db"
	"github.com/mentis/mentis/internal/platform/fhir"
	"github.com/mentis/mentis/internal/platform/middleware"
	"github.com/mentis/mentis/internal/platform/telemetry"
)

const serverVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "mentis-server",
		Short: "Psychometric assessment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assessment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads configuration and connects to the database. Shared by the
// CLI commands that need a pool outside the server lifecycle.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
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
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Migrations are forward-only; the built-in runner does not roll back.")
			fmt.Println("Write a new migration that reverts the change and run: mentis-server migrate up")
			return nil
		},
	})

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and run migrations against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, dir); err != nil {
				return err
			}
			fmt.Println("Tenant created and migrated successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")
	createCmd.Flags().String("dir", "./migrations", "Path to migrations directory")

	cmd.AddCommand(createCmd)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load scale definitions from YAML seed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			tenantID, _ := cmd.Flags().GetString("tenant")

			if !db.ValidTenantID(tenantID) {
				return fmt.Errorf("invalid tenant identifier: %s", tenantID)
			}

			files, err := seedFiles(dir)
			if err != nil {
				return fmt.Errorf("read seed directory: %w", err)
			}
			if len(files) == 0 {
				fmt.Printf("No seed files found in %s\n", dir)
				return nil
			}

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			// Pin a connection to the tenant schema so the catalog upserts
			// land in the right place, the same way the HTTP tenant
			// middleware scopes requests.
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO tenant_%s, shared, public", tenantID)); err != nil {
				return fmt.Errorf("set search path: %w", err)
			}
			ctx = context.WithValue(ctx, db.DBConnKey, conn)

			svc := scale.NewService(scale.NewScaleRepoPG(pool))

			var created, updated int
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				sc, err := decodeScaleSeed(data)
				if err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				isNew, err := svc.ImportScale(ctx, sc)
				if err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				if isNew {
					created++
					fmt.Printf("Created %s (%s)\n", sc.Abbreviation, sc.Name)
				} else {
					updated++
					fmt.Printf("Updated %s (%s)\n", sc.Abbreviation, sc.Name)
				}
			}
			fmt.Printf("Seeded %d scale(s): %d created, %d updated.\n", len(files), created, updated)
			return nil
		},
	}
	cmd.Flags().String("dir", "./seeds", "Path to seed directory")
	cmd.Flags().String("tenant", "default", "Tenant to seed")
	return cmd
}

// seedFiles lists the YAML files in dir, sorted by name so seeds apply in a
// stable order.
func seedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// decodeScaleSeed parses one YAML seed document into a scale definition.
// The YAML is decoded into a generic tree and re-marshalled through JSON so
// the scale struct's json tags describe both formats.
func decodeScaleSeed(data []byte) (*scale.Scale, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(tree) == 0 {
		return nil, fmt.Errorf("empty seed document")
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode seed: %w", err)
	}
	var sc scale.Scale
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &sc, nil
}

// registerFHIRResources declares the served resource types on the capability
// builder. Questionnaire additionally supports create; everything else is
// read and search only.
func registerFHIRResources(capBuilder *fhir.CapabilityBuilder) {
	capBuilder.AddResource("Questionnaire", append(fhir.ReadOnlyInteractions(), "create"), []fhir.SearchParam{
		{Name: "name", Type: "string", Documentation: "Scale abbreviation (e.g. PHQ-9)"},
		{Name: "title", Type: "string", Documentation: "Scale name"},
	})
	capBuilder.AddResource("QuestionnaireResponse", fhir.ReadOnlyInteractions(), []fhir.SearchParam{
		{Name: "patient", Type: "reference", Documentation: "Patient the assessment belongs to"},
		{Name: "questionnaire", Type: "reference", Documentation: "Scale answered, by id or abbreviation"},
		{Name: "status", Type: "token"},
		{Name: "authored", Type: "date", Documentation: "Completion date"},
	})
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "mentis-server",
		ServiceVersion: serverVersion,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
		TracingEnabled: telemetry.BoolPtr(cfg.TracingEnabled),
	})
	defer tp.Shutdown(ctx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.ImportBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())

	// Auth middleware
	authMode := cfg.ResolvedAuthMode()
	switch authMode {
	case "development":
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	case "jwt":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	default: // external issuer with JWKS
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}
	logger.Info().Str("mode", authMode).Msg("authentication configured")

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.AuthSkipper))

	// Audit middleware, feeding the per-operation counters
	e.Use(middleware.Audit(logger, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		tp.OperationCounter(entry.ResourceType, entry.Action)
		return nil
	})))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	fhirGroup.Use(middleware.RateLimit(rateLimitCfg))

	// Health checks and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": serverVersion,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", tp.PrometheusHandler())
	}

	// Dynamic CapabilityStatement builder
	baseURL := fmt.Sprintf("http://localhost:%s/fhir", cfg.Port)
	capBuilder := fhir.NewCapabilityBuilder(baseURL, serverVersion)
	registerFHIRResources(capBuilder)
	fhirGroup.GET("/metadata", func(c echo.Context) error {
		return c.JSON(http.StatusOK, capBuilder.Build())
	})

	// Scale catalog
	scaleRepo := scale.NewScaleRepoPG(pool)
	scaleSvc := scale.NewService(scaleRepo)
	scaleHandler := scale.NewHandler(scaleSvc)
	scaleHandler.RegisterRoutes(apiV1, fhirGroup)

	// Patient assessments
	assessRepo := assessment.NewAssessmentRepoPG(pool)
	assessSvc := assessment.NewService(assessRepo, scaleSvc)
	assessHandler := assessment.NewHandler(assessSvc)
	assessHandler.RegisterRoutes(apiV1, fhirGroup)

	// Pool gauges for the metrics endpoint
	health := tp.HealthMetrics()
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := db.GetPoolStats(pool)
				health.SetDBPoolActive(int64(stats.AcquiredConns))
				health.SetDBPoolIdle(int64(stats.IdleConns))
			case <-statsCtx.Done():
				return
			}
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
