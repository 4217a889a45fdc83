package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/termmap/termmap/internal/config"
	"github.com/termmap/termmap/internal/domain/auditlog"
	"github.com/termmap/termmap/internal/domain/mapping"
	"github.com/termmap/termmap/internal/domain/terminology"
	"github.com/termmap/termmap/internal/platform/auth"
	"github.com/termmap/termmap/internal/platform/db"
	"github.com/termmap/termmap/internal/platform/middleware"
	"github.com/termmap/termmap/internal/platform/who"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "termmap-server",
		Short: "NAMASTE / ICD-11 terminology mapping API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(autoMapCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the terminology mapping API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from config)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func autoMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automap",
		Short: "Generate mappings for all unmapped NAMASTE codes above a confidence threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetFloat64("threshold")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if threshold < 0 {
				threshold = cfg.AutomapThreshold
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			namasteRepo := terminology.NewNamasteRepoPG(pool)
			icd11Repo := terminology.NewICD11RepoPG(pool)
			auditSvc := auditlog.NewService(auditlog.NewRepoPG(pool), logger)
			mappingSvc := mapping.NewService(mapping.NewRepoPG(pool), namasteRepo, icd11Repo, auditSvc, db.NewTxer(pool), logger)

			stats, err := mappingSvc.AutoMap(ctx, threshold)
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d created=%d skipped=%d errors=%d (threshold %.2f)\n",
				stats.Processed, stats.Created, stats.Skipped, stats.Errors, threshold)
			for _, detail := range stats.Details {
				fmt.Println("  " + detail)
			}
			return nil
		},
	}
	cmd.Flags().Float64("threshold", -1, "Minimum confidence for created mappings (default from config)")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	whoClient := who.NewClient(who.Config{
		BaseURL:      cfg.WHOICDBaseURL,
		TokenURL:     cfg.WHOICDTokenURL,
		ClientID:     cfg.WHOICDClientID,
		ClientSecret: cfg.WHOICDClientSecret,
	}, logger)

	// Repositories and services
	namasteRepo := terminology.NewNamasteRepoPG(pool)
	icd11Repo := terminology.NewICD11RepoPG(pool)
	terminologySvc := terminology.NewService(namasteRepo, icd11Repo, whoClient, logger)

	auditSvc := auditlog.NewService(auditlog.NewRepoPG(pool), logger)
	mappingSvc := mapping.NewService(mapping.NewRepoPG(pool), namasteRepo, icd11Repo, auditSvc, db.NewTxer(pool), logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health and token endpoints stay outside auth.
	e.GET("/health", db.HealthHandler(pool))

	issuer := auth.NewTokenIssuer(cfg.JWTIssuer, []byte(cfg.JWTSecret), time.Hour, demoUsers(cfg))
	e.POST("/api/v1/auth/token", issuer.TokenHandler)

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	if cfg.IsDev() && cfg.JWTSecret == "" {
		logger.Warn().Msg("running with development auth; all requests act as an admin user")
		apiV1.Use(auth.DevAuthMiddleware())
		fhirGroup.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{Issuer: cfg.JWTIssuer, Secret: []byte(cfg.JWTSecret)}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
		fhirGroup.Use(auth.JWTMiddleware(jwtCfg))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	fhirGroup.Use(middleware.RateLimit(rateLimitCfg))

	// Domain routes
	terminology.NewHandler(terminologySvc).RegisterRoutes(apiV1, fhirGroup)
	mapping.NewHandler(mappingSvc, cfg.AutomapThreshold).RegisterRoutes(apiV1, fhirGroup)
	auditlog.NewHandler(auditSvc).RegisterRoutes(apiV1)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// demoUsers is the static credential set behind the token endpoint. It exists
// for local development and demos, not production identity management.
func demoUsers(cfg *config.Config) map[string]auth.DemoUser {
	if !cfg.IsDev() {
		return nil
	}
	return map[string]auth.DemoUser{
		"admin":   {Password: "admin", Roles: []string{"admin"}},
		"curator": {Password: "curator", Roles: []string{"curator"}},
		"reader":  {Password: "reader", Roles: []string{}},
	}
}
