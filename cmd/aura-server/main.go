package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aura/aura/internal/config"
	"github.com/aura/aura/internal/domain/agent"
	"github.com/aura/aura/internal/domain/consultation"
	"github.com/aura/aura/internal/domain/documents"
	"github.com/aura/aura/internal/domain/identity"
	"github.com/aura/aura/internal/domain/recommendation"
	"github.com/aura/aura/internal/domain/scheduling"
	"github.com/aura/aura/internal/domain/surge"
	"github.com/aura/aura/internal/platform/auth"
	"github.com/aura/aura/internal/platform/db"
	"github.com/aura/aura/internal/platform/events"
	"github.com/aura/aura/internal/platform/llm"
	"github.com/aura/aura/internal/platform/lock"
	"github.com/aura/aura/internal/platform/middleware"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aura-server",
		Short: "Aura hospital operations API server",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(surgeCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

// poolConfig sizes the pool from cfg. The server caps statements at the
// request timeout; CLI commands pass zero so long migrations are not cut off.
func poolConfig(cfg *config.Config, statementTimeout time.Duration) db.PoolConfig {
	return db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: statementTimeout,
	}
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
		Short: "Start the API server and the daily surge job",
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
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg, 0))
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, dir, schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg, 0))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
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
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func surgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surge",
		Short: "Surge forecasting",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Compute and store the 7-day forecast once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			city, _ := cmd.Flags().GetString("city")
			if city == "" {
				city = cfg.SurgeCity
			}
			logger := newLogger(cfg.Env)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, poolConfig(cfg, 0))
			if err != nil {
				return err
			}
			defer pool.Close()

			publisher := newPublisher(cfg, logger)
			defer publisher.Close()

			svc, err := newSurgeService(cfg, surge.NewRepoPG(pool), publisher, logger)
			if err != nil {
				return err
			}
			summary, err := svc.Compute(ctx, city)
			if err != nil {
				return err
			}
			fmt.Printf("Computed %d day(s) for %s from %d consultation(s).\n", summary.Days, summary.City, summary.Consultations)
			for _, p := range summary.Predictions {
				fmt.Printf("%s  baseline=%-5d predicted=%d\n", p.DateString(), p.BaselineTotal, p.PredictedTotal)
			}
			return nil
		},
	}
	runCmd.Flags().String("city", "", "City to forecast (default SURGE_CITY)")
	cmd.AddCommand(runCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is required")
			}
			userID, _ := cmd.Flags().GetInt64("user")
			role, _ := cmd.Flags().GetString("role")
			hospital, _ := cmd.Flags().GetInt64("hospital")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			p := auth.Principal{UserID: userID, Role: role}
			if hospital > 0 {
				p.HospitalID = &hospital
			}
			now := time.Now()
			tok, err := auth.IssueToken(p, auth.JWTConfig{Issuer: "aura", SigningKey: []byte(cfg.AuthSigningKey)},
				jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now), ExpiresAt: jwt.NewNumericDate(now.Add(ttl))})
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "User id (token subject)")
	cmd.Flags().String("role", auth.RolePatient, "Role: patient, doctor or admin")
	cmd.Flags().Int64("hospital", 0, "Hospital id")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("no kafka brokers configured, domain events disabled")
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
}

func newSurgeService(cfg *config.Config, repo surge.Repository, publisher events.Publisher, logger zerolog.Logger) (*surge.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	var air surge.AirQualitySource = surge.MockSignals{}
	if cfg.OpenAQBaseURL != "" {
		air = surge.NewOpenAQProvider(cfg.OpenAQBaseURL, cfg.OpenAQAPIKey, 10*time.Second, logger)
	}
	return surge.NewService(repo, air, publisher, loc, logger), nil
}

// newLocker uses Redis when REDIS_URL is set so turn locks hold across
// replicas.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, *db.Check, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, turn locks are local to this process")
		return lock.NewLocalLocker(), nil, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	check := &db.Check{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
	return lock.NewRedisLocker(client, "aura:lock:", cfg.TurnLockTTL, logger), check, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, _ := cfg.Location()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg, cfg.RequestTimeout))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	locker, redisCheck, err := newLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
	}))

	checks := []db.Check{db.PoolCheck(pool)}
	if redisCheck != nil {
		checks = append(checks, *redisCheck)
	}
	e.GET("/health", db.HealthHandler(pool, checks...))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{Issuer: "aura", SigningKey: []byte(cfg.AuthSigningKey)}))
	}
	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	tx := db.NewTxRunner(pool)

	identitySvc := identity.NewService(identity.NewRepoPG(pool))
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)

	docRepo := documents.NewRepoPG(pool)
	documents.NewHandler(documents.NewService(docRepo)).RegisterRoutes(apiV1)

	consultRepo := consultation.NewRepoPG(pool)
	consultation.NewHandler(consultation.NewService(consultRepo)).RegisterRoutes(apiV1)

	engine := scheduling.NewEngine(scheduling.NewRepoPG(pool), tx, scheduling.Calendar{
		Location:  loc,
		StartHour: cfg.BusinessStartHour,
		EndHour:   cfg.BusinessEndHour,
		Slot:      time.Duration(cfg.SlotMinutes) * time.Minute,
		MaxSlots:  cfg.MaxSlots,
	}, publisher, logger)
	scheduling.NewHandler(engine).RegisterRoutes(apiV1)

	policy := llm.NewOpenAIPolicy(llm.OpenAIConfig{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Timeout:     cfg.PolicyTimeout,
		Temperature: 0.2,
	}, logger)
	agentSvc := agent.NewService(agent.Config{
		MaxToolRounds: cfg.MaxToolRounds,
		PolicyTimeout: cfg.PolicyTimeout,
		Location:      loc,
	}, policy, agent.ToolDeps{
		Consultations: consultRepo,
		Directory:     identitySvc,
		Scheduler:     engine,
		History:       docRepo,
		Publisher:     publisher,
		Logger:        logger,
	}, tx, locker, logger)
	agent.NewHandler(agentSvc).RegisterRoutes(apiV1)

	surgeSvc, err := newSurgeService(cfg, surge.NewRepoPG(pool), publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build surge service")
	}
	surge.NewHandler(surgeSvc, identitySvc, cfg.SurgeCity).RegisterRoutes(apiV1)

	recSvc := recommendation.NewService(recommendation.NewRepoPG(pool), identitySvc, surgeSvc, locker, logger)
	recommendation.NewHandler(recSvc).RegisterRoutes(apiV1)

	jobCtx, stopJob := context.WithCancel(ctx)
	defer stopJob()
	go surge.NewJob(surgeSvc, cfg.SurgeCity, cfg.SurgeRunHour, locker, logger).Start(jobCtx)

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
	stopJob()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
