package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-relay-go/internal/config"
	"github.com/openclaw/pairing-relay-go/internal/database"
	"github.com/openclaw/pairing-relay-go/internal/handler"
	"github.com/openclaw/pairing-relay-go/internal/jobs"
	"github.com/openclaw/pairing-relay-go/internal/middleware"
	"github.com/openclaw/pairing-relay-go/internal/redis"
	"github.com/openclaw/pairing-relay-go/internal/repository"
	"github.com/openclaw/pairing-relay-go/internal/service"
	"github.com/openclaw/pairing-relay-go/internal/telemetry"
)

const serviceName = "pairing-relay"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var (
		sessionRepo repository.PairingSessionRepository
		ping        handler.Pinger
	)

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres, config.StoreBackendSQLite:
		driver, dsn := database.DriverPostgres, cfg.DatabaseURL
		if cfg.StoreBackend == config.StoreBackendSQLite {
			driver, dsn = database.DriverSQLite, cfg.SQLitePath
		}

		db, err := database.Connect(driver, dsn)
		if err != nil {
			log.Fatal().Err(err).Str("driver", driver).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()

		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Str("driver", driver).Msg("database connected")

		sessionRepo = repository.NewPairingSessionRepository(db.DB)
		ping = db.Ping

	case config.StoreBackendRedis:
		sessionRepo = repository.NewRedisPairingSessionRepository(redisClient.Client, cfg.PairingGrace())
		ping = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	case config.StoreBackendMemory:
		log.Warn().Msg("using in-memory session store: sessions are lost on restart and not shared across replicas")
		sessionRepo = repository.NewMemoryPairingSessionRepository()
	}

	pairingService := service.NewPairingService(sessionRepo,
		service.WithTTL(cfg.PairingTTL(), cfg.PairingMaxTTL()),
		service.WithClaimBaseURL(cfg.PublicBaseURL),
	)

	var limiter middleware.Limiter = middleware.NewLocalRateLimiter()
	if redisClient != nil {
		limiter = service.NewRateLimiter(redisClient.Client)
	}
	createLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.CreateRateLimitPerMin, config.RateLimitWindow, "create")
	claimLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.ClaimRateLimitPerMin, config.RateLimitWindow, "claim")

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	pairingHandler := handler.NewPairingHandler(pairingService,
		handler.WithRateLimits(createLimit.Handler, claimLimit.Handler),
	)
	healthHandler := handler.NewHealthHandler(ping)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/pairing", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Mount("/", pairingHandler.Routes())
	})

	// Redis keys carry their own TTL; only the SQL and memory stores need sweeping.
	if cfg.StoreBackend != config.StoreBackendRedis {
		cleanupJob := jobs.NewCleanupJob(sessionRepo, cfg.PairingGrace(), config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      telemetry.Middleware(serviceName)(r),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush traces")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
