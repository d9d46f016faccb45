package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"impulsesim.com/suture-feedback/internal/api"
	"impulsesim.com/suture-feedback/internal/archive"
	"impulsesim.com/suture-feedback/internal/auth"
	"impulsesim.com/suture-feedback/internal/config"
	"impulsesim.com/suture-feedback/internal/core"
	"impulsesim.com/suture-feedback/internal/logging"
	"impulsesim.com/suture-feedback/internal/metrics"
	"impulsesim.com/suture-feedback/internal/report"
	"impulsesim.com/suture-feedback/internal/store"
)

func main() {
	// Command line flag for issuing an admin token
	adminTokenFlag := flag.Bool("admin-token", false, "Print a 24h admin JWT for code administration and exit")
	flag.Parse()

	// Load configuration; provider keys are not needed to mint an admin token
	cfg := config.Read()

	// Setup logging
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if !cfg.EnvFileLoaded {
		logger.Debug().Msg("no .env file found, using process environment")
	}

	if *adminTokenFlag {
		token, err := auth.GenerateJWT(cfg.AdminJWTSecret, auth.AdminSubject, 24*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to generate admin token (is ADMIN_JWT_SECRET set?)")
		}
		fmt.Println(token)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize store
	dbStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to initialize store")
	}
	defer dbStore.Close()

	// Initialize vision provider
	provider, closeProvider, err := newVisionProvider(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("failed to initialize vision provider")
	}
	defer closeProvider()
	provider = core.WrapVision(provider, core.VisionPolicy{
		Attempts:      3,
		Backoff:       500 * time.Millisecond,
		Timeout:       cfg.AITimeout,
		MaxConcurrent: cfg.AIConcurrentLimit,
	}, logger)

	rubric, err := core.LoadRubric(cfg.RubricFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rubric")
	}

	var archiver core.ImageArchiver
	if cfg.S3.Enabled() {
		s3Archive, err := archive.NewS3Archive(cfg.S3)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize image archive")
		}
		archiver = s3Archive
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("archiving evaluated images")
	}

	// Initialize services
	ledger := core.NewCodeLedger(dbStore, cfg.OwnerCode, cfg.RegistrationPolicy, cfg.DefaultCodeUses, logger)
	feedbackLog := core.NewFeedbackLog(dbStore, logger)
	evaluator := core.NewEvaluationService(provider, feedbackLog, rubric, archiver, logger)
	exporter := core.NewReportExporter(feedbackLog, report.Options{
		Footer:   cfg.ReportFooter,
		MaxScore: rubric.MaxScore,
	}, logger)

	metrics.MustRegister()

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(ledger, feedbackLog, evaluator, exporter, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		AdminSecret:    cfg.AdminJWTSecret,
	}, logger)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,                 // uploads can be several MB
		WriteTimeout: 3*cfg.AITimeout + 30*time.Second, // up to three vision attempts
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info().
			Str("addr", serverAddr).
			Str("provider", provider.Name()).
			Str("model", provider.Model()).
			Str("store", cfg.StoreBackend).
			Str("policy", cfg.RegistrationPolicy).
			Bool("admin_auth", cfg.AdminJWTSecret != "").
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Str("addr", serverAddr).Msg("could not listen")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	logger.Info().Msg("server exiting gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendFile:
		return store.NewFileStore(cfg.DataDir, logger.With().Str("component", "file_store").Logger())
	case config.BackendRedis:
		return store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

// newVisionProvider also returns a cleanup func for providers holding connections.
func newVisionProvider(ctx context.Context, cfg *config.Config) (core.VisionProvider, func(), error) {
	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		p, err := core.NewOpenAIVision(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	default:
		p, err := core.NewGeminiVision(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	}
}
