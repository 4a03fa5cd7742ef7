package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"idx-signals/broker"
	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/ingest"
	"idx-signals/models"
	"idx-signals/observability"
	"idx-signals/repository"
	"idx-signals/scheduler"
	"idx-signals/services"
	"idx-signals/signal"
	"idx-signals/snapshot"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	observability.InitLogger(os.Getenv("ENV") == "production")
	observability.InitMetrics()

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err.Error())
	}

	store, err := filestore.NewStore(cfg.Data.Dir)
	if err != nil {
		observability.Fatal("failed to open data directory", "error", err.Error())
	}

	ctx := context.Background()

	// Optional audit store; the pipeline runs fine without it.
	var repo *repository.Repository
	if cfg.HasDatabase() {
		repo, err = repository.NewRepository(ctx, cfg.Database.URL)
		if err != nil {
			observability.Warn("failed to initialize database, running without audit store",
				"error", err.Error())
			repo = nil
		}
	} else {
		observability.Info("DATABASE_URL not set, running without audit store")
	}

	retry := services.RetryPolicy{
		MaxAttempts: cfg.Fetch.MaxRetry,
		BackoffMin:  cfg.Fetch.BackoffMin,
		BackoffMax:  cfg.Fetch.BackoffMax,
		PacingDelay: cfg.Fetch.PacingDelay,
	}
	breakers := services.NewCircuitBreakerRegistry(services.DefaultCircuitBreakerConfig)

	// Market data sources, each optional behind its credentials.
	var goapi *services.GoAPIClient
	var alpaca *services.AlpacaSource
	if cfg.HasGoAPI() {
		goapi = services.NewGoAPIClient(cfg.GoAPI.BaseURL, cfg.GoAPI.APIKey,
			cfg.Fetch.RequestTimeout, retry, breakers)
	} else {
		observability.Warn("GOAPI_API_KEY not set, IDX vendor fetch disabled")
	}
	if cfg.HasAlpaca() {
		alpaca = services.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, retry)
	}

	var sources []ingest.PriceSource
	if goapi != nil {
		sources = append(sources, goapi)
	}
	if alpaca != nil {
		sources = append(sources, alpaca)
	}

	ingestStage := ingest.NewStage(cfg, store, sources...)

	var flowFetcher broker.FlowFetcher
	if goapi != nil {
		flowFetcher = goapi
	}
	brokerStage := broker.NewStage(cfg, store, flowFetcher)
	assembler := snapshot.NewAssembler(cfg, store)

	// Classifier artifact, loaded once at startup. Missing artifact
	// degrades prediction endpoints to 503 but keeps the pipeline alive.
	var engine *signal.Engine
	if artifact, err := signal.LoadArtifact(cfg.Model.Path); err != nil {
		observability.Warn("model artifact not loaded, prediction endpoints disabled",
			"path", cfg.Model.Path, "error", err.Error())
	} else {
		engine = signal.NewEngine(artifact, cfg.Signal.StopLossReturn)
		observability.Info("model artifact loaded",
			"path", cfg.Model.Path,
			"features", len(artifact.Features),
			"threshold_default", artifact.ThresholdDefault)
	}

	app := NewApp(cfg, store, repo, ingestStage, brokerStage, assembler, engine)
	defer app.shutdown()

	sched := scheduler.New(func(ctx context.Context) error {
		_, err := app.RunPipeline(ctx, models.Today(), "")
		return err
	})
	if err := sched.Start(cfg.Pipeline.CronSchedule); err != nil {
		observability.Fatal("failed to start scheduler", "error", err.Error())
	}
	defer sched.Stop()

	handler := NewAPIHandler(app, cfg)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           NewRouter(handler, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		observability.Info("server listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observability.Fatal("server failed", "error", err.Error())
		}
	}()

	stop := make(chan os.Signal, 1)
	ossignal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	observability.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Error("shutdown error", "error", err.Error())
	}
}
