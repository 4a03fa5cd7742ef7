package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"idx-signals/broker"
	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/ingest"
	"idx-signals/models"
	"idx-signals/observability"
	"idx-signals/registry"
	"idx-signals/services"
	"idx-signals/snapshot"
)

// pipeline runs a single stage (or all of them) from the command line,
// for backfills and cron-less deployments.
func main() {
	stage := flag.String("stage", "all", "stage to run: ingest, broker, snapshot, or all")
	dateArg := flag.String("date", "", "as-of date (YYYY-MM-DD), defaults to today")
	source := flag.String("source", "", "price source: file path, directory, glob, vendor name, or '-' to skip")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}
	observability.InitLogger(os.Getenv("ENV") == "production")
	observability.InitMetrics()

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err.Error())
	}

	asOf := models.Today()
	if *dateArg != "" {
		asOf = models.ParseDate(*dateArg)
		if asOf.IsZero() {
			observability.Fatal("invalid -date, expected YYYY-MM-DD", "got", *dateArg)
		}
	}

	store, err := filestore.NewStore(cfg.Data.Dir)
	if err != nil {
		observability.Fatal("failed to open data directory", "error", err.Error())
	}

	symbols, err := registry.Load(cfg.Data.TickersPath)
	if err != nil {
		observability.Fatal("failed to load symbol registry",
			"path", cfg.Data.TickersPath, "error", err.Error())
	}

	retry := services.RetryPolicy{
		MaxAttempts: cfg.Fetch.MaxRetry,
		BackoffMin:  cfg.Fetch.BackoffMin,
		BackoffMax:  cfg.Fetch.BackoffMax,
		PacingDelay: cfg.Fetch.PacingDelay,
	}

	var goapi *services.GoAPIClient
	if cfg.HasGoAPI() {
		goapi = services.NewGoAPIClient(cfg.GoAPI.BaseURL, cfg.GoAPI.APIKey,
			cfg.Fetch.RequestTimeout, retry, nil)
	}
	var sources []ingest.PriceSource
	if goapi != nil {
		sources = append(sources, goapi)
	}
	if cfg.HasAlpaca() {
		sources = append(sources, services.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, retry))
	}

	ctx := context.Background()

	switch *stage {
	case "ingest":
		runIngest(ctx, cfg, store, sources, asOf, symbols, *source)
	case "broker":
		runBroker(ctx, cfg, store, goapi, asOf, symbols)
	case "snapshot":
		runSnapshot(cfg, store, asOf, symbols)
	case "all":
		runIngest(ctx, cfg, store, sources, asOf, symbols, *source)
		runBroker(ctx, cfg, store, goapi, asOf, symbols)
		runSnapshot(cfg, store, asOf, symbols)
	default:
		observability.Fatal("unknown -stage", "got", *stage)
	}
}

func runIngest(ctx context.Context, cfg *config.Config, store *filestore.Store,
	sources []ingest.PriceSource, asOf models.Date, symbols []string, sourceHint string) {
	rep, err := ingest.NewStage(cfg, store, sources...).Run(ctx, asOf, symbols, sourceHint)
	if err != nil {
		observability.Fatal("ingest failed", "error", err.Error())
	}
	fmt.Printf("ingest %s: %d rows (%d exact, %d fallback, %d missing, %d fetch errors)\n",
		rep.AsOf, rep.Rows, rep.ExactDate, rep.FellBack, rep.Missing, rep.FetchErrors)
}

func runBroker(ctx context.Context, cfg *config.Config, store *filestore.Store,
	goapi *services.GoAPIClient, asOf models.Date, symbols []string) {
	var fetcher broker.FlowFetcher
	if goapi != nil {
		fetcher = goapi
	}
	rep, err := broker.NewStage(cfg, store, fetcher).Run(ctx, asOf, symbols)
	if err != nil {
		observability.Fatal("broker aggregation failed", "error", err.Error())
	}
	fmt.Printf("broker_agg %s (effective %s): %d rows, %d empty symbols, %d fetch errors\n",
		rep.RequestedDate, rep.EffectiveDate, rep.Rows, rep.EmptySymbols, rep.FetchErrors)
}

func runSnapshot(cfg *config.Config, store *filestore.Store, asOf models.Date, symbols []string) {
	rep, err := snapshot.NewAssembler(cfg, store).Build(asOf, symbols)
	if err != nil {
		observability.Fatal("snapshot build failed", "error", err.Error())
	}
	fmt.Printf("snapshot %s: %d rows, %d stale, %d with broker data, fallback=%v\n",
		rep.AsOf, rep.Rows, rep.StaleSymbols, rep.WithBroker, rep.Fallback)
}
