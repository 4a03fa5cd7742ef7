package ingest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
	"idx-signals/observability"
	"idx-signals/services"
)

// PriceSource serves daily bars for one symbol. Implementations wrap the
// vendor clients; the stage never sees transport details.
type PriceSource interface {
	Name() string
	History(ctx context.Context, symbol string, from, to models.Date) ([]models.PriceBar, error)
}

// Report summarizes one ingestion run.
type Report struct {
	AsOf        models.Date `json:"as_of"`
	Source      string      `json:"source"`
	Rows        int         `json:"rows"`
	ExactDate   int         `json:"exact_date"`
	FellBack    int         `json:"fell_back"`
	Missing     int         `json:"missing"`
	FetchErrors int         `json:"fetch_errors"`
	Skipped     bool        `json:"skipped"`
}

// Stage loads, cleans, and persists one day's prices for the whole
// ticker universe. The output file always has exactly one row per
// registry symbol, in symbol order; symbols with no usable data appear
// with absent values so downstream joins never lose cardinality.
type Stage struct {
	cfg     *config.Config
	store   *filestore.Store
	sources map[string]PriceSource
}

// NewStage wires the ingestion stage. sources maps source-hint names
// (e.g. "goapi", "alpaca") to clients; nil entries are skipped.
func NewStage(cfg *config.Config, store *filestore.Store, sources ...PriceSource) *Stage {
	byName := make(map[string]PriceSource, len(sources))
	for _, s := range sources {
		if s != nil {
			byName[s.Name()] = s
		}
	}
	return &Stage{cfg: cfg, store: store, sources: byName}
}

// skipHints are source values that mean "do not ingest today".
func skipHint(hint string) bool {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "-", "none", "skip":
		return true
	}
	return false
}

// Run ingests prices for asOf. sourceHint selects where bars come from:
// a skip sentinel, a CSV file path, a directory or glob of vendor CSVs,
// or a registered network source name. An empty hint uses the configured
// default.
func (s *Stage) Run(ctx context.Context, asOf models.Date, symbols []string, sourceHint string) (*Report, error) {
	start := time.Now()
	metrics := observability.GetMetrics()

	if sourceHint == "" {
		sourceHint = s.cfg.Pipeline.DefaultVendorSource
	}
	report := &Report{AsOf: asOf, Source: sourceHint}

	var bars []models.PriceBar
	var fetchErrors int

	if skipHint(sourceHint) {
		// The sentinel means "no source today", not "no file": the run
		// still writes a registry-complete price file of absent bars so
		// downstream stages keep their cardinality.
		report.Skipped = true
		observability.Info("price ingestion skipped, writing absent bars",
			"as_of", asOf.String(), "source", sourceHint)
	} else if src, ok := s.sources[strings.ToLower(strings.TrimSpace(sourceHint))]; ok {
		bars, fetchErrors = s.fetchNetwork(ctx, src, symbols, asOf)
	} else {
		path := filestore.PickLatestCSV(sourceHint)
		if path == "" {
			return nil, fmt.Errorf("price source %q matches no file, directory, or known vendor", sourceHint)
		}
		fileBars, err := readVendorFile(path)
		if err != nil {
			return nil, fmt.Errorf("read vendor file %s: %w", path, err)
		}
		bars = fileBars
	}
	report.FetchErrors = fetchErrors

	rows := Clean(bars, symbols, asOf)
	for _, row := range rows {
		switch {
		case row.SourceDate.IsZero():
			report.Missing++
		case row.SourceDate.Equal(asOf.Time):
			report.ExactDate++
		default:
			report.FellBack++
		}
	}
	report.Rows = len(rows)
	metrics.RecordIngestRow("ingest", "exact", report.ExactDate)
	metrics.RecordIngestRow("ingest", "fallback", report.FellBack)
	metrics.RecordIngestRow("ingest", "missing", report.Missing)

	if err := s.store.WritePrices(asOf, rows); err != nil {
		metrics.RecordStageDuration("ingest", "error", time.Since(start))
		return nil, fmt.Errorf("write prices: %w", err)
	}

	metrics.RecordStageDuration("ingest", "success", time.Since(start))
	observability.Info("price ingestion complete",
		"as_of", asOf.String(),
		"source", sourceHint,
		"rows", report.Rows,
		"exact", report.ExactDate,
		"fallback", report.FellBack,
		"missing", report.Missing,
		"fetch_errors", report.FetchErrors,
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

// fetchNetwork pulls each symbol's recent history concurrently. One
// symbol's failure never aborts the batch; it surfaces as a missing row
// and an error count.
func (s *Stage) fetchNetwork(ctx context.Context, src PriceSource, symbols []string, asOf models.Date) ([]models.PriceBar, int) {
	from := asOf.AddDays(-s.cfg.Pipeline.SnapshotWindowDays)
	results := make([][]models.PriceBar, len(symbols))
	var errCount atomic.Int64

	metrics := observability.GetMetrics()
	services.ForEachSymbol(ctx, symbols, s.cfg.Fetch.MaxWorkers, func(ctx context.Context, idx int, symbol string) {
		bars, err := src.History(ctx, symbol, from, asOf)
		if err != nil {
			errCount.Add(1)
			metrics.RecordFetchError("ingest")
			observability.Warn("price fetch failed",
				"source", src.Name(), "symbol", symbol, "error", err.Error())
			return
		}
		results[idx] = bars
	})

	var all []models.PriceBar
	for _, bars := range results {
		all = append(all, bars...)
	}
	return all, int(errCount.Load())
}

// readVendorFile reads one vendor CSV with tolerant column resolution.
// Rows without a resolvable symbol are dropped.
func readVendorFile(path string) ([]models.PriceBar, error) {
	header, rows, err := filestore.ReadCSVTable(path)
	if err != nil {
		return nil, err
	}

	symIdx, ok := filestore.ResolveColumn(header,
		"symbol", "ticker", "code", "kode", "kodesaham", "emiten", "kodeemiten", "stock")
	if !ok {
		return nil, fmt.Errorf("vendor file %s has no recognizable symbol column", path)
	}
	dateIdx, hasDate := filestore.ResolveColumn(header, "date", "tanggal", "tgl")
	closeIdx, hasClose := filestore.ResolveColumn(header,
		"close", "harga", "price", "last", "close_price", "closeprice")
	volIdx, hasVol := filestore.ResolveColumn(header, "volume", "vol")

	var bars []models.PriceBar
	for _, row := range rows {
		symbol := filestore.NormalizeSymbol(cell(row, symIdx))
		if symbol == "" {
			continue
		}
		bar := models.PriceBar{Symbol: symbol}
		if hasDate {
			bar.Date = models.ParseDate(cell(row, dateIdx))
		}
		if bar.Date.IsZero() {
			// Dateless vendor dumps are taken as "file date applies";
			// the file's mtime day stands in for the observation date.
			if info, err := os.Stat(path); err == nil {
				bar.Date = models.Day(info.ModTime())
			}
		}
		bar.SourceDate = bar.Date
		if hasClose {
			bar.Close = models.NullFloatFrom(cell(row, closeIdx))
		}
		if hasVol {
			bar.Volume = models.NullFloatFrom(cell(row, volIdx))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// Clean normalizes raw bars into exactly one row per registry symbol for
// the as-of date:
//   - non-positive closes become absent, negative volumes become zero
//   - duplicate (symbol, date) bars collapse to the last non-absent close,
//     with volume summed when any duplicate carries one
//   - each symbol keeps its exact as-of bar when present, otherwise its
//     latest earlier bar, with SourceDate recording the observation day
//   - registry symbols with no usable bar appear with absent values
func Clean(raw []models.PriceBar, symbols []string, asOf models.Date) []models.PriceBar {
	type key struct {
		symbol string
		date   string
	}

	collapsed := make(map[key]models.PriceBar)
	order := make(map[string][]models.Date)
	for _, bar := range raw {
		if bar.Symbol == "" || bar.Date.IsZero() || bar.Date.Time.After(asOf.Time) {
			continue
		}

		// Scrub before collapsing so a garbage duplicate cannot win.
		if bar.Close.Valid && bar.Close.Float64 <= 0 {
			bar.Close = models.NullFloat{}
		}
		if bar.Volume.Valid && bar.Volume.Float64 < 0 {
			bar.Volume = models.Float(0)
		}

		k := key{symbol: bar.Symbol, date: bar.Date.String()}
		prev, exists := collapsed[k]
		if !exists {
			if bar.SourceDate.IsZero() {
				bar.SourceDate = bar.Date
			}
			collapsed[k] = bar
			order[bar.Symbol] = append(order[bar.Symbol], bar.Date)
			continue
		}

		if bar.Close.Valid {
			prev.Close = bar.Close
		}
		if bar.Volume.Valid {
			if prev.Volume.Valid {
				prev.Volume = models.Float(prev.Volume.Float64 + bar.Volume.Float64)
			} else {
				prev.Volume = bar.Volume
			}
		}
		collapsed[k] = prev
	}

	out := make([]models.PriceBar, 0, len(symbols))
	for _, symbol := range symbols {
		dates := order[symbol]
		sort.Slice(dates, func(i, j int) bool { return dates[i].Time.Before(dates[j].Time) })

		row := models.PriceBar{Symbol: symbol, Date: asOf}
		// Latest bar at or before asOf wins; exact match is just the
		// degenerate case where SourceDate == asOf.
		for i := len(dates) - 1; i >= 0; i-- {
			bar := collapsed[key{symbol: symbol, date: dates[i].String()}]
			if !bar.Close.Valid && !bar.Volume.Valid {
				continue
			}
			row.Close = bar.Close
			row.Volume = bar.Volume
			row.SourceDate = dates[i]
			break
		}
		out = append(out, row)
	}
	return out
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
