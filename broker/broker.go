package broker

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
	"idx-signals/observability"
	"idx-signals/services"
)

// FlowFetcher serves per-broker signed net flow for one symbol and day.
type FlowFetcher interface {
	Name() string
	BrokerSummary(ctx context.Context, symbol string, date models.Date) ([]models.BrokerFlowRecord, error)
}

// IsRetail classifies a broker code as retail-oriented. The hook exists
// so the retail_broker_ratio column has a home once a broker taxonomy is
// sourced; until then every code classifies as institutional and the
// ratio stays zero.
var IsRetail = func(brokerCode string) bool { return false }

// Report summarizes one broker aggregation run.
type Report struct {
	RequestedDate models.Date `json:"requested_date"`
	EffectiveDate models.Date `json:"effective_date"`
	Rows          int         `json:"rows"`
	FetchErrors   int         `json:"fetch_errors"`
	EmptySymbols  int         `json:"empty_symbols"`
}

// Stage fetches broker flow for the universe and writes one aggregate
// row per symbol that had any flow. The output file is named by the
// requested date; each row records the broker source date actually used.
type Stage struct {
	cfg     *config.Config
	store   *filestore.Store
	fetcher FlowFetcher
}

// NewStage wires the broker aggregation stage.
func NewStage(cfg *config.Config, store *filestore.Store, fetcher FlowFetcher) *Stage {
	return &Stage{cfg: cfg, store: store, fetcher: fetcher}
}

// Run aggregates broker flow for the requested date. The effective fetch
// date is resolved from the most recent price file's dominant source
// date, so weekends and holidays query the last trading day instead of
// returning nothing.
func (s *Stage) Run(ctx context.Context, requested models.Date, symbols []string) (*Report, error) {
	start := time.Now()
	metrics := observability.GetMetrics()

	if s.fetcher == nil {
		return nil, fmt.Errorf("no broker flow source configured")
	}

	effective := s.ResolveEffectiveDate(requested)
	report := &Report{RequestedDate: requested, EffectiveDate: effective}

	results := make([][]models.BrokerFlowRecord, len(symbols))
	var errCount atomic.Int64

	services.ForEachSymbol(ctx, symbols, s.cfg.Fetch.MaxWorkers, func(ctx context.Context, idx int, symbol string) {
		records, err := s.fetcher.BrokerSummary(ctx, symbol, effective)
		if err != nil {
			errCount.Add(1)
			metrics.RecordFetchError("broker_agg")
			observability.Warn("broker summary fetch failed",
				"source", s.fetcher.Name(), "symbol", symbol,
				"date", effective.String(), "error", err.Error())
			return
		}
		results[idx] = records
	})
	report.FetchErrors = int(errCount.Load())

	aggs := make([]models.BrokerDailyAggregate, 0, len(symbols))
	for i, symbol := range symbols {
		if len(results[i]) == 0 {
			report.EmptySymbols++
			continue
		}
		aggs = append(aggs, Aggregate(symbol, effective, results[i]))
	}
	report.Rows = len(aggs)

	if err := s.store.WriteBrokerAgg(requested, aggs); err != nil {
		metrics.RecordStageDuration("broker_agg", "error", time.Since(start))
		return nil, fmt.Errorf("write broker aggregates: %w", err)
	}

	metrics.RecordStageDuration("broker_agg", "success", time.Since(start))
	observability.Info("broker aggregation complete",
		"requested", requested.String(),
		"effective", effective.String(),
		"rows", report.Rows,
		"empty_symbols", report.EmptySymbols,
		"fetch_errors", report.FetchErrors,
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

// ResolveEffectiveDate scans back from the requested date through the
// configured lookback window for the newest price file, and returns the
// most common source date inside it. No price file in the window means
// the requested date is used as-is.
func (s *Stage) ResolveEffectiveDate(requested models.Date) models.Date {
	for i := 0; i < s.cfg.Pipeline.BrokerLookbackDays; i++ {
		day := requested.AddDays(-i)
		if !s.store.HasPrices(day) {
			continue
		}
		bars, err := s.store.ReadPrices(day)
		if err != nil {
			observability.Warn("unreadable price file during effective date scan",
				"date", day.String(), "error", err.Error())
			continue
		}
		if mode, ok := dominantSourceDate(bars); ok {
			return mode
		}
	}
	return requested
}

// dominantSourceDate returns the most frequent non-zero source date.
// Ties break to the later date, since a fresher observation is the safer
// anchor for "the last trading day".
func dominantSourceDate(bars []models.PriceBar) (models.Date, bool) {
	counts := make(map[string]int)
	for _, b := range bars {
		if !b.SourceDate.IsZero() {
			counts[b.SourceDate.String()]++
		}
	}
	if len(counts) == 0 {
		return models.Date{}, false
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, k := range keys {
		if counts[k] >= bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return models.ParseDate(best), true
}

// Aggregate reduces one symbol's flow records for a day into its daily
// aggregate. Duplicate rows for the same broker are summed first, then:
//   - brokers with positive net count as buyers, negative as sellers;
//     exactly-zero net counts as neither (but still as a broker)
//   - the top buyer is chosen among net buyers only, ties broken by
//     broker code, and its concentration is its share of all net buying
//   - with no net buyer, top buyer fields are absent
func Aggregate(symbol string, sourceDate models.Date, records []models.BrokerFlowRecord) models.BrokerDailyAggregate {
	perBroker := make(map[string]decimal.Decimal)
	for _, rec := range records {
		if rec.Broker == "" {
			continue
		}
		perBroker[rec.Broker] = perBroker[rec.Broker].Add(rec.NetValue)
	}

	brokers := make([]string, 0, len(perBroker))
	for code := range perBroker {
		brokers = append(brokers, code)
	}
	sort.Strings(brokers)

	agg := models.BrokerDailyAggregate{
		Symbol:           symbol,
		BrokerSourceDate: sourceDate,
	}

	total := decimal.Zero
	buyTotal := decimal.Zero
	retail := 0
	var topBuyer string
	var topBuyerNet decimal.Decimal

	for _, code := range brokers {
		net := perBroker[code]
		total = total.Add(net)
		agg.NumBrokers++
		if IsRetail(code) {
			retail++
		}

		switch net.Sign() {
		case 1:
			agg.NumBuyers++
			buyTotal = buyTotal.Add(net)
			if topBuyer == "" || net.GreaterThan(topBuyerNet) {
				topBuyer, topBuyerNet = code, net
			}
		case -1:
			agg.NumSellers++
		}
	}

	totalF, _ := total.Float64()
	agg.TotalNetValue = models.Float(totalF)

	if topBuyer != "" {
		agg.TopBuyer = models.Str(topBuyer)
		netF, _ := topBuyerNet.Float64()
		agg.TopBuyerNetValue = models.Float(netF)
		if buyTotal.Sign() > 0 {
			concF, _ := topBuyerNet.Div(buyTotal).Float64()
			agg.TopBuyerConcentration = models.Float(clamp01(concF))
		}
	}

	if agg.NumBrokers > 0 {
		agg.RetailBrokerRatio = models.Float(float64(retail) / float64(agg.NumBrokers))
	}
	return agg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
