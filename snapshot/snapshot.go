package snapshot

import (
	"fmt"
	"sort"
	"time"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
	"idx-signals/observability"
)

// volMeanPeriods is the trailing window for the rolling volume mean that
// feeds vol_ratio. One period suffices to produce a value.
const volMeanPeriods = 20

// lagDepth is how many trading days back ret_1 and vol_ratio are lagged.
const lagDepth = 3

// NoSnapshotAvailableError indicates no snapshot exists at or before the
// requested date, so neither a build nor a fallback clone is possible.
type NoSnapshotAvailableError struct {
	Requested models.Date
}

func (e *NoSnapshotAvailableError) Error() string {
	return fmt.Sprintf("no snapshot available on or before %s", e.Requested)
}

// Report summarizes one snapshot build.
type Report struct {
	AsOf         models.Date `json:"as_of"`
	Rows         int         `json:"rows"`
	StaleSymbols int         `json:"stale_symbols"`
	WithBroker   int         `json:"with_broker"`
	Fallback     bool        `json:"fallback"`
	FallbackFrom models.Date `json:"fallback_from,omitempty"`
}

// Assembler builds the per-symbol feature snapshot for an as-of date
// from the persisted price and broker aggregate files.
type Assembler struct {
	cfg   *config.Config
	store *filestore.Store
}

// NewAssembler wires the snapshot assembler.
func NewAssembler(cfg *config.Config, store *filestore.Store) *Assembler {
	return &Assembler{cfg: cfg, store: store}
}

// Build assembles and persists the snapshot for asOf. When the trailing
// window holds no price files at all, the newest prior snapshot is cloned
// forward (dates rewritten, broker columns re-joined) so consumers always
// have a row set. With neither prices nor a prior snapshot,
// NoSnapshotAvailableError.
func (a *Assembler) Build(asOf models.Date, symbols []string) (*Report, error) {
	start := time.Now()
	metrics := observability.GetMetrics()

	var rows []models.SnapshotRow
	report := &Report{AsOf: asOf}

	history, filesSeen, err := a.loadWindow(asOf)
	if err != nil {
		metrics.RecordStageDuration("snapshot", "error", time.Since(start))
		return nil, err
	}

	if filesSeen > 0 {
		rows = AssembleRows(asOf, symbols, history)
	} else {
		prior, ok, err := a.store.FindSnapshotOnOrBefore(asOf.AddDays(-1))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &NoSnapshotAvailableError{Requested: asOf}
		}
		cloned, err := a.store.ReadSnapshot(prior)
		if err != nil {
			return nil, fmt.Errorf("read fallback snapshot %s: %w", prior, err)
		}
		rows = CloneForward(cloned, asOf)
		report.Fallback = true
		report.FallbackFrom = prior
		observability.Warn("no price files in window, cloning prior snapshot",
			"as_of", asOf.String(), "from", prior.String())
	}

	if err := a.joinBroker(rows, asOf); err != nil {
		return nil, err
	}
	finalize(rows, asOf)

	for i := range rows {
		if rows[i].IsMarketClosed.Valid && rows[i].IsMarketClosed.Bool {
			report.StaleSymbols++
		}
		if !rows[i].BrokerSourceDate.IsZero() {
			report.WithBroker++
		}
	}
	report.Rows = len(rows)

	if err := a.store.WriteSnapshot(asOf, rows); err != nil {
		metrics.RecordStageDuration("snapshot", "error", time.Since(start))
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	metrics.RecordSnapshot(asOf.String(), report.Rows, report.StaleSymbols, report.Fallback)
	metrics.RecordStageDuration("snapshot", "success", time.Since(start))
	observability.Info("snapshot build complete",
		"as_of", asOf.String(),
		"rows", report.Rows,
		"stale", report.StaleSymbols,
		"with_broker", report.WithBroker,
		"fallback", report.Fallback,
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

// Load returns the persisted snapshot for the requested date, falling
// back to the newest earlier one. A zero date means "latest".
func (a *Assembler) Load(requested models.Date) ([]models.SnapshotRow, models.Date, error) {
	date, ok, err := a.store.FindSnapshotOnOrBefore(requested)
	if err != nil {
		return nil, models.Date{}, err
	}
	if !ok {
		return nil, models.Date{}, &NoSnapshotAvailableError{Requested: requested}
	}
	rows, err := a.store.ReadSnapshot(date)
	if err != nil {
		return nil, models.Date{}, err
	}
	return rows, date, nil
}

// loadWindow reads every price file inside the snapshot window ending at
// asOf and returns per-symbol bars in ascending date order, plus the
// number of files found. Only bars backed by an observation (non-zero
// SourceDate) enter the history, but an all-absent file still counts as
// a file: the fallback clone is for windows with no files at all.
func (a *Assembler) loadWindow(asOf models.Date) (map[string][]models.PriceBar, int, error) {
	history := make(map[string][]models.PriceBar)
	filesSeen := 0
	for i := a.cfg.Pipeline.SnapshotWindowDays - 1; i >= 0; i-- {
		day := asOf.AddDays(-i)
		if !a.store.HasPrices(day) {
			continue
		}
		bars, err := a.store.ReadPrices(day)
		if err != nil {
			return nil, 0, fmt.Errorf("read prices %s: %w", day, err)
		}
		filesSeen++
		for _, bar := range bars {
			if bar.SourceDate.IsZero() {
				continue
			}
			history[bar.Symbol] = append(history[bar.Symbol], bar)
		}
	}
	for sym := range history {
		bars := history[sym]
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Time.Before(bars[j].Date.Time) })
		history[sym] = bars
	}
	return history, filesSeen, nil
}

// AssembleRows computes one feature row per registry symbol from its
// price history. All rolling and lag features are causal: the value at
// a date uses only bars at or before that date.
func AssembleRows(asOf models.Date, symbols []string, history map[string][]models.PriceBar) []models.SnapshotRow {
	rows := make([]models.SnapshotRow, 0, len(symbols))
	for _, symbol := range symbols {
		rows = append(rows, assembleSymbol(asOf, symbol, history[symbol]))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

func assembleSymbol(asOf models.Date, symbol string, bars []models.PriceBar) models.SnapshotRow {
	row := models.SnapshotRow{Symbol: symbol, Date: asOf}

	// Index of the latest bar at or before asOf.
	last := -1
	for i, bar := range bars {
		if !bar.Date.Time.After(asOf.Time) {
			last = i
		}
	}
	if last < 0 {
		return row
	}

	ret1 := make([]models.NullFloat, last+1)
	volRatio := make([]models.NullFloat, last+1)
	for i := 0; i <= last; i++ {
		ret1[i] = dailyReturn(bars, i)
		volRatio[i] = volumeRatio(bars, i)
	}

	anchor := bars[last]
	row.Close = anchor.Close
	row.Volume = anchor.Volume
	row.SourceDate = anchor.SourceDate
	row.Ret1 = ret1[last]
	row.VolRatio = volRatio[last]

	lagsR := [lagDepth]*models.NullFloat{&row.Ret1Lag1, &row.Ret1Lag2, &row.Ret1Lag3}
	lagsV := [lagDepth]*models.NullFloat{&row.VolRatioLag1, &row.VolRatioLag2, &row.VolRatioLag3}
	for lag := 1; lag <= lagDepth; lag++ {
		if idx := last - lag; idx >= 0 {
			*lagsR[lag-1] = ret1[idx]
			*lagsV[lag-1] = volRatio[idx]
		}
	}

	if row.Close.Valid {
		row.IsPriceLt500 = models.Bool(row.Close.Float64 < 500)
	}
	return row
}

// dailyReturn is close[i]/close[i-1] - 1, absent when either close is
// absent or the prior close is zero.
func dailyReturn(bars []models.PriceBar, i int) models.NullFloat {
	if i < 1 || !bars[i].Close.Valid || !bars[i-1].Close.Valid || bars[i-1].Close.Float64 == 0 {
		return models.NullFloat{}
	}
	return models.Float(bars[i].Close.Float64/bars[i-1].Close.Float64 - 1)
}

// volumeRatio is volume[i] over the trailing mean of up to volMeanPeriods
// present volumes ending at i (min one period). Absent when the bar has
// no volume or the mean is zero.
func volumeRatio(bars []models.PriceBar, i int) models.NullFloat {
	if !bars[i].Volume.Valid {
		return models.NullFloat{}
	}
	lo := i - volMeanPeriods + 1
	if lo < 0 {
		lo = 0
	}
	sum, n := 0.0, 0
	for j := lo; j <= i; j++ {
		if bars[j].Volume.Valid {
			sum += bars[j].Volume.Float64
			n++
		}
	}
	if n == 0 || sum == 0 {
		return models.NullFloat{}
	}
	mean := sum / float64(n)
	return models.Float(bars[i].Volume.Float64 / mean)
}

// CloneForward rewrites a prior snapshot to a new as-of date. Feature
// values carry over unchanged; broker columns are cleared for re-joining
// and age fields are recomputed by finalize.
func CloneForward(prior []models.SnapshotRow, asOf models.Date) []models.SnapshotRow {
	rows := make([]models.SnapshotRow, len(prior))
	copy(rows, prior)
	for i := range rows {
		rows[i].Date = asOf
		rows[i].BrokerSourceDate = models.Date{}
		rows[i].TotalNetValue = models.NullFloat{}
		rows[i].TopBuyer = models.NullString{}
		rows[i].TopBuyerNetValue = models.NullFloat{}
		rows[i].TopBuyerConcentration = models.NullFloat{}
		rows[i].NumBuyers = models.NullInt{}
		rows[i].NumSellers = models.NullInt{}
		rows[i].NumBrokers = models.NullInt{}
		rows[i].RetailBrokerRatio = models.NullFloat{}
	}
	return rows
}

// joinBroker left-joins the newest broker aggregate file whose rows have
// broker_source_date <= asOf. Symbols without an aggregate keep absent
// broker columns.
func (a *Assembler) joinBroker(rows []models.SnapshotRow, asOf models.Date) error {
	fileDate, ok, err := a.store.FindBrokerAggOnOrBefore(asOf)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	aggs, err := a.store.ReadBrokerAgg(fileDate)
	if err != nil {
		return fmt.Errorf("read broker aggregates %s: %w", fileDate, err)
	}

	bySymbol := make(map[string]models.BrokerDailyAggregate, len(aggs))
	for _, agg := range aggs {
		if agg.BrokerSourceDate.IsZero() || agg.BrokerSourceDate.Time.After(asOf.Time) {
			continue
		}
		bySymbol[agg.Symbol] = agg
	}

	for i := range rows {
		agg, found := bySymbol[rows[i].Symbol]
		if !found {
			continue
		}
		rows[i].BrokerSourceDate = agg.BrokerSourceDate
		rows[i].TotalNetValue = agg.TotalNetValue
		rows[i].TopBuyer = agg.TopBuyer
		rows[i].TopBuyerNetValue = agg.TopBuyerNetValue
		rows[i].TopBuyerConcentration = agg.TopBuyerConcentration
		rows[i].NumBuyers = models.Int(int64(agg.NumBuyers))
		rows[i].NumSellers = models.Int(int64(agg.NumSellers))
		rows[i].NumBrokers = models.Int(int64(agg.NumBrokers))
		rows[i].RetailBrokerRatio = agg.RetailBrokerRatio
	}
	return nil
}

// finalize computes the data-age columns. is_market_closed is set when
// the price observation predates the as-of date, i.e. the exchange did
// not print a bar that day.
func finalize(rows []models.SnapshotRow, asOf models.Date) {
	for i := range rows {
		if !rows[i].SourceDate.IsZero() {
			age := asOf.DaysSince(rows[i].SourceDate)
			rows[i].AgePriceDays = models.Int(int64(age))
			rows[i].IsMarketClosed = models.Bool(age > 0)
		}
		if !rows[i].BrokerSourceDate.IsZero() {
			rows[i].AgeBrokerDays = models.Int(int64(asOf.DaysSince(rows[i].BrokerSourceDate)))
		}
	}
}
