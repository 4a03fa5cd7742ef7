package filestore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"idx-signals/models"
)

// File name prefixes for the three date-stamped artifact kinds.
const (
	pricesPrefix    = "prices_"
	brokerAggPrefix = "broker_agg_"
	snapshotPrefix  = "daily_snapshot_"
	csvExt          = ".csv"
)

var pricesHeader = []string{"symbol", "date", "close", "volume", "source_date"}

var brokerAggHeader = []string{
	"symbol", "broker_source_date", "total_net_value",
	"top_buyer", "top_buyer_concentration", "top_buyer_net_value",
	"num_buyers", "num_sellers", "num_brokers", "retail_broker_ratio",
}

var snapshotHeader = []string{
	"symbol", "date", "source_date", "close", "volume",
	"ret_1", "vol_ratio",
	"ret_1_lag1", "ret_1_lag2", "ret_1_lag3",
	"vol_ratio_lag1", "vol_ratio_lag2", "vol_ratio_lag3",
	"is_price_lt_500",
	"broker_source_date", "total_net_value",
	"top_buyer", "top_buyer_concentration", "top_buyer_net_value",
	"num_buyers", "num_sellers", "num_brokers", "retail_broker_ratio",
	"age_price_days", "age_broker_days", "is_market_closed",
}

// Store persists the pipeline's date-stamped CSV artifacts under one
// data directory. Files are written atomically (temp file + rename) and
// never mutated afterwards, so concurrent readers are always safe.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the data directory path.
func (s *Store) Dir() string { return s.dir }

// PricesPath returns the price file path for a date.
func (s *Store) PricesPath(d models.Date) string {
	return filepath.Join(s.dir, pricesPrefix+d.String()+csvExt)
}

// BrokerAggPath returns the broker aggregate file path for a date.
func (s *Store) BrokerAggPath(d models.Date) string {
	return filepath.Join(s.dir, brokerAggPrefix+d.String()+csvExt)
}

// SnapshotPath returns the snapshot file path for a date.
func (s *Store) SnapshotPath(d models.Date) string {
	return filepath.Join(s.dir, snapshotPrefix+d.String()+csvExt)
}

// HasPrices reports whether a price file exists for the date.
func (s *Store) HasPrices(d models.Date) bool {
	_, err := os.Stat(s.PricesPath(d))
	return err == nil
}

// WritePrices writes the registry-complete price rows for an as-of date.
func (s *Store) WritePrices(asOf models.Date, bars []models.PriceBar) error {
	records := make([][]string, 0, len(bars))
	for _, b := range bars {
		records = append(records, []string{
			b.Symbol,
			b.Date.String(),
			b.Close.String(),
			b.Volume.String(),
			b.SourceDate.String(),
		})
	}
	return s.writeCSV(s.PricesPath(asOf), pricesHeader, records)
}

// ReadPrices reads the price file for a date. Missing files surface as
// os.ErrNotExist so callers can distinguish "no trading day" from
// corruption.
func (s *Store) ReadPrices(asOf models.Date) ([]models.PriceBar, error) {
	header, rows, err := s.readCSV(s.PricesPath(asOf))
	if err != nil {
		return nil, err
	}

	symIdx, ok := ResolveColumn(header, "symbol", "kode", "ticker", "code", "emiten")
	if !ok {
		return nil, fmt.Errorf("price file for %s has no symbol column", asOf)
	}
	dateIdx, _ := ResolveColumn(header, "date", "tanggal", "tgl")
	closeIdx, hasClose := ResolveColumn(header, "close", "harga", "price", "last")
	volIdx, hasVol := ResolveColumn(header, "volume", "vol")
	srcIdx, hasSrc := ResolveColumn(header, "source_date", "sourcedate")

	bars := make([]models.PriceBar, 0, len(rows))
	for _, row := range rows {
		bar := models.PriceBar{
			Symbol: NormalizeSymbol(cell(row, symIdx)),
			Date:   models.ParseDate(cell(row, dateIdx)),
		}
		if bar.Symbol == "" {
			continue
		}
		if hasClose {
			bar.Close = models.NullFloatFrom(cell(row, closeIdx))
		}
		if hasVol {
			bar.Volume = models.NullFloatFrom(cell(row, volIdx))
		}
		if hasSrc {
			bar.SourceDate = models.ParseDate(cell(row, srcIdx))
		}
		if bar.SourceDate.IsZero() && bar.Close.Valid {
			bar.SourceDate = bar.Date
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// WriteBrokerAgg writes broker aggregates under the requested date's
// file name. Rows carry their own broker_source_date, which may differ.
func (s *Store) WriteBrokerAgg(requested models.Date, aggs []models.BrokerDailyAggregate) error {
	records := make([][]string, 0, len(aggs))
	for _, a := range aggs {
		topBuyer := ""
		if a.TopBuyer.Valid {
			topBuyer = a.TopBuyer.String
		}
		records = append(records, []string{
			a.Symbol,
			a.BrokerSourceDate.String(),
			a.TotalNetValue.String(),
			topBuyer,
			a.TopBuyerConcentration.String(),
			a.TopBuyerNetValue.String(),
			fmt.Sprintf("%d", a.NumBuyers),
			fmt.Sprintf("%d", a.NumSellers),
			fmt.Sprintf("%d", a.NumBrokers),
			a.RetailBrokerRatio.String(),
		})
	}
	return s.writeCSV(s.BrokerAggPath(requested), brokerAggHeader, records)
}

// ReadBrokerAgg reads the broker aggregate file written under a
// requested date.
func (s *Store) ReadBrokerAgg(requested models.Date) ([]models.BrokerDailyAggregate, error) {
	header, rows, err := s.readCSV(s.BrokerAggPath(requested))
	if err != nil {
		return nil, err
	}

	col := func(names ...string) int {
		idx, ok := ResolveColumn(header, names...)
		if !ok {
			return -1
		}
		return idx
	}
	symIdx := col("symbol")
	if symIdx < 0 {
		return nil, fmt.Errorf("broker aggregate file for %s has no symbol column", requested)
	}
	srcIdx := col("broker_source_date", "date")
	totalIdx := col("total_net_value")
	buyerIdx := col("top_buyer")
	concIdx := col("top_buyer_concentration")
	buyerNetIdx := col("top_buyer_net_value")
	nbIdx := col("num_buyers")
	nsIdx := col("num_sellers")
	nkIdx := col("num_brokers")
	retailIdx := col("retail_broker_ratio")

	aggs := make([]models.BrokerDailyAggregate, 0, len(rows))
	for _, row := range rows {
		symbol := NormalizeSymbol(cell(row, symIdx))
		if symbol == "" {
			continue
		}
		agg := models.BrokerDailyAggregate{
			Symbol:                symbol,
			BrokerSourceDate:      models.ParseDate(cell(row, srcIdx)),
			TotalNetValue:         models.NullFloatFrom(cell(row, totalIdx)),
			TopBuyer:              models.Str(strings.TrimSpace(cell(row, buyerIdx))),
			TopBuyerConcentration: models.NullFloatFrom(cell(row, concIdx)),
			TopBuyerNetValue:      models.NullFloatFrom(cell(row, buyerNetIdx)),
			RetailBrokerRatio:     models.NullFloatFrom(cell(row, retailIdx)),
		}
		agg.NumBuyers = int(models.NullIntFrom(cell(row, nbIdx)).Int64)
		agg.NumSellers = int(models.NullIntFrom(cell(row, nsIdx)).Int64)
		agg.NumBrokers = int(models.NullIntFrom(cell(row, nkIdx)).Int64)
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

// WriteSnapshot writes one as-of date's snapshot rows in the fixed
// column order. Rows are sorted by symbol first so re-runs with the same
// inputs produce byte-identical files.
func (s *Store) WriteSnapshot(asOf models.Date, rows []models.SnapshotRow) error {
	sorted := make([]models.SnapshotRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	records := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		topBuyer := ""
		if r.TopBuyer.Valid {
			topBuyer = r.TopBuyer.String
		}
		records = append(records, []string{
			r.Symbol,
			r.Date.String(),
			r.SourceDate.String(),
			r.Close.String(),
			r.Volume.String(),
			r.Ret1.String(),
			r.VolRatio.String(),
			r.Ret1Lag1.String(),
			r.Ret1Lag2.String(),
			r.Ret1Lag3.String(),
			r.VolRatioLag1.String(),
			r.VolRatioLag2.String(),
			r.VolRatioLag3.String(),
			r.IsPriceLt500.String(),
			r.BrokerSourceDate.String(),
			r.TotalNetValue.String(),
			topBuyer,
			r.TopBuyerConcentration.String(),
			r.TopBuyerNetValue.String(),
			r.NumBuyers.String(),
			r.NumSellers.String(),
			r.NumBrokers.String(),
			r.RetailBrokerRatio.String(),
			r.AgePriceDays.String(),
			r.AgeBrokerDays.String(),
			r.IsMarketClosed.String(),
		})
	}
	return s.writeCSV(s.SnapshotPath(asOf), snapshotHeader, records)
}

// ReadSnapshot reads one as-of date's snapshot rows.
func (s *Store) ReadSnapshot(asOf models.Date) ([]models.SnapshotRow, error) {
	header, rows, err := s.readCSV(s.SnapshotPath(asOf))
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[NormalizeHeader(h)] = i
	}
	get := func(row []string, name string) string {
		i, ok := idx[NormalizeHeader(name)]
		if !ok {
			return ""
		}
		return cell(row, i)
	}

	out := make([]models.SnapshotRow, 0, len(rows))
	for _, row := range rows {
		symbol := NormalizeSymbol(get(row, "symbol"))
		if symbol == "" {
			continue
		}
		r := models.SnapshotRow{
			Symbol:                symbol,
			Date:                  models.ParseDate(get(row, "date")),
			SourceDate:            models.ParseDate(get(row, "source_date")),
			Close:                 models.NullFloatFrom(get(row, "close")),
			Volume:                models.NullFloatFrom(get(row, "volume")),
			Ret1:                  models.NullFloatFrom(get(row, "ret_1")),
			VolRatio:              models.NullFloatFrom(get(row, "vol_ratio")),
			Ret1Lag1:              models.NullFloatFrom(get(row, "ret_1_lag1")),
			Ret1Lag2:              models.NullFloatFrom(get(row, "ret_1_lag2")),
			Ret1Lag3:              models.NullFloatFrom(get(row, "ret_1_lag3")),
			VolRatioLag1:          models.NullFloatFrom(get(row, "vol_ratio_lag1")),
			VolRatioLag2:          models.NullFloatFrom(get(row, "vol_ratio_lag2")),
			VolRatioLag3:          models.NullFloatFrom(get(row, "vol_ratio_lag3")),
			IsPriceLt500:          models.NullBoolFrom(get(row, "is_price_lt_500")),
			BrokerSourceDate:      models.ParseDate(get(row, "broker_source_date")),
			TotalNetValue:         models.NullFloatFrom(get(row, "total_net_value")),
			TopBuyer:              models.Str(strings.TrimSpace(get(row, "top_buyer"))),
			TopBuyerConcentration: models.NullFloatFrom(get(row, "top_buyer_concentration")),
			TopBuyerNetValue:      models.NullFloatFrom(get(row, "top_buyer_net_value")),
			NumBuyers:             models.NullIntFrom(get(row, "num_buyers")),
			NumSellers:            models.NullIntFrom(get(row, "num_sellers")),
			NumBrokers:            models.NullIntFrom(get(row, "num_brokers")),
			AgePriceDays:          models.NullIntFrom(get(row, "age_price_days")),
			AgeBrokerDays:         models.NullIntFrom(get(row, "age_broker_days")),
			IsMarketClosed:        models.NullBoolFrom(get(row, "is_market_closed")),
			RetailBrokerRatio:     models.NullFloatFrom(get(row, "retail_broker_ratio")),
		}
		out = append(out, r)
	}
	return out, nil
}

// datesWithPrefix lists the dates of existing artifacts of one kind,
// ascending.
func (s *Store) datesWithPrefix(prefix string) ([]models.Date, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}
	var dates []models.Date
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, csvExt) {
			continue
		}
		d := models.ParseDate(strings.TrimSuffix(strings.TrimPrefix(name, prefix), csvExt))
		if !d.IsZero() {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Time.Before(dates[j].Time) })
	return dates, nil
}

// findOnOrBefore returns the newest artifact date <= target, if any.
func (s *Store) findOnOrBefore(prefix string, target models.Date) (models.Date, bool, error) {
	dates, err := s.datesWithPrefix(prefix)
	if err != nil {
		return models.Date{}, false, err
	}
	var found models.Date
	ok := false
	for _, d := range dates {
		if target.IsZero() || !d.Time.After(target.Time) {
			found, ok = d, true
		}
	}
	return found, ok, nil
}

// FindBrokerAggOnOrBefore returns the newest broker aggregate file date
// at or before target. A zero target means "latest available".
func (s *Store) FindBrokerAggOnOrBefore(target models.Date) (models.Date, bool, error) {
	return s.findOnOrBefore(brokerAggPrefix, target)
}

// FindSnapshotOnOrBefore returns the newest snapshot file date at or
// before target. A zero target means "latest available".
func (s *Store) FindSnapshotOnOrBefore(target models.Date) (models.Date, bool, error) {
	return s.findOnOrBefore(snapshotPrefix, target)
}

// SnapshotDates lists every snapshot date, ascending.
func (s *Store) SnapshotDates() ([]models.Date, error) {
	return s.datesWithPrefix(snapshotPrefix)
}

// PickLatestCSV resolves a vendor source hint to a concrete CSV path:
// an existing file is used as-is; a directory yields its most recently
// modified CSV; anything else is treated as a glob pattern. Returns ""
// when nothing matches.
func PickLatestCSV(hint string) string {
	if hint == "" {
		return ""
	}

	if info, err := os.Stat(hint); err == nil && !info.IsDir() {
		return hint
	}

	var candidates []string
	if info, err := os.Stat(hint); err == nil && info.IsDir() {
		matches, _ := filepath.Glob(filepath.Join(hint, "*"+csvExt))
		candidates = matches
	} else {
		matches, _ := filepath.Glob(hint)
		candidates = matches
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		fi, erri := os.Stat(candidates[i])
		fj, errj := os.Stat(candidates[j])
		if erri != nil || errj != nil {
			return candidates[i] > candidates[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return candidates[0]
}

// ReadCSVTable reads any CSV file into its header and rows. Used by the
// registry and vendor readers, which resolve columns themselves.
func ReadCSVTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

func (s *Store) readCSV(path string) ([]string, [][]string, error) {
	return ReadCSVTable(path)
}

func (s *Store) writeCSV(path string, header []string, records [][]string) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write records: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
