package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
)

func bar(symbol, date string, close, volume float64) models.PriceBar {
	d := models.ParseDate(date)
	return models.PriceBar{
		Symbol:     symbol,
		Date:       d,
		SourceDate: d,
		Close:      models.Float(close),
		Volume:     models.Float(volume),
	}
}

func TestClean_ScrubsGarbageValues(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	raw := []models.PriceBar{
		bar("BBCA", "2025-06-02", -50, 1000),  // non-positive close
		bar("TLKM", "2025-06-02", 3010, -200), // negative volume
	}

	rows := Clean(raw, []string{"BBCA", "TLKM"}, asOf)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Close.Valid {
		t.Errorf("non-positive close should become absent: %+v", rows[0].Close)
	}
	if !rows[1].Volume.Valid || rows[1].Volume.Float64 != 0 {
		t.Errorf("negative volume should clamp to zero: %+v", rows[1].Volume)
	}
}

func TestClean_CollapsesDuplicates(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	first := bar("BBCA", "2025-06-02", 9000, 500)
	second := bar("BBCA", "2025-06-02", 9100, 300)
	third := models.PriceBar{ // absent close, volume only
		Symbol: "BBCA", Date: asOf, SourceDate: asOf,
		Volume: models.Float(200),
	}

	rows := Clean([]models.PriceBar{first, second, third}, []string{"BBCA"}, asOf)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	// Last non-absent close wins; volumes sum across all duplicates that
	// carried one.
	if rows[0].Close.Or(0) != 9100 {
		t.Errorf("close = %v, want 9100", rows[0].Close.Or(0))
	}
	if rows[0].Volume.Or(0) != 1000 {
		t.Errorf("volume = %v, want 1000", rows[0].Volume.Or(0))
	}
}

func TestClean_ExactDateBeatsFallback(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	raw := []models.PriceBar{
		bar("BBCA", "2025-05-30", 9000, 100),
		bar("BBCA", "2025-06-02", 9100, 200),
		bar("TLKM", "2025-05-30", 3000, 50), // no exact bar
	}

	rows := Clean(raw, []string{"BBCA", "TLKM"}, asOf)

	if rows[0].SourceDate.String() != "2025-06-02" || rows[0].Close.Or(0) != 9100 {
		t.Errorf("exact bar should win: %+v", rows[0])
	}
	if rows[1].SourceDate.String() != "2025-05-30" || rows[1].Close.Or(0) != 3000 {
		t.Errorf("latest earlier bar should back-fill: %+v", rows[1])
	}
	if !rows[1].Date.Equal(asOf.Time) {
		t.Errorf("row date must stay the as-of date: %s", rows[1].Date)
	}
}

func TestClean_IgnoresFutureBars(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	rows := Clean([]models.PriceBar{bar("BBCA", "2025-06-03", 9200, 100)}, []string{"BBCA"}, asOf)
	if rows[0].Close.Valid || !rows[0].SourceDate.IsZero() {
		t.Errorf("future bar must not back-fill: %+v", rows[0])
	}
}

func TestClean_RegistryCardinality(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	symbols := []string{"AAAA", "BBCA", "ZZZZ"}
	rows := Clean([]models.PriceBar{bar("BBCA", "2025-06-02", 9100, 100)}, symbols, asOf)

	if len(rows) != len(symbols) {
		t.Fatalf("expected one row per registry symbol, got %d", len(rows))
	}
	for i, symbol := range symbols {
		if rows[i].Symbol != symbol {
			t.Errorf("row %d symbol %q, want %q", i, rows[i].Symbol, symbol)
		}
	}
	if rows[0].Close.Valid || rows[2].Close.Valid {
		t.Error("symbols without data should have absent values")
	}
}

type fakeSource struct {
	name string
	fn   func(symbol string) ([]models.PriceBar, error)
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) History(ctx context.Context, symbol string, from, to models.Date) ([]models.PriceBar, error) {
	return f.fn(symbol)
}

func newTestStage(t *testing.T, sources ...PriceSource) (*Stage, *filestore.Store) {
	t.Helper()
	cfg := config.NewTestConfig()
	store, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewStage(cfg, store, sources...), store
}

func TestStage_NetworkRunAbsorbsOneFailure(t *testing.T) {
	asOf := models.ParseDate("2025-06-02")
	symbols := make([]string, 50)
	for i := range symbols {
		symbols[i] = "S" + string(rune('A'+i/26)) + string(rune('A'+i%26))
	}
	failing := symbols[17]

	src := &fakeSource{name: "goapi", fn: func(symbol string) ([]models.PriceBar, error) {
		if symbol == failing {
			return nil, errors.New("vendor timeout")
		}
		return []models.PriceBar{bar(symbol, "2025-06-02", 1000, 100)}, nil
	}}
	stage, store := newTestStage(t, src)

	rep, err := stage.Run(context.Background(), asOf, symbols, "goapi")
	if err != nil {
		t.Fatalf("one symbol's failure must not fail the run: %v", err)
	}
	if rep.Rows != 50 {
		t.Errorf("rows = %d, want 50", rep.Rows)
	}
	if rep.FetchErrors != 1 {
		t.Errorf("fetch errors = %d, want 1", rep.FetchErrors)
	}
	if rep.Missing != 1 || rep.ExactDate != 49 {
		t.Errorf("missing=%d exact=%d, want 1/49", rep.Missing, rep.ExactDate)
	}

	bars, err := store.ReadPrices(asOf)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 50 {
		t.Fatalf("persisted rows = %d", len(bars))
	}
	for _, b := range bars {
		if b.Symbol == failing && b.Close.Valid {
			t.Error("failed symbol should persist with absent values")
		}
	}
}

func TestStage_SkipSentinel(t *testing.T) {
	stage, store := newTestStage(t)
	asOf := models.ParseDate("2025-06-02")
	symbols := []string{"BBCA", "TLKM"}

	rep, err := stage.Run(context.Background(), asOf, symbols, "-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rep.Skipped {
		t.Error("skip sentinel should mark the run skipped")
	}
	if rep.Rows != 2 || rep.Missing != 2 {
		t.Errorf("report: %+v", rep)
	}

	// The run still produces a registry-complete price file, every row
	// fully absent.
	if !store.HasPrices(asOf) {
		t.Fatal("skipped run must still write the price file")
	}
	bars, err := store.ReadPrices(asOf)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != len(symbols) {
		t.Fatalf("persisted rows = %d, want %d", len(bars), len(symbols))
	}
	for _, b := range bars {
		if b.Close.Valid || b.Volume.Valid || !b.SourceDate.IsZero() {
			t.Errorf("row must be absent: %+v", b)
		}
	}
}

func TestStage_FileSource(t *testing.T) {
	stage, store := newTestStage(t)
	asOf := models.ParseDate("2025-06-02")

	path := filepath.Join(t.TempDir(), "vendor.csv")
	content := "Kode Saham,Tanggal,Harga,Vol\nBBCA.JK,2025-06-02,9100,1000\nTLKM,2025-06-02,3010,500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := stage.Run(context.Background(), asOf, []string{"BBCA", "TLKM", "ZZZZ"}, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Rows != 3 || rep.ExactDate != 2 || rep.Missing != 1 {
		t.Errorf("report: %+v", rep)
	}

	bars, err := store.ReadPrices(asOf)
	if err != nil {
		t.Fatal(err)
	}
	if bars[0].Symbol != "BBCA" || bars[0].Close.Or(0) != 9100 {
		t.Errorf("vendor aliases not applied: %+v", bars[0])
	}
}

func TestStage_UnresolvableSource(t *testing.T) {
	stage, _ := newTestStage(t)
	_, err := stage.Run(context.Background(), models.ParseDate("2025-06-02"),
		[]string{"BBCA"}, filepath.Join(t.TempDir(), "absent_*.csv"))
	if err == nil {
		t.Fatal("expected error for unresolvable source hint")
	}
}
