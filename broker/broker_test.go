package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
)

func flow(broker string, net float64) models.BrokerFlowRecord {
	return models.BrokerFlowRecord{
		Symbol:   "BBCA",
		Date:     models.ParseDate("2025-06-02"),
		Broker:   broker,
		NetValue: decimal.NewFromFloat(net),
	}
}

func TestAggregate_BasicCounts(t *testing.T) {
	date := models.ParseDate("2025-06-02")
	agg := Aggregate("BBCA", date, []models.BrokerFlowRecord{
		flow("YP", 1000),
		flow("AK", 500),
		flow("PD", -400),
		flow("CC", 0), // zero net: a broker, but neither buyer nor seller
	})

	if agg.NumBuyers != 2 || agg.NumSellers != 1 || agg.NumBrokers != 4 {
		t.Errorf("counts: buyers=%d sellers=%d brokers=%d", agg.NumBuyers, agg.NumSellers, agg.NumBrokers)
	}
	if agg.TotalNetValue.Or(0) != 1100 {
		t.Errorf("total = %v", agg.TotalNetValue.Or(0))
	}
	if agg.TopBuyer.String != "YP" {
		t.Errorf("top buyer = %+v", agg.TopBuyer)
	}
	if agg.TopBuyerNetValue.Or(0) != 1000 {
		t.Errorf("top buyer net = %v", agg.TopBuyerNetValue.Or(0))
	}
	// 1000 of 1500 total buying
	want := 1000.0 / 1500.0
	if got := agg.TopBuyerConcentration.Or(0); got < want-1e-9 || got > want+1e-9 {
		t.Errorf("concentration = %v, want %v", got, want)
	}
	if agg.BrokerSourceDate != date {
		t.Errorf("source date = %s", agg.BrokerSourceDate)
	}
}

func TestAggregate_DuplicateBrokerRowsSum(t *testing.T) {
	agg := Aggregate("BBCA", models.ParseDate("2025-06-02"), []models.BrokerFlowRecord{
		flow("YP", 600),
		flow("YP", 400),
		flow("YP", -200),
	})
	if agg.NumBrokers != 1 || agg.NumBuyers != 1 {
		t.Errorf("duplicate rows should collapse to one broker: %+v", agg)
	}
	if agg.TopBuyerNetValue.Or(0) != 800 {
		t.Errorf("summed net = %v, want 800", agg.TopBuyerNetValue.Or(0))
	}
	if agg.TopBuyerConcentration.Or(0) != 1 {
		t.Errorf("sole buyer concentration = %v, want 1", agg.TopBuyerConcentration.Or(0))
	}
}

func TestAggregate_NoNetBuyers(t *testing.T) {
	agg := Aggregate("BBCA", models.ParseDate("2025-06-02"), []models.BrokerFlowRecord{
		flow("PD", -400),
		flow("KK", -100),
	})
	if agg.TopBuyer.Valid {
		t.Error("no net buyer: top buyer must be absent")
	}
	if agg.TopBuyerConcentration.Valid {
		t.Error("no net buyer: concentration must be absent")
	}
	if agg.NumSellers != 2 || agg.NumBuyers != 0 {
		t.Errorf("counts: %+v", agg)
	}
}

func TestAggregate_ConcentrationStaysInUnitRange(t *testing.T) {
	agg := Aggregate("BBCA", models.ParseDate("2025-06-02"), []models.BrokerFlowRecord{
		flow("YP", 1e12),
		flow("AK", 1),
	})
	c := agg.TopBuyerConcentration.Or(-1)
	if c < 0 || c > 1 {
		t.Errorf("concentration %v outside [0,1]", c)
	}
}

func TestAggregate_TopBuyerTieBreaksBySortedCode(t *testing.T) {
	agg := Aggregate("BBCA", models.ParseDate("2025-06-02"), []models.BrokerFlowRecord{
		flow("ZZ", 500),
		flow("AA", 500),
	})
	if agg.TopBuyer.String != "AA" {
		t.Errorf("tie should break to lexicographically first code, got %s", agg.TopBuyer.String)
	}
}

type fakeFetcher struct {
	fn func(symbol string, date models.Date) ([]models.BrokerFlowRecord, error)
}

func (f *fakeFetcher) Name() string { return "fake" }
func (f *fakeFetcher) BrokerSummary(ctx context.Context, symbol string, date models.Date) ([]models.BrokerFlowRecord, error) {
	return f.fn(symbol, date)
}

func newTestStage(t *testing.T, fetcher FlowFetcher) (*Stage, *filestore.Store) {
	t.Helper()
	cfg := config.NewTestConfig()
	store, err := filestore.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewStage(cfg, store, fetcher), store
}

func TestStage_ResolveEffectiveDate(t *testing.T) {
	stage, store := newTestStage(t, &fakeFetcher{})
	requested := models.ParseDate("2025-06-02")

	// A weekend-spanning price file whose rows mostly fell back to Friday.
	friday := models.ParseDate("2025-05-30")
	bars := []models.PriceBar{
		{Symbol: "BBCA", Date: requested, Close: models.Float(9100), SourceDate: friday},
		{Symbol: "TLKM", Date: requested, Close: models.Float(3010), SourceDate: friday},
		{Symbol: "ASII", Date: requested, Close: models.Float(5000), SourceDate: requested},
	}
	if err := store.WritePrices(requested, bars); err != nil {
		t.Fatal(err)
	}

	if got := stage.ResolveEffectiveDate(requested); got != friday {
		t.Errorf("effective date = %s, want %s", got, friday)
	}
}

func TestStage_ResolveEffectiveDate_ScansLookback(t *testing.T) {
	stage, store := newTestStage(t, &fakeFetcher{})
	requested := models.ParseDate("2025-06-02")

	// Only a file three days back exists inside the 7-day lookback.
	old := models.ParseDate("2025-05-30")
	bars := []models.PriceBar{
		{Symbol: "BBCA", Date: old, Close: models.Float(9000), SourceDate: old},
	}
	if err := store.WritePrices(old, bars); err != nil {
		t.Fatal(err)
	}

	if got := stage.ResolveEffectiveDate(requested); got != old {
		t.Errorf("effective date = %s, want %s", got, old)
	}
}

func TestStage_ResolveEffectiveDate_NoFiles(t *testing.T) {
	stage, _ := newTestStage(t, &fakeFetcher{})
	requested := models.ParseDate("2025-06-02")
	if got := stage.ResolveEffectiveDate(requested); got != requested {
		t.Errorf("with no price files the requested date stands: %s", got)
	}
}

func TestStage_RunWritesUnderRequestedDate(t *testing.T) {
	requested := models.ParseDate("2025-06-02")
	fetcher := &fakeFetcher{fn: func(symbol string, date models.Date) ([]models.BrokerFlowRecord, error) {
		switch symbol {
		case "BBCA":
			return []models.BrokerFlowRecord{
				{Symbol: symbol, Date: date, Broker: "YP", NetValue: decimal.NewFromInt(1000)},
			}, nil
		case "FAIL":
			return nil, errors.New("vendor error")
		default:
			return nil, nil // no flow that day
		}
	}}
	stage, store := newTestStage(t, fetcher)

	rep, err := stage.Run(context.Background(), requested, []string{"BBCA", "EMPT", "FAIL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Rows != 1 || rep.EmptySymbols != 2 || rep.FetchErrors != 1 {
		t.Errorf("report: %+v", rep)
	}

	// File is named by the requested date even though rows carry the
	// effective broker source date.
	aggs, err := store.ReadBrokerAgg(requested)
	if err != nil {
		t.Fatal(err)
	}
	if len(aggs) != 1 || aggs[0].Symbol != "BBCA" {
		t.Errorf("aggs: %+v", aggs)
	}
}

func TestStage_RunWithoutFetcher(t *testing.T) {
	stage, _ := newTestStage(t, nil)
	_, err := stage.Run(context.Background(), models.ParseDate("2025-06-02"), []string{"BBCA"})
	if err == nil {
		t.Fatal("expected error with no flow source")
	}
}
