package signal

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"idx-signals/models"
)

func testArtifact() *Artifact {
	return &Artifact{
		Features:         []string{"ret_1", "vol_ratio", "top_buyer_concentration"},
		Target:           "up_next_day",
		ThresholdDefault: 0.35,
		Coefficients:     []float64{2.0, 0.5, 1.0},
		Intercept:        -0.5,
	}
}

func testEngine() *Engine {
	return NewEngine(testArtifact(), -0.05)
}

func scoreableRow(symbol string, ret1 float64) models.SnapshotRow {
	return models.SnapshotRow{
		Symbol: symbol,
		Date:   models.ParseDate("2025-06-02"),
		Close:  models.Float(1000),
		Ret1:   models.Float(ret1),
	}
}

func TestLoadArtifact(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "up_model.json")
		content := `{
			"features": ["ret_1", "vol_ratio"],
			"target": "up_next_day",
			"threshold_default": 0.35,
			"coefficients": [1.5, -0.2],
			"intercept": 0.1
		}`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		a, err := LoadArtifact(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(a.Features) != 2 || a.ThresholdDefault != 0.35 {
			t.Errorf("artifact: %+v", a)
		}
	})

	t.Run("coefficient mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		os.WriteFile(path, []byte(`{"features":["a","b"],"coefficients":[1],"intercept":0}`), 0o644)
		if _, err := LoadArtifact(path); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestArtifact_PredictProbability(t *testing.T) {
	a := testArtifact()
	row := models.SnapshotRow{
		Close:                 models.Float(1000),
		Ret1:                  models.Float(0.1),
		VolRatio:              models.Float(2.0),
		TopBuyerConcentration: models.Float(0.5),
	}
	// z = -0.5 + 2*0.1 + 0.5*2 + 1*0.5 = 1.2
	want := 1 / (1 + math.Exp(-1.2))
	got := a.PredictProbability(&row)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("prob = %v, want %v", got, want)
	}

	// Absent features contribute zero: z = intercept only.
	empty := models.SnapshotRow{Close: models.Float(1000)}
	want = 1 / (1 + math.Exp(0.5))
	if got := a.PredictProbability(&empty); math.Abs(got-want) > 1e-12 {
		t.Errorf("empty prob = %v, want %v", got, want)
	}
}

func TestSigmoid_ExtremeInputsStayFinite(t *testing.T) {
	for _, z := range []float64{-1000, -50, 0, 50, 1000} {
		p := sigmoid(z)
		if math.IsNaN(p) || p < 0 || p > 1 {
			t.Errorf("sigmoid(%v) = %v", z, p)
		}
	}
}

func TestEngine_ClampThreshold(t *testing.T) {
	e := testEngine()
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0.35},     // unset resolves to artifact default
		{0.001, 0.01}, // below floor
		{5, 1.0},      // above ceiling
		{0.6, 0.6},
	}
	for _, tt := range tests {
		if got := e.ClampThreshold(tt.in); got != tt.want {
			t.Errorf("ClampThreshold(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEngine_ScoreSkipsUnscoreable(t *testing.T) {
	e := testEngine()
	rows := []models.SnapshotRow{
		scoreableRow("BBCA", 0.01),
		{Symbol: "NODA", Date: models.ParseDate("2025-06-02")}, // no close
	}
	preds := e.Score(rows, 0)
	if len(preds) != 1 || preds[0].Symbol != "BBCA" {
		t.Errorf("preds: %+v", preds)
	}
	if preds[0].ThresholdUsed != 0.35 {
		t.Errorf("threshold used = %v", preds[0].ThresholdUsed)
	}
}

func TestEngine_ScoreSymbol(t *testing.T) {
	e := testEngine()
	rows := []models.SnapshotRow{scoreableRow("BBCA", 0.01)}

	pred, err := e.ScoreSymbol(rows, "BBCA", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.Symbol != "BBCA" {
		t.Errorf("pred: %+v", pred)
	}

	_, err = e.ScoreSymbol(rows, "ZZZZ", 0)
	var notFound *models.SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SymbolNotFoundError, got %v", err)
	}
}

func TestEngine_DecidePriority(t *testing.T) {
	e := testEngine()

	t.Run("stop loss overrides high probability", func(t *testing.T) {
		row := scoreableRow("BBCA", -0.06)
		sig := e.Decide(&row, 0.9, 0.35)
		if sig == nil || sig.Action != models.SignalActionStrongSell {
			t.Fatalf("expected strong_sell, got %+v", sig)
		}
	})

	t.Run("stop loss exactly at floor triggers", func(t *testing.T) {
		row := scoreableRow("BBCA", -0.05)
		sig := e.Decide(&row, 0.9, 0.35)
		if sig == nil || sig.Action != models.SignalActionStrongSell {
			t.Fatalf("expected strong_sell at the boundary, got %+v", sig)
		}
	})

	t.Run("below threshold is filtered", func(t *testing.T) {
		row := scoreableRow("BBCA", 0.01)
		if sig := e.Decide(&row, 0.2, 0.35); sig != nil {
			t.Errorf("expected nil, got %+v", sig)
		}
	})

	t.Run("above threshold buys", func(t *testing.T) {
		row := scoreableRow("BBCA", 0.01)
		sig := e.Decide(&row, 0.5, 0.35)
		if sig == nil || sig.Action != models.SignalActionBuy {
			t.Fatalf("expected buy, got %+v", sig)
		}
		if sig.PriceAtSignal != 1000 {
			t.Errorf("price at signal = %v", sig.PriceAtSignal)
		}
	})

	t.Run("absent ret_1 never stops out", func(t *testing.T) {
		row := models.SnapshotRow{Symbol: "BBCA", Close: models.Float(1000)}
		sig := e.Decide(&row, 0.5, 0.35)
		if sig == nil || sig.Action != models.SignalActionBuy {
			t.Fatalf("expected buy, got %+v", sig)
		}
	})

	t.Run("unscoreable row emits nothing", func(t *testing.T) {
		row := models.SnapshotRow{Symbol: "BBCA", Ret1: models.Float(-0.2)}
		if sig := e.Decide(&row, 0.9, 0.35); sig != nil {
			t.Errorf("expected nil for row without close, got %+v", sig)
		}
	})
}

func TestEngine_SignalEnrichment(t *testing.T) {
	e := testEngine()

	t.Run("with broker data", func(t *testing.T) {
		row := scoreableRow("BBCA", 0.01)
		row.TopBuyer = models.Str("YP")
		row.TopBuyerConcentration = models.Float(0.42)

		sig := e.Decide(&row, 0.9, 0.35)
		if sig == nil {
			t.Fatal("expected a signal")
		}
		if sig.AccumulationPct != 42 || sig.DistributionPct != 58 {
			t.Errorf("acc=%v dist=%v", sig.AccumulationPct, sig.DistributionPct)
		}
		if sig.TopBuyer.String != "YP" {
			t.Errorf("top buyer: %+v", sig.TopBuyer)
		}
		if sig.Reason == "" {
			t.Error("signal must carry a reason")
		}
	})

	t.Run("without broker data the split is 0/100", func(t *testing.T) {
		row := scoreableRow("BBCA", 0.01)

		sig := e.Decide(&row, 0.9, 0.35)
		if sig == nil {
			t.Fatal("expected a signal")
		}
		if sig.AccumulationPct != 0 || sig.DistributionPct != 100 {
			t.Errorf("acc=%v dist=%v, want 0/100", sig.AccumulationPct, sig.DistributionPct)
		}
		if sig.TopBuyer.Valid {
			t.Errorf("top buyer should stay absent: %+v", sig.TopBuyer)
		}
	})
}

func TestEngine_SignalsSweep(t *testing.T) {
	e := testEngine()
	old := []models.SnapshotRow{scoreableRow("BBCA", 0.02)}
	old[0].Close = models.Float(900)
	latest := []models.SnapshotRow{scoreableRow("BBCA", 0.01)}

	signals := e.Signals(old, latest, 0.01)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.PriceAtSignal != 900 || sig.PriceNow != 1000 {
		t.Errorf("prices: at=%v now=%v", sig.PriceAtSignal, sig.PriceNow)
	}
	wantPct := (1000.0/900.0 - 1) * 100
	if math.Abs(sig.PctChangeSinceSignal-wantPct) > 1e-9 {
		t.Errorf("pct change = %v, want %v", sig.PctChangeSinceSignal, wantPct)
	}
}

func TestEngine_SignalsSortedByProbability(t *testing.T) {
	e := testEngine()
	rows := []models.SnapshotRow{
		scoreableRow("WEAK", 0.001),
		scoreableRow("STRG", 0.3),
	}
	signals := e.Signals(rows, rows, 0.01)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Symbol != "STRG" {
		t.Errorf("strongest first, got %s", signals[0].Symbol)
	}
}

func TestEngine_Explain(t *testing.T) {
	e := testEngine()
	row := scoreableRow("BBCA", 0.02)
	prob, bullets := e.Explain(&row, 0)
	if prob <= 0 || prob >= 1 {
		t.Errorf("prob = %v", prob)
	}
	// intercept + one bullet per feature + the verdict line
	if len(bullets) != len(e.Artifact().Features)+2 {
		t.Errorf("bullets = %d", len(bullets))
	}
}
