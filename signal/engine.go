package signal

import (
	"fmt"

	"idx-signals/models"
	"idx-signals/observability"
)

// Threshold bounds. Requested thresholds are clamped, never rejected.
const (
	ThresholdMin = 0.01
	ThresholdMax = 1.0
)

// Engine turns snapshot rows into predictions and trading signals using
// a loaded classifier artifact.
type Engine struct {
	artifact       *Artifact
	stopLossReturn float64
}

// NewEngine wires the signal engine. stopLossReturn is the daily return
// at or below which a strong-sell overrides everything else.
func NewEngine(artifact *Artifact, stopLossReturn float64) *Engine {
	return &Engine{artifact: artifact, stopLossReturn: stopLossReturn}
}

// Artifact exposes the loaded classifier for introspection endpoints.
func (e *Engine) Artifact() *Artifact { return e.artifact }

// ClampThreshold bounds a requested decision threshold. Zero (meaning
// "unset") resolves to the artifact default before clamping.
func (e *Engine) ClampThreshold(requested float64) float64 {
	if requested == 0 {
		requested = e.artifact.ThresholdDefault
	}
	if requested < ThresholdMin {
		return ThresholdMin
	}
	if requested > ThresholdMax {
		return ThresholdMax
	}
	return requested
}

// Score predicts the up-move probability for every scoreable row at the
// given threshold. Rows without a usable close are skipped, not scored.
func (e *Engine) Score(rows []models.SnapshotRow, threshold float64) []models.Prediction {
	threshold = e.ClampThreshold(threshold)

	preds := make([]models.Prediction, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if !row.Scoreable() {
			continue
		}
		prob := e.artifact.PredictProbability(row)
		label := 0
		if prob >= threshold {
			label = 1
		}
		preds = append(preds, models.Prediction{
			Symbol:        row.Symbol,
			AsOf:          row.Date,
			ProbUp:        prob,
			Label:         label,
			ThresholdUsed: threshold,
		})
	}
	return preds
}

// ScoreSymbol predicts for a single symbol within a snapshot.
func (e *Engine) ScoreSymbol(rows []models.SnapshotRow, symbol string, threshold float64) (*models.Prediction, error) {
	for i := range rows {
		if rows[i].Symbol != symbol {
			continue
		}
		if !rows[i].Scoreable() {
			return nil, fmt.Errorf("symbol %s has no usable close to score", symbol)
		}
		preds := e.Score(rows[i:i+1], threshold)
		return &preds[0], nil
	}
	return nil, &models.SymbolNotFoundError{Symbol: symbol}
}

// Decide converts one scored row into a signal, or nil when the row is
// filtered out. Rules apply in strict priority order:
//  1. stop-loss: ret_1 at or below the stop-loss return forces strong_sell
//     regardless of probability
//  2. threshold filter: probability below threshold emits nothing
//  3. buy
func (e *Engine) Decide(row *models.SnapshotRow, prob, threshold float64) *models.Signal {
	if !row.Scoreable() {
		return nil
	}

	if row.Ret1.Valid && row.Ret1.Float64 <= e.stopLossReturn {
		sig := e.buildSignal(row, models.SignalActionStrongSell, prob)
		sig.Reason = fmt.Sprintf("stop-loss: daily return %.2f%% breached %.2f%% floor",
			row.Ret1.Float64*100, e.stopLossReturn*100)
		return sig
	}

	if prob < threshold {
		return nil
	}

	sig := e.buildSignal(row, models.SignalActionBuy, prob)
	sig.Reason = fmt.Sprintf("up-move probability %.3f at or above threshold %.2f", prob, threshold)
	return sig
}

// Signals scores a whole snapshot and emits the surviving signals sorted
// by descending probability. latest carries the most recent snapshot for
// price_now enrichment; passing the same slice is the degenerate case.
func (e *Engine) Signals(rows []models.SnapshotRow, latest []models.SnapshotRow, threshold float64) []models.Signal {
	threshold = e.ClampThreshold(threshold)
	metrics := observability.GetMetrics()

	priceNow := make(map[string]float64, len(latest))
	for i := range latest {
		if latest[i].Close.Valid && latest[i].Close.Float64 > 0 {
			priceNow[latest[i].Symbol] = latest[i].Close.Float64
		}
	}

	var signals []models.Signal
	for i := range rows {
		row := &rows[i]
		if !row.Scoreable() {
			continue
		}
		prob := e.artifact.PredictProbability(row)
		sig := e.Decide(row, prob, threshold)
		if sig == nil {
			continue
		}

		if now, ok := priceNow[sig.Symbol]; ok {
			sig.PriceNow = now
		}
		if sig.PriceAtSignal > 0 && sig.PriceNow > 0 {
			sig.PctChangeSinceSignal = (sig.PriceNow/sig.PriceAtSignal - 1) * 100
		}

		metrics.RecordSignal(string(sig.Action), prob)
		signals = append(signals, *sig)
	}

	// Strongest conviction first; symbol order breaks exact ties.
	for i := 1; i < len(signals); i++ {
		for j := i; j > 0 && less(signals[j], signals[j-1]); j-- {
			signals[j], signals[j-1] = signals[j-1], signals[j]
		}
	}
	return signals
}

func less(a, b models.Signal) bool {
	if a.ProbUp != b.ProbUp {
		return a.ProbUp > b.ProbUp
	}
	return a.Symbol < b.Symbol
}

// buildSignal fills the broker-derived enrichment columns. Accumulation
// is the top buyer's concentration rescaled to a 0-100 percentage;
// distribution is always its complement, so a row without broker data
// reads as zero accumulation and full distribution.
func (e *Engine) buildSignal(row *models.SnapshotRow, action models.SignalAction, prob float64) *models.Signal {
	sig := &models.Signal{
		Symbol:   row.Symbol,
		Date:     row.Date,
		Action:   action,
		ProbUp:   prob,
		TopBuyer: row.TopBuyer,
	}
	if row.Close.Valid {
		sig.PriceAtSignal = row.Close.Float64
		sig.PriceNow = row.Close.Float64
	}
	if row.TopBuyerConcentration.Valid {
		acc := row.TopBuyerConcentration.Float64 * 100
		if acc < 0 {
			acc = 0
		}
		if acc > 100 {
			acc = 100
		}
		sig.AccumulationPct = acc
	}
	sig.DistributionPct = 100 - sig.AccumulationPct
	return sig
}

// Explain produces human-readable scoring bullets for one row: each
// feature's value, coefficient, and signed contribution to the logit.
func (e *Engine) Explain(row *models.SnapshotRow, threshold float64) (float64, []string) {
	threshold = e.ClampThreshold(threshold)
	prob := e.artifact.PredictProbability(row)

	bullets := make([]string, 0, len(e.artifact.Features)+2)
	bullets = append(bullets, fmt.Sprintf("intercept: %+.4f", e.artifact.Intercept))
	for i, name := range e.artifact.Features {
		value := row.Feature(name)
		contrib := e.artifact.Coefficients[i] * value
		bullets = append(bullets, fmt.Sprintf("%s: value %.4f, coef %+.4f, contribution %+.4f",
			name, value, e.artifact.Coefficients[i], contrib))
	}
	bullets = append(bullets, fmt.Sprintf("probability %.4f vs threshold %.2f", prob, threshold))
	return prob, bullets
}
