package models

// SignalAction is the bounded set of trading actions the engine emits.
// Rows below the probability threshold are filtered out, not emitted,
// so there is no explicit "hold" action.
type SignalAction string

const (
	SignalActionBuy        SignalAction = "buy"
	SignalActionStrongSell SignalAction = "strong_sell"
)

// Prediction is the classifier output for one snapshot row.
type Prediction struct {
	Symbol        string  `json:"symbol"`
	AsOf          Date    `json:"asof"`
	ProbUp        float64 `json:"prob_up"`
	Label         int     `json:"label"`
	ThresholdUsed float64 `json:"threshold_used"`
}

// Signal is a derived, ephemeral trading decision for one symbol and
// day. It is recomputed per query window from snapshots plus model
// output and is never the system of record.
type Signal struct {
	Symbol               string       `json:"symbol"`
	Date                 Date         `json:"date"`
	Action               SignalAction `json:"action"`
	PriceAtSignal        float64      `json:"price_at_signal"`
	PriceNow             float64      `json:"price_now"`
	PctChangeSinceSignal float64      `json:"pct_change_since_signal"`
	ProbUp               float64      `json:"probability_up"`
	AccumulationPct      float64      `json:"accumulation_pct"`
	DistributionPct      float64      `json:"distribution_pct"`
	TopBuyer             NullString   `json:"top_buyer"`
	Reason               string       `json:"reason"`
}
