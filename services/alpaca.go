package services

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"idx-signals/models"
	"idx-signals/observability"
)

// AlpacaSource serves daily bars from Alpaca's market data API. Used for
// registries of US-listed tickers, where the IDX vendor has no coverage.
type AlpacaSource struct {
	dataClient *marketdata.Client
	retry      RetryPolicy
}

// NewAlpacaSource creates a new AlpacaSource instance
func NewAlpacaSource(apiKey, apiSecret string, retry RetryPolicy) *AlpacaSource {
	dataClient := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})

	return &AlpacaSource{
		dataClient: dataClient,
		retry:      retry,
	}
}

// Name identifies this source in source hints and logs.
func (s *AlpacaSource) Name() string { return "alpaca" }

// History returns daily bars for symbol in [from, to], observation dates
// in both Date and SourceDate, matching the vendor client's contract.
func (s *AlpacaSource) History(ctx context.Context, symbol string, from, to models.Date) ([]models.PriceBar, error) {
	metrics := observability.GetMetrics()

	var raw []marketdata.Bar
	err := WithRetry(ctx, s.retry, func() error {
		timer := metrics.NewTimer()
		metrics.RecordExternalAPIRequest("alpaca", "bars")

		bars, err := s.dataClient.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     from.Time,
			End:       to.Time.Add(24*time.Hour - time.Second),
		})

		timer.ObserveExternalAPI("alpaca", "bars")
		if err != nil {
			metrics.RecordExternalAPIError("alpaca", "bars", "request")
			return fmt.Errorf("failed to get bars for %s: %w", symbol, err)
		}
		raw = bars
		return nil
	})
	if err != nil {
		return nil, &NetworkFetchError{Service: "alpaca", Operation: "bars", Symbol: symbol, Err: err}
	}

	out := make([]models.PriceBar, 0, len(raw))
	for _, b := range raw {
		day := models.Day(b.Timestamp)
		out = append(out, models.PriceBar{
			Symbol:     symbol,
			Date:       day,
			SourceDate: day,
			Close:      models.Float(b.Close),
			Volume:     models.Float(float64(b.Volume)),
		})
	}
	return out, nil
}
