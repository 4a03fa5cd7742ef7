package models

// SnapshotRow is the point-in-time feature vector for one symbol at one
// as-of date: the latest price bar at or before the date, causal rolling
// and lag features over same-symbol history, the most recent broker
// aggregate with broker_source_date <= as-of, and data-age metadata.
//
// Every registry symbol gets exactly one row per as-of date, even when
// all feature values are absent, so consumers never need existence checks.
type SnapshotRow struct {
	Symbol     string `json:"symbol"`
	Date       Date   `json:"date"`
	SourceDate Date   `json:"source_date"`

	Close  NullFloat `json:"close"`
	Volume NullFloat `json:"volume"`

	Ret1         NullFloat `json:"ret_1"`
	VolRatio     NullFloat `json:"vol_ratio"`
	Ret1Lag1     NullFloat `json:"ret_1_lag1"`
	Ret1Lag2     NullFloat `json:"ret_1_lag2"`
	Ret1Lag3     NullFloat `json:"ret_1_lag3"`
	VolRatioLag1 NullFloat `json:"vol_ratio_lag1"`
	VolRatioLag2 NullFloat `json:"vol_ratio_lag2"`
	VolRatioLag3 NullFloat `json:"vol_ratio_lag3"`
	IsPriceLt500 NullBool  `json:"is_price_lt_500"`

	BrokerSourceDate      Date       `json:"broker_source_date"`
	TotalNetValue         NullFloat  `json:"total_net_value"`
	TopBuyer              NullString `json:"top_buyer"`
	TopBuyerNetValue      NullFloat  `json:"top_buyer_net_value"`
	TopBuyerConcentration NullFloat  `json:"top_buyer_concentration"`
	NumBuyers             NullInt    `json:"num_buyers"`
	NumSellers            NullInt    `json:"num_sellers"`
	NumBrokers            NullInt    `json:"num_brokers"`
	RetailBrokerRatio     NullFloat  `json:"retail_broker_ratio"`

	AgePriceDays   NullInt  `json:"age_price_days"`
	AgeBrokerDays  NullInt  `json:"age_broker_days"`
	IsMarketClosed NullBool `json:"is_market_closed"`
}

// Feature returns the named feature value for model scoring. Unknown or
// absent features default to 0.0, matching the training-time convention.
func (r *SnapshotRow) Feature(name string) float64 {
	switch name {
	case "close":
		return r.Close.Or(0)
	case "volume":
		return r.Volume.Or(0)
	case "ret_1":
		return r.Ret1.Or(0)
	case "vol_ratio":
		return r.VolRatio.Or(0)
	case "ret_1_lag1":
		return r.Ret1Lag1.Or(0)
	case "ret_1_lag2":
		return r.Ret1Lag2.Or(0)
	case "ret_1_lag3":
		return r.Ret1Lag3.Or(0)
	case "vol_ratio_lag1":
		return r.VolRatioLag1.Or(0)
	case "vol_ratio_lag2":
		return r.VolRatioLag2.Or(0)
	case "vol_ratio_lag3":
		return r.VolRatioLag3.Or(0)
	case "is_price_lt_500":
		if r.IsPriceLt500.Valid && r.IsPriceLt500.Bool {
			return 1
		}
		return 0
	case "top_buyer_concentration":
		return r.TopBuyerConcentration.Or(0)
	case "total_net_value":
		return r.TotalNetValue.Or(0)
	case "retail_broker_ratio":
		return r.RetailBrokerRatio.Or(0)
	case "num_buyers":
		if r.NumBuyers.Valid {
			return float64(r.NumBuyers.Int64)
		}
		return 0
	case "num_sellers":
		if r.NumSellers.Valid {
			return float64(r.NumSellers.Int64)
		}
		return 0
	case "num_brokers":
		if r.NumBrokers.Valid {
			return float64(r.NumBrokers.Int64)
		}
		return 0
	default:
		return 0
	}
}

// Scoreable reports whether the row carries a valid positive close and
// can be fed to the classifier.
func (r *SnapshotRow) Scoreable() bool {
	return r.Close.Valid && r.Close.Float64 > 0
}
