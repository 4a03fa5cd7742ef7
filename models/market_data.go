package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical day format used in file names and CSV cells.
const DateLayout = "2006-01-02"

// Date is a day-granular calendar date. The zero value means "absent"
// and serializes to JSON null and an empty CSV cell.
type Date struct {
	time.Time
}

// Day truncates t to midnight UTC. All pipeline dates are day-granular.
func Day(t time.Time) Date {
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// Today returns the current day in UTC.
func Today() Date {
	return Day(time.Now().UTC())
}

// ParseDate parses a YYYY-MM-DD cell. Empty or malformed input yields
// the zero (absent) Date.
func ParseDate(s string) Date {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}
	}
	return Date{t}
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return Day(d.Time.AddDate(0, 0, n))
}

// DaysSince returns the whole number of days from other to d.
func (d Date) DaysSince(other Date) int {
	return int(d.Time.Sub(other.Time).Hours() / 24)
}

// String renders YYYY-MM-DD, or the empty string when absent.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*d = ParseDate(s)
	return nil
}

// PriceBar is one symbol's closing price and volume for an effective date.
// Date is the requested (as-of) date; SourceDate is the date of the actual
// observation, which may be earlier when no exact bar exists (weekend or
// holiday fallback). A zero SourceDate means no observation backs the bar.
type PriceBar struct {
	Symbol     string
	Date       Date
	Close      NullFloat
	Volume     NullFloat
	SourceDate Date
}

// HasPrice reports whether the bar carries a usable close.
func (b PriceBar) HasPrice() bool {
	return b.Close.Valid && b.Close.Float64 > 0
}

// Stale reports whether the observation predates the effective date.
func (b PriceBar) Stale() bool {
	return !b.SourceDate.IsZero() && b.SourceDate.Time.Before(b.Date.Time)
}

// BrokerFlowRecord is one broker's signed net flow for a symbol on a day.
// Positive NetValue is net buying.
type BrokerFlowRecord struct {
	Symbol   string
	Date     Date
	Broker   string
	NetValue decimal.Decimal
}

// BrokerDailyAggregate summarizes all broker flow for a symbol on the
// broker source date. TopBuyerConcentration is the top buyer's share of
// all positive net buying and is absent when no broker bought net.
type BrokerDailyAggregate struct {
	Symbol                string     `json:"symbol"`
	BrokerSourceDate      Date       `json:"broker_source_date"`
	TotalNetValue         NullFloat  `json:"total_net_value"`
	TopBuyer              NullString `json:"top_buyer"`
	TopBuyerNetValue      NullFloat  `json:"top_buyer_net_value"`
	TopBuyerConcentration NullFloat  `json:"top_buyer_concentration"`
	NumBuyers             int        `json:"num_buyers"`
	NumSellers            int        `json:"num_sellers"`
	NumBrokers            int        `json:"num_brokers"`
	RetailBrokerRatio     NullFloat  `json:"retail_broker_ratio"`
}
