package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"idx-signals/models"
	"idx-signals/observability"
)

// GoAPIClient talks to the IDX market data vendor. Response shapes are
// not stable across vendor versions, so both parsers walk the JSON for
// the first recognizable list instead of binding to a fixed schema.
type GoAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breakers   *CircuitBreakerRegistry
	retry      RetryPolicy
}

// NewGoAPIClient creates a client for the given base URL and key.
func NewGoAPIClient(baseURL, apiKey string, timeout time.Duration, retry RetryPolicy, breakers *CircuitBreakerRegistry) *GoAPIClient {
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	}
	return &GoAPIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breakers:   breakers,
		retry:      retry,
	}
}

// Name identifies this source in source hints and logs.
func (c *GoAPIClient) Name() string { return "goapi" }

func (c *GoAPIClient) getJSON(ctx context.Context, operation, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	metrics := observability.GetMetrics()
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + params.Encode()

	var body []byte
	err := WithRetry(ctx, c.retry, func() error {
		timer := metrics.NewTimer()
		metrics.RecordExternalAPIRequest("goapi", operation)

		_, err := c.breakers.Execute(ctx, "goapi_"+operation, func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", "idx-signals/1.0")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
			}
			if !json.Valid(raw) {
				return nil, fmt.Errorf("non-JSON response: %s", truncate(string(raw), 200))
			}
			body = raw
			return nil, nil
		})

		timer.ObserveExternalAPI("goapi", operation)
		if err != nil {
			metrics.RecordExternalAPIError("goapi", operation, "request")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// History returns the daily bars the vendor has for symbol in [from, to].
// Bars carry the observation date in both Date and SourceDate; the
// ingestion stage decides which bar is authoritative for an as-of date.
func (c *GoAPIClient) History(ctx context.Context, symbol string, from, to models.Date) ([]models.PriceBar, error) {
	params := url.Values{}
	params.Set("from", from.String())
	params.Set("to", to.String())

	body, err := c.getJSON(ctx, "historical", fmt.Sprintf("/stock/idx/%s/historical", symbol), params)
	if err != nil {
		return nil, &NetworkFetchError{Service: "goapi", Operation: "historical", Symbol: symbol, Err: err}
	}

	var js any
	if err := json.Unmarshal(body, &js); err != nil {
		return nil, &NetworkFetchError{Service: "goapi", Operation: "historical", Symbol: symbol, Err: err}
	}

	rows := firstObjectList(js)
	bars := make([]models.PriceBar, 0, len(rows))
	for _, row := range rows {
		date := models.ParseDate(pickString(row, "date", "tanggal", "tgl"))
		closeVal, closeOK := pickNumber(row, "close", "harga", "price", "last", "close_price", "closeprice")
		volVal, volOK := pickNumber(row, "volume", "vol")

		bar := models.PriceBar{
			Symbol:     symbol,
			Date:       date,
			SourceDate: date,
		}
		if closeOK {
			bar.Close = models.Float(closeVal)
		}
		if volOK {
			bar.Volume = models.Float(volVal)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// BrokerSummary returns per-broker signed net flow for symbol on date.
// Two vendor shapes are accepted: a flat list of {broker, side, value}
// rows, or a {buy: [...], sell: [...]} split. Anything else yields zero
// rows, not an error, per the degradation policy.
func (c *GoAPIClient) BrokerSummary(ctx context.Context, symbol string, date models.Date) ([]models.BrokerFlowRecord, error) {
	params := url.Values{}
	params.Set("date", date.String())

	body, err := c.getJSON(ctx, "broker_summary", fmt.Sprintf("/stock/idx/%s/broker_summary", symbol), params)
	if err != nil {
		return nil, &NetworkFetchError{Service: "goapi", Operation: "broker_summary", Symbol: symbol, Err: err}
	}

	var js any
	if err := json.Unmarshal(body, &js); err != nil {
		return nil, &NetworkFetchError{Service: "goapi", Operation: "broker_summary", Symbol: symbol, Err: err}
	}

	return ParseBrokerSummary(js, symbol, date), nil
}

// ParseBrokerSummary normalizes either accepted vendor shape into signed
// flow records (buys positive, sells negative).
func ParseBrokerSummary(js any, symbol string, date models.Date) []models.BrokerFlowRecord {
	// Shape A: flat rows with an explicit side column.
	rows := firstObjectList(js)
	if len(rows) > 0 {
		records := make([]models.BrokerFlowRecord, 0, len(rows))
		flat := true
		for _, row := range rows {
			broker := pickString(row, "broker_code", "code", "broker", "brokercode")
			side := strings.ToUpper(pickString(row, "side", "action", "type"))
			value, ok := pickNumber(row, "value", "val", "amount", "qty_value", "net", "net_value")
			if broker == "" || side == "" || !ok {
				flat = false
				break
			}
			net := decimal.NewFromFloat(value)
			if side != "BUY" {
				net = net.Neg()
			}
			records = append(records, models.BrokerFlowRecord{
				Symbol:   symbol,
				Date:     date,
				Broker:   broker,
				NetValue: net,
			})
		}
		if flat {
			return records
		}
	}

	// Shape B: separate buy and sell lists.
	obj, ok := js.(map[string]any)
	if !ok {
		if wrapped := firstObjectMap(js); wrapped != nil {
			obj = wrapped
		} else {
			return nil
		}
	}

	var records []models.BrokerFlowRecord
	for key, v := range obj {
		list, ok := v.([]any)
		if !ok || len(list) == 0 {
			continue
		}
		var sign int
		kl := strings.ToLower(key)
		switch {
		case strings.Contains(kl, "buy"):
			sign = 1
		case strings.Contains(kl, "sell"):
			sign = -1
		default:
			continue
		}
		for _, item := range list {
			row, ok := item.(map[string]any)
			if !ok {
				continue
			}
			broker := pickString(row, "broker_code", "code", "broker", "brokercode")
			value, ok := pickNumber(row, "value", "val", "amount", "qty_value", "net", "net_value")
			if broker == "" || !ok {
				continue
			}
			net := decimal.NewFromFloat(value)
			if sign < 0 {
				net = net.Neg()
			}
			records = append(records, models.BrokerFlowRecord{
				Symbol:   symbol,
				Date:     date,
				Broker:   broker,
				NetValue: net,
			})
		}
	}
	return records
}

// firstObjectList depth-first searches js for the first non-empty list
// of JSON objects. Vendors wrap payloads in varying envelope layers.
func firstObjectList(js any) []map[string]any {
	switch v := js.(type) {
	case []any:
		if len(v) == 0 {
			return nil
		}
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil
			}
			rows = append(rows, obj)
		}
		return rows
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if rows := firstObjectList(v[key]); rows != nil {
				return rows
			}
		}
	}
	return nil
}

// firstObjectMap finds the first nested object carrying a buy/sell list,
// for envelopes like {"data": {"buy": [...], "sell": [...]}}.
func firstObjectMap(js any) map[string]any {
	obj, ok := js.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range sortedKeys(obj) {
		kl := strings.ToLower(key)
		if _, isList := obj[key].([]any); isList && (strings.Contains(kl, "buy") || strings.Contains(kl, "sell")) {
			return obj
		}
	}
	for _, key := range sortedKeys(obj) {
		if nested := firstObjectMap(obj[key]); nested != nil {
			return nested
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic walk order so tie-breaks are reproducible.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func pickString(row map[string]any, candidates ...string) string {
	norm := normalizeRowKeys(row)
	for _, cand := range candidates {
		if v, ok := norm[normalizeKey(cand)]; ok {
			switch s := v.(type) {
			case string:
				return strings.TrimSpace(s)
			case float64:
				return strconv.FormatFloat(s, 'g', -1, 64)
			}
		}
	}
	return ""
}

func pickNumber(row map[string]any, candidates ...string) (float64, bool) {
	norm := normalizeRowKeys(row)
	for _, cand := range candidates {
		v, ok := norm[normalizeKey(cand)]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return parsed, true
			}
		case json.Number:
			if parsed, err := n.Float64(); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func normalizeRowKeys(row map[string]any) map[string]any {
	norm := make(map[string]any, len(row))
	for k, v := range row {
		key := normalizeKey(k)
		if _, exists := norm[key]; !exists {
			norm[key] = v
		}
	}
	return norm
}

func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
