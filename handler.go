package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"idx-signals/config"
	"idx-signals/filestore"
	"idx-signals/models"
	"idx-signals/snapshot"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	app *App
	cfg *config.Config
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(app *App, cfg *config.Config) *APIHandler {
	return &APIHandler{app: app, cfg: cfg}
}

// handleHealth returns the health status of the application
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"services": map[string]string{
			"database": "unknown",
			"model":    "unknown",
		},
	}
	services := status["services"].(map[string]string)

	if h.app.repo != nil {
		if err := h.app.repo.Health(r.Context()); err == nil {
			services["database"] = "connected"
		} else {
			services["database"] = "disconnected"
			status["status"] = "degraded"
		}
	} else {
		services["database"] = "not_configured"
	}

	if h.app.engine != nil {
		services["model"] = "loaded"
		status["threshold_default"] = h.app.engine.ClampThreshold(0)
	} else {
		services["model"] = "not_loaded"
		status["status"] = "degraded"
	}

	h.jsonResponse(w, status)
}

// handleGetTickers returns the symbol universe
func (h *APIHandler) handleGetTickers(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.app.LoadSymbols()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]interface{}{
		"tickers": symbols,
		"count":   len(symbols),
	})
}

// handleGetSnapshot returns the snapshot served for the requested date
func (h *APIHandler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	requested, ok := h.parseDateParam(w, r, "date")
	if !ok {
		return
	}

	rows, served, err := h.app.Snapshot(requested)
	if err != nil {
		h.snapshotError(w, err)
		return
	}

	if symbol := h.symbolParam(r); symbol != "" {
		for i := range rows {
			if rows[i].Symbol == symbol {
				h.jsonResponse(w, map[string]interface{}{
					"as_of": served,
					"row":   rows[i],
				})
				return
			}
		}
		h.jsonError(w, "symbol "+symbol+" not found in snapshot", http.StatusNotFound)
		return
	}

	h.jsonResponse(w, map[string]interface{}{
		"as_of": served,
		"rows":  rows,
		"count": len(rows),
	})
}

// handleGetBrokerAgg returns the broker aggregates served for the date
func (h *APIHandler) handleGetBrokerAgg(w http.ResponseWriter, r *http.Request) {
	requested, ok := h.parseDateParam(w, r, "date")
	if !ok {
		return
	}

	aggs, served, err := h.app.BrokerAgg(requested)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	if symbol := h.symbolParam(r); symbol != "" {
		for i := range aggs {
			if aggs[i].Symbol == symbol {
				h.jsonResponse(w, map[string]interface{}{
					"as_of": served,
					"row":   aggs[i],
				})
				return
			}
		}
		h.jsonError(w, "symbol "+symbol+" has no broker aggregate", http.StatusNotFound)
		return
	}

	h.jsonResponse(w, map[string]interface{}{
		"as_of": served,
		"rows":  aggs,
		"count": len(aggs),
	})
}

// handleGetPredict scores one symbol from the URL path
func (h *APIHandler) handleGetPredict(w http.ResponseWriter, r *http.Request) {
	symbol := filestore.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		h.jsonError(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	h.predict(w, r, symbol)
}

// handlePostPredict scores one symbol from a JSON body
func (h *APIHandler) handlePostPredict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol    string  `json:"symbol"`
		Date      string  `json:"date"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Symbol = r.FormValue("symbol")
	}

	symbol := filestore.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		h.jsonError(w, "Symbol is required", http.StatusBadRequest)
		return
	}

	requested := models.ParseDate(req.Date)
	if req.Date != "" && requested.IsZero() {
		h.jsonError(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	pred, err := h.app.Predict(requested, symbol, req.Threshold)
	if err != nil {
		h.predictError(w, err)
		return
	}
	h.jsonResponse(w, pred)
}

func (h *APIHandler) predict(w http.ResponseWriter, r *http.Request, symbol string) {
	requested, ok := h.parseDateParam(w, r, "date")
	if !ok {
		return
	}
	threshold, ok := h.parseThresholdParam(w, r)
	if !ok {
		return
	}

	pred, err := h.app.Predict(requested, symbol, threshold)
	if err != nil {
		h.predictError(w, err)
		return
	}
	h.jsonResponse(w, pred)
}

// handlePredictBatch scores the whole served snapshot
func (h *APIHandler) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	requested, ok := h.parseDateParam(w, r, "date")
	if !ok {
		return
	}
	threshold, ok := h.parseThresholdParam(w, r)
	if !ok {
		return
	}

	preds, served, err := h.app.PredictBatch(requested, threshold)
	if err != nil {
		h.predictError(w, err)
		return
	}
	h.jsonResponse(w, map[string]interface{}{
		"as_of":       served,
		"predictions": preds,
		"count":       len(preds),
	})
}

// handleGetSignals sweeps snapshots in a date window and emits signals
func (h *APIHandler) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	from, ok := h.parseDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.parseDateParam(w, r, "to")
	if !ok {
		return
	}
	threshold, ok := h.parseThresholdParam(w, r)
	if !ok {
		return
	}
	limitPerDay := 0
	if raw := r.URL.Query().Get("limit_per_day"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limitPerDay = v
		}
	}

	signals, err := h.app.Signals(r.Context(), from, to, threshold, limitPerDay)
	if err != nil {
		h.predictError(w, err)
		return
	}
	h.jsonResponse(w, map[string]interface{}{
		"signals": signals,
		"count":   len(signals),
	})
}

// handleExplain returns per-feature scoring bullets for one symbol
func (h *APIHandler) handleExplain(w http.ResponseWriter, r *http.Request) {
	symbol := filestore.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if symbol == "" {
		h.jsonError(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	requested, ok := h.parseDateParam(w, r, "date")
	if !ok {
		return
	}
	threshold, ok := h.parseThresholdParam(w, r)
	if !ok {
		return
	}

	prob, bullets, served, err := h.app.Explain(requested, symbol, threshold)
	if err != nil {
		h.predictError(w, err)
		return
	}
	h.jsonResponse(w, map[string]interface{}{
		"symbol":  symbol,
		"as_of":   served,
		"prob_up": prob,
		"bullets": bullets,
	})
}

// handleRunPipeline triggers a full pipeline run for a date
func (h *APIHandler) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date   string `json:"date"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Date = r.FormValue("date")
		req.Source = r.FormValue("source")
	}

	asOf := models.ParseDate(req.Date)
	if req.Date != "" && asOf.IsZero() {
		h.jsonError(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if asOf.IsZero() {
		asOf = models.Today()
	}

	rep, err := h.app.RunPipeline(r.Context(), asOf, req.Source)
	if err != nil {
		h.snapshotError(w, err)
		return
	}
	h.jsonResponse(w, rep)
}

// handleGetPipelineRuns returns recent audit rows
func (h *APIHandler) handleGetPipelineRuns(w http.ResponseWriter, r *http.Request) {
	if h.app.repo == nil {
		h.jsonError(w, "audit store not configured", http.StatusServiceUnavailable)
		return
	}
	limit := h.parseLimitParam(r, 50)
	stage := models.PipelineStage(strings.TrimSpace(r.URL.Query().Get("stage")))

	runs, err := h.app.repo.GetPipelineRuns(r.Context(), stage, limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, runs)
}

func (h *APIHandler) symbolParam(r *http.Request) string {
	return filestore.NormalizeSymbol(r.URL.Query().Get("symbol"))
}

// parseDateParam reads an optional YYYY-MM-DD query parameter. A missing
// parameter yields the zero date ("latest"); a malformed one is a 400.
func (h *APIHandler) parseDateParam(w http.ResponseWriter, r *http.Request, name string) (models.Date, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return models.Date{}, true
	}
	d := models.ParseDate(raw)
	if d.IsZero() {
		h.jsonError(w, "Invalid "+name+", expected YYYY-MM-DD", http.StatusBadRequest)
		return models.Date{}, false
	}
	return d, true
}

// parseThresholdParam reads an optional threshold query parameter. Zero
// means "use the model default"; the engine clamps out-of-range values.
func (h *APIHandler) parseThresholdParam(w http.ResponseWriter, r *http.Request) (float64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("threshold"))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		h.jsonError(w, "Invalid threshold", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

func (h *APIHandler) parseLimitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
		return v
	}
	return def
}

func (h *APIHandler) predictError(w http.ResponseWriter, err error) {
	var notFound *models.SymbolNotFoundError
	var noSnap *snapshot.NoSnapshotAvailableError
	switch {
	case errors.As(err, &notFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &noSnap):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case strings.Contains(err.Error(), "no model artifact"):
		h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *APIHandler) snapshotError(w http.ResponseWriter, err error) {
	var noSnap *snapshot.NoSnapshotAvailableError
	if errors.As(err, &noSnap) {
		h.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	h.jsonError(w, err.Error(), http.StatusInternalServerError)
}

func (h *APIHandler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *APIHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
