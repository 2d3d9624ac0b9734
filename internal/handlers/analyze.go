package handlers

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/quant-portal/internal/analysis"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
)

// AnalyzeHandler runs an analysis and records the result.
type AnalyzeHandler struct {
	logger   *common.Logger
	analyzer interfaces.Analyzer
	store    interfaces.ReportHistory
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(logger *common.Logger, analyzer interfaces.Analyzer, store interfaces.ReportHistory) *AnalyzeHandler {
	return &AnalyzeHandler{
		logger:   logger,
		analyzer: analyzer,
		store:    store,
	}
}

// ServeHTTP handles POST /api/analyze.
// {"symbol"} -> 201 {record, selected_id, warning?}
func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), req.Symbol)
	if err != nil {
		status, msg := analysisErrorStatus(err)
		h.logger.Warn().
			Str("symbol", req.Symbol).
			Int("status", status).
			Str("error", err.Error()).
			Msg("analysis request failed")
		WriteError(w, status, msg)
		return
	}

	rec, err := h.store.RecordArrived(r.Context(), result.Symbol, result.Timestamp, result.Payload)
	if errors.Is(err, history.ErrInvalidRecord) {
		h.logger.Warn().
			Str("symbol", req.Symbol).
			Str("error", err.Error()).
			Msg("analysis backend returned an unusable report")
		WriteError(w, http.StatusBadGateway, "analysis backend returned an unusable report")
		return
	}
	WriteJSON(w, http.StatusCreated, arrivalResponse(h.logger, rec, err))
}

// analysisErrorStatus maps an analysis failure to an HTTP status and message.
func analysisErrorStatus(err error) (int, string) {
	var be *analysis.BackendError
	switch {
	case errors.Is(err, analysis.ErrEmptySymbol):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analysis.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, analysis.ErrCircuitOpen):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &be):
		if be.StatusCode >= 400 && be.StatusCode < 500 {
			return http.StatusBadRequest, be.Message
		}
		return http.StatusBadGateway, be.Message
	default:
		return http.StatusBadGateway, "analysis backend unreachable"
	}
}
