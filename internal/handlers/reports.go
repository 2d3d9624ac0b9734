package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/models"
)

// persistWarning is returned alongside a record that is held in memory but
// could not be written to storage.
const persistWarning = "report recorded but could not be saved; it will be lost on restart"

// ReportsHandler serves the report history API.
type ReportsHandler struct {
	logger *common.Logger
	store  interfaces.ReportHistory
	now    func() time.Time
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(logger *common.Logger, store interfaces.ReportHistory) *ReportsHandler {
	return &ReportsHandler{logger: logger, store: store, now: time.Now}
}

type reportListResponse struct {
	Records    []models.ReportSummary `json:"records"`
	Count      int                    `json:"count"`
	SelectedID string                 `json:"selected_id,omitempty"`
}

type recordResponse struct {
	Record     models.ReportRecord `json:"record"`
	SelectedID string              `json:"selected_id,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

type createReportRequest struct {
	Symbol       string              `json:"symbol"`
	Timestamp    string              `json:"timestamp"`
	AnalysisData models.AnalysisData `json:"analysisData"`
}

// List handles GET /api/reports.
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	records := h.store.AllRecords()
	selected := h.store.SelectedID()

	summaries := make([]models.ReportSummary, len(records))
	for i, rec := range records {
		summaries[i] = models.Summarize(rec, rec.ID == selected)
	}

	WriteJSON(w, http.StatusOK, reportListResponse{
		Records:    summaries,
		Count:      len(summaries),
		SelectedID: selected,
	})
}

// Create handles POST /api/reports: an analysis result arriving from outside.
// A missing timestamp is stamped with the arrival time.
func (h *ReportsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if p := strings.TrimSpace(string(req.AnalysisData)); p == "" || p == "null" {
		WriteError(w, http.StatusBadRequest, "analysisData is required")
		return
	}
	if strings.TrimSpace(req.Timestamp) == "" {
		req.Timestamp = h.now().UTC().Format(time.RFC3339Nano)
	}

	rec, err := h.store.RecordArrived(r.Context(), req.Symbol, req.Timestamp, req.AnalysisData)
	if errors.Is(err, history.ErrInvalidRecord) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, arrivalResponse(h.logger, rec, err))
}

// arrivalResponse builds the reply for a recorded arrival. A persistence
// failure still reports the record, with a warning.
func arrivalResponse(logger *common.Logger, rec models.ReportRecord, err error) recordResponse {
	resp := recordResponse{Record: rec, SelectedID: rec.ID}
	if err != nil {
		if !errors.Is(err, history.ErrPersist) {
			logger.Warn().Str("id", rec.ID).Str("error", err.Error()).Msg("unexpected error recording report")
		}
		resp.Warning = persistWarning
	}
	return resp
}

// ServeItem routes /api/reports/{id}, /api/reports/selected and
// /api/reports/select.
func (h *ReportsHandler) ServeItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")

	switch rest {
	case "":
		WriteError(w, http.StatusNotFound, "report id is required")
	case "selected":
		if RequireMethod(w, r, http.MethodGet) {
			h.Selected(w, r)
		}
	case "select":
		if RequireMethod(w, r, http.MethodPost) {
			h.Select(w, r)
		}
	default:
		if RequireMethod(w, r, http.MethodGet) {
			h.Get(w, r, rest)
		}
	}
}

// Get handles GET /api/reports/{id}.
func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := h.store.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "report not found")
		return
	}
	WriteJSON(w, http.StatusOK, recordResponse{Record: rec, SelectedID: h.store.SelectedID()})
}

// Selected handles GET /api/reports/selected.
func (h *ReportsHandler) Selected(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.store.CurrentSelection()
	if !ok {
		WriteError(w, http.StatusNotFound, "no report selected")
		return
	}
	WriteJSON(w, http.StatusOK, recordResponse{Record: rec, SelectedID: rec.ID})
}

// Select handles POST /api/reports/select. An unknown id leaves the
// selection unchanged and reports selected=false.
func (h *ReportsHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	ok := h.store.Select(strings.TrimSpace(req.ID))
	if !ok {
		h.logger.Debug().Str("id", req.ID).Msg("select ignored, unknown report id")
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"selected":    ok,
		"selected_id": h.store.SelectedID(),
	})
}
