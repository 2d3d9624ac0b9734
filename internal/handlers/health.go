package handlers

import (
	"net/http"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
)

// HealthHandler reports liveness along with the storage backend in use and
// how many reports the history holds.
type HealthHandler struct {
	logger  *common.Logger
	store   interfaces.ReportHistory
	backend string
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
	Reports int    `json:"reports"`
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(logger *common.Logger, store interfaces.ReportHistory, backend string) *HealthHandler {
	return &HealthHandler{logger: logger, store: store, backend: backend}
}

// ServeHTTP handles GET /api/health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	resp := healthResponse{Status: "ok", Storage: h.backend}
	if h.store != nil {
		resp.Reports = h.store.Len()
	}
	WriteJSON(w, http.StatusOK, resp)
}
