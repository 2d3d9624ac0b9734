package handlers

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/quant-portal/internal/assets"
	"github.com/bobmcallan/quant-portal/internal/common"
)

// AssetsHandler lists the selectable symbols per asset type.
type AssetsHandler struct {
	logger  *common.Logger
	catalog *assets.Catalog
}

// NewAssetsHandler creates a new assets handler.
func NewAssetsHandler(logger *common.Logger, catalog *assets.Catalog) *AssetsHandler {
	return &AssetsHandler{logger: logger, catalog: catalog}
}

// ServeHTTP handles GET /api/assets?type=stock|etf|forex|crypto.
func (h *AssetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = assets.DefaultKind
	}

	symbols, err := h.catalog.List(kind)
	if err != nil {
		if errors.Is(err, assets.ErrUnknownKind) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"type":    kind,
		"types":   h.catalog.Kinds(),
		"symbols": symbols,
	})
}
