package server

import (
	"net/http"

	"github.com/bobmcallan/quant-portal/internal/handlers"
)

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// MCP endpoint (streamable HTTP)
	if s.app.MCPHandler != nil {
		mux.Handle("/mcp", s.app.MCPHandler)
	}

	mux.Handle("/metrics", s.app.Metrics.Handler())

	// API routes
	mux.HandleFunc("/api/health", s.app.HealthHandler.ServeHTTP)
	mux.HandleFunc("/api/version", s.app.VersionHandler.ServeHTTP)

	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		RouteResourceCollection(w, r, s.app.ReportsHandler.List, s.app.ReportsHandler.Create)
	})
	mux.HandleFunc("/api/reports/", s.app.ReportsHandler.ServeItem)

	mux.HandleFunc("/api/analyze", s.app.AnalyzeHandler.ServeHTTP)
	mux.HandleFunc("/api/assets", s.app.AssetsHandler.ServeHTTP)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.handleNotFound)

	return mux
}

// handleNotFound returns a JSON 404 for unmatched API routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "the requested endpoint does not exist")
}
