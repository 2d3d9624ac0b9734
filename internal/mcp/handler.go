package mcp

import (
	"net/http"

	"github.com/bobmcallan/quant-portal/internal/assets"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Deps are the services the MCP tools operate on.
type Deps struct {
	Store    interfaces.ReportHistory
	Analyzer interfaces.Analyzer
	Catalog  *assets.Catalog
}

// Handler is the HTTP handler for the MCP endpoint.
// It wraps mcp-go's StreamableHTTPServer and delegates to it.
type Handler struct {
	streamable *mcpserver.StreamableHTTPServer
	logger     *common.Logger
	tools      int
}

// NewServer builds the MCP server with every quant-portal tool registered.
func NewServer(logger *common.Logger, deps Deps) (*mcpserver.MCPServer, int) {
	mcpSrv := mcpserver.NewMCPServer(
		"quant-portal",
		config.GetVersion(),
		mcpserver.WithToolCapabilities(true),
	)
	return mcpSrv, RegisterTools(mcpSrv, logger, deps)
}

// NewHandler creates the MCP HTTP handler.
func NewHandler(logger *common.Logger, deps Deps) *Handler {
	mcpSrv, count := NewServer(logger, deps)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithStateLess(true),
	)

	logger.Info().
		Int("tools", count).
		Msg("MCP handler initialized")

	return &Handler{
		streamable: streamable,
		logger:     logger,
		tools:      count,
	}
}

// ToolCount returns the number of registered tools.
func (h *Handler) ToolCount() int {
	return h.tools
}

// ServeHTTP delegates to the mcp-go StreamableHTTPServer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.streamable.ServeHTTP(w, r)
}
