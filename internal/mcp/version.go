package mcp

import (
	"context"

	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// VersionTool returns the mcp.Tool definition for get_version.
func VersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get quant-portal version information. Use this to verify connectivity."),
	)
}

// VersionToolHandler reports the portal's build metadata.
func VersionToolHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, r mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(config.GetVersionInfo()), nil
	}
}
