package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobmcallan/quant-portal/internal/analysis"
	"github.com/bobmcallan/quant-portal/internal/assets"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools adds the report history tools to s and returns how many were
// registered. request_analysis is only offered when an analyzer is wired, and
// list_assets only when a catalog is.
func RegisterTools(s *server.MCPServer, logger *common.Logger, deps Deps) int {
	count := 0
	add := func(tool mcp.Tool, handler server.ToolHandlerFunc) {
		s.AddTool(tool, handler)
		count++
	}

	add(mcp.NewTool("list_reports",
		mcp.WithDescription("List analysis reports in the history, newest first, with the selected report flagged."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of reports to return (0 = all)")),
	), listReportsHandler(deps))

	add(mcp.NewTool("get_report",
		mcp.WithDescription("Get a full analysis report by id. Without an id, returns the currently selected report."),
		mcp.WithString("id", mcp.Description("Report id")),
	), getReportHandler(deps))

	add(mcp.NewTool("select_report",
		mcp.WithDescription("Select a report for display. Unknown ids leave the selection unchanged."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Report id")),
	), selectReportHandler(deps))

	if deps.Analyzer != nil {
		add(mcp.NewTool("request_analysis",
			mcp.WithDescription("Run a quant and sentiment analysis for a symbol and add the report to the history. Can take minutes."),
			mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol, e.g. AAPL or BTC-USD")),
		), requestAnalysisHandler(logger, deps))
	}

	if deps.Catalog != nil {
		add(mcp.NewTool("list_assets",
			mcp.WithDescription("List the selectable symbols for an asset type."),
			mcp.WithString("type",
				mcp.Description("Asset type (default stock)"),
				mcp.Enum(deps.Catalog.Kinds()...),
			),
		), listAssetsHandler(deps))
	}

	add(VersionTool(), VersionToolHandler())

	return count
}

type reportList struct {
	Records    []models.ReportSummary `json:"records"`
	Total      int                    `json:"total"`
	SelectedID string                 `json:"selected_id,omitempty"`
}

type reportResult struct {
	Record   models.ReportRecord `json:"record"`
	Selected bool                `json:"selected"`
	Warning  string              `json:"warning,omitempty"`
}

func listReportsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records := deps.Store.AllRecords()
		selected := deps.Store.SelectedID()

		limit := request.GetInt("limit", 0)
		total := len(records)
		if limit > 0 && limit < len(records) {
			records = records[:limit]
		}

		summaries := make([]models.ReportSummary, len(records))
		for i, r := range records {
			summaries[i] = models.Summarize(r, r.ID == selected)
		}
		return jsonResult(reportList{Records: summaries, Total: total, SelectedID: selected}), nil
	}
}

func getReportHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("id", "")
		if id == "" {
			rec, ok := deps.Store.CurrentSelection()
			if !ok {
				return errorResult("no report selected"), nil
			}
			return jsonResult(reportResult{Record: rec, Selected: true}), nil
		}

		rec, ok := deps.Store.Get(id)
		if !ok {
			return errorResult(fmt.Sprintf("report not found: %s", id)), nil
		}
		return jsonResult(reportResult{Record: rec, Selected: rec.ID == deps.Store.SelectedID()}), nil
	}
}

func selectReportHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		ok := deps.Store.Select(id)
		return jsonResult(map[string]interface{}{
			"selected":    ok,
			"selected_id": deps.Store.SelectedID(),
		}), nil
	}
}

func requestAnalysisHandler(logger *common.Logger, deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		symbol, err := request.RequireString("symbol")
		if err != nil {
			return errorResult(err.Error()), nil
		}

		result, err := deps.Analyzer.Analyze(ctx, symbol)
		if err != nil {
			var be *analysis.BackendError
			if errors.As(err, &be) {
				return errorResult(fmt.Sprintf("analysis failed: %s", be.Message)), nil
			}
			return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		rec, err := deps.Store.RecordArrived(ctx, result.Symbol, result.Timestamp, result.Payload)
		if errors.Is(err, history.ErrInvalidRecord) {
			return errorResult(fmt.Sprintf("analysis failed: %v", err)), nil
		}
		out := reportResult{Record: rec, Selected: true}
		if err != nil {
			if !errors.Is(err, history.ErrPersist) {
				logger.Warn().Str("error", err.Error()).Msg("unexpected error recording report")
			}
			out.Warning = "report recorded but could not be saved"
		}
		return jsonResult(out), nil
	}
}

func listAssetsHandler(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind := request.GetString("type", assets.DefaultKind)
		symbols, err := deps.Catalog.List(kind)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{
			"type":    kind,
			"symbols": symbols,
		}), nil
	}
}
