package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobmcallan/quant-portal/internal/analysis"
	"github.com/bobmcallan/quant-portal/internal/assets"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/bobmcallan/quant-portal/internal/storage/memory"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const samplePayload = `{"final_report":{"quant_analysis":{"live_signal":"SELL"},"market_sentiment":{"overall_sentiment":"negative","sentiment_score":-0.3}}}`

type stubAnalyzer struct {
	err error
}

func (s stubAnalyzer) Analyze(_ context.Context, symbol string) (analysis.Result, error) {
	if s.err != nil {
		return analysis.Result{}, s.err
	}
	return analysis.Result{
		Symbol:    symbol,
		Timestamp: "2024-07-01T09:30:00.000Z",
		Payload:   models.AnalysisData(samplePayload),
	}, nil
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	s := history.New(memory.NewKVStorage(), common.NewSilentLogger(), history.Options{})
	s.Initialize(context.Background())
	return s
}

func newTestServer(t *testing.T, deps Deps) *mcpserver.MCPServer {
	t.Helper()
	s, _ := NewServer(common.NewSilentLogger(), deps)
	return s
}

// listTools calls tools/list on the MCPServer and returns the tools.
func listTools(t *testing.T, s *mcpserver.MCPServer) []mcpgo.Tool {
	t.Helper()

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	result := s.HandleMessage(t.Context(), msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolsResult mcpgo.ListToolsResult
	if err := json.Unmarshal(resultJSON, &toolsResult); err != nil {
		t.Fatalf("failed to unmarshal ListToolsResult: %v", err)
	}
	return toolsResult.Tools
}

// callTool calls a tool on the MCPServer and returns the result.
func callTool(t *testing.T, s *mcpserver.MCPServer, name string, args map[string]interface{}) *mcpgo.CallToolResult {
	t.Helper()

	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	paramsJSON, _ := json.Marshal(params)

	msg := json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":` + string(paramsJSON) + `}`)
	result := s.HandleMessage(t.Context(), msg)

	resp, ok := result.(mcpgo.JSONRPCResponse)
	if !ok {
		t.Fatalf("expected JSONRPCResponse, got %T", result)
	}

	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var toolResult mcpgo.CallToolResult
	if err := json.Unmarshal(resultJSON, &toolResult); err != nil {
		t.Fatalf("failed to unmarshal CallToolResult: %v", err)
	}
	return &toolResult
}

// extractText extracts the text field from an MCP content block.
func extractText(t *testing.T, content mcpgo.Content) string {
	t.Helper()
	contentJSON, _ := json.Marshal(content)
	var tc struct {
		Text string `json:"text"`
	}
	json.Unmarshal(contentJSON, &tc)
	return tc.Text
}

func decodeText(t *testing.T, result *mcpgo.CallToolResult, v interface{}) {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content in result")
	}
	if err := json.Unmarshal([]byte(extractText(t, result.Content[0])), v); err != nil {
		t.Fatalf("failed to decode tool output: %v", err)
	}
}

func TestRegisterTools_AllTools(t *testing.T) {
	s := newTestServer(t, Deps{
		Store:    newTestStore(t),
		Analyzer: stubAnalyzer{},
		Catalog:  assets.Default(),
	})

	names := map[string]bool{}
	for _, tool := range listTools(t, s) {
		names[tool.Name] = true
	}
	for _, want := range []string{"list_reports", "get_report", "select_report", "request_analysis", "list_assets", "get_version"} {
		if !names[want] {
			t.Errorf("expected tool %s to be registered", want)
		}
	}
}

func TestRegisterTools_OptionalTools(t *testing.T) {
	_, count := NewServer(common.NewSilentLogger(), Deps{Store: newTestStore(t)})
	if count != 4 {
		t.Errorf("expected 4 tools without analyzer and catalog, got %d", count)
	}
}

func TestListReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.RecordArrived(ctx, "AAPL", "2024-01-01", models.AnalysisData(samplePayload))
	store.RecordArrived(ctx, "MSFT", "2024-02-01", models.AnalysisData(samplePayload))
	last, _ := store.RecordArrived(ctx, "TSLA", "2023-12-01", models.AnalysisData(samplePayload))

	s := newTestServer(t, Deps{Store: store})
	result := callTool(t, s, "list_reports", map[string]interface{}{"limit": 2})
	if result.IsError {
		t.Fatalf("unexpected tool error: %v", result.Content)
	}

	var out reportList
	decodeText(t, result, &out)
	if out.Total != 3 || len(out.Records) != 2 {
		t.Fatalf("expected 2 of 3 records, got %d of %d", len(out.Records), out.Total)
	}
	if out.Records[0].Symbol != "MSFT" {
		t.Errorf("expected newest first, got %s", out.Records[0].Symbol)
	}
	if out.SelectedID != last.ID {
		t.Errorf("expected latest arrival selected, got %s", out.SelectedID)
	}
	if out.Records[0].LiveSignal != "SELL" {
		t.Errorf("expected live signal in summary, got %+v", out.Records[0])
	}
}

func TestGetReport_ByIDAndSelection(t *testing.T) {
	store := newTestStore(t)
	rec, _ := store.RecordArrived(context.Background(), "AAPL", "2024-01-01", models.AnalysisData(samplePayload))
	s := newTestServer(t, Deps{Store: store})

	var out reportResult
	decodeText(t, callTool(t, s, "get_report", map[string]interface{}{"id": rec.ID}), &out)
	if out.Record.ID != rec.ID || string(out.Record.Payload) != samplePayload {
		t.Errorf("unexpected record %+v", out.Record)
	}

	out = reportResult{}
	decodeText(t, callTool(t, s, "get_report", map[string]interface{}{}), &out)
	if out.Record.ID != rec.ID || !out.Selected {
		t.Errorf("expected selected record without id, got %+v", out)
	}
}

func TestGetReport_Errors(t *testing.T) {
	s := newTestServer(t, Deps{Store: newTestStore(t)})

	if r := callTool(t, s, "get_report", map[string]interface{}{}); !r.IsError {
		t.Error("expected error with no selection")
	}
	if r := callTool(t, s, "get_report", map[string]interface{}{"id": "missing"}); !r.IsError {
		t.Error("expected error for unknown id")
	}
}

func TestSelectReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first, _ := store.RecordArrived(ctx, "AAPL", "2024-01-01", models.AnalysisData(samplePayload))
	store.RecordArrived(ctx, "MSFT", "2024-02-01", models.AnalysisData(samplePayload))
	s := newTestServer(t, Deps{Store: store})

	var out map[string]interface{}
	decodeText(t, callTool(t, s, "select_report", map[string]interface{}{"id": first.ID}), &out)
	if out["selected"] != true || out["selected_id"] != first.ID {
		t.Errorf("unexpected select output %v", out)
	}

	decodeText(t, callTool(t, s, "select_report", map[string]interface{}{"id": "nope"}), &out)
	if out["selected"] != false || out["selected_id"] != first.ID {
		t.Errorf("unknown id should leave selection at %s, got %v", first.ID, out)
	}

	if r := callTool(t, s, "select_report", map[string]interface{}{}); !r.IsError {
		t.Error("expected error when id is missing")
	}
}

func TestRequestAnalysis(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, Deps{Store: store, Analyzer: stubAnalyzer{}})

	result := callTool(t, s, "request_analysis", map[string]interface{}{"symbol": "ETH-USD"})
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", extractText(t, result.Content[0]))
	}

	var out reportResult
	decodeText(t, result, &out)
	if out.Record.Symbol != "ETH-USD" || out.Record.Timestamp != "2024-07-01T09:30:00.000Z" {
		t.Errorf("unexpected record %+v", out.Record)
	}
	if sel, ok := store.CurrentSelection(); !ok || sel.ID != out.Record.ID {
		t.Error("expected analysed record selected in store")
	}
}

func TestRequestAnalysis_BackendError(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, Deps{
		Store:    store,
		Analyzer: stubAnalyzer{err: &analysis.BackendError{StatusCode: 500, Message: "no price data"}},
	})

	result := callTool(t, s, "request_analysis", map[string]interface{}{"symbol": "AAPL"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := extractText(t, result.Content[0]); !strings.Contains(text, "no price data") {
		t.Errorf("expected backend message, got %s", text)
	}
	if len(store.AllRecords()) != 0 {
		t.Error("failed analysis must not add a record")
	}
}

func TestRequestAnalysis_CircuitOpen(t *testing.T) {
	s := newTestServer(t, Deps{Store: newTestStore(t), Analyzer: stubAnalyzer{err: analysis.ErrCircuitOpen}})

	result := callTool(t, s, "request_analysis", map[string]interface{}{"symbol": "AAPL"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := extractText(t, result.Content[0]); !strings.Contains(text, "circuit open") {
		t.Errorf("unexpected message %s", text)
	}
}

type garbledAnalyzer struct{}

func (garbledAnalyzer) Analyze(_ context.Context, symbol string) (analysis.Result, error) {
	return analysis.Result{Symbol: symbol, Timestamp: "2024-07-01", Payload: models.AnalysisData("<html>")}, nil
}

func TestRequestAnalysis_UnusablePayload(t *testing.T) {
	store := newTestStore(t)
	s := newTestServer(t, Deps{Store: store, Analyzer: garbledAnalyzer{}})

	result := callTool(t, s, "request_analysis", map[string]interface{}{"symbol": "AAPL"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if store.Len() != 0 {
		t.Errorf("unusable payload must not add a record, got %d", store.Len())
	}
}

func TestListAssets(t *testing.T) {
	s := newTestServer(t, Deps{Store: newTestStore(t), Catalog: assets.Default()})

	var out struct {
		Type    string   `json:"type"`
		Symbols []string `json:"symbols"`
	}
	decodeText(t, callTool(t, s, "list_assets", map[string]interface{}{"type": "forex"}), &out)
	if out.Type != "forex" || len(out.Symbols) == 0 || out.Symbols[0] != "EURUSD=X" {
		t.Errorf("unexpected forex list %+v", out)
	}

	decodeText(t, callTool(t, s, "list_assets", map[string]interface{}{}), &out)
	if out.Type != "stock" {
		t.Errorf("expected stock by default, got %s", out.Type)
	}
}

func TestGetVersion(t *testing.T) {
	s := newTestServer(t, Deps{Store: newTestStore(t)})

	var out map[string]string
	decodeText(t, callTool(t, s, "get_version", nil), &out)
	if _, ok := out["version"]; !ok {
		t.Errorf("expected version field, got %v", out)
	}
}

func TestHandler_ServesStreamableHTTP(t *testing.T) {
	h := NewHandler(common.NewSilentLogger(), Deps{Store: newTestStore(t)})
	if h.ToolCount() != 4 {
		t.Errorf("expected 4 tools, got %d", h.ToolCount())
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
	req := httptest.NewRequest("POST", "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "list_reports") {
		t.Errorf("expected tool list in response, got %s", w.Body.String())
	}
}
