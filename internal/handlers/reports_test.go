package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/bobmcallan/quant-portal/internal/storage/memory"
)

const testPayload = `{"final_report":{"quant_analysis":{"live_signal":"BUY"},"market_sentiment":{"overall_sentiment":"positive","sentiment_score":0.6}}}`

type failingKV struct {
	*memory.KVStorage
}

func (f *failingKV) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

func (f *failingKV) Update(context.Context, string, interfaces.UpdateFunc) error {
	return errors.New("disk full")
}

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	s := history.New(memory.NewKVStorage(), common.NewSilentLogger(), history.Options{})
	s.Initialize(context.Background())
	return s
}

func seed(t *testing.T, s *history.Store, symbol, ts string) models.ReportRecord {
	t.Helper()
	rec, err := s.RecordArrived(context.Background(), symbol, ts, models.AnalysisData(testPayload))
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return rec
}

func decodeRecord(t *testing.T, w *httptest.ResponseRecorder) recordResponse {
	t.Helper()
	var resp recordResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestReportsHandler_ListEmpty(t *testing.T) {
	h := NewReportsHandler(common.NewSilentLogger(), newTestStore(t))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/reports", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body reportListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if body.Count != 0 || body.Records == nil || len(body.Records) != 0 {
		t.Errorf("expected empty records array, got %s", w.Body.String())
	}
	if body.SelectedID != "" {
		t.Errorf("expected no selection, got %s", body.SelectedID)
	}
}

func TestReportsHandler_ListOrderedWithSelection(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "AAPL", "2024-01-01T00:00:00Z")
	newest := seed(t, s, "MSFT", "2024-03-01T00:00:00Z")
	latest := seed(t, s, "TSLA", "2024-02-01T00:00:00Z")

	h := NewReportsHandler(common.NewSilentLogger(), s)
	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/reports", nil))

	var body reportListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if body.Count != 3 {
		t.Fatalf("expected 3 records, got %d", body.Count)
	}
	if body.Records[0].ID != newest.ID {
		t.Errorf("expected newest first, got %s", body.Records[0].Symbol)
	}
	if body.SelectedID != latest.ID {
		t.Errorf("expected last arrival selected, got %s", body.SelectedID)
	}
	if !body.Records[1].Selected || body.Records[0].Selected {
		t.Error("expected selected flag only on the TSLA summary")
	}
	if body.Records[0].LiveSignal != "BUY" || body.Records[0].Sentiment != "positive" {
		t.Errorf("expected summary fields from payload, got %+v", body.Records[0])
	}
}

func TestReportsHandler_Create(t *testing.T) {
	s := newTestStore(t)
	h := NewReportsHandler(common.NewSilentLogger(), s)

	body := `{"symbol":"AAPL","timestamp":"2024-05-01T10:00:00.000Z","analysisData":` + testPayload + `}`
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/api/reports", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeRecord(t, w)
	if resp.Record.ID == "" || resp.Record.Symbol != "AAPL" {
		t.Errorf("unexpected record %+v", resp.Record)
	}
	if resp.SelectedID != resp.Record.ID {
		t.Error("expected new record selected")
	}
	if resp.Warning != "" {
		t.Errorf("expected no warning, got %s", resp.Warning)
	}
	if string(resp.Record.Payload) != testPayload {
		t.Errorf("expected payload verbatim, got %s", resp.Record.Payload)
	}

	if sel, ok := s.CurrentSelection(); !ok || sel.ID != resp.Record.ID {
		t.Error("store selection does not match response")
	}
}

func TestReportsHandler_CreateStampsMissingTimestamp(t *testing.T) {
	s := newTestStore(t)
	h := NewReportsHandler(common.NewSilentLogger(), s)
	h.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/api/reports", strings.NewReader(`{"symbol":"AAPL","analysisData":{}}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got := decodeRecord(t, w).Record.Timestamp; got != "2024-06-01T12:00:00Z" {
		t.Errorf("expected stamped timestamp, got %s", got)
	}
}

func TestReportsHandler_CreateValidation(t *testing.T) {
	h := NewReportsHandler(common.NewSilentLogger(), newTestStore(t))

	for name, body := range map[string]string{
		"missing symbol":  `{"timestamp":"2024-01-01","analysisData":{}}`,
		"blank symbol":    `{"symbol":"  ","analysisData":{}}`,
		"missing payload": `{"symbol":"AAPL"}`,
		"null payload":    `{"symbol":"AAPL","analysisData":null}`,
		"invalid json":    `{"symbol":`,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Create(w, httptest.NewRequest("POST", "/api/reports", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestReportsHandler_CreatePersistFailureWarns(t *testing.T) {
	s := history.New(&failingKV{memory.NewKVStorage()}, common.NewSilentLogger(), history.Options{})
	s.Initialize(context.Background())
	h := NewReportsHandler(common.NewSilentLogger(), s)

	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/api/reports", strings.NewReader(`{"symbol":"AAPL","timestamp":"2024-01-01","analysisData":{}}`)))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 despite write failure, got %d", w.Code)
	}
	resp := decodeRecord(t, w)
	if resp.Warning == "" {
		t.Error("expected warning when persistence fails")
	}
	if _, ok := s.Get(resp.Record.ID); !ok {
		t.Error("expected record held in memory")
	}
}

func TestReportsHandler_ServeItemGet(t *testing.T) {
	s := newTestStore(t)
	rec := seed(t, s, "AAPL", "2024-01-01")
	h := NewReportsHandler(common.NewSilentLogger(), s)

	w := httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("GET", "/api/reports/"+rec.ID, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeRecord(t, w).Record; got.ID != rec.ID || string(got.Payload) != testPayload {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestReportsHandler_ServeItemNotFound(t *testing.T) {
	h := NewReportsHandler(common.NewSilentLogger(), newTestStore(t))

	w := httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("GET", "/api/reports/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestReportsHandler_SelectedNone(t *testing.T) {
	h := NewReportsHandler(common.NewSilentLogger(), newTestStore(t))

	w := httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("GET", "/api/reports/selected", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no selection, got %d", w.Code)
	}
}

func TestReportsHandler_SelectAndReadBack(t *testing.T) {
	s := newTestStore(t)
	first := seed(t, s, "AAPL", "2024-01-01")
	seed(t, s, "MSFT", "2024-02-01")
	h := NewReportsHandler(common.NewSilentLogger(), s)

	w := httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("POST", "/api/reports/select", strings.NewReader(`{"id":"`+first.ID+`"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sel map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &sel)
	if sel["selected"] != true || sel["selected_id"] != first.ID {
		t.Errorf("unexpected select response %v", sel)
	}

	w = httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("GET", "/api/reports/selected", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeRecord(t, w).Record; got.ID != first.ID {
		t.Errorf("expected %s selected, got %s", first.ID, got.ID)
	}
}

func TestReportsHandler_SelectUnknownLeavesSelection(t *testing.T) {
	s := newTestStore(t)
	rec := seed(t, s, "AAPL", "2024-01-01")
	h := NewReportsHandler(common.NewSilentLogger(), s)

	w := httptest.NewRecorder()
	h.ServeItem(w, httptest.NewRequest("POST", "/api/reports/select", strings.NewReader(`{"id":"nope"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sel map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &sel)
	if sel["selected"] != false {
		t.Errorf("expected selected=false, got %v", sel["selected"])
	}
	if sel["selected_id"] != rec.ID {
		t.Errorf("expected selection unchanged (%s), got %v", rec.ID, sel["selected_id"])
	}
}

func TestReportsHandler_ServeItemMethods(t *testing.T) {
	h := NewReportsHandler(common.NewSilentLogger(), newTestStore(t))

	for _, tc := range []struct {
		method, path string
	}{
		{"GET", "/api/reports/select"},
		{"POST", "/api/reports/selected"},
		{"DELETE", "/api/reports/some-id"},
	} {
		w := httptest.NewRecorder()
		h.ServeItem(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.path, w.Code)
		}
	}
}
