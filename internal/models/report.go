// Package models defines the data structures shared across quant-portal.
package models

import (
	"encoding/json"
	"fmt"
)

// ReportRecord is one persisted analysis result. Records are immutable once
// created. Field names match the browser history format so exported
// histories load unchanged.
type ReportRecord struct {
	ID        string       `json:"id"`
	Symbol    string       `json:"symbol"`
	Timestamp string       `json:"timestamp"`
	Payload   AnalysisData `json:"analysisData"`
}

// AnalysisData is the opaque analysis payload produced by the backend.
// It must be a JSON value. Round trips keep its meaning but not its layout:
// encoding/json compacts it and escapes HTML characters when it is written.
type AnalysisData json.RawMessage

// MarshalJSON emits the raw payload, or null when empty.
func (a AnalysisData) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return []byte(a), nil
}

// UnmarshalJSON keeps a copy of the raw bytes.
func (a *AnalysisData) UnmarshalJSON(data []byte) error {
	if a == nil {
		return fmt.Errorf("models.AnalysisData: UnmarshalJSON on nil pointer")
	}
	*a = append((*a)[0:0], data...)
	return nil
}

// Clone returns an independent copy of the payload.
func (a AnalysisData) Clone() AnalysisData {
	if a == nil {
		return nil
	}
	out := make(AnalysisData, len(a))
	copy(out, a)
	return out
}

// FinalReport decodes the typed view of the payload. The view is read-only;
// it is used for display and never written back.
func (a AnalysisData) FinalReport() (*FinalReport, error) {
	if len(a) == 0 {
		return nil, fmt.Errorf("empty analysis payload")
	}
	var envelope struct {
		FinalReport *FinalReport `json:"final_report"`
	}
	if err := json.Unmarshal(a, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode analysis payload: %w", err)
	}
	if envelope.FinalReport == nil {
		return nil, fmt.Errorf("analysis payload has no final_report")
	}
	return envelope.FinalReport, nil
}

// Clone returns a copy of the record that shares no payload bytes.
func (r ReportRecord) Clone() ReportRecord {
	r.Payload = r.Payload.Clone()
	return r
}

// FinalReport is the analysis backend's report structure.
type FinalReport struct {
	QuantAnalysis   QuantAnalysis   `json:"quant_analysis"`
	MarketSentiment MarketSentiment `json:"market_sentiment"`
	AIAnalysis      string          `json:"ai_analysis"`
	GeneratedAt     string          `json:"generated_at"`
}

// QuantAnalysis summarises the backtested strategy for a symbol.
type QuantAnalysis struct {
	Status         string       `json:"status"`
	Symbol         string       `json:"symbol"`
	StrategyName   string       `json:"strategy_name"`
	LiveSignal     string       `json:"live_signal"`
	KeyMetrics     KeyMetrics   `json:"key_metrics"`
	Summary        QuantSummary `json:"summary"`
	IsSatisfactory bool         `json:"is_satisfactory"`
}

// KeyMetrics are the headline backtest numbers. Percentages arrive as strings.
type KeyMetrics struct {
	TotalReturn      string  `json:"total_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      string  `json:"max_drawdown"`
	WinRate          string  `json:"win_rate"`
	TotalTrades      int     `json:"total_trades,omitempty"`
	AvgTradeDuration string  `json:"avg_trade_duration,omitempty"`
}

// QuantSummary is the backend's narrative rating of the strategy.
type QuantSummary struct {
	Rating         string `json:"rating"`
	Recommendation string `json:"recommendation"`
	KeyStrength    string `json:"key_strength"`
	MainWeakness   string `json:"main_weakness"`
}

// MarketSentiment is the news/social sentiment summary.
type MarketSentiment struct {
	OverallSentiment string  `json:"overall_sentiment"`
	SentimentScore   float64 `json:"sentiment_score"`
	Confidence       float64 `json:"confidence"`
	Error            string  `json:"error,omitempty"`
	RawData          string  `json:"raw_data,omitempty"`
}

// ReportSummary is the list-view projection of a record.
type ReportSummary struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Timestamp      string  `json:"timestamp"`
	LiveSignal     string  `json:"live_signal,omitempty"`
	Sentiment      string  `json:"sentiment,omitempty"`
	SentimentScore float64 `json:"sentiment_score,omitempty"`
	Selected       bool    `json:"selected"`
}

// Summarize projects a record for list display. Payloads that do not decode
// still produce a summary with the identifying fields.
func Summarize(r ReportRecord, selected bool) ReportSummary {
	s := ReportSummary{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Timestamp: r.Timestamp,
		Selected:  selected,
	}
	if fr, err := r.Payload.FinalReport(); err == nil {
		s.LiveSignal = fr.QuantAnalysis.LiveSignal
		s.Sentiment = fr.MarketSentiment.OverallSentiment
		s.SentimentScore = fr.MarketSentiment.SentimentScore
	}
	return s
}
