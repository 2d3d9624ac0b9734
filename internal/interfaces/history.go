package interfaces

import (
	"context"

	"github.com/bobmcallan/quant-portal/internal/models"
)

// ReportHistory is the report store as seen by the HTTP and MCP surfaces.
// history.Store implements it.
type ReportHistory interface {
	RecordArrived(ctx context.Context, symbol, timestamp string, payload models.AnalysisData) (models.ReportRecord, error)
	Select(id string) bool
	CurrentSelection() (models.ReportRecord, bool)
	SelectedID() string
	Get(id string) (models.ReportRecord, bool)
	AllRecords() []models.ReportRecord
	Len() int
}
