package interfaces

import (
	"context"

	"github.com/bobmcallan/quant-portal/internal/analysis"
)

// Analyzer produces a report payload for a symbol. analysis.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (analysis.Result, error)
}
