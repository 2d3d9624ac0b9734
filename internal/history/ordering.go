package history

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/bobmcallan/quant-portal/internal/models"
)

// timestampLayouts are tried in order. The browser wrote toISOString output;
// the backend's generated_at is usually one of the space-separated forms.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts a record timestamp to an instant.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// compareNewestFirst orders records by timestamp descending. Parseable
// timestamps come before unparseable ones; unparseable ones fall back to
// reverse string order.
func compareNewestFirst(a, b models.ReportRecord) int {
	ta, okA := ParseTimestamp(a.Timestamp)
	tb, okB := ParseTimestamp(b.Timestamp)

	switch {
	case okA && okB:
		return tb.Compare(ta)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return cmp.Compare(b.Timestamp, a.Timestamp)
	}
}

// sortNewestFirst sorts in place. Equal timestamps keep their relative order,
// so a fresh arrival placed at the front stays ahead of an equal-time record.
func sortNewestFirst(records []models.ReportRecord) {
	slices.SortStableFunc(records, compareNewestFirst)
}
