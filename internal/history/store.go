// Package history keeps the ordered, persisted list of analysis reports and
// tracks which one is selected for display.
//
// The whole list lives under a single storage key as a JSON array. Each
// arrival is an atomic read-modify-write of that key: the stored list is
// re-read, merged with this store's records by id, capped and written back,
// so stores in several processes sharing one backend keep each other's
// arrivals. Reads never fail: a missing, unreadable or malformed blob loads as
// an empty history, and entries without a symbol or payload are skipped.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/google/uuid"
)

// ErrPersist wraps storage write failures from RecordArrived. The in-memory
// history has already been updated when it is returned.
var ErrPersist = errors.New("failed to persist report history")

// ErrInvalidRecord is returned by RecordArrived for an arrival that could not
// be stored: an empty symbol, or a payload that is missing or not valid JSON.
// The history is left unchanged.
var ErrInvalidRecord = errors.New("invalid report")

// Load outcomes reported to the Observer.
const (
	LoadOK        = "ok"
	LoadEmpty     = "empty"
	LoadReadError = "read_error"
	LoadMalformed = "malformed"
)

// Observer receives store events. metrics.Metrics implements it.
type Observer interface {
	HistoryLoaded(outcome string, records int)
	RecordAdded(records int)
	PersistFailed()
}

type noopObserver struct{}

func (noopObserver) HistoryLoaded(string, int) {}
func (noopObserver) RecordAdded(int)           {}
func (noopObserver) PersistFailed()            {}

// Options configures a Store.
type Options struct {
	// Key is the storage key holding the serialized list.
	Key string
	// MaxRecords caps the history; the oldest records are evicted first.
	// The record just added is never evicted, so an arrival older than
	// everything in a full history displaces the oldest of the others.
	// Zero means unbounded.
	MaxRecords int
	// AutoSelectLatest selects the newest record after Initialize.
	AutoSelectLatest bool
	// Dedupe makes an arrival with an existing (symbol, timestamp) pair
	// select the existing record instead of adding a new one.
	Dedupe bool
	// NewID generates record identifiers. Defaults to UUIDv7.
	NewID func() string
	// Observer is notified of loads, arrivals and write failures.
	Observer Observer
}

// Store is the report history. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	kv         interfaces.KeyValueStorage
	logger     *common.Logger
	opts       Options
	records    []models.ReportRecord
	selectedID string
}

// New creates an empty store. Call Initialize to load persisted history.
func New(kv interfaces.KeyValueStorage, logger *common.Logger, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = "reportHistory"
	}
	if opts.MaxRecords < 0 {
		opts.MaxRecords = 0
	}
	if opts.NewID == nil {
		opts.NewID = newID
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Store{
		kv:     kv,
		logger: logger,
		opts:   opts,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Initialize replaces the in-memory history with the persisted one, sorted
// newest first. It never writes to storage and never fails: storage errors
// and malformed data load as an empty history.
func (s *Store) Initialize(ctx context.Context) {
	records, outcome := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	sortNewestFirst(records)
	if s.opts.MaxRecords > 0 && len(records) > s.opts.MaxRecords {
		s.logger.Info().
			Int("loaded", len(records)).
			Int("max_records", s.opts.MaxRecords).
			Msg("report history exceeds max_records, keeping newest")
		records = records[:s.opts.MaxRecords]
	}

	s.records = records
	s.selectedID = ""
	if s.opts.AutoSelectLatest && len(records) > 0 {
		s.selectedID = records[0].ID
	}

	s.opts.Observer.HistoryLoaded(outcome, len(records))
	s.logger.Debug().
		Str("key", s.opts.Key).
		Str("outcome", outcome).
		Int("records", len(records)).
		Msg("report history loaded")
}

func (s *Store) load(ctx context.Context) ([]models.ReportRecord, string) {
	raw, err := s.kv.Get(ctx, s.opts.Key)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, LoadEmpty
		}
		s.logger.Warn().
			Str("key", s.opts.Key).
			Str("error", err.Error()).
			Msg("failed to read report history, starting empty")
		return nil, LoadReadError
	}

	records, err := s.decode(raw)
	if err != nil {
		s.logger.Warn().
			Str("key", s.opts.Key).
			Str("error", err.Error()).
			Msg("stored report history is malformed, starting empty")
		return nil, LoadMalformed
	}
	if len(records) == 0 {
		return nil, LoadEmpty
	}
	return records, LoadOK
}

// decode parses a stored list. Entries without a symbol or payload are
// dropped, and missing or repeated ids are replaced so selection by id stays
// unambiguous.
func (s *Store) decode(raw string) ([]models.ReportRecord, error) {
	var stored []models.ReportRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}

	records := stored[:0]
	dropped := 0
	for _, r := range stored {
		if strings.TrimSpace(r.Symbol) == "" || !validPayload(r.Payload) {
			dropped++
			continue
		}
		records = append(records, r)
	}
	if dropped > 0 {
		s.logger.Warn().
			Str("key", s.opts.Key).
			Int("dropped", dropped).
			Msg("skipped stored reports without a symbol or payload")
	}

	seen := make(map[string]bool, len(records))
	for i := range records {
		if records[i].ID == "" || seen[records[i].ID] {
			old := records[i].ID
			records[i].ID = s.uniqueID(seen)
			s.logger.Debug().
				Str("old_id", old).
				Str("new_id", records[i].ID).
				Msg("reassigned missing or duplicate record id")
		}
		seen[records[i].ID] = true
	}
	return records, nil
}

func validPayload(p models.AnalysisData) bool {
	trimmed := strings.TrimSpace(string(p))
	return trimmed != "" && trimmed != "null" && json.Valid(p)
}

// uniqueID draws ids until one is not in taken.
func (s *Store) uniqueID(taken map[string]bool) string {
	id := s.opts.NewID()
	for n := 1; taken[id]; n++ {
		id = fmt.Sprintf("%s-%d", s.opts.NewID(), n)
	}
	return id
}

// RecordArrived adds a record for a completed analysis, persists it and
// selects it. An arrival with an empty symbol or an invalid payload returns
// ErrInvalidRecord and changes nothing. Otherwise the returned error is
// non-nil only when the storage write failed (it wraps ErrPersist); the record
// is kept and selected in memory either way.
func (s *Store) RecordArrived(ctx context.Context, symbol, timestamp string, payload models.AnalysisData) (models.ReportRecord, error) {
	if strings.TrimSpace(symbol) == "" {
		return models.ReportRecord{}, fmt.Errorf("%w: symbol is required", ErrInvalidRecord)
	}
	if !validPayload(payload) {
		return models.ReportRecord{}, fmt.Errorf("%w: analysis payload must be a JSON value", ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Dedupe {
		for _, r := range s.records {
			if r.Symbol == symbol && r.Timestamp == timestamp {
				s.selectedID = r.ID
				s.logger.Debug().
					Str("id", r.ID).
					Str("symbol", symbol).
					Msg("duplicate report arrival, selecting existing record")
				return r.Clone(), nil
			}
		}
	}

	payload = payload.Clone()

	var merged []models.ReportRecord
	var rec models.ReportRecord
	err := s.kv.Update(ctx, s.opts.Key, func(current string, found bool) (string, error) {
		base := s.records
		if found {
			base = mergeByID(s.storedRecords(current), s.records)
		}
		merged, rec = s.insert(base, symbol, timestamp, payload)
		data, err := json.Marshal(merged)
		if err != nil {
			return "", fmt.Errorf("failed to encode report history: %w", err)
		}
		return string(data), nil
	})

	if err != nil {
		merged, rec = s.insert(s.records, symbol, timestamp, payload)
	}
	s.records = merged
	s.selectedID = rec.ID

	s.opts.Observer.RecordAdded(len(s.records))
	s.logger.Info().
		Str("id", rec.ID).
		Str("symbol", symbol).
		Str("timestamp", timestamp).
		Int("records", len(s.records)).
		Msg("report recorded")

	if err != nil {
		s.opts.Observer.PersistFailed()
		s.logger.Warn().
			Str("key", s.opts.Key).
			Str("error", err.Error()).
			Msg("failed to persist report history, keeping in-memory copy")
		return rec.Clone(), fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return rec.Clone(), nil
}

// storedRecords decodes the list read back during an update. A malformed
// list is replaced rather than failing the arrival.
func (s *Store) storedRecords(raw string) []models.ReportRecord {
	records, err := s.decode(raw)
	if err != nil {
		s.logger.Warn().
			Str("key", s.opts.Key).
			Str("error", err.Error()).
			Msg("stored report history is malformed, overwriting")
		return nil
	}
	return records
}

// mergeByID returns stored plus the local records it does not contain.
func mergeByID(stored, local []models.ReportRecord) []models.ReportRecord {
	ids := make(map[string]bool, len(stored))
	for _, r := range stored {
		ids[r.ID] = true
	}
	out := stored
	for _, r := range local {
		if !ids[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// insert returns a new list holding base plus a record for the arrival,
// sorted newest first and capped.
func (s *Store) insert(base []models.ReportRecord, symbol, timestamp string, payload models.AnalysisData) ([]models.ReportRecord, models.ReportRecord) {
	taken := make(map[string]bool, len(base))
	for _, r := range base {
		taken[r.ID] = true
	}

	rec := models.ReportRecord{
		ID:        s.uniqueID(taken),
		Symbol:    symbol,
		Timestamp: timestamp,
		Payload:   payload,
	}

	records := make([]models.ReportRecord, 0, len(base)+1)
	records = append(records, rec)
	records = append(records, base...)
	sortNewestFirst(records)
	return s.evict(records, rec.ID), rec
}

// evict drops the oldest records beyond MaxRecords, never the one named keep.
func (s *Store) evict(records []models.ReportRecord, keep string) []models.ReportRecord {
	if s.opts.MaxRecords == 0 {
		return records
	}
	for i := len(records) - 1; i >= 0 && len(records) > s.opts.MaxRecords; i-- {
		if records[i].ID == keep {
			continue
		}
		s.logger.Debug().
			Str("id", records[i].ID).
			Str("symbol", records[i].Symbol).
			Msg("evicting oldest report")
		records = append(records[:i], records[i+1:]...)
	}
	return records
}

// Select makes the record with id current. An unknown id leaves the
// selection unchanged and returns false.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return false
	}
	s.selectedID = id
	return true
}

// CurrentSelection returns the selected record, if any.
func (s *Store) CurrentSelection() (models.ReportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selectedID == "" {
		return models.ReportRecord{}, false
	}
	i := s.indexOf(s.selectedID)
	if i < 0 {
		return models.ReportRecord{}, false
	}
	return s.records[i].Clone(), true
}

// SelectedID returns the selected record id, or "" when nothing is selected.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// Get returns the record with id.
func (s *Store) Get(id string) (models.ReportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.ReportRecord{}, false
	}
	return s.records[i].Clone(), true
}

// AllRecords returns a snapshot of the history, newest first.
func (s *Store) AllRecords() []models.ReportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ReportRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Records iterates a snapshot taken when iteration starts. Each range over
// the sequence takes a fresh snapshot.
func (s *Store) Records() iter.Seq[models.ReportRecord] {
	return func(yield func(models.ReportRecord) bool) {
		for _, r := range s.AllRecords() {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// indexOf must be called with mu held.
func (s *Store) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
