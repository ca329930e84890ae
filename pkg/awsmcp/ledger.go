package awsmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// CostRecord is one executed operation's estimate.
type CostRecord struct {
	ID            string    `json:"id"`
	InvocationID  string    `json:"invocation_id"`
	Account       string    `json:"account"`
	Tool          string    `json:"tool"`
	ResourceClass string    `json:"resource_class"`
	Estimate      float64   `json:"estimate"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// LedgerFilter selects cost records.
type LedgerFilter struct {
	// Account restricts records to one account.
	Account string

	// Day restricts records to one UTC day (YYYY-MM-DD).
	Day string

	// Limit caps the number of records returned. Zero means no cap.
	Limit int
}

// CostLedger accumulates estimates of executed operations keyed by day.
type CostLedger interface {
	// Record appends a cost record to its day.
	Record(ctx context.Context, rec CostRecord) error

	// DailyTotal sums the estimates recorded for account on day's UTC date.
	DailyTotal(ctx context.Context, account string, day time.Time) (float64, error)

	// List returns records matching the filter, oldest first.
	List(ctx context.Context, filter LedgerFilter) ([]CostRecord, error)
}

// LedgerVersion is the current schema version of the ledger file.
const LedgerVersion = 1

// LedgerData is the serializable ledger format.
type LedgerData struct {
	Version   int                     `json:"version"`
	Days      map[string][]CostRecord `json:"days"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// DayKey returns the UTC date key used by ledgers.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func newLedgerData() LedgerData {
	return LedgerData{
		Version:   LedgerVersion,
		Days:      make(map[string][]CostRecord),
		UpdatedAt: time.Now(),
	}
}

func (d *LedgerData) add(rec CostRecord) {
	key := DayKey(rec.RecordedAt)
	d.Days[key] = append(d.Days[key], rec)
	d.UpdatedAt = time.Now()
}

func (d *LedgerData) total(account string, day time.Time) float64 {
	var sum float64
	for _, rec := range d.Days[DayKey(day)] {
		if account != "" && rec.Account != account {
			continue
		}
		sum += rec.Estimate
	}
	return round4(sum)
}

func (d *LedgerData) list(filter LedgerFilter) []CostRecord {
	var recs []CostRecord
	for key, day := range d.Days {
		if filter.Day != "" && key != filter.Day {
			continue
		}
		for _, rec := range day {
			if filter.Account != "" && rec.Account != filter.Account {
				continue
			}
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].RecordedAt.Before(recs[j].RecordedAt)
	})
	if filter.Limit > 0 && filter.Limit < len(recs) {
		recs = recs[:filter.Limit]
	}
	return recs
}

// MemoryLedger is an in-memory CostLedger.
type MemoryLedger struct {
	mu   sync.RWMutex
	data LedgerData
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{data: newLedgerData()}
}

// Record implements CostLedger.
func (l *MemoryLedger) Record(ctx context.Context, rec CostRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.add(rec)
	return nil
}

// DailyTotal implements CostLedger.
func (l *MemoryLedger) DailyTotal(ctx context.Context, account string, day time.Time) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.data.total(account, day), nil
}

// List implements CostLedger.
func (l *MemoryLedger) List(ctx context.Context, filter LedgerFilter) ([]CostRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.data.list(filter), nil
}

// FileLedger is a CostLedger persisted as one JSON document.
type FileLedger struct {
	mu       sync.RWMutex
	filePath string
	data     LedgerData
}

// NewFileLedger opens the ledger at filePath, loading it if it exists.
func NewFileLedger(filePath string) (*FileLedger, error) {
	l := &FileLedger{
		filePath: filePath,
		data:     newLedgerData(),
	}

	if err := l.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load cost ledger: %w", err)
	}

	return l, nil
}

func (l *FileLedger) load() error {
	raw, err := os.ReadFile(l.filePath)
	if err != nil {
		return err
	}

	var data LedgerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("invalid ledger file format: %w", err)
	}

	if data.Version > LedgerVersion {
		return fmt.Errorf("ledger version %d is newer than supported version %d", data.Version, LedgerVersion)
	}
	data.Version = LedgerVersion

	if data.Days == nil {
		data.Days = make(map[string][]CostRecord)
	}

	l.data = data
	return nil
}

// save writes the ledger atomically through a temp file.
func (l *FileLedger) save() error {
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmpFile := l.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0600); err != nil {
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}

	if err := os.Rename(tmpFile, l.filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename ledger file: %w", err)
	}

	return nil
}

// Record implements CostLedger.
func (l *FileLedger) Record(ctx context.Context, rec CostRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.add(rec)
	return l.save()
}

// DailyTotal implements CostLedger.
func (l *FileLedger) DailyTotal(ctx context.Context, account string, day time.Time) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.data.total(account, day), nil
}

// List implements CostLedger.
func (l *FileLedger) List(ctx context.Context, filter LedgerFilter) ([]CostRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.data.list(filter), nil
}

// DefaultLedgerPath returns the default path for the cost ledger file.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".aws-mcp", "costs.json")
}
