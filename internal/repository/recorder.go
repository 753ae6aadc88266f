package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xiaot623/gogo/callrelay/internal/domain"
)

// Recorder receives the summary of every finished call.
type Recorder interface {
	RecordOutcome(ctx context.Context, sum domain.CallSummary) error
}

// Prices are USD per million tokens.
type Prices struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost estimates the cost of usage u.
func (p Prices) Cost(u domain.Usage) float64 {
	return u.EstimateCost(p.InputPerMTok, p.OutputPerMTok)
}

// StoreRecorder records call summaries into a SQLiteStore.
type StoreRecorder struct {
	store  *SQLiteStore
	prices Prices
}

// NewStoreRecorder creates a recorder backed by store.
func NewStoreRecorder(store *SQLiteStore, prices Prices) *StoreRecorder {
	return &StoreRecorder{store: store, prices: prices}
}

// RecordOutcome implements Recorder.
func (r *StoreRecorder) RecordOutcome(ctx context.Context, sum domain.CallSummary) error {
	if err := r.store.SaveCall(ctx, &sum, r.prices.Cost(sum.Usage)); err != nil {
		return fmt.Errorf("save call %s: %w", sum.SessionID, err)
	}
	return nil
}

// FileExporter writes one JSON document per call into a directory.
type FileExporter struct {
	dir    string
	prices Prices
}

// NewFileExporter creates an exporter writing into dir.
func NewFileExporter(dir string, prices Prices) *FileExporter {
	return &FileExporter{dir: dir, prices: prices}
}

type exportedCall struct {
	domain.CallSummary
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// MarshalJSON keeps the summary's own encoding and appends the cost.
func (e exportedCall) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(e.CallSummary)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	cost, err := json.Marshal(e.EstimatedCostUSD)
	if err != nil {
		return nil, err
	}
	doc["estimated_cost_usd"] = cost
	return json.Marshal(doc)
}

// Path returns the file a summary is written to.
func (f *FileExporter) Path(sum domain.CallSummary) string {
	return filepath.Join(f.dir, fmt.Sprintf("tabulacao_%s_%d.json", sum.SessionID, sum.EndedAt.UnixMilli()))
}

// RecordOutcome implements Recorder.
func (f *FileExporter) RecordOutcome(ctx context.Context, sum domain.CallSummary) error {
	data, err := json.MarshalIndent(exportedCall{CallSummary: sum, EstimatedCostUSD: f.prices.Cost(sum.Usage)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode call %s: %w", sum.SessionID, err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create outcome dir: %w", err)
	}
	if err := os.WriteFile(f.Path(sum), data, 0o644); err != nil {
		return fmt.Errorf("write call %s: %w", sum.SessionID, err)
	}
	return nil
}

// Fanout records into every recorder and joins their errors.
type Fanout []Recorder

// RecordOutcome implements Recorder.
func (f Fanout) RecordOutcome(ctx context.Context, sum domain.CallSummary) error {
	var errs []error
	for _, r := range f {
		if err := r.RecordOutcome(ctx, sum); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
