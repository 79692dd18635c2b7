package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/albionforge/itemgraph/internal/platform/logger"
)

const (
	validItemsFile      = "valid_items.json"
	needsValidationFile = "needs_validation.json"
	runReportFile       = "run_report.json"
)

// RunReport is the serialized exit contract of a run, written whether the
// run completed or failed partway.
type RunReport struct {
	RunID                string    `json:"run_id"`
	Phase                Phase     `json:"phase"`
	StartedAt            time.Time `json:"started_at"`
	FinishedAt           time.Time `json:"finished_at"`
	TotalItems           int       `json:"total_items"`
	ProcessedItems       int       `json:"processed_items"`
	ValidCount           int       `json:"valid_count"`
	NeedsValidationCount int       `json:"needs_validation_count"`
	ErrorCount           int       `json:"error_count"`
	BatchCount           int       `json:"batch_count"`
	BatchDurationsMS     []int64   `json:"batch_durations_ms"`
	Errors               []string  `json:"errors,omitempty"`
}

// Emitter serializes the run's output artifacts. Pure serialization; it owns
// no pipeline logic.
type Emitter struct {
	outDir string
	log    *logger.Logger
}

func NewEmitter(outDir string, log *logger.Logger) *Emitter {
	return &Emitter{outDir: outDir, log: log.With("component", "ReportEmitter")}
}

func (e *Emitter) Emit(state *RunState) error {
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	durations := make([]int64, len(state.BatchDurations))
	for i, d := range state.BatchDurations {
		durations[i] = d.Milliseconds()
	}
	report := RunReport{
		RunID:                state.RunID,
		Phase:                state.Phase,
		StartedAt:            state.StartedAt,
		FinishedAt:           state.FinishedAt,
		TotalItems:           state.TotalItems,
		ProcessedItems:       state.NextIndex,
		ValidCount:           state.ResumedValidCount + len(state.ValidItems),
		NeedsValidationCount: state.ResumedNeedsCount + len(state.NeedsValidation),
		ErrorCount:           state.ErrorCount,
		BatchCount:           len(state.BatchDurations),
		BatchDurationsMS:     durations,
		Errors:               state.Errors,
	}

	if err := e.writeJSON(validItemsFile, state.ValidItems); err != nil {
		return err
	}
	if err := e.writeJSON(needsValidationFile, state.NeedsValidation); err != nil {
		return err
	}
	if err := e.writeJSON(runReportFile, report); err != nil {
		return err
	}
	e.log.Info("report emitted", "dir", e.outDir,
		"valid", report.ValidCount, "needs_validation", report.NeedsValidationCount)
	return nil
}

func (e *Emitter) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(e.outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
