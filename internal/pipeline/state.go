package pipeline

import (
	"time"

	"github.com/albionforge/itemgraph/internal/domain"
)

// Phase is the coordinator's state machine position.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseResuming   Phase = "resuming"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// RunState carries every run-wide accumulator as one explicit value threaded
// through the coordinator, so the state machine is testable without ambient
// globals.
type RunState struct {
	RunID      string
	Phase      Phase
	TotalItems int

	// NextIndex is the first catalog index not yet processed.
	NextIndex int

	ValidItems      []domain.ItemRecord
	NeedsValidation []domain.NeedsValidation
	ErrorCount      int
	Errors          []string

	// Counts restored from a checkpoint. The per-item lists from the
	// interrupted run are gone; only their totals survive a resume.
	ResumedValidCount int
	ResumedNeedsCount int

	BatchDurations []time.Duration
	StartedAt      time.Time
	FinishedAt     time.Time

	itemsSinceCheckpoint int
}

func NewRunState(runID string, totalItems int) *RunState {
	return &RunState{
		RunID:      runID,
		Phase:      PhaseNotStarted,
		TotalItems: totalItems,
	}
}

func (s *RunState) Checkpoint() domain.BatchCheckpoint {
	return domain.BatchCheckpoint{
		RunID:                s.RunID,
		SavedAt:              time.Now().UTC(),
		LastProcessedIndex:   s.NextIndex,
		TotalItems:           s.TotalItems,
		ValidCount:           s.ResumedValidCount + len(s.ValidItems),
		NeedsValidationCount: s.ResumedNeedsCount + len(s.NeedsValidation),
		ErrorCount:           s.ErrorCount,
	}
}

func (s *RunState) recordError(err error) {
	s.ErrorCount++
	s.Errors = append(s.Errors, err.Error())
}
