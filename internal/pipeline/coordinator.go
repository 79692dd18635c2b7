package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/graph"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

const (
	defaultBatchSize          = 200
	defaultCheckpointInterval = 1000
	defaultBatchRetries       = 3
)

// Validator classifies a batch of records as valid or needs-validation. It
// must return one result per record and never fail the batch hard.
type Validator interface {
	ValidateBatch(ctx context.Context, records []domain.ItemRecord) []domain.ValidationResult
}

// ItemWriter persists validated records. Implementations must be idempotent
// so the at-most-one-batch replay after a resume is harmless.
type ItemWriter interface {
	WriteItems(ctx context.Context, items []domain.ItemRecord) (graph.WriteStats, error)
}

type Options struct {
	BatchSize          int
	CheckpointInterval int
	BaseDelay          time.Duration
	BatchRetries       int
	Resume             bool
	DryRun             bool
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = defaultCheckpointInterval
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.BatchRetries <= 0 {
		o.BatchRetries = defaultBatchRetries
	}
	return o
}

// Coordinator drives the run one batch at a time: validate, partition,
// persist the valid subset, pause, checkpoint. Strictly sequential; the two
// suspension points are the validation call and the inter-batch delay.
type Coordinator struct {
	validator   Validator
	writer      ItemWriter
	checkpoints *CheckpointStore
	log         *logger.Logger
	opts        Options

	sleep func(time.Duration)
}

func NewCoordinator(validator Validator, writer ItemWriter, checkpoints *CheckpointStore, opts Options, log *logger.Logger) *Coordinator {
	return &Coordinator{
		validator:   validator,
		writer:      writer,
		checkpoints: checkpoints,
		log:         log.With("component", "Coordinator"),
		opts:        opts.withDefaults(),
		sleep:       time.Sleep,
	}
}

// Run processes the full catalog. Transport and persistence failures are
// absorbed into the run state; the returned error is non-nil only for the
// catastrophic class (checkpoint write failure, context cancellation), the
// one class allowed to terminate a run.
func (c *Coordinator) Run(ctx context.Context, items []domain.ItemRecord) (*RunState, error) {
	state := NewRunState(uuid.NewString(), len(items))
	state.StartedAt = time.Now().UTC()

	c.restoreOrDiscard(state)
	state.Phase = PhaseRunning

	for start := state.NextIndex; start < len(items); {
		end := start + c.opts.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		batchStart := time.Now()

		results, err := c.runBatchWithRetry(ctx, batch)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.fail(state, ctxErr)
		}
		if err != nil {
			// The batch never aborts the run: park every record for a
			// later pass and move on.
			state.recordError(err)
			reason := fmt.Sprintf("batch failed: %v", err)
			for _, it := range batch {
				state.NeedsValidation = append(state.NeedsValidation, domain.NeedsValidation{
					Identifier: it.Identifier,
					Reason:     reason,
				})
			}
		} else {
			c.partition(state, batch, results)
			valid := batch[:0:0]
			for i, res := range results {
				if res.IsValid {
					valid = append(valid, batch[i])
				}
			}
			if err := c.persist(ctx, state, valid); err != nil {
				return c.fail(state, err)
			}
		}

		state.BatchDurations = append(state.BatchDurations, time.Since(batchStart))
		state.NextIndex = end
		state.itemsSinceCheckpoint += len(batch)
		start = end

		if state.itemsSinceCheckpoint >= c.opts.CheckpointInterval {
			if err := c.checkpoints.Save(state.Checkpoint()); err != nil {
				return c.fail(state, fmt.Errorf("checkpoint save: %w", err))
			}
			state.itemsSinceCheckpoint = 0
			c.log.Info("checkpoint saved",
				"index", state.NextIndex,
				"valid", len(state.ValidItems),
				"needs_validation", len(state.NeedsValidation),
				"errors", state.ErrorCount,
			)
		}

		if start < len(items) {
			delay := NextDelay(c.opts.BaseDelay, state.ErrorCount)
			c.log.Debug("inter-batch delay", "delay", delay.String(), "error_count", state.ErrorCount)
			c.sleep(delay)
		}
	}

	state.Phase = PhaseCompleted
	state.FinishedAt = time.Now().UTC()
	c.checkpoints.Clear()
	c.log.Info("run completed",
		"run_id", state.RunID,
		"total", state.TotalItems,
		"valid", state.ResumedValidCount+len(state.ValidItems),
		"needs_validation", state.ResumedNeedsCount+len(state.NeedsValidation),
		"errors", state.ErrorCount,
	)
	return state, nil
}

// restoreOrDiscard applies the resume rules: resume only when asked for and
// the checkpoint's item total matches this run; anything else is stale and
// removed.
func (c *Coordinator) restoreOrDiscard(state *RunState) {
	cp := c.checkpoints.Load()
	if cp == nil {
		return
	}
	if !c.opts.Resume || cp.TotalItems != state.TotalItems {
		c.log.Warn("discarding stale checkpoint",
			"checkpoint_total", cp.TotalItems,
			"run_total", state.TotalItems,
			"resume_requested", c.opts.Resume,
		)
		c.checkpoints.Clear()
		return
	}
	state.Phase = PhaseResuming
	state.RunID = cp.RunID
	state.NextIndex = cp.LastProcessedIndex
	state.ErrorCount = cp.ErrorCount
	state.ResumedValidCount = cp.ValidCount
	state.ResumedNeedsCount = cp.NeedsValidationCount
	c.log.Info("resuming from checkpoint",
		"run_id", cp.RunID,
		"index", cp.LastProcessedIndex,
		"total", cp.TotalItems,
		"saved_at", cp.SavedAt,
	)
}

func (c *Coordinator) runBatchWithRetry(ctx context.Context, batch []domain.ItemRecord) ([]domain.ValidationResult, error) {
	delay := 1 * time.Second
	var lastErr error
	for attempt := 1; attempt <= c.opts.BatchRetries; attempt++ {
		results, err := c.tryBatch(ctx, batch)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt < c.opts.BatchRetries {
			c.log.Warn("batch attempt failed, retrying",
				"attempt", attempt, "max", c.opts.BatchRetries, "delay", delay.String(), "error", err)
			c.sleep(delay)
			delay *= 2
		}
	}
	return nil, lastErr
}

// tryBatch runs one validation pass, converting panics into errors so a
// programming fault in a single batch degrades like any other batch failure.
func (c *Coordinator) tryBatch(ctx context.Context, batch []domain.ItemRecord) (results []domain.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	results = c.validator.ValidateBatch(ctx, batch)
	if len(results) != len(batch) {
		return nil, fmt.Errorf("validator returned %d results for %d records", len(results), len(batch))
	}
	return results, nil
}

func (c *Coordinator) partition(state *RunState, batch []domain.ItemRecord, results []domain.ValidationResult) {
	batchHadFailure := false
	for i, res := range results {
		if res.IsValid {
			state.ValidItems = append(state.ValidItems, batch[i])
			continue
		}
		state.NeedsValidation = append(state.NeedsValidation, domain.NeedsValidation{
			Identifier: res.Identifier,
			Reason:     res.Reason,
		})
		if strings.HasPrefix(res.Reason, domain.ReasonValidationFailedPrefix) {
			batchHadFailure = true
		}
	}
	// One error per distressed batch feeds the delay heuristic; per-item
	// counting would saturate the cap after a single bad batch.
	if batchHadFailure {
		state.recordError(fmt.Errorf("validation downgraded batch ending at index %d", state.NextIndex+len(batch)))
	}
}

func (c *Coordinator) persist(ctx context.Context, state *RunState, valid []domain.ItemRecord) error {
	if len(valid) == 0 || c.writer == nil || c.opts.DryRun {
		if c.opts.DryRun && len(valid) > 0 {
			c.log.Info("dry-run: skipping graph write", "items", len(valid))
		}
		return nil
	}
	stats, err := c.writer.WriteItems(ctx, valid)
	if err != nil {
		return fmt.Errorf("graph write: %w", err)
	}
	if stats.Failed > 0 {
		state.recordError(fmt.Errorf("%d of %d graph sub-batches failed", stats.Failed, stats.SubBatches))
	}
	return nil
}

func (c *Coordinator) fail(state *RunState, err error) (*RunState, error) {
	state.Phase = PhaseFailed
	state.FinishedAt = time.Now().UTC()
	state.Errors = append(state.Errors, err.Error())
	// Best effort: pin the resume point at the failure site. If checkpoint
	// writes are the thing that is broken this will fail too, leaving the
	// previous checkpoint in place.
	if saveErr := c.checkpoints.Save(state.Checkpoint()); saveErr != nil {
		c.log.Warn("final checkpoint save failed", "error", saveErr)
	}
	c.log.Error("run failed",
		"run_id", state.RunID,
		"index", state.NextIndex,
		"total", state.TotalItems,
		"error", err,
	)
	return state, err
}
