package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/graph"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

// fakeValidator marks every identifier valid unless listed in invalid, and
// can fail whole batches a configurable number of times.
type fakeValidator struct {
	invalid    map[string]bool
	panicUntil int
	calls      int
	batches    [][]string
}

func (v *fakeValidator) ValidateBatch(ctx context.Context, records []domain.ItemRecord) []domain.ValidationResult {
	v.calls++
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Identifier
	}
	v.batches = append(v.batches, ids)
	if v.calls <= v.panicUntil {
		panic(fmt.Sprintf("simulated validator fault on call %d", v.calls))
	}

	results := make([]domain.ValidationResult, len(records))
	for i, r := range records {
		if v.invalid[r.Identifier] {
			results[i] = domain.ValidationResult{Identifier: r.Identifier, Reason: "No active prices found"}
			continue
		}
		results[i] = domain.ValidationResult{Identifier: r.Identifier, IsValid: true, ActiveCityCount: 1}
	}
	return results
}

// downgradingValidator simulates a client that exhausted its retries: every
// record comes back invalid with the shared failure prefix.
type downgradingValidator struct{}

func (downgradingValidator) ValidateBatch(ctx context.Context, records []domain.ItemRecord) []domain.ValidationResult {
	results := make([]domain.ValidationResult, len(records))
	for i, r := range records {
		results[i] = domain.ValidationResult{
			Identifier: r.Identifier,
			Reason:     domain.ReasonValidationFailedPrefix + ": rate limited after 5 attempts",
		}
	}
	return results
}

type fakeWriter struct {
	written [][]string
	failed  int
}

func (w *fakeWriter) WriteItems(ctx context.Context, items []domain.ItemRecord) (graph.WriteStats, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Identifier
	}
	w.written = append(w.written, ids)
	return graph.WriteStats{SubBatches: 1, Failed: w.failed}, nil
}

func makeItems(n int) []domain.ItemRecord {
	items := make([]domain.ItemRecord, n)
	for i := range items {
		items[i] = domain.ItemRecord{Identifier: fmt.Sprintf("T4_ITEM_%04d", i)}
	}
	return items
}

func newTestCoordinator(t *testing.T, v Validator, w ItemWriter, opts Options) (*Coordinator, *CheckpointStore) {
	t.Helper()
	store := newTestCheckpointStore(t)
	c := NewCoordinator(v, w, store, opts, logger.NewNop())
	c.sleep = func(time.Duration) {}
	return c, store
}

func TestRunCompletesAndClearsCheckpoint(t *testing.T) {
	validator := &fakeValidator{invalid: map[string]bool{"T4_ITEM_0003": true}}
	writer := &fakeWriter{}
	c, store := newTestCoordinator(t, validator, writer, Options{BatchSize: 4})

	state, err := c.Run(context.Background(), makeItems(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", state.Phase)
	}
	if got := len(state.ValidItems); got != 9 {
		t.Errorf("valid = %d, want 9", got)
	}
	if got := len(state.NeedsValidation); got != 1 {
		t.Errorf("needs_validation = %d, want 1", got)
	}
	if state.NeedsValidation[0].Identifier != "T4_ITEM_0003" {
		t.Errorf("wrong item parked: %+v", state.NeedsValidation[0])
	}
	if len(state.BatchDurations) != 3 {
		t.Errorf("batch count = %d, want 3", len(state.BatchDurations))
	}
	// Only the valid subset reaches the writer.
	total := 0
	for _, batch := range writer.written {
		total += len(batch)
	}
	if total != 9 {
		t.Errorf("writer received %d items, want 9", total)
	}
	if cp := store.Load(); cp != nil {
		t.Fatalf("checkpoint not cleared on success: %+v", cp)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	items := makeItems(5000)
	validator := &fakeValidator{}
	writer := &fakeWriter{}
	c, store := newTestCoordinator(t, validator, writer, Options{
		BatchSize: 200, Resume: true, CheckpointInterval: 1000,
	})
	if err := store.Save(domain.BatchCheckpoint{
		RunID:              "prior-run",
		LastProcessedIndex: 1000,
		TotalItems:         5000,
		ValidCount:         1000,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	state, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.RunID != "prior-run" {
		t.Errorf("resumed run kept id %q, want prior-run", state.RunID)
	}
	if validator.batches[0][0] != "T4_ITEM_1000" {
		t.Errorf("resume started at %s, want item 1000", validator.batches[0][0])
	}
	for _, batch := range validator.batches {
		for _, id := range batch {
			if id < "T4_ITEM_1000" {
				t.Fatalf("item %s before the checkpoint index was reprocessed", id)
			}
		}
	}
	if got := len(state.ValidItems); got != 4000 {
		t.Errorf("valid this run = %d, want 4000", got)
	}
	if state.ResumedValidCount != 1000 {
		t.Errorf("resumed valid count = %d, want 1000", state.ResumedValidCount)
	}
	if cp := store.Load(); cp != nil {
		t.Fatalf("checkpoint must be deleted only after full success, still present: %+v", cp)
	}
}

func TestRunDiscardsStaleCheckpoint(t *testing.T) {
	validator := &fakeValidator{}
	c, store := newTestCoordinator(t, validator, &fakeWriter{}, Options{BatchSize: 10, Resume: true})
	// Total mismatch: the catalog changed since this checkpoint was saved.
	if err := store.Save(domain.BatchCheckpoint{LastProcessedIndex: 10, TotalItems: 99}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	state, err := c.Run(context.Background(), makeItems(20))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if validator.batches[0][0] != "T4_ITEM_0000" {
		t.Errorf("stale checkpoint was honored, first item = %s", validator.batches[0][0])
	}
	if got := len(state.ValidItems); got != 20 {
		t.Errorf("valid = %d, want all 20", got)
	}
}

func TestRunIgnoresCheckpointWithoutResumeFlag(t *testing.T) {
	validator := &fakeValidator{}
	c, store := newTestCoordinator(t, validator, &fakeWriter{}, Options{BatchSize: 10, Resume: false})
	if err := store.Save(domain.BatchCheckpoint{LastProcessedIndex: 10, TotalItems: 20}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if _, err := c.Run(context.Background(), makeItems(20)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if validator.batches[0][0] != "T4_ITEM_0000" {
		t.Errorf("checkpoint honored without resume flag, first item = %s", validator.batches[0][0])
	}
}

func TestRunSurvivesBatchFailure(t *testing.T) {
	// First three attempts panic: the first batch exhausts its retries and
	// is parked, the second batch proceeds normally.
	validator := &fakeValidator{panicUntil: 3}
	writer := &fakeWriter{}
	c, _ := newTestCoordinator(t, validator, writer, Options{BatchSize: 5, BatchRetries: 3})

	state, err := c.Run(context.Background(), makeItems(10))
	if err != nil {
		t.Fatalf("a failed batch must not abort the run: %v", err)
	}
	if state.Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", state.Phase)
	}
	if got := len(state.NeedsValidation); got != 5 {
		t.Fatalf("needs_validation = %d, want the 5 items of the failed batch", got)
	}
	for _, nv := range state.NeedsValidation {
		if nv.Reason == "" {
			t.Errorf("parked item %s has no reason", nv.Identifier)
		}
	}
	if got := len(state.ValidItems); got != 5 {
		t.Errorf("valid = %d, want 5", got)
	}
	if state.ErrorCount == 0 {
		t.Error("batch failure must feed the error count")
	}
}

// Downgraded batches (validation call failed, records parked) must feed the
// congestion heuristic via the shared reason prefix.
func TestRunCountsDowngradedBatches(t *testing.T) {
	validator := &downgradingValidator{}
	c, _ := newTestCoordinator(t, validator, &fakeWriter{}, Options{BatchSize: 5})

	state, err := c.Run(context.Background(), makeItems(10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.ErrorCount != 2 {
		t.Errorf("error count = %d, want 1 per downgraded batch", state.ErrorCount)
	}
	if got := len(state.NeedsValidation); got != 10 {
		t.Errorf("needs_validation = %d, want all 10", got)
	}
}

func TestRunDryRunSkipsWriter(t *testing.T) {
	writer := &fakeWriter{}
	c, _ := newTestCoordinator(t, &fakeValidator{}, writer, Options{BatchSize: 5, DryRun: true})

	if _, err := c.Run(context.Background(), makeItems(10)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(writer.written) != 0 {
		t.Fatalf("dry run reached the writer: %v", writer.written)
	}
}

func TestRunPeriodicCheckpointing(t *testing.T) {
	items := makeItems(2500)
	c, store := newTestCoordinator(t, &fakeValidator{}, &fakeWriter{}, Options{
		BatchSize: 500, CheckpointInterval: 1000,
	})

	var seen []int
	origSleep := c.sleep
	c.sleep = func(d time.Duration) {
		if cp := store.Load(); cp != nil {
			seen = append(seen, cp.LastProcessedIndex)
		}
		origSleep(d)
	}

	state, err := c.Run(context.Background(), items)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Phase != PhaseCompleted {
		t.Fatalf("phase = %s", state.Phase)
	}
	// Saves land after items 1000 and 2000; the delay hook observes each.
	want := map[int]bool{1000: false, 2000: false}
	for _, idx := range seen {
		if _, ok := want[idx]; ok {
			want[idx] = true
		}
	}
	for idx, hit := range want {
		if !hit {
			t.Errorf("no checkpoint observed at index %d (saw %v)", idx, seen)
		}
	}
}

func TestRunGraphSubBatchFailuresCounted(t *testing.T) {
	writer := &fakeWriter{failed: 2}
	c, _ := newTestCoordinator(t, &fakeValidator{}, writer, Options{BatchSize: 10})

	state, err := c.Run(context.Background(), makeItems(10))
	if err != nil {
		t.Fatalf("sub-batch write failures must not abort the run: %v", err)
	}
	if state.Phase != PhaseCompleted {
		t.Fatalf("phase = %s", state.Phase)
	}
	if state.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1 per distressed write call", state.ErrorCount)
	}
}
