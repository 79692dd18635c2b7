package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

// CheckpointStore persists run progress to a single JSON file. Writes go
// through a temp file and rename so an interrupted write can never leave a
// half-written file that parses as valid state; anything unparsable is
// treated as absent.
type CheckpointStore struct {
	path string
	log  *logger.Logger
}

func NewCheckpointStore(path string, log *logger.Logger) *CheckpointStore {
	return &CheckpointStore{path: path, log: log.With("component", "CheckpointStore")}
}

// Load returns the stored checkpoint, or nil when there is none. A corrupt
// file is logged, removed, and reported as absent.
func (s *CheckpointStore) Load() *domain.BatchCheckpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("checkpoint unreadable, treating as absent", "path", s.path, "error", err)
		}
		return nil
	}
	var cp domain.BatchCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.Warn("checkpoint unparsable, discarding", "path", s.path, "error", err)
		_ = os.Remove(s.path)
		return nil
	}
	return &cp
}

func (s *CheckpointStore) Save(cp domain.BatchCheckpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint; called only on full-run success.
func (s *CheckpointStore) Clear() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("checkpoint delete failed", "path", s.path, "error", err)
	}
}
