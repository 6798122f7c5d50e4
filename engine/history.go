package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/StorX2-0/Share-Tools/pkg/logger"
)

// Snapshot is the atomic unit of resume: everything needed to pick a run
// back up after a crash or interrupt.
type Snapshot struct {
	Timestamp             time.Time     `json:"timestamp"`
	ProcessedParticipants []string      `json:"processedParticipants"`
	ShareResults          []ShareResult `json:"shareResults"`
	BatchUpdates          []CellUpdate  `json:"batchUpdates"`
	ErrorLog              []string      `json:"errorLog"`
	ProgressStats         Counters      `json:"progressStats"`
	StartTime             time.Time     `json:"startTime"`
}

// HistoryStore persists snapshots to a single JSON file. Saves go through a
// temp file plus rename so a crash mid-write cannot corrupt the previous
// good snapshot.
type HistoryStore struct {
	path string
}

func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// Load returns the prior snapshot, or nil when none exists. A file that
// fails to parse is logged and treated as absent so the engine starts
// fresh. Counters that violate their invariants are rejected and zeroed,
// but the processed-keys set and result list are still accepted; that
// preserves de-duplication even after a corrupted save.
func (h *HistoryStore) Load(ctx context.Context) *Snapshot {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn(ctx, "failed to read history file", logger.String("path", h.path), logger.ErrorField(err))
		}
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn(ctx, "history file is corrupt, starting fresh",
			logger.String("path", h.path), logger.ErrorField(err))
		return nil
	}

	if h.countersCorrupt(&snap.ProgressStats) {
		logger.Warn(ctx, "history counters violate invariants, resetting to zero",
			logger.Int("processed", snap.ProgressStats.Processed),
			logger.Int("total", snap.ProgressStats.Total))
		snap.ProgressStats = Counters{}
	}

	return &snap
}

func (h *HistoryStore) countersCorrupt(c *Counters) bool {
	if c.Processed > c.Total {
		return true
	}
	if c.Successful+c.Failed > c.Processed {
		return true
	}
	if c.Total < 0 || c.Processed < 0 || c.Successful < 0 || c.Failed < 0 || c.Errors < 0 {
		return true
	}
	return false
}

// Save rewrites the whole file durably.
func (h *HistoryStore) Save(snap *Snapshot) error {
	snap.Timestamp = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history snapshot: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write history snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp history file: %w", err)
	}

	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// Delete removes the history file after a clean completion.
func (h *HistoryStore) Delete() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete history file: %w", err)
	}
	return nil
}

// Exists reports whether a history file is present on disk.
func (h *HistoryStore) Exists() bool {
	_, err := os.Stat(h.path)
	return err == nil
}
