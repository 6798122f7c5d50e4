package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/pkg/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Run status values.
const (
	RunStatusSuccess     = "success"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// RunRecord is one completed (or interrupted) share run.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TraceID     string    `json:"traceId"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	WorkerCount int       `json:"workerCount"`
	Processed   int       `json:"processed"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Errors      int       `json:"errors"`
}

// RunStore archives run records in a local sqlite database.
type RunStore struct {
	db *gorm.DB
}

// OpenRunStore opens (creating if needed) the sqlite archive at dbPath.
func OpenRunStore(dbPath string) (*RunStore, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.Info(context.Background(), "creating new run archive", logger.String("path", dbPath))
		file, err := utils.CreateFile(dbPath)
		if err != nil {
			return nil, err
		}
		file.Close()
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive %s: %w", dbPath, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run archive: %w", err)
	}
	return &RunStore{db: db}, nil
}

// RecordRun appends one run record.
func (s *RunStore) RecordRun(record *RunRecord) error {
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []RunRecord
	if err := s.db.Order("id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return records, nil
}
