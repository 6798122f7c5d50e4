package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// RunStatistics are the aggregate numbers written to the final results
// artifact.
type RunStatistics struct {
	TotalProcessed   int    `json:"totalProcessed"`
	SuccessfulShares int    `json:"successfulShares"`
	FailedShares     int    `json:"failedShares"`
	ErrorCount       int    `json:"errorCount"`
	ProcessingTime   string `json:"processingTime"`
}

// SuccessSummary is one line of the successful-shares summary.
type SuccessSummary struct {
	Row          int    `json:"row"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	FolderID     string `json:"folderId"`
	PermissionID string `json:"permissionId"`
}

// ResultsFile is the final artifact written after a clean run.
type ResultsFile struct {
	Timestamp         time.Time        `json:"timestamp"`
	WorkerConfig      WorkerConfig     `json:"workerConfig"`
	Statistics        RunStatistics    `json:"statistics"`
	ErrorLog          []string         `json:"errorLog"`
	FailedResults     []ShareResult    `json:"failedResults"`
	SuccessfulSummary []SuccessSummary `json:"successfulSummary"`
}

// WorkerConfig records the pool shape a run executed with.
type WorkerConfig struct {
	WorkerCount    int `json:"workerCount"`
	RateLimitMs    int `json:"rateLimitMs"`
	HistoryBatch   int `json:"historyBatch"`
	ReadyAtStartup int `json:"readyAtStartup"`
}

// WriteResults writes the final results artifact.
func WriteResults(path string, r *ResultsFile) error {
	r.Timestamp = time.Now()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write results %s: %w", path, err)
	}
	return nil
}
