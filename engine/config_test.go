package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SHARE_SPREADSHEET_ID", "doc-123")
	t.Setenv("SHARE_SHEET_TITLE", "Participants")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "doc-123", cfg.SpreadsheetID)
	assert.Equal(t, "Participants", cfg.SheetTitle)
	assert.Equal(t, DefaultWorkerCount, cfg.WorkerCount)
	assert.Equal(t, DefaultHistoryBatchSize, cfg.HistoryBatchSize)
	assert.Equal(t, DefaultRateLimitDelay, cfg.RateLimitDelay)
	assert.Equal(t, DefaultInitTimeout, cfg.InitTimeout)
	assert.Equal(t, "folder-map.json", cfg.FolderMapFile)
	assert.Equal(t, "share-history.json", cfg.HistoryFile)
}

func TestConfigFromEnvCollectsAllMissing(t *testing.T) {
	t.Setenv("SHARE_SPREADSHEET_ID", "")
	t.Setenv("SHARE_SHEET_TITLE", "")

	_, err := ConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHARE_SPREADSHEET_ID")
	assert.Contains(t, err.Error(), "SHARE_SHEET_TITLE")
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SHARE_SPREADSHEET_ID", "doc-123")
	t.Setenv("SHARE_SHEET_TITLE", "Participants")
	t.Setenv("SHARE_WORKER_COUNT", "4")
	t.Setenv("SHARE_HISTORY_BATCH", "25")
	t.Setenv("SHARE_RATE_LIMIT_MS", "0")
	t.Setenv("SHARE_INIT_TIMEOUT_MS", "500")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 25, cfg.HistoryBatchSize)
	assert.Equal(t, time.Duration(0), cfg.RateLimitDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.InitTimeout)
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("SHARE_SPREADSHEET_ID", "doc-123")
	t.Setenv("SHARE_SHEET_TITLE", "Participants")

	t.Setenv("SHARE_WORKER_COUNT", "zero")
	_, err := ConfigFromEnv()
	assert.Error(t, err)

	t.Setenv("SHARE_WORKER_COUNT", "0")
	_, err = ConfigFromEnv()
	assert.Error(t, err)

	t.Setenv("SHARE_WORKER_COUNT", "4")
	t.Setenv("SHARE_RATE_LIMIT_MS", "-5")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}
