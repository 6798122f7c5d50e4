package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StorX2-0/Share-Tools/pkg/utils"
)

// Config is the fully-resolved engine configuration. Values come from the
// environment (a .env file is loaded by cmd before this runs).
type Config struct {
	SpreadsheetID string
	SheetTitle    string

	WorkerCount      int
	HistoryBatchSize int
	RateLimitDelay   time.Duration
	InitTimeout      time.Duration

	FolderMapFile    string
	ParticipantsFile string
	HistoryFile      string
	ResultsFile      string

	CredentialsFile string
	TokenFile       string
}

const (
	DefaultWorkerCount      = 16
	DefaultHistoryBatchSize = 10
	DefaultRateLimitDelay   = 100 * time.Millisecond
	DefaultInitTimeout      = 10 * time.Second
)

// ConfigFromEnv resolves configuration from the environment. All missing
// required variables are reported in one error so operators fix them in one
// pass.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		SpreadsheetID:    utils.GetEnvWithKey("SHARE_SPREADSHEET_ID"),
		SheetTitle:       utils.GetEnvWithKey("SHARE_SHEET_TITLE"),
		FolderMapFile:    utils.GetEnvWithDefault("SHARE_FOLDER_MAP_FILE", "folder-map.json"),
		ParticipantsFile: utils.GetEnvWithDefault("SHARE_PARTICIPANTS_FILE", "participants-cache.json"),
		HistoryFile:      utils.GetEnvWithDefault("SHARE_HISTORY_FILE", "share-history.json"),
		ResultsFile:      utils.GetEnvWithDefault("SHARE_RESULTS_FILE", "share-results.json"),
		CredentialsFile:  utils.GetEnvWithDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		TokenFile:        utils.GetEnvWithDefault("GOOGLE_TOKEN_FILE", "token.json"),
		WorkerCount:      DefaultWorkerCount,
		HistoryBatchSize: DefaultHistoryBatchSize,
		RateLimitDelay:   DefaultRateLimitDelay,
		InitTimeout:      DefaultInitTimeout,
	}

	var missing []string
	if cfg.SpreadsheetID == "" {
		missing = append(missing, "SHARE_SPREADSHEET_ID")
	}
	if cfg.SheetTitle == "" {
		missing = append(missing, "SHARE_SHEET_TITLE")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if v := utils.GetEnvWithKey("SHARE_WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid SHARE_WORKER_COUNT %q", v)
		}
		cfg.WorkerCount = n
	}
	if v := utils.GetEnvWithKey("SHARE_HISTORY_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid SHARE_HISTORY_BATCH %q", v)
		}
		cfg.HistoryBatchSize = n
	}
	if v := utils.GetEnvWithKey("SHARE_RATE_LIMIT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid SHARE_RATE_LIMIT_MS %q", v)
		}
		cfg.RateLimitDelay = time.Duration(n) * time.Millisecond
	}
	if v := utils.GetEnvWithKey("SHARE_INIT_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid SHARE_INIT_TIMEOUT_MS %q", v)
		}
		cfg.InitTimeout = time.Duration(n) * time.Millisecond
	}

	return cfg, nil
}
