package server

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/StorX2-0/Share-Tools/engine"
	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/storage"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a start request arrives while a run is
// already active. Runs never overlap; the history file and participant cache
// are single-writer artifacts.
var ErrRunInProgress = errors.New("a share run is already in progress")

// Controller serializes share runs behind the control API and the cron
// schedule. At most one run is active at a time.
type Controller struct {
	factory engine.ClientFactory
	runs    *storage.RunStore // nil when no archive is configured
	hub     *Hub

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	current    *engine.Engine
	lastStatus string
	lastError  string
	startedAt  time.Time
	finishedAt time.Time
}

func NewController(factory engine.ClientFactory, runs *storage.RunStore) *Controller {
	return &Controller{
		factory:    factory,
		runs:       runs,
		hub:        NewHub(),
		lastStatus: "idle",
	}
}

// Hub exposes the event fan-out for SSE handlers.
func (c *Controller) Hub() *Hub {
	return c.hub
}

// StartRun launches a run in the background. Configuration is re-read from
// the environment on every start so operators can point consecutive runs at
// different sheets without a restart.
func (c *Controller) StartRun(baseCtx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return "", ErrRunInProgress
	}

	cfg, err := engine.ConfigFromEnv()
	if err != nil {
		return "", err
	}

	traceID := uuid.New().String()
	runCtx, cancel := context.WithCancel(logger.WithTraceID(baseCtx, traceID))

	sink := engine.MultiSink{engine.NewWriterSink(os.Stdout), c.hub}
	eng := engine.New(cfg, c.factory, sink)

	c.running = true
	c.cancel = cancel
	c.current = eng
	c.lastStatus = "running"
	c.lastError = ""
	c.startedAt = time.Now()

	go c.run(runCtx, eng, cfg, traceID)
	return traceID, nil
}

// StopRun cancels the active run, if any. Returns false when nothing was
// running.
func (c *Controller) StopRun() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.cancel()
	return true
}

func (c *Controller) run(ctx context.Context, eng *engine.Engine, cfg *engine.Config, traceID string) {
	err := eng.Run(ctx)

	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.finishedAt = time.Now()
	status := storage.RunStatusSuccess
	switch {
	case errors.Is(err, engine.ErrInterrupted):
		status = storage.RunStatusInterrupted
		c.lastStatus = "interrupted"
		c.lastError = err.Error()
	case err != nil:
		status = storage.RunStatusFailed
		c.lastStatus = "failed"
		c.lastError = err.Error()
	default:
		c.lastStatus = "completed"
		c.lastError = ""
	}
	counters := eng.Counters()
	message := c.lastError
	startedAt := c.startedAt
	finishedAt := c.finishedAt
	c.mu.Unlock()

	if err != nil {
		logger.Error(ctx, "share run finished with error", logger.ErrorField(err))
	}

	if c.runs == nil {
		return
	}
	record := &storage.RunRecord{
		TraceID:     traceID,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Status:      status,
		Message:     message,
		WorkerCount: cfg.WorkerCount,
		Processed:   counters.Processed,
		Successful:  counters.Successful,
		Failed:      counters.Failed,
		Errors:      counters.Errors,
	}
	if recErr := c.runs.RecordRun(record); recErr != nil {
		logger.Warn(ctx, "failed to archive run record", logger.ErrorField(recErr))
	}
}

// RunStatus is the control API's view of the controller.
type RunStatus struct {
	Running    bool            `json:"running"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Counters   engine.Counters `json:"counters"`
}

// Status reports the current (or last) run.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := RunStatus{
		Running: c.running,
		Status:  c.lastStatus,
		Error:   c.lastError,
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		status.StartedAt = &t
	}
	if !c.finishedAt.IsZero() && !c.running {
		t := c.finishedAt
		status.FinishedAt = &t
	}
	if c.current != nil {
		status.Counters = c.current.Counters()
	}
	return status
}

// ListRuns proxies the archive; empty when no archive is configured.
func (c *Controller) ListRuns(limit int) ([]storage.RunRecord, error) {
	if c.runs == nil {
		return []storage.RunRecord{}, nil
	}
	return c.runs.ListRuns(limit)
}
