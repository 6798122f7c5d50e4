package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/StorX2-0/Share-Tools/cache"
	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/pkg/monitor"
	"github.com/StorX2-0/Share-Tools/pkg/prometheus"
	"github.com/StorX2-0/Share-Tools/pkg/worker"
	"golang.org/x/sync/errgroup"
)

// ErrInterrupted is returned when a run is cut short by context
// cancellation (SIGINT/SIGTERM or a stop request). The history snapshot has
// been saved; the next run resumes from it.
var ErrInterrupted = errors.New("share run interrupted")

// Engine coordinates one share run. All mutable state (counters, results,
// pending cell updates, history) is owned by the coordinator goroutine;
// workers only ever see their in-flight task and report outcomes over a
// channel, so no locks are needed.
type Engine struct {
	cfg     *Config
	factory ClientFactory
	emitter *Emitter
	history *HistoryStore

	counters      Counters
	published     atomic.Pointer[Counters]
	processedKeys map[string]struct{}
	results       []ShareResult
	cellUpdates   []CellUpdate
	errorLog      []string
	startTime     time.Time

	participants *cache.ParticipantCache
	readyWorkers int
}

// New builds an engine. sink receives the tagged event stream.
func New(cfg *Config, factory ClientFactory, sink Sink) *Engine {
	return &Engine{
		cfg:           cfg,
		factory:       factory,
		emitter:       NewEmitter(sink),
		history:       NewHistoryStore(cfg.HistoryFile),
		processedKeys: make(map[string]struct{}),
	}
}

// Counters returns the last published snapshot of the aggregate counters.
// Safe to call from other goroutines while a run is in flight.
func (e *Engine) Counters() Counters {
	if c := e.published.Load(); c != nil {
		return *c
	}
	return Counters{}
}

// publishCounters makes the coordinator's counters visible to concurrent
// readers. Only the coordinator goroutine calls this.
func (e *Engine) publishCounters() {
	c := e.counters
	e.published.Store(&c)
}

// Run executes one full share run: load inputs, compute the to-do set,
// drain it through the worker pool, flush cell updates, finalize.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer monitor.Mon.Task()(&ctx)(&err)

	folders, err := e.loadInputs(ctx)
	if err != nil {
		return err
	}

	e.restoreHistory(ctx)
	matcher := NewMatcher(folders)

	tasks, matchless := e.computeTodo(matcher)
	e.counters.WorkerCount = e.cfg.WorkerCount
	e.counters.Total = e.counters.Processed + len(tasks) + len(matchless)
	e.publishCounters()

	logger.Info(ctx, "share run starting",
		logger.Int("tasks", len(tasks)),
		logger.Int("unmatched", len(matchless)),
		logger.Int("already_done", e.counters.Processed),
		logger.Int("workers", e.cfg.WorkerCount),
	)

	for _, r := range matchless {
		e.recordUnmatched(ctx, r)
	}

	if len(tasks) == 0 {
		return e.finalize(ctx)
	}

	pool := worker.NewPool(e.cfg.WorkerCount, len(tasks), e.newWorker, e.recoverOutcome)
	pool.OnStateChange(func(id int, state worker.State, task *Task) {
		switch state {
		case worker.StateWorking:
			e.emitter.WorkerStatus(id, "working on "+task.Recipient.Name)
		case worker.StateIdle:
			e.emitter.WorkerStatus(id, "idle")
		case worker.StateError:
			e.emitter.WorkerStatus(id, "error")
		}
	})

	e.readyWorkers = pool.Start(ctx, e.cfg.InitTimeout)
	if e.readyWorkers == 0 {
		pool.Terminate()
		return fmt.Errorf("no workers initialized within %s", e.cfg.InitTimeout)
	}
	logger.Info(ctx, "worker pool ready",
		logger.Int("ready", e.readyWorkers),
		logger.Int("requested", e.cfg.WorkerCount),
	)

	for _, t := range tasks {
		if err := pool.Submit(t); err != nil {
			break
		}
	}
	pool.Close()

	outcomes := 0
	for outcomes < len(tasks) {
		select {
		case res := <-pool.Outcomes():
			outcomes++
			e.handleOutcome(ctx, res, pool)
			if outcomes%e.cfg.HistoryBatchSize == 0 {
				e.saveHistory(ctx)
			}
		case <-pool.Dead():
			// Every worker is gone and tasks are still queued. Account for
			// the outcomes already buffered, then fail the run with history
			// saved so the next invocation resumes.
			for outcomes < len(tasks) {
				select {
				case res := <-pool.Outcomes():
					outcomes++
					e.handleOutcome(ctx, res, pool)
					continue
				default:
				}
				break
			}
			pool.Terminate()
			e.saveHistory(ctx)
			logger.Error(ctx, "all workers stopped with tasks remaining",
				logger.Int("processed", outcomes),
				logger.Int("unprocessed", len(tasks)-outcomes),
			)
			return fmt.Errorf("all workers stopped with %d of %d tasks unprocessed", len(tasks)-outcomes, len(tasks))
		case <-ctx.Done():
			// In-flight grants are not cancelled; they either complete on
			// the remote side or fail. The processed-keys set is the
			// authority for resume.
			pool.Terminate()
			e.saveHistory(context.WithoutCancel(ctx))
			logger.Warn(ctx, "run interrupted, history saved",
				logger.Int("processed", e.counters.Processed),
				logger.Int("total", e.counters.Total),
			)
			return ErrInterrupted
		}
	}
	pool.Wait()

	return e.finalize(ctx)
}

// loadInputs reads the folder map and participant cache concurrently.
func (e *Engine) loadInputs(ctx context.Context) (cache.FolderMap, error) {
	var folders cache.FolderMap

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		folders, err = cache.LoadFolderMap(e.cfg.FolderMapFile)
		return err
	})
	g.Go(func() error {
		var err error
		e.participants, err = cache.LoadParticipants(e.cfg.ParticipantsFile)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info(ctx, "inputs loaded",
		logger.Int("folders", len(folders)),
		logger.Int("participants", len(e.participants.Participants)),
	)
	return folders, nil
}

// restoreHistory adopts the prior snapshot, if any. Counters have already
// been validated by the store; active workers never carry over.
func (e *Engine) restoreHistory(ctx context.Context) {
	e.startTime = time.Now()

	snap := e.history.Load(ctx)
	if snap == nil {
		return
	}

	e.counters = snap.ProgressStats
	e.counters.ActiveWorkers = 0
	e.results = snap.ShareResults
	e.cellUpdates = snap.BatchUpdates
	e.errorLog = snap.ErrorLog
	for _, key := range snap.ProcessedParticipants {
		e.processedKeys[key] = struct{}{}
	}
	if !snap.StartTime.IsZero() {
		e.startTime = snap.StartTime
	}

	logger.Info(ctx, "resuming from history snapshot",
		logger.Int("processed_keys", len(e.processedKeys)),
		logger.Int("pending_cell_updates", len(e.cellUpdates)),
	)
}

// computeTodo splits the participant list into dispatchable tasks and
// recipients with no matching folder. Recipients already shared or already
// processed in a prior run are skipped entirely.
func (e *Engine) computeTodo(matcher *Matcher) ([]Task, []cache.Recipient) {
	var tasks []Task
	var matchless []cache.Recipient

	for _, r := range e.participants.Participants {
		if r.IsShared {
			continue
		}
		if _, done := e.processedKeys[r.Key()]; done {
			continue
		}
		if folderID, ok := matcher.FindFolderID(r.Name); ok {
			tasks = append(tasks, Task{FolderID: folderID, Recipient: r})
		} else {
			matchless = append(matchless, r)
		}
	}
	return tasks, matchless
}

// recordUnmatched handles a recipient filtered out before dispatch: counted
// as processed and errored, status cell stays FALSE so the recipient
// remains a candidate on the next run. Not added to the processed-keys set
// for the same reason.
func (e *Engine) recordUnmatched(ctx context.Context, r cache.Recipient) {
	now := time.Now()
	e.results = append(e.results, ShareResult{
		Success:   false,
		IssueType: IssueTypeNoFolder,
		Recipient: r,
		Timestamp: now,
	})

	e.counters.Processed++
	e.counters.Errors++
	e.repairCounters(ctx)

	e.appendCellUpdates(r.Row, false, "Issue: No folder found - "+now.Format(time.RFC3339))
	e.emitter.Error(fmt.Sprintf("No folder found for %s <%s> (row %d)", r.Name, r.Email, r.Row))
	e.emitProgress(0, 0)
}

// newWorker initializes one worker's own RemoteClient and returns its task
// loop body. A worker sleeps the configured delay after every remote call
// to stay inside the service quota.
func (e *Engine) newWorker(id int) (func(context.Context, Task) ShareResult, error) {
	ctx := context.Background()
	client, err := e.factory(ctx, id)
	if err != nil {
		logger.Error(ctx, "worker client initialization failed",
			logger.Int("worker_id", id), logger.ErrorField(err))
		return nil, err
	}

	return func(ctx context.Context, t Task) ShareResult {
		started := time.Now()
		permissionID, err := client.GrantRead(ctx, t.FolderID, t.Recipient.Email)
		elapsed := time.Since(started)

		if e.cfg.RateLimitDelay > 0 {
			select {
			case <-time.After(e.cfg.RateLimitDelay):
			case <-ctx.Done():
			}
		}

		if err != nil {
			prometheus.RecordGrant("failed", elapsed.Seconds())
			return ShareResult{
				Success:   false,
				Error:     err.Error(),
				ErrorCode: GrantErrorCode(err),
				FolderID:  t.FolderID,
				Recipient: t.Recipient,
				WorkerID:  id,
			}
		}

		prometheus.RecordGrant("success", elapsed.Seconds())
		return ShareResult{
			Success:      true,
			PermissionID: permissionID,
			FolderID:     t.FolderID,
			Recipient:    t.Recipient,
			WorkerID:     id,
		}
	}, nil
}

// recoverOutcome converts a worker panic into a failed outcome so the
// drain loop still converges.
func (e *Engine) recoverOutcome(t Task, cause any) ShareResult {
	return ShareResult{
		Success:   false,
		Error:     fmt.Sprintf("worker panic: %v", cause),
		ErrorCode: CodeUnknown,
		FolderID:  t.FolderID,
		Recipient: t.Recipient,
	}
}

// handleOutcome applies one worker outcome to the coordinator state.
func (e *Engine) handleOutcome(ctx context.Context, res ShareResult, pool *worker.Pool[Task, ShareResult]) {
	res.Timestamp = time.Now()
	e.results = append(e.results, res)

	e.counters.Processed++
	if res.Success {
		e.counters.Successful++
	} else {
		e.counters.Failed++
	}
	e.counters.ActiveWorkers = pool.Active()
	e.repairCounters(ctx)

	e.processedKeys[res.Recipient.Key()] = struct{}{}

	ts := res.Timestamp.Format(time.RFC3339)
	if res.Success {
		e.appendCellUpdates(res.Recipient.Row, true, ts)
		e.emitter.Success(fmt.Sprintf("Shared folder with %s <%s> (row %d)",
			res.Recipient.Name, res.Recipient.Email, res.Recipient.Row))
		e.updateDashboard(ctx, res, ts)
	} else {
		e.appendCellUpdates(res.Recipient.Row, false, "Failed: "+ts)
		e.errorLog = append(e.errorLog, fmt.Sprintf("%s [%s]: %s", res.Recipient.Key(), res.ErrorCode, res.Error))
		e.emitter.Error(fmt.Sprintf("Share failed for %s <%s> (row %d): %s",
			res.Recipient.Name, res.Recipient.Email, res.Recipient.Row, res.ErrorCode))
	}

	e.emitProgress(pool.Active(), pool.QueueLen())

	prometheus.Get().ActiveWorkers.Set(float64(pool.Active()))
	prometheus.Get().QueueDepth.Set(float64(pool.QueueLen()))
}

// updateDashboard writes the success through to the local participant cache
// and emits the aggregate document state.
func (e *Engine) updateDashboard(ctx context.Context, res ShareResult, ts string) {
	if !e.participants.MarkShared(res.Recipient.Row, ts) {
		return
	}
	if err := e.participants.Save(); err != nil {
		logger.Warn(ctx, "failed to write through participant cache", logger.ErrorField(err))
		return
	}

	shared := e.participants.SharedCount()
	e.emitter.DashboardUpdate(map[string]interface{}{
		"totalParticipants": len(e.participants.Participants),
		"shared":            shared,
		"unshared":          len(e.participants.Participants) - shared,
		"timestamp":         ts,
	})
}

// appendCellUpdates queues the status and log cell writes for one row.
// Ranges are sheet-relative; the sheet title is resolved at flush time.
// A range queued twice keeps only the latest value, so matchless recipients
// re-recorded across resumes do not grow the pending batch.
func (e *Engine) appendCellUpdates(row int, success bool, logValue string) {
	status := "FALSE"
	if success {
		status = "TRUE"
	}
	e.upsertCellUpdate(CellUpdate{Range: fmt.Sprintf("I%d", row), Value: status})
	e.upsertCellUpdate(CellUpdate{Range: fmt.Sprintf("J%d", row), Value: logValue})
}

func (e *Engine) upsertCellUpdate(u CellUpdate) {
	for i := range e.cellUpdates {
		if e.cellUpdates[i].Range == u.Range {
			e.cellUpdates[i] = u
			return
		}
	}
	e.cellUpdates = append(e.cellUpdates, u)
}

// emitProgress pushes the full per-outcome event suite.
func (e *Engine) emitProgress(active, queued int) {
	e.emitter.Progress(e.counters)
	e.emitter.Status(e.counters)
	e.emitter.Workers(active, e.counters.WorkerCount, queued)

	elapsed := time.Since(e.startTime).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(e.counters.Processed) / elapsed
	}
	eta := 0
	if speed > 0 {
		eta = int(float64(e.counters.Total-e.counters.Processed) / speed)
	}
	e.emitter.Speed(speed, eta)
	e.emitter.SpeedUpdate(SpeedUpdate{
		Speed:         speed,
		Unit:          "per_second",
		Processed:     e.counters.Processed,
		Total:         e.counters.Total,
		Successful:    e.counters.Successful,
		Failed:        e.counters.Failed,
		ActiveWorkers: active,
		WorkerCount:   e.counters.WorkerCount,
		ETA:           eta,
		Timestamp:     time.Now().Format(time.RFC3339),
	})

	e.emitter.ResultsUpdate(e.collectIssues())
}

// collectIssues builds the latest-issues table from the result list.
func (e *Engine) collectIssues() []Issue {
	var issues []Issue
	for _, res := range e.results {
		if res.Success {
			continue
		}
		issues = append(issues, Issue{
			Row:       res.Recipient.Row,
			Name:      res.Recipient.Name,
			Email:     res.Recipient.Email,
			IssueType: res.IssueType,
			ErrorCode: res.ErrorCode,
			Error:     res.Error,
			Timestamp: res.Timestamp.Format(time.RFC3339),
		})
	}
	return issues
}

func (e *Engine) repairCounters(ctx context.Context) {
	for _, repair := range e.counters.Validate() {
		logger.Warn(ctx, "counter invariant repaired", logger.String("repair", repair))
	}
	e.publishCounters()
}

func (e *Engine) saveHistory(ctx context.Context) {
	keys := make([]string, 0, len(e.processedKeys))
	for k := range e.processedKeys {
		keys = append(keys, k)
	}

	snap := &Snapshot{
		ProcessedParticipants: keys,
		ShareResults:          e.results,
		BatchUpdates:          e.cellUpdates,
		ErrorLog:              e.errorLog,
		ProgressStats:         e.counters,
		StartTime:             e.startTime,
	}
	if err := e.history.Save(snap); err != nil {
		logger.Error(ctx, "failed to save history snapshot", logger.ErrorField(err))
	}
}

// finalize flushes accumulated cell updates, deletes the history file and
// writes the results artifact. A flush failure keeps history in place so
// the next run resumes.
func (e *Engine) finalize(ctx context.Context) error {
	if err := e.flush(ctx); err != nil {
		e.saveHistory(ctx)
		return fmt.Errorf("failed to flush cell updates: %w", err)
	}

	if err := e.history.Delete(); err != nil {
		logger.Warn(ctx, "failed to delete history file", logger.ErrorField(err))
	}

	elapsed := time.Since(e.startTime)
	if err := e.writeResults(elapsed); err != nil {
		logger.Warn(ctx, "failed to write results artifact", logger.ErrorField(err))
	}

	e.emitter.FinalStats(e.counters, elapsed)
	logger.Info(ctx, "share run complete",
		logger.Int("processed", e.counters.Processed),
		logger.Int("successful", e.counters.Successful),
		logger.Int("failed", e.counters.Failed),
		logger.Int("errors", e.counters.Errors),
		logger.Duration("elapsed", elapsed),
	)
	return nil
}

// flushBackoff is the retry schedule for the final batch write.
var flushBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

func (e *Engine) flush(ctx context.Context) (err error) {
	defer monitor.Mon.Task()(&ctx)(&err)

	if len(e.cellUpdates) == 0 {
		return nil
	}

	client, err := e.factory(ctx, -1)
	if err != nil {
		return fmt.Errorf("failed to build flush client: %w", err)
	}

	sheetTitle, err := e.resolveSheetTitle(ctx, client)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = client.BatchWriteCells(ctx, e.cfg.SpreadsheetID, sheetTitle, e.cellUpdates)
		if err == nil {
			logger.Info(ctx, "cell updates flushed",
				logger.Int("updates", len(e.cellUpdates)),
				logger.String("sheet", sheetTitle),
			)
			return nil
		}

		prometheus.RecordBatchWriteError()
		if attempt >= len(flushBackoff) {
			return err
		}
		logger.Warn(ctx, "batch write failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", flushBackoff[attempt]),
			logger.ErrorField(err),
		)
		select {
		case <-time.After(flushBackoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resolveSheetTitle matches the configured title case-insensitively against
// the document's sheets, falling back to the first sheet.
func (e *Engine) resolveSheetTitle(ctx context.Context, client RemoteClient) (string, error) {
	sheets, err := client.ListSheets(ctx, e.cfg.SpreadsheetID)
	if err != nil {
		return "", fmt.Errorf("failed to list sheets: %w", err)
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("document %s has no sheets", e.cfg.SpreadsheetID)
	}

	for _, s := range sheets {
		if strings.EqualFold(s.Title, e.cfg.SheetTitle) {
			return s.Title, nil
		}
	}

	logger.Warn(ctx, "configured sheet title not found, using first sheet",
		logger.String("configured", e.cfg.SheetTitle),
		logger.String("fallback", sheets[0].Title),
	)
	return sheets[0].Title, nil
}

func (e *Engine) writeResults(elapsed time.Duration) error {
	var failed []ShareResult
	var successes []SuccessSummary
	for _, res := range e.results {
		if res.Success {
			successes = append(successes, SuccessSummary{
				Row:          res.Recipient.Row,
				Name:         res.Recipient.Name,
				Email:        res.Recipient.Email,
				FolderID:     res.FolderID,
				PermissionID: res.PermissionID,
			})
		} else {
			failed = append(failed, res)
		}
	}

	return WriteResults(e.cfg.ResultsFile, &ResultsFile{
		WorkerConfig: WorkerConfig{
			WorkerCount:    e.cfg.WorkerCount,
			RateLimitMs:    int(e.cfg.RateLimitDelay / time.Millisecond),
			HistoryBatch:   e.cfg.HistoryBatchSize,
			ReadyAtStartup: e.readyWorkers,
		},
		Statistics: RunStatistics{
			TotalProcessed:   e.counters.Processed,
			SuccessfulShares: e.counters.Successful,
			FailedShares:     e.counters.Failed,
			ErrorCount:       e.counters.Errors,
			ProcessingTime:   elapsed.Round(time.Millisecond).String(),
		},
		ErrorLog:          e.errorLog,
		FailedResults:     failed,
		SuccessfulSummary: successes,
	})
}
