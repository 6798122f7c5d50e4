package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	googlepack "github.com/StorX2-0/Share-Tools/apps/google"
	"github.com/StorX2-0/Share-Tools/crons"
	"github.com/StorX2-0/Share-Tools/engine"
	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/server"
	"github.com/StorX2-0/Share-Tools/storage"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	defer logger.Sync()

	initApp()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := engine.ConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "configuration error", logger.ErrorField(err))
		os.Exit(1)
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		logger.Error(ctx, "credentials file not readable",
			logger.String("path", cfg.CredentialsFile), logger.ErrorField(err))
		os.Exit(1)
	}

	factory := clientFactory(cfg)

	if os.Getenv("SHARE_SERVER") == "true" {
		runServer(ctx, factory)
		return
	}

	runOnce(ctx, cfg, factory)
}

func initApp() {
	// Try to load .env next to the binary first, then the working directory.
	// The tool runs fine without one when the environment is already set.
	if execPath, err := os.Executable(); err == nil {
		if err := godotenv.Load(filepath.Join(filepath.Dir(execPath), ".env")); err == nil {
			logger.InitDefault()
			return
		}
	}
	_ = godotenv.Load()
	logger.InitDefault()
}

// clientFactory builds one RemoteClient per worker. Every worker carries its
// own services so a wedged client never stalls its siblings.
func clientFactory(cfg *engine.Config) engine.ClientFactory {
	return func(ctx context.Context, workerID int) (engine.RemoteClient, error) {
		httpClient, err := googlepack.NewAuthenticatedClient(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		return googlepack.NewClient(ctx, httpClient)
	}
}

// runOnce executes a single share run and exits. Interrupts save history and
// exit non-zero; the next invocation resumes.
func runOnce(ctx context.Context, cfg *engine.Config, factory engine.ClientFactory) {
	traceID := uuid.New().String()
	ctx = logger.WithTraceID(ctx, traceID)

	eng := engine.New(cfg, factory, engine.NewWriterSink(os.Stdout))
	startedAt := time.Now()
	err := eng.Run(ctx)
	archiveRun(ctx, traceID, cfg, eng.Counters(), startedAt, err)

	if err != nil {
		logger.Error(ctx, "share run failed", logger.ErrorField(err))
		os.Exit(1)
	}
}

// archiveRun records the run in the sqlite archive when one is configured.
func archiveRun(ctx context.Context, traceID string, cfg *engine.Config, counters engine.Counters, startedAt time.Time, runErr error) {
	dbPath := os.Getenv("SHARE_RUNS_DB")
	if dbPath == "" {
		return
	}

	store, err := storage.OpenRunStore(dbPath)
	if err != nil {
		logger.Warn(ctx, "failed to open run archive", logger.ErrorField(err))
		return
	}

	status := storage.RunStatusSuccess
	message := ""
	switch {
	case errors.Is(runErr, engine.ErrInterrupted):
		status = storage.RunStatusInterrupted
		message = runErr.Error()
	case runErr != nil:
		status = storage.RunStatusFailed
		message = runErr.Error()
	}

	if err := store.RecordRun(&storage.RunRecord{
		TraceID:     traceID,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
		Status:      status,
		Message:     message,
		WorkerCount: cfg.WorkerCount,
		Processed:   counters.Processed,
		Successful:  counters.Successful,
		Failed:      counters.Failed,
		Errors:      counters.Errors,
	}); err != nil {
		logger.Warn(ctx, "failed to archive run record", logger.ErrorField(err))
	}
}

// runServer starts the control API, with the optional run archive and cron
// schedule.
func runServer(ctx context.Context, factory engine.ClientFactory) {
	var runs *storage.RunStore
	if dbPath := os.Getenv("SHARE_RUNS_DB"); dbPath != "" {
		var err error
		runs, err = storage.OpenRunStore(dbPath)
		if err != nil {
			logger.Error(ctx, "failed to open run archive", logger.ErrorField(err))
			os.Exit(1)
		}
	}

	ctrl := server.NewController(factory, runs)

	if spec := os.Getenv("SHARE_CRON"); spec != "" {
		manager := crons.NewAutoshareManager(ctx, ctrl)
		if err := manager.Schedule(spec); err != nil {
			logger.Error(ctx, "invalid SHARE_CRON schedule",
				logger.String("spec", spec), logger.ErrorField(err))
			os.Exit(1)
		}
		defer manager.Stop()
	}

	if err := server.StartServer(ctrl, getAddress()); err != nil {
		logger.Error(ctx, "server exited", logger.ErrorField(err))
		os.Exit(1)
	}
}

func getAddress() string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":8005"
}
