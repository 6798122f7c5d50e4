package crons

import (
	"context"
	"errors"

	"github.com/StorX2-0/Share-Tools/pkg/logger"
	"github.com/StorX2-0/Share-Tools/server"

	"github.com/robfig/cron/v3"
)

// AutoshareManager triggers share runs on a cron schedule. Runs go through
// the controller, so a scheduled trigger that lands while a run is active is
// skipped rather than stacked.
type AutoshareManager struct {
	cron *cron.Cron
	ctrl *server.Controller
	ctx  context.Context
}

func NewAutoshareManager(ctx context.Context, ctrl *server.Controller) *AutoshareManager {
	return &AutoshareManager{
		cron: cron.New(),
		ctrl: ctrl,
		ctx:  ctx,
	}
}

// Schedule registers the share job under the given cron spec and starts the
// scheduler.
func (m *AutoshareManager) Schedule(spec string) error {
	if _, err := m.cron.AddFunc(spec, m.trigger); err != nil {
		return err
	}
	m.cron.Start()
	logger.Info(m.ctx, "autoshare schedule active", logger.String("spec", spec))
	return nil
}

func (m *AutoshareManager) trigger() {
	traceID, err := m.ctrl.StartRun(m.ctx)
	if errors.Is(err, server.ErrRunInProgress) {
		logger.Warn(m.ctx, "scheduled share skipped, previous run still active")
		return
	}
	if err != nil {
		logger.Error(m.ctx, "scheduled share failed to start", logger.ErrorField(err))
		return
	}
	logger.Info(m.ctx, "scheduled share started", logger.String("trace_id", traceID))
}

// Stop halts the scheduler and waits for any in-flight trigger callback.
func (m *AutoshareManager) Stop() {
	<-m.cron.Stop().Done()
}
