package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AttemptPruner removes attempt records older than the retention period
type AttemptPruner interface {
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// LockoutPruner removes lockout rows whose unlock time has passed
type LockoutPruner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// MaintenanceManager runs the daily retention and cleanup job. Failures are
// logged and retried on the next run, never fatal.
type MaintenanceManager struct {
	attempts      AttemptPruner
	lockouts      LockoutPruner
	retentionDays int
	logger        *slog.Logger
	cron          *cron.Cron
}

// NewMaintenanceManager creates a new MaintenanceManager
func NewMaintenanceManager(attempts AttemptPruner, lockouts LockoutPruner, retentionDays int, logger *slog.Logger) *MaintenanceManager {
	return &MaintenanceManager{
		attempts:      attempts,
		lockouts:      lockouts,
		retentionDays: retentionDays,
		logger:        logger,
		cron:          cron.New(),
	}
}

// Start schedules the daily job and runs one pass immediately so a restart
// never postpones overdue pruning by a full day
func (m *MaintenanceManager) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc("@daily", func() {
		m.RunOnce(ctx)
	}); err != nil {
		return err
	}

	m.cron.Start()
	go m.RunOnce(ctx)

	m.logger.Info("maintenance job scheduled",
		slog.String("schedule", "@daily"),
		slog.Int("retention_days", m.retentionDays))
	return nil
}

// Stop stops the scheduler, waiting for a running job to finish
func (m *MaintenanceManager) Stop() {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		m.logger.Warn("maintenance job did not finish before shutdown deadline")
	}
}

// RunOnce executes one maintenance pass
func (m *MaintenanceManager) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	purged, err := m.attempts.PurgeOlderThan(runCtx, m.retentionDays)
	if err != nil {
		m.logger.Error("failed to prune attempt log", slog.Any("error", err))
	} else if purged > 0 {
		m.logger.Info("attempt log pruned", slog.Int64("deleted", purged))
	}

	expired, err := m.lockouts.DeleteExpired(runCtx)
	if err != nil {
		m.logger.Error("failed to prune expired lockouts", slog.Any("error", err))
	} else if expired > 0 {
		m.logger.Info("expired lockouts pruned", slog.Int64("deleted", expired))
	}
}
