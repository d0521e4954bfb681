package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/isWangjianhua/GenPulse/pkg/store"
)

const pruneLeaseName = "retention"

// RetentionConfig controls the terminal-record sweep.
type RetentionConfig struct {
	Enabled  bool
	TTL      time.Duration
	Schedule string // five-field cron expression, e.g. "0 * * * *"
}

// TaskPruner deletes terminal records older than a TTL.
type TaskPruner interface {
	PruneTasks(ctx context.Context, ttl time.Duration) (int64, error)
}

// PruneWorker sweeps completed and failed records on a cron schedule.
// When leases is set, only the process holding the lease sweeps, so a
// fleet of daemons sharing one database does not race.
type PruneWorker struct {
	tasks    TaskPruner
	leases   store.LeaseStore
	holderID string
	config   RetentionConfig
	logger   *slog.Logger
}

func NewPruneWorker(tasks TaskPruner, leases store.LeaseStore, holderID string, cfg RetentionConfig, logger *slog.Logger) *PruneWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@hourly"
	}
	return &PruneWorker{
		tasks:    tasks,
		leases:   leases,
		holderID: holderID,
		config:   cfg,
		logger:   logger,
	}
}

// Run schedules the sweep and blocks until ctx is cancelled.
func (w *PruneWorker) Run(ctx context.Context) error {
	if !w.config.Enabled || w.config.TTL <= 0 {
		w.logger.Info("pruning disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(w.config.Schedule, func() { w.Prune(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", w.config.Schedule, err)
	}
	w.logger.Info("prune worker started", "schedule", w.config.Schedule, "ttl", w.config.TTL)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.logger.Info("prune worker stopping")
	return nil
}

// Prune runs one sweep. It returns the number of deleted records.
func (w *PruneWorker) Prune(ctx context.Context) int64 {
	if w.leases != nil {
		ok, err := w.leases.Acquire(ctx, pruneLeaseName, w.holderID, 5*time.Minute)
		if err != nil {
			w.logger.Error("failed to acquire retention lease", "error", err)
			return 0
		}
		if !ok {
			w.logger.Debug("retention lease held elsewhere, skipping sweep")
			return 0
		}
		defer func() {
			if err := w.leases.Release(context.WithoutCancel(ctx), pruneLeaseName, w.holderID); err != nil {
				w.logger.Warn("failed to release retention lease", "error", err)
			}
		}()
	}

	deleted, err := w.tasks.PruneTasks(ctx, w.config.TTL)
	if err != nil {
		w.logger.Error("prune failed", "error", err)
		return 0
	}
	if deleted > 0 {
		prunedTasks.Add(float64(deleted))
		w.logger.Info("pruned terminal tasks", "count", deleted, "older_than", w.config.TTL)
	}
	return deleted
}
