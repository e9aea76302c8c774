package work

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
)

// PruneStore is the slice of the store the cleaner consumes.
type PruneStore interface {
	DeleteTasksOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Cleaner deletes completed and failed tasks whose last modification is
// older than the retention window. Scheduled by cron from the worker
// entrypoint.
type Cleaner struct {
	store PruneStore
	age   time.Duration
	log   zerolog.Logger
}

// NewCleaner builds a cleaner with the configured retention.
func NewCleaner(st PruneStore, cfg *config.Config) *Cleaner {
	return &Cleaner{
		store: st,
		age:   time.Duration(cfg.CleanupAfterDays) * 24 * time.Hour,
		log:   logger.Component("cleaner"),
	}
}

// RunOnce prunes one batch and returns the number of rows removed.
func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteTasksOlderThan(ctx, c.age)
	if err != nil {
		c.log.Warn().Err(err).Msg("Cleanup failed")
		return 0, err
	}
	if n > 0 {
		tasksCleaned.Add(float64(n))
		c.log.Info().Int64("tasks", n).Msg("Pruned finished tasks")
	}
	return n, nil
}
