package work

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
)

// DueStore is the slice of the store the requeuer consumes.
type DueStore interface {
	GetDueTasks(ctx context.Context, limit, offset int) ([]model.Task, error)
}

// InstructionSink pushes instructions onto the notification channel.
type InstructionSink interface {
	Push(ctx context.Context, channel string, instruction notify.Instruction) error
}

// Requeuer periodically republishes overdue pending tasks. It is the
// safety net behind the at-least-once guarantee: a notification lost to
// a Redis flush or a worker crash is replayed once the task's due date
// passes. Instructions carry the current retry count, so replaying a
// task that has since been claimed is a harmless no-op at the store.
type Requeuer struct {
	store    DueStore
	sink     InstructionSink
	channel  string
	interval time.Duration
	batch    int
	log      zerolog.Logger

	// pushDelay spaces the pushes within a batch so a large backlog does
	// not land on the channel as a single burst.
	pushDelay time.Duration
}

// NewRequeuer wires a requeuer to the configured channel.
func NewRequeuer(st DueStore, sink InstructionSink, cfg *config.Config) *Requeuer {
	return &Requeuer{
		store:     st,
		sink:      sink,
		channel:   cfg.RedisChannel,
		interval:  cfg.RequeueInterval,
		batch:     cfg.RequeueBatch,
		log:       logger.Component("requeuer"),
		pushDelay: 10 * time.Millisecond,
	}
}

// Run requeues until ctx is cancelled, sleeping out the remainder of the
// interval after each pass.
func (r *Requeuer) Run(ctx context.Context) {
	r.log.Info().Dur("interval", r.interval).Msg("Requeuer started")
	for ctx.Err() == nil {
		started := time.Now()
		if n, err := r.RunOnce(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Requeue pass failed")
		} else if n > 0 {
			r.log.Info().Int("tasks", n).Msg("Requeued overdue tasks")
		}
		if slack := r.interval - time.Since(started); slack > 0 {
			t := time.NewTimer(slack)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
	r.log.Info().Msg("Requeuer stopped")
}

// RunOnce performs a single pass and returns the number of tasks pushed.
func (r *Requeuer) RunOnce(ctx context.Context) (int, error) {
	tasks, err := r.store.GetDueTasks(ctx, r.batch, 0)
	if err != nil {
		return 0, err
	}
	pushed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		instruction := notify.Instruction{TaskID: task.ID, RetryCount: task.RetryCount}
		if err := r.sink.Push(ctx, r.channel, instruction); err != nil {
			// The task stays overdue and the next pass retries it.
			r.log.Warn().Err(err).Int64("task_id", task.ID).Msg("Requeue push failed")
			continue
		}
		pushed++
		tasksRequeued.Inc()
		if r.pushDelay > 0 && !sleepCtx(ctx, r.pushDelay) {
			break
		}
	}
	return pushed, nil
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
