package work

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
)

// InstructionSource pops instructions from the notification channel.
type InstructionSource interface {
	BlockPop(ctx context.Context, channels []string, timeout time.Duration) (string, notify.Instruction, bool, error)
}

// TaskPerformer is implemented by *Performer.
type TaskPerformer interface {
	Perform(ctx context.Context, instruction notify.Instruction) model.Status
}

// Consumer blocking-pops instructions and spawns a performer goroutine
// per instruction. The pop loop never blocks on delivery, so channel
// consumption keeps pace with intake; the performer's shared transport
// bounds the outbound fan-out.
type Consumer struct {
	source    InstructionSource
	performer TaskPerformer
	channels  []string
	delay     time.Duration
	timeout   time.Duration
	log       zerolog.Logger

	wg sync.WaitGroup
}

// NewConsumer wires a consumer to the configured channel list.
func NewConsumer(source InstructionSource, performer TaskPerformer, cfg *config.Config) *Consumer {
	return &Consumer{
		source:    source,
		performer: performer,
		channels:  []string{cfg.RedisChannel},
		delay:     cfg.ConsumeDelay,
		timeout:   cfg.ConsumeTimeout,
		log:       logger.Component("consumer"),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight
// performers to settle their claims.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info().Strs("channels", c.channels).Msg("Consumer started")
	for ctx.Err() == nil {
		channel, instruction, ok, err := c.source.BlockPop(ctx, c.channels, c.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// A malformed entry has already been popped; drop it and
			// keep consuming. Only transport errors back off.
			if errors.Is(err, notify.ErrMalformed) {
				c.log.Warn().Err(err).Msg("Dropping malformed instruction")
				continue
			}
			c.log.Warn().Err(err).Msg("Channel pop failed, backing off")
			c.pause(ctx, c.timeout)
			continue
		}
		if !ok {
			continue
		}
		c.log.Debug().
			Str("channel", channel).
			Int64("task_id", instruction.TaskID).
			Int("retry_count", instruction.RetryCount).
			Msg("Instruction received")
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.performer.Perform(ctx, instruction)
		}()
		c.pause(ctx, c.delay)
	}
	c.wg.Wait()
	c.log.Info().Msg("Consumer stopped")
}

func (c *Consumer) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
