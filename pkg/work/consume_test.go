package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
)

// scriptedSource replays a fixed sequence of pops, then cancels the run.
type scriptedSource struct {
	mu      sync.Mutex
	pops    []notify.Instruction
	errs    []error
	cancel  context.CancelFunc
	channel string
}

func (s *scriptedSource) BlockPop(ctx context.Context, channels []string, timeout time.Duration) (string, notify.Instruction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", notify.Instruction{}, false, err
	}
	if len(s.pops) == 0 {
		s.cancel()
		return "", notify.Instruction{}, false, nil
	}
	instruction := s.pops[0]
	s.pops = s.pops[1:]
	return s.channel, instruction, true, nil
}

type recordingPerformer struct {
	mu        sync.Mutex
	performed []notify.Instruction
}

func (p *recordingPerformer) Perform(ctx context.Context, instruction notify.Instruction) model.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.performed = append(p.performed, instruction)
	return model.StatusCompleted
}

func consumerConfig() *config.Config {
	return &config.Config{
		RedisChannel:   "ntorque",
		ConsumeDelay:   time.Millisecond,
		ConsumeTimeout: time.Millisecond,
	}
}

func TestConsumerPerformsEachInstruction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		channel: "ntorque",
		pops: []notify.Instruction{
			{TaskID: 1, RetryCount: 0},
			{TaskID: 2, RetryCount: 5},
		},
		cancel: cancel,
	}
	performer := &recordingPerformer{}

	consumer := NewConsumer(source, performer, consumerConfig())
	consumer.Run(ctx)

	performer.mu.Lock()
	defer performer.mu.Unlock()
	assert.ElementsMatch(t, []notify.Instruction{
		{TaskID: 1, RetryCount: 0},
		{TaskID: 2, RetryCount: 5},
	}, performer.performed)
}

func TestConsumerDropsMalformedInstructionsWithoutBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		channel: "ntorque",
		errs:    []error{fmt.Errorf("%w: %q", notify.ErrMalformed, "junk")},
		pops:    []notify.Instruction{{TaskID: 5, RetryCount: 1}},
		cancel:  cancel,
	}
	performer := &recordingPerformer{}

	cfg := consumerConfig()
	cfg.ConsumeTimeout = 5 * time.Second

	start := time.Now()
	consumer := NewConsumer(source, performer, cfg)
	consumer.Run(ctx)

	// The garbage entry is skipped immediately instead of being treated
	// as a transport failure and sleeping out the pop timeout.
	assert.Less(t, time.Since(start), time.Second)
	performer.mu.Lock()
	defer performer.mu.Unlock()
	assert.Equal(t, []notify.Instruction{{TaskID: 5, RetryCount: 1}}, performer.performed)
}

func TestConsumerSurvivesPopErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{
		channel: "ntorque",
		errs:    []error{errors.New("connection refused")},
		pops:    []notify.Instruction{{TaskID: 3, RetryCount: 1}},
		cancel:  cancel,
	}
	performer := &recordingPerformer{}

	consumer := NewConsumer(source, performer, consumerConfig())
	consumer.Run(ctx)

	performer.mu.Lock()
	defer performer.mu.Unlock()
	assert.Equal(t, []notify.Instruction{{TaskID: 3, RetryCount: 1}}, performer.performed)
}
