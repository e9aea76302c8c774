// Package work implements the long-running actors around the store and
// the notification channel: the consumer that pops instructions, the
// performer that claims tasks and delivers their web hooks, the requeuer
// that republishes overdue tasks, and the cleaner that prunes old ones.
package work

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ntorque/ntorque/pkg/backoff"
	"github.com/ntorque/ntorque/pkg/config"
	"github.com/ntorque/ntorque/pkg/logger"
	"github.com/ntorque/ntorque/pkg/model"
	"github.com/ntorque/ntorque/pkg/notify"
	"github.com/ntorque/ntorque/pkg/store"
)

// Poll intervals for the wait on the outbound request: start at 100ms,
// grow by 1.5x, cap at 2s so cancellation latency stays bounded.
const (
	pollStart  = 0.1
	pollFactor = 1.5
	pollMax    = 2.0
)

// minRequestBudget bounds outbound requests whose task carries a zero or
// negative timeout. http.Client treats a zero Timeout as unlimited, which
// would let one task pin a worker indefinitely.
const minRequestBudget = time.Second

// requestBudget returns the wall-time budget for a task's outbound
// request.
func requestBudget(timeout int) time.Duration {
	budget := time.Duration(timeout) * time.Second
	if budget < minRequestBudget {
		return minRequestBudget
	}
	return budget
}

// ClaimStore is the slice of the store the performer consumes.
type ClaimStore interface {
	Claim(ctx context.Context, id int64, retryCount int) (*model.Task, error)
	Reschedule(ctx context.Context, task *model.Task) (model.Status, error)
	Complete(ctx context.Context, task *model.Task) (model.Status, error)
	Fail(ctx context.Context, task *model.Task) (model.Status, error)
}

// Performer claims a task, issues its outbound request and transitions
// its state. Performers are spawned concurrently by the consumer; the
// shared transport is the outbound concurrency throttle.
type Performer struct {
	store      ClaimStore
	transport  http.RoundTripper
	transient  map[int]bool
	maxRetries int
	log        zerolog.Logger

	// sleep is swapped out by tests observing the poll schedule.
	sleep func(time.Duration)
}

// NewPerformer builds a performer from the configured transient status
// codes and retry budget.
func NewPerformer(st ClaimStore, cfg *config.Config) *Performer {
	transient := make(map[int]bool, len(cfg.TransientRequestErrors))
	for _, code := range cfg.TransientRequestErrors {
		transient[code] = true
	}
	return &Performer{
		store: st,
		transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		transient:  transient,
		maxRetries: cfg.MaxRetries,
		log:        logger.Component("performer"),
		sleep:      time.Sleep,
	}
}

// Perform executes one instruction: claim, deliver, classify, transition.
// It returns the status recorded for the task, or "" when the claim
// missed, which is the idempotency point for duplicate notifications. ctx is the
// shared cancellation flag: when it is cancelled the performer abandons
// waiting, leaves the outbound request to finish in the background, and
// the requeuer republishes the task once its due window passes.
func (p *Performer) Perform(ctx context.Context, instruction notify.Instruction) model.Status {
	task, err := p.store.Claim(ctx, instruction.TaskID, instruction.RetryCount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			tasksPerformed.WithLabelValues("missed").Inc()
			p.log.Debug().
				Int64("task_id", instruction.TaskID).
				Int("retry_count", instruction.RetryCount).
				Msg("Claim missed, another worker owns this attempt")
		} else {
			p.log.Warn().Err(err).Int64("task_id", instruction.TaskID).Msg("Claim failed")
		}
		return ""
	}

	response := p.deliver(ctx, task)
	return p.transition(ctx, task, response)
}

// deliver issues the outbound request on a sub-goroutine and waits for it
// with exponentially backed-off polls, so the performer stays responsive
// to cancellation. Returns nil when no response was obtained.
func (p *Performer) deliver(ctx context.Context, task *model.Task) *http.Response {
	req, err := p.buildRequest(task)
	if err != nil {
		p.log.Warn().Err(err).Int64("task_id", task.ID).Msg("Request build failed")
		return nil
	}

	client := &http.Client{
		Transport: p.transport,
		Timeout:   requestBudget(task.Timeout),
	}

	done := make(chan *http.Response, 1)
	go func() {
		start := time.Now()
		resp, err := client.Do(req)
		requestDuration.WithLabelValues(task.Method).Observe(time.Since(start).Seconds())
		if err != nil {
			p.log.Warn().Err(err).
				Int64("task_id", task.ID).
				Str("url", task.URL).
				Msg("Outbound request failed")
			done <- nil
			return
		}
		done <- resp
	}()

	poll := backoff.New(pollStart, backoff.WithMax(pollMax))
	delay := pollStart
	for ctx.Err() == nil {
		p.sleep(time.Duration(delay * float64(time.Second)))
		select {
		case resp := <-done:
			return resp
		default:
		}
		delay = poll.Exponential(pollFactor)
	}

	// Cancelled while waiting. The sub-goroutine may still finish; its
	// result is ignored and the task is already rescheduled by the claim.
	return nil
}

// buildRequest composes the outbound request from the claimed snapshot.
func (p *Performer) buildRequest(task *model.Task) (*http.Request, error) {
	req, err := http.NewRequest(task.Method, task.URL, strings.NewReader(task.Body))
	if err != nil {
		return nil, err
	}

	headers, err := task.HeaderMap()
	if err != nil {
		return nil, fmt.Errorf("decode pass-through headers: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", fmt.Sprintf("%s; charset=%s", task.Enctype, task.Charset))
	req.Header.Set("ntorque-task-id", strconv.FormatInt(task.ID, 10))
	req.Header.Set("ntorque-task-retry-count", strconv.Itoa(task.RetryCount))
	req.Header.Set("ntorque-task-retry-limit", strconv.Itoa(p.maxRetries))
	return req, nil
}

// transition classifies the outcome and records the terminal or retry
// state. Every store mutation is guarded on the claimed retry count; a
// zero-row update means another worker has taken over and is absorbed.
func (p *Performer) transition(ctx context.Context, task *model.Task, response *http.Response) model.Status {
	var status model.Status
	var err error
	var outcome string

	switch {
	case response == nil:
		// No response: network error, timeout or cancellation. Treated
		// like a 500.
		status, err = p.store.Reschedule(ctx, task)
		outcome = "rescheduled"
	case response.StatusCode < 202:
		status, err = p.store.Complete(ctx, task)
		outcome = "completed"
	case response.StatusCode >= 500 || p.transient[response.StatusCode]:
		status, err = p.store.Reschedule(ctx, task)
		outcome = "rescheduled"
	default:
		status, err = p.store.Fail(ctx, task)
		outcome = "failed"
	}

	if response != nil {
		io.Copy(io.Discard, response.Body)
		response.Body.Close()
	}

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.log.Info().
				Int64("task_id", task.ID).
				Int("retry_count", task.RetryCount).
				Msg("Transition lost, another worker has taken over")
		} else {
			p.log.Warn().Err(err).Int64("task_id", task.ID).Msg("Transition failed")
		}
		return ""
	}

	tasksPerformed.WithLabelValues(outcome).Inc()
	p.log.Info().
		Int64("task_id", task.ID).
		Int("retry_count", task.RetryCount).
		Str("status", string(status)).
		Msg("Task performed")
	return status
}
