// Package notify implements the fast-path notification channel: a durable
// Redis list carrying "<task_id>:<retry_count>" instruction strings. The
// ingress pushes to the tail after its transaction commits; the consumer
// blocks popping the head. The database remains the source of truth: a
// lost notification is recovered by the requeuer and a duplicated one is
// absorbed by the store's claim.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the list key used when none is configured.
const DefaultChannel = "ntorque"

// ErrMalformed reports an instruction string that does not parse. The
// offending entry has already been consumed from the channel, so callers
// can log and move on.
var ErrMalformed = errors.New("notify: malformed instruction")

// Instruction identifies one eligible execution attempt of a task.
type Instruction struct {
	TaskID     int64
	RetryCount int
}

// String renders the wire format "<id>:<retry_count>".
func (i Instruction) String() string {
	return fmt.Sprintf("%d:%d", i.TaskID, i.RetryCount)
}

// ParseInstruction parses the wire format. Failures wrap ErrMalformed.
func ParseInstruction(raw string) (Instruction, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return Instruction{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: bad task id in %q", ErrMalformed, raw)
	}
	retryCount, err := strconv.Atoi(parts[1])
	if err != nil {
		return Instruction{}, fmt.Errorf("%w: bad retry count in %q", ErrMalformed, raw)
	}
	return Instruction{TaskID: id, RetryCount: retryCount}, nil
}

// Notifier wraps the Redis connection used for the notification lists.
// All operations are context-aware.
type Notifier struct {
	rdb *redis.Client
}

// New connects to the Redis instance at the given URL, e.g.
// redis://localhost:6379/0.
func New(redisURL string) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &Notifier{rdb: redis.NewClient(opts)}, nil
}

// NewFromAddr connects to a bare host:port address. Used by tests against
// miniredis.
func NewFromAddr(addr string) *Notifier {
	return &Notifier{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close releases the connection pool.
func (n *Notifier) Close() error {
	return n.rdb.Close()
}

// Ping verifies the connection.
func (n *Notifier) Ping(ctx context.Context) error {
	return n.rdb.Ping(ctx).Err()
}

// Push appends the instruction to the tail of the channel's list.
func (n *Notifier) Push(ctx context.Context, channel string, instruction Instruction) error {
	return n.rdb.RPush(ctx, channel, instruction.String()).Err()
}

// BlockPop pops the head of the first non-empty channel, blocking up to
// timeout. It returns the channel name and the parsed instruction, or
// ok=false when the timeout elapsed with nothing to pop.
func (n *Notifier) BlockPop(ctx context.Context, channels []string, timeout time.Duration) (string, Instruction, bool, error) {
	result, err := n.rdb.BLPop(ctx, timeout, channels...).Result()
	if err == redis.Nil {
		return "", Instruction{}, false, nil
	}
	if err != nil {
		return "", Instruction{}, false, err
	}
	// BLPop returns [key, value].
	instruction, err := ParseInstruction(result[1])
	if err != nil {
		return result[0], Instruction{}, false, err
	}
	return result[0], instruction, true, nil
}

// Pop non-blockingly pops the head of the channel. Used by diagnostics and
// tests.
func (n *Notifier) Pop(ctx context.Context, channel string) (Instruction, bool, error) {
	raw, err := n.rdb.LPop(ctx, channel).Result()
	if err == redis.Nil {
		return Instruction{}, false, nil
	}
	if err != nil {
		return Instruction{}, false, err
	}
	instruction, err := ParseInstruction(raw)
	if err != nil {
		return Instruction{}, false, err
	}
	return instruction, true, nil
}

// Length returns the channel's current depth.
func (n *Notifier) Length(ctx context.Context, channel string) (int64, error) {
	return n.rdb.LLen(ctx, channel).Result()
}
