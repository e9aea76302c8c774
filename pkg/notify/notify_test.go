package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	n := NewFromAddr(s.Addr())
	t.Cleanup(func() { n.Close() })
	return n
}

func TestInstructionRoundTrip(t *testing.T) {
	i := Instruction{TaskID: 1234, RetryCount: 2}
	assert.Equal(t, "1234:2", i.String())

	parsed, err := ParseInstruction("1234:2")
	require.NoError(t, err)
	assert.Equal(t, i, parsed)
}

func TestParseInstructionRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "1234", "x:0", "1:x", ":"} {
		_, err := ParseInstruction(raw)
		assert.ErrorIs(t, err, ErrMalformed, "raw %q", raw)
	}
}

func TestBlockPopReportsMalformedEntries(t *testing.T) {
	n := setupTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, n.rdb.RPush(ctx, DefaultChannel, "not-an-instruction").Err())

	_, _, ok, err := n.BlockPop(ctx, []string{DefaultChannel}, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMalformed)

	// The malformed entry was consumed; the channel is empty again.
	depth, err := n.Length(ctx, DefaultChannel)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestPushPopOrdering(t *testing.T) {
	n := setupTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, n.Push(ctx, DefaultChannel, Instruction{TaskID: 1}))
	require.NoError(t, n.Push(ctx, DefaultChannel, Instruction{TaskID: 2, RetryCount: 1}))

	depth, err := n.Length(ctx, DefaultChannel)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// Popped in push order.
	first, ok, err := n.Pop(ctx, DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.TaskID)

	second, ok, err := n.Pop(ctx, DefaultChannel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), second.TaskID)
	assert.Equal(t, 1, second.RetryCount)

	_, ok, err = n.Pop(ctx, DefaultChannel)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlockPopReturnsPushedInstruction(t *testing.T) {
	n := setupTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, n.Push(ctx, DefaultChannel, Instruction{TaskID: 7, RetryCount: 3}))

	channel, instruction, ok, err := n.BlockPop(ctx, []string{DefaultChannel}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultChannel, channel)
	assert.Equal(t, Instruction{TaskID: 7, RetryCount: 3}, instruction)
}

func TestBlockPopTimesOutEmpty(t *testing.T) {
	n := setupTestNotifier(t)

	start := time.Now()
	_, _, ok, err := n.BlockPop(context.Background(), []string{DefaultChannel}, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
