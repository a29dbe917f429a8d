package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameQueueFIFO(t *testing.T) {
	q, err := NewFrameQueue(4)
	require.NoError(t, err)

	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Push([]byte(s)))
	}
	assert.EqualValues(t, 3, q.Pending())

	ctx := context.Background()
	var prev uint64
	for _, want := range []string{"a", "b", "c"} {
		f, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(f.Data))
		assert.Greater(t, f.Seq, prev)
		prev = f.Seq
		q.Done()
	}
	assert.EqualValues(t, 0, q.Pending())
}

func TestFrameQueueDropsNewestWhenFull(t *testing.T) {
	q, err := NewFrameQueue(2)
	require.NoError(t, err)

	assert.True(t, q.Push([]byte("1")))
	assert.True(t, q.Push([]byte("2")))
	assert.False(t, q.Push([]byte("3")))
	assert.EqualValues(t, 1, q.Dropped())
	assert.EqualValues(t, 2, q.Pending())

	f, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", string(f.Data), "queued audio must survive an overflow")
}

func TestFrameQueueCopiesProducerBuffer(t *testing.T) {
	q, err := NewFrameQueue(1)
	require.NoError(t, err)
	buf := []byte("abc")
	q.Push(buf)
	buf[0] = 'z'

	f, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(f.Data))
}

func TestFrameQueuePopUnblocksOnCloseAndContext(t *testing.T) {
	q, err := NewFrameQueue(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Close()
	}()
	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.False(t, q.Push([]byte("late")))
}

func TestNewFrameQueueRejectsZeroCapacity(t *testing.T) {
	_, err := NewFrameQueue(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestFrameQueuePushWaitBlocksUntilRoom(t *testing.T) {
	q, err := NewFrameQueue(1)
	require.NoError(t, err)
	require.True(t, q.Push([]byte("1")))

	pushed := make(chan error, 1)
	go func() { pushed <- q.PushWait(context.Background(), []byte("2")) }()

	select {
	case <-pushed:
		t.Fatal("PushWait returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	f, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", string(f.Data))
	require.NoError(t, <-pushed)

	f, err = q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2", string(f.Data))
	assert.Zero(t, q.Dropped())
}

func TestFrameQueuePushWaitGivesUp(t *testing.T) {
	q, err := NewFrameQueue(1)
	require.NoError(t, err)
	require.True(t, q.Push([]byte("1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.PushWait(ctx, []byte("2")), context.DeadlineExceeded)
	assert.EqualValues(t, 1, q.Pending(), "an abandoned push is not pending")

	q.Close()
	assert.ErrorIs(t, q.PushWait(context.Background(), []byte("3")), ErrQueueClosed)
}
