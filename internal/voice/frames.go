package voice

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/voice-agent-lab/internal/logging"
)

// FrameQueue is the only buffering point between the audio producer and
// the classification loop. Push never blocks: when the queue is full the
// incoming frame is dropped (drop-newest) so audio already queued for an
// utterance in progress is never torn out of the middle.
type FrameQueue struct {
	ch      chan Frame
	done    chan struct{}
	closed  atomic.Bool
	seq     atomic.Uint64
	pending atomic.Int64
	dropped atomic.Int64
	pushed  atomic.Int64
}

func NewFrameQueue(capacity int) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	return &FrameQueue{
		ch:   make(chan Frame, capacity),
		done: make(chan struct{}),
	}, nil
}

// Push enqueues a copy of data. It reports false when the frame was
// dropped because the queue is full or closed.
func (q *FrameQueue) Push(data []byte) bool {
	if q.closed.Load() {
		return false
	}
	f := Frame{
		Data: append([]byte(nil), data...),
		Seq:  q.seq.Add(1),
		At:   time.Now(),
	}
	// Count the frame as pending before it becomes visible to Pop so the
	// dispatch guard never observes a popped-but-uncounted frame.
	q.pending.Add(1)
	select {
	case q.ch <- f:
		q.pushed.Add(1)
		return true
	default:
		q.pending.Add(-1)
		n := q.dropped.Add(1)
		logging.Warnw("dropping audio frame; queue full", append(logging.FrameFields(f.Seq, len(f.Data)), "dropped_total", n)...)
		return false
	}
}

// PushWait enqueues a copy of data, waiting for room instead of
// dropping. It is meant for producers that can be slowed down, such as a
// file being read; a live source should use Push.
func (q *FrameQueue) PushWait(ctx context.Context, data []byte) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	f := Frame{
		Data: append([]byte(nil), data...),
		Seq:  q.seq.Add(1),
		At:   time.Now(),
	}
	q.pending.Add(1)
	select {
	case q.ch <- f:
		q.pushed.Add(1)
		return nil
	case <-ctx.Done():
		q.pending.Add(-1)
		return ctx.Err()
	case <-q.done:
		q.pending.Add(-1)
		return ErrQueueClosed
	}
}

// Pop blocks until a frame is available, ctx is done, or the queue is
// closed. Every successful Pop must be followed by exactly one Done.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-q.done:
		return Frame{}, ErrQueueClosed
	}
}

// Done acknowledges that a popped frame has been classified and its
// transcript, if any, applied.
func (q *FrameQueue) Done() { q.pending.Add(-1) }

// Pending is the number of frames pushed but not yet acknowledged. It
// includes the frame currently being decoded.
func (q *FrameQueue) Pending() int64 { return q.pending.Load() }

// Len is the number of frames waiting to be popped.
func (q *FrameQueue) Len() int { return len(q.ch) }

func (q *FrameQueue) Cap() int { return cap(q.ch) }

func (q *FrameQueue) Dropped() int64 { return q.dropped.Load() }

func (q *FrameQueue) Pushed() int64 { return q.pushed.Load() }

// Close stops accepting frames and unblocks Pop. The channel itself is
// left open so a concurrent Push cannot panic.
func (q *FrameQueue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}
