package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	errspkg "github.com/drblury/busflow/internal/runtime/errors"
)

// Queue is an unbounded FIFO of decoded messages. Push never blocks the
// producer; Pop suspends the consumer while the queue is empty. A slow
// consumer accumulates messages in memory.
type Queue struct {
	name string

	mu    sync.Mutex
	items []*Message

	// wake holds at most one token. push arms it; Pop re-arms it when
	// messages remain so a second consumer is not stranded on a non-empty
	// queue.
	wake chan struct{}

	// onDepth, when set, receives the queue depth after every mutation.
	// Assigned before the queue is shared.
	onDepth func(depth int)
}

func newQueue(name string) *Queue {
	return &Queue{
		name: name,
		wake: make(chan struct{}, 1),
	}
}

// Name returns the queue's registered name. The primary queue of a
// subscription is unnamed.
func (q *Queue) Name() string { return q.name }

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) push(msg *Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	// Report depth under the lock so concurrent push/pop cannot land
	// updates out of order and leave the gauge stale.
	if q.onDepth != nil {
		q.onDepth(len(q.items))
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest message, blocking while the queue is
// empty. A context deadline maps to an error matching ErrTimeout; plain
// cancellation returns the context error unchanged.
func (q *Queue) Pop(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			if q.onDepth != nil {
				q.onDepth(remaining)
			}
			q.mu.Unlock()

			if remaining > 0 {
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("busflow: no message within deadline: %w", errspkg.ErrTimeout)
			}
			return nil, ctx.Err()
		}
	}
}
