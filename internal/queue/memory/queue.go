// Package memory provides an in-process queue for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/contractor-socket/internal/jobs"
	"github.com/JakeFAU/contractor-socket/internal/queue"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with one channel per priority.
type Queue struct {
	channels map[jobs.Priority]chan jobs.Message
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue constructs a queue whose channels each hold capacity messages.
func NewQueue(capacity int) *Queue {
	q := &Queue{
		channels: make(map[jobs.Priority]chan jobs.Message, len(jobs.Priorities)),
		done:     make(chan struct{}),
	}
	for _, p := range jobs.Priorities {
		q.channels[p] = make(chan jobs.Message, capacity)
	}
	return q
}

// Enqueue pushes a message or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, msg jobs.Message) error {
	ch, ok := q.channels[msg.Priority]
	if !ok {
		return fmt.Errorf("unknown priority %q", msg.Priority)
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case ch <- msg:
		return nil
	}
}

// Consume runs concurrency handlers over the priority's channel until ctx
// ends or the queue closes.
func (q *Queue) Consume(ctx context.Context, prio jobs.Priority, concurrency int, h queue.Handler) error {
	ch, ok := q.channels[prio]
	if !ok {
		return fmt.Errorf("unknown priority %q", prio)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case msg := <-ch:
					h(ctx, msg)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// Len reports how many messages of prio are waiting.
func (q *Queue) Len(prio jobs.Priority) int {
	return len(q.channels[prio])
}

// Close stops delivery. It is safe to call more than once.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return nil
	}
	close(q.done)
	q.closed = true
	return nil
}
