// Package memory provides a bounded in-memory work queue for development
// and tests. Redelivery happens the same way it does in production:
// workers re-enqueue the mutated unit with an incremented attempt count.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

var _ feed.Queue = (*Queue)(nil)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan feed.ProcessingUnit
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{
		ch: make(chan feed.ProcessingUnit, capacity),
	}
}

// Enqueue pushes a unit into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, unit feed.ProcessingUnit) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- unit:
		return nil
	}
}

// Dequeue pops the next unit, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (feed.ProcessingUnit, error) {
	select {
	case <-ctx.Done():
		return feed.ProcessingUnit{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case unit, ok := <-q.ch:
		if !ok {
			return feed.ProcessingUnit{}, errors.New("queue closed")
		}
		return unit, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
