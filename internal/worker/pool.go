package worker

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// UnitHandler processes one dequeued unit.
type UnitHandler interface {
	Handle(ctx context.Context, unit feed.ProcessingUnit) error
}

// Pool fans dequeued units out to a bounded goroutine pool.
type Pool struct {
	queue   feed.Queue
	handler UnitHandler
	pool    *ants.Pool
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewPool constructs a Pool with the given concurrency.
func NewPool(queue feed.Queue, handler UnitHandler, size int, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	return &Pool{
		queue:   queue,
		handler: handler,
		pool:    p,
		logger:  logger,
	}, nil
}

// Run dequeues until the context ends, submitting each unit to the pool.
// Submit blocks when all workers are busy, which backpressures the queue.
func (p *Pool) Run(ctx context.Context) error {
	for {
		unit, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "dequeue unit")
		}

		p.wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer p.wg.Done()
			if err := p.handler.Handle(ctx, unit); err != nil {
				p.logger.Error("unit failed",
					zap.String("correlation_id", unit.CorrelationID),
					zap.String("url_hash", unit.URLHash),
					zap.Error(err),
				)
			}
		})
		if submitErr != nil {
			p.wg.Done()
			if errors.Is(submitErr, ants.ErrPoolClosed) {
				return nil
			}
			p.logger.Error("submit unit to pool", zap.Error(submitErr))
		}
	}
}

// Shutdown waits for in-flight units and releases the pool.
func (p *Pool) Shutdown() {
	p.wg.Wait()
	p.pool.Release()
}
