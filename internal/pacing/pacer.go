// Package pacing centralizes the courtesy throttle against the source API.
// Every crawl definition shares one Pacer, so concurrent crawls cannot
// multiply the enqueue rate past the configured bound.
package pacing

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Pacer implements feed.Pacer with a token bucket sized for one item per
// configured interval.
type Pacer struct {
	limiter *rate.Limiter
}

// Config holds pacer configuration.
type Config struct {
	// ItemsPerSecond bounds the enqueue rate. Zero or negative disables
	// pacing.
	ItemsPerSecond float64
}

// New creates a Pacer.
func New(cfg Config) *Pacer {
	limit := rate.Limit(cfg.ItemsPerSecond)
	if cfg.ItemsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next item may be enqueued, or the context ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "pacing wait")
	}
	return nil
}
