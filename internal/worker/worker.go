// Package worker consumes processing units from the work queue and runs
// them through ingestion and dispatch.
package worker

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/dispatch"
	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/ingest"
	"github.com/pickemhq/sportsfeed/internal/metrics"
)

// DefaultMaxAttempts bounds redeliveries of a transiently failing unit.
const DefaultMaxAttempts = 5

// Handler runs one unit end to end. Transient failures are re-enqueued
// with the mutated unit, so the requested-dependency set recorded before
// the failure survives into the next attempt.
type Handler struct {
	processor   *ingest.Processor
	dispatcher  *dispatch.Dispatcher
	queue       feed.Enqueuer
	maxAttempts int
	logger      *zap.Logger
}

// NewHandler constructs a Handler. maxAttempts <= 0 selects the default.
func NewHandler(
	processor *ingest.Processor,
	dispatcher *dispatch.Dispatcher,
	queue feed.Enqueuer,
	maxAttempts int,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Handler{
		processor:   processor,
		dispatcher:  dispatcher,
		queue:       queue,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Handle processes one unit. A nil return means the delivery is settled:
// succeeded, re-enqueued for another attempt, or abandoned as terminal.
// Only configuration gaps and re-enqueue failures propagate.
func (h *Handler) Handle(ctx context.Context, unit feed.ProcessingUnit) error {
	metrics.IncUnitsInFlight()
	defer metrics.DecUnitsInFlight()

	log := h.logger.With(
		zap.String("url_hash", unit.URLHash),
		zap.String("correlation_id", unit.CorrelationID),
		zap.Int("attempt", unit.AttemptCount),
	)

	event, err := h.processor.Process(ctx, unit)
	if err != nil {
		return h.settle(ctx, unit, log, err)
	}
	if event == nil {
		return nil
	}
	// The document is stored and announced from here on. Flagging the unit
	// means a dispatch-phase failure re-enqueues something that re-runs
	// dispatch, not something the unchanged-hash check would drop.
	unit.PendingDispatch = true
	if err := h.dispatcher.Dispatch(ctx, &unit, *event); err != nil {
		return h.settle(ctx, unit, log, err)
	}
	return nil
}

func (h *Handler) settle(ctx context.Context, unit feed.ProcessingUnit, log *zap.Logger, cause error) error {
	switch {
	case feed.IsValidation(cause):
		metrics.ObserveUnitFailure("validation")
		log.Warn("unit abandoned, payload invalid", zap.Error(cause))
		return nil
	case feed.IsConfiguration(cause):
		metrics.ObserveUnitFailure("configuration")
		return cause
	}

	// Transient and unclassified failures are retried alike.
	metrics.ObserveUnitFailure("transient")
	if unit.AttemptCount+1 >= h.maxAttempts {
		log.Error("unit abandoned, attempts exhausted", zap.Error(cause))
		return nil
	}
	unit.AttemptCount++
	if err := h.queue.Enqueue(ctx, unit); err != nil {
		return errors.CombineErrors(cause, errors.Wrap(err, "re-enqueue unit"))
	}
	log.Warn("unit re-enqueued", zap.Error(cause))
	return nil
}
