package worker

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/identity"
)

// Requests turns document.requested events back into queued processing
// units, closing the dependency loop. Enqueueing is idempotent downstream:
// a re-requested document that has not changed produces no event.
type Requests struct {
	queue    feed.Enqueuer
	identity *identity.Generator
	logger   *zap.Logger
}

// NewRequests constructs a Requests consumer.
func NewRequests(queue feed.Enqueuer, idGen *identity.Generator, logger *zap.Logger) *Requests {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Requests{queue: queue, identity: idGen, logger: logger}
}

// HandleRequested enqueues one unit for the requested document. The
// request's own id becomes the unit's causation id, preserving the event
// chain.
func (r *Requests) HandleRequested(ctx context.Context, request feed.DocumentRequested) error {
	ident, err := r.identity.Identity(request.URI)
	if err != nil {
		return errors.Wrapf(err, "identity for requested uri %q", request.URI)
	}
	unit := feed.ProcessingUnit{
		Provider:      request.Provider,
		Domain:        request.Domain,
		SeasonYear:    request.SeasonYear,
		DocumentKind:  request.DocumentKind,
		SourceURI:     ident.CleanedURL,
		URLHash:       ident.URLHash,
		CorrelationID: request.CorrelationID,
		CausationID:   request.ID,
		ParentID:      request.ParentID,
	}
	if err := r.queue.Enqueue(ctx, unit); err != nil {
		return errors.Wrap(err, "enqueue requested document")
	}
	r.logger.Debug("dependency request enqueued",
		zap.String("document_kind", string(request.DocumentKind)),
		zap.String("url_hash", ident.URLHash),
	)
	return nil
}
