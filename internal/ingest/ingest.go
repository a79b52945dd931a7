// Package ingest turns queued processing units into stored documents and
// change events.
package ingest

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/metrics"
)

// Outcomes recorded per processed unit.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
)

// Processor fetches a unit's document, compares its normalized content hash
// against the stored copy, and publishes at most one change event per pass.
// An unchanged document produces no write and no event.
type Processor struct {
	source    feed.SourceClient
	docs      feed.DocumentStore
	publisher feed.Publisher
	hasher    feed.Hasher
	pacer     feed.Pacer
	clock     feed.Clock
	ids       feed.IDGenerator
	logger    *zap.Logger
}

// New constructs a Processor.
func New(
	source feed.SourceClient,
	docs feed.DocumentStore,
	publisher feed.Publisher,
	hasher feed.Hasher,
	pacer feed.Pacer,
	clock feed.Clock,
	ids feed.IDGenerator,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		source:    source,
		docs:      docs,
		publisher: publisher,
		hasher:    hasher,
		pacer:     pacer,
		clock:     clock,
		ids:       ids,
		logger:    logger,
	}
}

// Process runs one unit through fetch, change detection, and storage. It
// returns the published change event, or nil when the document is
// unchanged. Publishing happens after the write, so a crash between the
// two redelivers the unit and the identical hash suppresses a duplicate
// event. A unit flagged PendingDispatch gets its event rebuilt even when
// the hash is unchanged, so dispatch can resume after a partial failure.
func (p *Processor) Process(ctx context.Context, unit feed.ProcessingUnit) (*feed.DocumentChanged, error) {
	collection := unit.Collection()
	log := p.logger.With(
		zap.String("collection", collection),
		zap.String("url_hash", unit.URLHash),
		zap.String("correlation_id", unit.CorrelationID),
	)

	payload := unit.DocumentJSON
	if payload == "" {
		if err := p.pacer.Wait(ctx); err != nil {
			return nil, err
		}
		start := p.clock.Now()
		raw, err := p.source.FetchDocument(ctx, unit.SourceURI)
		metrics.ObserveSourceFetch("document", p.clock.Now().Sub(start).Seconds())
		if err != nil {
			return nil, errors.Wrapf(err, "fetch document hash=%s", unit.URLHash)
		}
		payload = string(raw)
	}

	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed == "null" {
		return nil, errors.Mark(
			errors.Newf("empty payload for %s", unit.SourceURI),
			feed.ErrValidation,
		)
	}

	contentHash, err := p.hasher.Hash([]byte(payload))
	if err != nil {
		return nil, errors.Wrap(err, "hash payload")
	}

	action := feed.ActionCreated
	existing, err := p.docs.Get(ctx, collection, unit.URLHash)
	switch {
	case errors.Is(err, feed.ErrDocumentNotFound):
		// first sight
	case err != nil:
		return nil, errors.Wrapf(err, "load stored document hash=%s", unit.URLHash)
	default:
		storedHash, err := p.hasher.Hash([]byte(existing.Payload))
		if err != nil {
			return nil, errors.Wrap(err, "hash stored payload")
		}
		if storedHash == contentHash {
			if unit.PendingDispatch {
				// An earlier attempt stored and announced this payload but
				// failed before dispatch finished. Rebuild the event so
				// dispatch re-runs; nothing is written or re-published.
				log.Debug("document unchanged, dispatch pending")
				return p.changeEvent(unit, feed.ActionUpdated, payload)
			}
			metrics.ObserveDocument(string(unit.DocumentKind), OutcomeUnchanged)
			log.Debug("document unchanged")
			return nil, nil
		}
		action = feed.ActionUpdated
	}

	doc := feed.Document{
		SourceURLHash: unit.URLHash,
		SourceURL:     unit.SourceURI,
		Payload:       payload,
		Provider:      unit.Provider,
		Domain:        unit.Domain,
		DocumentKind:  unit.DocumentKind,
		SeasonYear:    unit.SeasonYear,
		RoutingKey:    feed.RoutingKey(unit.URLHash),
		FetchedAt:     p.clock.Now(),
	}
	if action == feed.ActionCreated {
		err = p.docs.Insert(ctx, collection, doc)
	} else {
		err = p.docs.Replace(ctx, collection, unit.URLHash, doc)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store document hash=%s", unit.URLHash)
	}

	event, err := p.changeEvent(unit, action, payload)
	if err != nil {
		return nil, err
	}
	if _, err := p.publisher.Publish(ctx, event.Topic(), *event); err != nil {
		return nil, errors.Wrapf(err, "publish %s", event.Topic())
	}

	outcome := OutcomeCreated
	if action == feed.ActionUpdated {
		outcome = OutcomeUpdated
	}
	metrics.ObserveDocument(string(unit.DocumentKind), outcome)
	log.Info("document ingested", zap.String("action", string(action)))
	return event, nil
}

func (p *Processor) changeEvent(unit feed.ProcessingUnit, action feed.Action, payload string) (*feed.DocumentChanged, error) {
	eventID, err := p.ids.NewID()
	if err != nil {
		return nil, errors.Wrap(err, "generate event id")
	}
	event := feed.DocumentChanged{
		ID:            eventID,
		ParentID:      unit.ParentID,
		SourceRef:     unit.SourceURI,
		SourceURLHash: unit.URLHash,
		Domain:        unit.Domain,
		SeasonYear:    unit.SeasonYear,
		DocumentKind:  unit.DocumentKind,
		Provider:      unit.Provider,
		CorrelationID: unit.CorrelationID,
		CausationID:   unit.CausationID,
		AttemptCount:  unit.AttemptCount,
		Action:        action,
	}
	// Oversized payloads ride the store, not the bus. Consumers re-fetch
	// them by collection and hash.
	if len(payload) <= feed.InlinePayloadLimit {
		event.DocumentJSON = payload
	}
	return &event, nil
}
