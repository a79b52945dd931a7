// Package dispatch routes change events to the resolver registered for
// their (provider, domain, kind, action) key and gives resolvers the
// helpers they share: entity persistence, reference resolution, and
// dependency requests.
package dispatch

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/identity"
	"github.com/pickemhq/sportsfeed/internal/metrics"
)

// Key selects the resolver for one event shape. Registration is static at
// startup; an event with no registered resolver is a deployment gap, not a
// data problem.
type Key struct {
	Provider feed.Provider
	Domain   feed.Domain
	Kind     feed.DocumentKind
	Action   feed.Action
}

// Resolver materializes canonical entities from one document payload.
type Resolver interface {
	Resolve(ctx context.Context, rc *Context) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, rc *Context) error

// Resolve calls the function.
func (f ResolverFunc) Resolve(ctx context.Context, rc *Context) error {
	return f(ctx, rc)
}

// Dispatcher owns the resolver registry and the shared resolver
// dependencies.
type Dispatcher struct {
	resolvers map[Key]Resolver
	docs      feed.DocumentStore
	entities  feed.EntityStore
	publisher feed.Publisher
	identity  *identity.Generator
	ids       feed.IDGenerator
	clock     feed.Clock
	logger    *zap.Logger
}

// New constructs a Dispatcher with an empty registry.
func New(
	docs feed.DocumentStore,
	entities feed.EntityStore,
	publisher feed.Publisher,
	idGen *identity.Generator,
	ids feed.IDGenerator,
	clock feed.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		resolvers: make(map[Key]Resolver),
		docs:      docs,
		entities:  entities,
		publisher: publisher,
		identity:  idGen,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Register binds a resolver to one key. Registering the same key twice is a
// programming error and panics at startup.
func (d *Dispatcher) Register(key Key, resolver Resolver) {
	if _, exists := d.resolvers[key]; exists {
		panic(errors.Newf("resolver already registered for %+v", key))
	}
	d.resolvers[key] = resolver
}

// RegisterKind binds one resolver to both the created and updated actions
// of a (provider, domain, kind) triple, the common case.
func (d *Dispatcher) RegisterKind(provider feed.Provider, domain feed.Domain, kind feed.DocumentKind, resolver Resolver) {
	d.Register(Key{Provider: provider, Domain: domain, Kind: kind, Action: feed.ActionCreated}, resolver)
	d.Register(Key{Provider: provider, Domain: domain, Kind: kind, Action: feed.ActionUpdated}, resolver)
}

// Dispatch routes one change event through its resolver. The unit is
// mutated in place when the resolver requests dependencies, so a
// redelivered unit carries the already-requested set with it.
func (d *Dispatcher) Dispatch(ctx context.Context, unit *feed.ProcessingUnit, event feed.DocumentChanged) error {
	key := Key{Provider: event.Provider, Domain: event.Domain, Kind: event.DocumentKind, Action: event.Action}
	resolver, ok := d.resolvers[key]
	if !ok {
		return errors.Mark(
			errors.Newf("no resolver registered for provider=%s domain=%s kind=%s action=%s",
				event.Provider, event.Domain, event.DocumentKind, event.Action),
			feed.ErrConfiguration,
		)
	}

	payload := event.DocumentJSON
	if payload == "" {
		// Oversized events carry no inline payload; read it back from
		// the store.
		collection := feed.CollectionName(event.Provider, event.Domain, event.DocumentKind, event.SeasonYear)
		doc, err := d.docs.Get(ctx, collection, event.SourceURLHash)
		if err != nil {
			return errors.Wrapf(err, "load payload for event %s", event.ID)
		}
		payload = doc.Payload
	}
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed == "null" {
		return errors.Mark(
			errors.Newf("event %s has no usable payload", event.ID),
			feed.ErrValidation,
		)
	}

	rc := &Context{
		Unit:       unit,
		Event:      event,
		Payload:    []byte(payload),
		dispatcher: d,
	}
	if err := resolver.Resolve(ctx, rc); err != nil {
		return errors.Wrapf(err, "resolve %s event %s", event.DocumentKind, event.ID)
	}
	return nil
}

// Context is what a resolver sees for one event: the payload, the event
// envelope, and the unit whose requested-dependency set guards duplicate
// requests.
type Context struct {
	Unit       *feed.ProcessingUnit
	Event      feed.DocumentChanged
	Payload    []byte
	dispatcher *Dispatcher
}

// Identity derives the deterministic identity of a source URL.
func (rc *Context) Identity(uri string) (identity.Identity, error) {
	return rc.dispatcher.identity.Identity(uri)
}

// SaveEntity upserts a canonical entity. Idempotent; safe on redelivery.
func (rc *Context) SaveEntity(ctx context.Context, entity feed.Entity) error {
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = rc.dispatcher.clock.Now()
	}
	if err := rc.dispatcher.entities.Upsert(ctx, entity); err != nil {
		return errors.Wrapf(err, "upsert %s entity %s", entity.Kind, entity.CanonicalID)
	}
	return nil
}

// ResolveReference looks up the canonical id behind a payload reference.
// Returns feed.ErrNotFoundDependency when the referenced entity is not
// materialized yet, or when the reference carries no source URL at all
// (some providers populate $ref only in later payload versions).
func (rc *Context) ResolveReference(ctx context.Context, kind feed.DocumentKind, ref feed.Reference) (string, error) {
	if ref.Ref == "" {
		return "", feed.ErrNotFoundDependency
	}
	ident, err := rc.Identity(ref.Ref)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "reference %q", ref.Ref), feed.ErrValidation)
	}
	return rc.dispatcher.entities.FindCanonicalID(ctx, kind, rc.Event.Provider, ident.URLHash)
}

// ResolveOrRequest resolves a reference and, when the dependency is not
// materialized yet, requests it and returns an empty id with no error. The
// caller leaves the link unset; a later pass fills it in.
func (rc *Context) ResolveOrRequest(ctx context.Context, kind feed.DocumentKind, ref feed.Reference) (string, error) {
	canonicalID, err := rc.ResolveReference(ctx, kind, ref)
	if errors.Is(err, feed.ErrNotFoundDependency) {
		if reqErr := rc.RequestDependency(ctx, kind, ref.Ref); reqErr != nil {
			return "", reqErr
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return canonicalID, nil
}

// RequestDependency publishes a document.requested event for a referenced
// resource, at most once per logical operation. Requests already recorded
// on the unit, including by earlier attempts of this delivery, are skipped.
// A missing source URL is a no-op: there is nothing to fetch, so the
// caller leaves the link unset.
func (rc *Context) RequestDependency(ctx context.Context, kind feed.DocumentKind, uri string) error {
	if uri == "" {
		return nil
	}
	ident, err := rc.Identity(uri)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "dependency %q", uri), feed.ErrValidation)
	}
	key := feed.DependencyKey{Kind: kind, URLHash: ident.URLHash}
	if rc.Unit.HasRequested(key) {
		rc.dispatcher.logger.Debug("dependency already requested",
			zap.String("kind", string(kind)),
			zap.String("url_hash", ident.URLHash),
		)
		return nil
	}

	requestID, err := rc.dispatcher.ids.NewID()
	if err != nil {
		return errors.Wrap(err, "generate request id")
	}
	request := feed.DocumentRequested{
		ID:            requestID,
		ParentID:      rc.Event.ID,
		URI:           ident.CleanedURL,
		Domain:        rc.Event.Domain,
		SeasonYear:    rc.Event.SeasonYear,
		DocumentKind:  kind,
		Provider:      rc.Event.Provider,
		CorrelationID: rc.Event.CorrelationID,
		CausationID:   rc.Event.ID,
	}
	if _, err := rc.dispatcher.publisher.Publish(ctx, feed.TopicDocumentRequested, request); err != nil {
		return errors.Wrapf(err, "publish dependency request kind=%s", kind)
	}
	// Recorded only after the publish succeeds. A failed request must stay
	// requestable on redelivery; a duplicate request is the cheaper fault
	// under at-least-once delivery.
	rc.Unit.MarkRequested(key)
	metrics.ObserveDependencyRequest(string(kind))
	return nil
}
