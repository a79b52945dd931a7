package feed

import (
	"context"
	"time"
)

// DocumentStore persists raw payloads keyed by source-URL hash within a
// collection. No cross-collection transactions are assumed or required.
type DocumentStore interface {
	Get(ctx context.Context, collection, urlHash string) (Document, error)
	Insert(ctx context.Context, collection string, doc Document) error
	Replace(ctx context.Context, collection, urlHash string, doc Document) error
	Count(ctx context.Context, collection string) (int, error)
	GetAll(ctx context.Context, collection string) ([]Document, error)
}

// Enqueuer is the producer side of the work queue. Producers never
// consume, and the Pub/Sub queue delivers through a push callback rather
// than Dequeue, so most components depend on this interface alone.
type Enqueuer interface {
	Enqueue(ctx context.Context, unit ProcessingUnit) error
}

// Queue distributes processing units to workers with at-least-once
// delivery. Dequeued units carry the attempt count of this delivery.
type Queue interface {
	Enqueuer
	Dequeue(ctx context.Context) (ProcessingUnit, error)
}

// Publisher pushes pipeline events to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) (string, error)
}

// SourceClient talks to the provider API.
type SourceClient interface {
	// ListPage fetches one page of the resource listing behind endpoint.
	ListPage(ctx context.Context, endpoint string, pageIndex, pageSize int) (ListingPage, error)
	// FetchDocument retrieves one item's raw payload.
	FetchDocument(ctx context.Context, uri string) ([]byte, error)
}

// Hasher computes the normalized content hash used for identity and change
// detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Pacer bounds the enqueue rate against the source API. One Pacer instance
// is shared by every crawl so concurrent definitions cannot bypass it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time (swappable in tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator mints correlation/causation identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// DefinitionStore persists crawl definitions.
type DefinitionStore interface {
	List(ctx context.Context) ([]CrawlDefinition, error)
	Get(ctx context.Context, id string) (CrawlDefinition, error)
	TouchAccessed(ctx context.Context, id string, at time.Time) error
	SetQueued(ctx context.Context, id string, queued bool) error
	MarkCompleted(ctx context.Context, id string, at time.Time) error
}

// DiscoveryStore records URLs seen while walking listings.
type DiscoveryStore interface {
	Upsert(ctx context.Context, item DiscoveredItem) error
}

// EntityStore persists canonical entities and their external reference
// identities. Upsert must be idempotent: re-applying the same entity and
// identity set never creates duplicates.
type EntityStore interface {
	Upsert(ctx context.Context, entity Entity) error
	// FindCanonicalID searches an entity kind's external identities for
	// (provider, urlHash). Returns ErrNotFoundDependency on miss.
	FindCanonicalID(ctx context.Context, kind DocumentKind, provider Provider, urlHash string) (string, error)
	Get(ctx context.Context, kind DocumentKind, canonicalID string) (Entity, error)
}
