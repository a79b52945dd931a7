// Package feed defines the core types and port interfaces shared across the
// ingestion pipeline: documents, processing units, crawl definitions, and the
// event contracts emitted when a source document changes.
package feed

import (
	"fmt"
	"time"
)

// Provider identifies the upstream data source (e.g. "statshub").
type Provider string

// Domain is the sport the documents belong to (e.g. "soccer", "hockey").
type Domain string

// DocumentKind tags the shape of a source document.
type DocumentKind string

// Document kinds shipped with the pipeline. Resolvers are registered per
// kind; adding a kind means adding a resolver registration.
const (
	KindVenue       DocumentKind = "venue"
	KindSeason      DocumentKind = "season"
	KindFranchise   DocumentKind = "franchise"
	KindCompetition DocumentKind = "competition"
)

// Action distinguishes first-sight documents from replacements.
type Action string

// Actions carried on change events and used for resolver routing.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Document is a raw source payload keyed by the hash of its cleaned source
// URL. The routing key is a short prefix of that hash, used for sharding
// and observability.
type Document struct {
	SourceURLHash string       `json:"source_url_hash" db:"source_url_hash"`
	SourceURL     string       `json:"source_url" db:"source_url"`
	Payload       string       `json:"payload" db:"payload"`
	Provider      Provider     `json:"provider" db:"provider"`
	Domain        Domain       `json:"domain" db:"domain"`
	DocumentKind  DocumentKind `json:"document_kind" db:"document_kind"`
	SeasonYear    *int         `json:"season_year,omitempty" db:"season_year"`
	RoutingKey    string       `json:"routing_key" db:"routing_key"`
	FetchedAt     time.Time    `json:"fetched_at" db:"fetched_at"`
}

// RoutingKeyLength is the hash prefix length used for Document.RoutingKey.
const RoutingKeyLength = 8

// RoutingKey derives the sharding prefix from a source URL hash.
func RoutingKey(urlHash string) string {
	if len(urlHash) < RoutingKeyLength {
		return urlHash
	}
	return urlHash[:RoutingKeyLength]
}

// CollectionName derives the document collection for a
// (provider, domain, kind[, season]) scope. The same derivation is used by
// the crawler, the ingestion processor, and the dispatcher so they always
// agree on where a document lives.
func CollectionName(provider Provider, domain Domain, kind DocumentKind, seasonYear *int) string {
	if seasonYear != nil {
		return fmt.Sprintf("%s_%s_%s_%d", provider, domain, kind, *seasonYear)
	}
	return fmt.Sprintf("%s_%s_%s", provider, domain, kind)
}

// CrawlDefinition configures one source listing to poll.
type CrawlDefinition struct {
	ID               string       `json:"id" db:"id"`
	Provider         Provider     `json:"provider" db:"provider"`
	Domain           Domain       `json:"domain" db:"domain"`
	DocumentKind     DocumentKind `json:"document_kind" db:"document_kind"`
	SeasonYear       *int         `json:"season_year,omitempty" db:"season_year"`
	EndpointTemplate string       `json:"endpoint_template" db:"endpoint_template"`
	PageSize         int          `json:"page_size" db:"page_size"`
	CronExpression   string       `json:"cron_expression,omitempty" db:"cron_expression"`
	IsRecurring      bool         `json:"is_recurring" db:"is_recurring"`
	IsEnabled        bool         `json:"is_enabled" db:"is_enabled"`
	IsQueued         bool         `json:"is_queued" db:"is_queued"`
	Ordinal          int          `json:"ordinal" db:"ordinal"`
	LastAccessedAt   *time.Time   `json:"last_accessed_at,omitempty" db:"last_accessed_at"`
	LastCompletedAt  *time.Time   `json:"last_completed_at,omitempty" db:"last_completed_at"`
}

// Collection returns the document collection this definition crawls into.
func (d CrawlDefinition) Collection() string {
	return CollectionName(d.Provider, d.Domain, d.DocumentKind, d.SeasonYear)
}

// DiscoveredItem records a source URL seen while walking a listing. Items
// are never deleted by the pipeline; rediscovery only refreshes the access
// time.
type DiscoveredItem struct {
	SourceURL         string    `json:"source_url" db:"source_url"`
	URLHash           string    `json:"url_hash" db:"url_hash"`
	ParentID          string    `json:"parent_id,omitempty" db:"parent_id"`
	Depth             int       `json:"depth" db:"depth"`
	CrawlDefinitionID string    `json:"crawl_definition_id" db:"crawl_definition_id"`
	LastAccessedAt    time.Time `json:"last_accessed_at" db:"last_accessed_at"`
}

// DependencyKey identifies one dependency request within a logical
// operation: the kind of the referenced document plus the hash of its
// cleaned URL.
type DependencyKey struct {
	Kind    DocumentKind `json:"kind"`
	URLHash string       `json:"url_hash"`
}

// ProcessingUnit is the ephemeral work item carrying one document through
// the pipeline. It is serialized onto the work queue, so redeliveries see
// the same requested-dependency set the previous attempt recorded.
type ProcessingUnit struct {
	DocumentJSON          string          `json:"document_json,omitempty"`
	Provider              Provider        `json:"provider"`
	Domain                Domain          `json:"domain"`
	SeasonYear            *int            `json:"season_year,omitempty"`
	DocumentKind          DocumentKind    `json:"document_kind"`
	SourceURI             string          `json:"source_uri"`
	URLHash               string          `json:"url_hash"`
	CorrelationID         string          `json:"correlation_id"`
	CausationID           string          `json:"causation_id"`
	ParentID              string          `json:"parent_id,omitempty"`
	AttemptCount          int             `json:"attempt_count"`
	RequestedDependencies []DependencyKey `json:"requested_dependencies,omitempty"`

	// PendingDispatch records that an earlier attempt stored and announced
	// this document but failed before dispatch completed. The redelivered
	// unit re-runs dispatch even though the content hash is unchanged.
	PendingDispatch bool `json:"pending_dispatch,omitempty"`
}

// Collection returns the document collection this unit belongs to.
func (u ProcessingUnit) Collection() string {
	return CollectionName(u.Provider, u.Domain, u.DocumentKind, u.SeasonYear)
}

// HasRequested reports whether this logical operation already requested the
// given dependency, on this or any earlier attempt.
func (u *ProcessingUnit) HasRequested(key DependencyKey) bool {
	for _, k := range u.RequestedDependencies {
		if k == key {
			return true
		}
	}
	return false
}

// MarkRequested records a dependency request. It returns false without
// modifying the set when the key is already present.
func (u *ProcessingUnit) MarkRequested(key DependencyKey) bool {
	if u.HasRequested(key) {
		return false
	}
	u.RequestedDependencies = append(u.RequestedDependencies, key)
	return true
}

// Entity is the generic canonical-entity pattern: an identity-stable record
// materialized from one or more source documents, plus the external
// reference identities linking it back to the provider.
type Entity struct {
	Kind        DocumentKind       `json:"kind" db:"kind"`
	CanonicalID string             `json:"canonical_id" db:"canonical_id"`
	Name        string             `json:"name" db:"name"`
	Attributes  string             `json:"attributes,omitempty" db:"attributes"`
	Identities  []ExternalIdentity `json:"identities,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
}

// ExternalIdentity links a canonical entity to the source document that
// produced or referenced it.
type ExternalIdentity struct {
	Provider      Provider `json:"provider" db:"provider"`
	SourceURL     string   `json:"source_url" db:"source_url"`
	URLHash       string   `json:"url_hash" db:"url_hash"`
	ExternalValue string   `json:"external_value,omitempty" db:"external_value"`
}

// ListingPage is one page of the source's paginated resource listing.
type ListingPage struct {
	Count     int           `json:"count"`
	PageIndex int           `json:"pageIndex"`
	PageSize  int           `json:"pageSize"`
	PageCount int           `json:"pageCount"`
	Items     []ListingItem `json:"items"`
}

// ListingItem is one discoverable resource on a listing page.
type ListingItem struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

// Reference is the small shared shape a payload uses to point at another
// fetchable resource. Sport-specific payloads embed references by
// composition rather than by subclassing a generic payload.
type Reference struct {
	Ref  string `json:"$ref,omitempty"`
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}
