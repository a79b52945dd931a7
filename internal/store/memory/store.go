// Package memory provides in-memory implementations of the relational
// stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// DefinitionStore keeps crawl definitions in a map.
type DefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]feed.CrawlDefinition
}

// NewDefinitionStore creates an empty definition store.
func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{defs: make(map[string]feed.CrawlDefinition)}
}

// Seed inserts or replaces a definition. Used at configuration time.
func (s *DefinitionStore) Seed(def feed.CrawlDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def
}

// List returns all definitions ordered by ordinal.
func (s *DefinitionStore) List(_ context.Context) ([]feed.CrawlDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.CrawlDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// Get returns one definition by id.
func (s *DefinitionStore) Get(_ context.Context, id string) (feed.CrawlDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return feed.CrawlDefinition{}, errors.Newf("crawl definition %s not found", id)
	}
	return def, nil
}

// TouchAccessed updates the definition's last access time.
func (s *DefinitionStore) TouchAccessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return errors.Newf("crawl definition %s not found", id)
	}
	def.LastAccessedAt = &at
	s.defs[id] = def
	return nil
}

// SetQueued flips the one-time single-flight guard.
func (s *DefinitionStore) SetQueued(_ context.Context, id string, queued bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return errors.Newf("crawl definition %s not found", id)
	}
	def.IsQueued = queued
	s.defs[id] = def
	return nil
}

// MarkCompleted records a finished one-time crawl and clears the queued
// flag.
func (s *DefinitionStore) MarkCompleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return errors.Newf("crawl definition %s not found", id)
	}
	def.LastCompletedAt = &at
	def.IsQueued = false
	s.defs[id] = def
	return nil
}

// DiscoveryStore keeps discovered items keyed by URL hash.
type DiscoveryStore struct {
	mu    sync.RWMutex
	items map[string]feed.DiscoveredItem
}

// NewDiscoveryStore creates an empty discovery store.
func NewDiscoveryStore() *DiscoveryStore {
	return &DiscoveryStore{items: make(map[string]feed.DiscoveredItem)}
}

// Upsert inserts the item on first discovery, or refreshes its access time
// on rediscovery. Items are never deleted.
func (s *DiscoveryStore) Upsert(_ context.Context, item feed.DiscoveredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.items[item.URLHash]
	if ok {
		existing.LastAccessedAt = item.LastAccessedAt
		s.items[item.URLHash] = existing
		return nil
	}
	s.items[item.URLHash] = item
	return nil
}

// Len reports the number of known items.
func (s *DiscoveryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// EntityStore keeps canonical entities and their external identities.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[feed.DocumentKind]map[string]feed.Entity
}

// NewEntityStore creates an empty entity store.
func NewEntityStore() *EntityStore {
	return &EntityStore{entities: make(map[feed.DocumentKind]map[string]feed.Entity)}
}

// Upsert creates or updates an entity. External identities are merged by
// (provider, url hash) so re-applying the same entity never duplicates
// them.
func (s *EntityStore) Upsert(_ context.Context, entity feed.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entities[entity.Kind] == nil {
		s.entities[entity.Kind] = make(map[string]feed.Entity)
	}
	existing, ok := s.entities[entity.Kind][entity.CanonicalID]
	if !ok {
		s.entities[entity.Kind][entity.CanonicalID] = entity
		return nil
	}

	if entity.Name != "" {
		existing.Name = entity.Name
	}
	if entity.Attributes != "" {
		existing.Attributes = entity.Attributes
	}
	existing.UpdatedAt = entity.UpdatedAt
	for _, identity := range entity.Identities {
		if !hasIdentity(existing.Identities, identity) {
			existing.Identities = append(existing.Identities, identity)
		}
	}
	s.entities[entity.Kind][entity.CanonicalID] = existing
	return nil
}

func hasIdentity(identities []feed.ExternalIdentity, candidate feed.ExternalIdentity) bool {
	for _, identity := range identities {
		if identity.Provider == candidate.Provider && identity.URLHash == candidate.URLHash {
			return true
		}
	}
	return false
}

// FindCanonicalID searches the kind's external identities for
// (provider, urlHash).
func (s *EntityStore) FindCanonicalID(_ context.Context, kind feed.DocumentKind, provider feed.Provider, urlHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entity := range s.entities[kind] {
		for _, identity := range entity.Identities {
			if identity.Provider == provider && identity.URLHash == urlHash {
				return entity.CanonicalID, nil
			}
		}
	}
	return "", feed.ErrNotFoundDependency
}

// Get returns one entity by kind and canonical id.
func (s *EntityStore) Get(_ context.Context, kind feed.DocumentKind, canonicalID string) (feed.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[kind][canonicalID]
	if !ok {
		return feed.Entity{}, feed.ErrNotFoundDependency
	}
	return entity, nil
}
