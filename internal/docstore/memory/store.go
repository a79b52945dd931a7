// Package memory stores documents in-memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// Store keeps documents in nested maps keyed by collection and URL hash.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]feed.Document
}

// New creates an empty in-memory document store.
func New() *Store {
	return &Store{collections: make(map[string]map[string]feed.Document)}
}

// Get returns the document stored under (collection, urlHash).
func (s *Store) Get(_ context.Context, collection, urlHash string) (feed.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][urlHash]
	if !ok {
		return feed.Document{}, feed.ErrDocumentNotFound
	}
	return doc, nil
}

// Insert stores a new document.
func (s *Store) Insert(_ context.Context, collection string, doc feed.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]feed.Document)
	}
	s.collections[collection][doc.SourceURLHash] = doc
	return nil
}

// Replace swaps the document stored under (collection, urlHash) in place.
func (s *Store) Replace(_ context.Context, collection, urlHash string, doc feed.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][urlHash]; !ok {
		return feed.ErrDocumentNotFound
	}
	s.collections[collection][urlHash] = doc
	return nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

// GetAll returns every document in the collection.
func (s *Store) GetAll(_ context.Context, collection string) ([]feed.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]feed.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		docs = append(docs, doc)
	}
	return docs, nil
}
