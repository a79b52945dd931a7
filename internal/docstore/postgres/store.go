// Package postgres backs the document store with a single partition-friendly
// table keyed by (collection, source_url_hash).
package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// Store implements feed.DocumentStore over sqlx.
//
// Expected schema:
//
//	CREATE TABLE documents (
//	    collection      TEXT NOT NULL,
//	    source_url_hash TEXT NOT NULL,
//	    source_url      TEXT NOT NULL,
//	    payload         TEXT NOT NULL,
//	    provider        TEXT NOT NULL,
//	    domain          TEXT NOT NULL,
//	    document_kind   TEXT NOT NULL,
//	    season_year     INT,
//	    routing_key     TEXT NOT NULL,
//	    fetched_at      TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (collection, source_url_hash)
//	);
type Store struct {
	db *sqlx.DB
}

// New creates a postgres-backed document store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type documentRow struct {
	Collection string `db:"collection"`
	feed.Document
}

// Get returns the document stored under (collection, urlHash).
func (s *Store) Get(ctx context.Context, collection, urlHash string) (feed.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT collection, source_url_hash, source_url, payload, provider,
		       domain, document_kind, season_year, routing_key, fetched_at
		FROM documents
		WHERE collection = $1 AND source_url_hash = $2`,
		collection, urlHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Document{}, feed.ErrDocumentNotFound
	}
	if err != nil {
		return feed.Document{}, errors.Wrap(err, "get document")
	}
	return row.Document, nil
}

// Insert stores a new document. Inserting an already-present hash is an
// upsert on conflict: concurrent first-sight races resolve to one row.
func (s *Store) Insert(ctx context.Context, collection string, doc feed.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, source_url_hash, source_url, payload,
		                       provider, domain, document_kind, season_year,
		                       routing_key, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (collection, source_url_hash) DO UPDATE SET
		    payload = EXCLUDED.payload,
		    fetched_at = EXCLUDED.fetched_at`,
		collection, doc.SourceURLHash, doc.SourceURL, doc.Payload,
		doc.Provider, doc.Domain, doc.DocumentKind, doc.SeasonYear,
		doc.RoutingKey, doc.FetchedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert document")
	}
	return nil
}

// Replace swaps the payload stored under (collection, urlHash) in place.
func (s *Store) Replace(ctx context.Context, collection, urlHash string, doc feed.Document) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET payload = $3, source_url = $4, fetched_at = $5
		WHERE collection = $1 AND source_url_hash = $2`,
		collection, urlHash, doc.Payload, doc.SourceURL, doc.FetchedAt,
	)
	if err != nil {
		return errors.Wrap(err, "replace document")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "replace document rows affected")
	}
	if affected == 0 {
		return feed.ErrDocumentNotFound
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return 0, errors.Wrap(err, "count documents")
	}
	return count, nil
}

// GetAll returns every document in the collection.
func (s *Store) GetAll(ctx context.Context, collection string) ([]feed.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT collection, source_url_hash, source_url, payload, provider,
		       domain, document_kind, season_year, routing_key, fetched_at
		FROM documents
		WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, errors.Wrap(err, "get all documents")
	}
	docs := make([]feed.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.Document)
	}
	return docs, nil
}
