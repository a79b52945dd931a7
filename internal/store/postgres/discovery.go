package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// DiscoveryStore records URLs seen while walking listings.
//
// Expected schema:
//
//	CREATE TABLE discovered_items (
//	    url_hash            TEXT PRIMARY KEY,
//	    source_url          TEXT NOT NULL,
//	    parent_id           TEXT NOT NULL DEFAULT '',
//	    depth               INT NOT NULL DEFAULT 0,
//	    crawl_definition_id TEXT NOT NULL,
//	    last_accessed_at    TIMESTAMPTZ NOT NULL
//	);
type DiscoveryStore struct {
	db *sqlx.DB
}

// NewDiscoveryStore creates a postgres-backed discovery store.
func NewDiscoveryStore(db *sqlx.DB) *DiscoveryStore {
	return &DiscoveryStore{db: db}
}

// Upsert inserts the item on first discovery; rediscovery only refreshes
// the access time. Rows are never deleted by the pipeline.
func (s *DiscoveryStore) Upsert(ctx context.Context, item feed.DiscoveredItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discovered_items (url_hash, source_url, parent_id, depth,
		                              crawl_definition_id, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url_hash) DO UPDATE SET
		    last_accessed_at = EXCLUDED.last_accessed_at`,
		item.URLHash, item.SourceURL, item.ParentID, item.Depth,
		item.CrawlDefinitionID, item.LastAccessedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert discovered item")
	}
	return nil
}
