// Package postgres implements the relational stores over sqlx.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// DefinitionStore persists crawl definitions.
//
// Expected schema:
//
//	CREATE TABLE crawl_definitions (
//	    id                TEXT PRIMARY KEY,
//	    provider          TEXT NOT NULL,
//	    domain            TEXT NOT NULL,
//	    document_kind     TEXT NOT NULL,
//	    season_year       INT,
//	    endpoint_template TEXT NOT NULL,
//	    page_size         INT NOT NULL,
//	    cron_expression   TEXT NOT NULL DEFAULT '',
//	    is_recurring      BOOLEAN NOT NULL,
//	    is_enabled        BOOLEAN NOT NULL,
//	    is_queued         BOOLEAN NOT NULL DEFAULT FALSE,
//	    ordinal           INT NOT NULL DEFAULT 0,
//	    last_accessed_at  TIMESTAMPTZ,
//	    last_completed_at TIMESTAMPTZ
//	);
type DefinitionStore struct {
	db *sqlx.DB
}

// NewDefinitionStore creates a postgres-backed definition store.
func NewDefinitionStore(db *sqlx.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

const definitionColumns = `id, provider, domain, document_kind, season_year,
	endpoint_template, page_size, cron_expression, is_recurring, is_enabled,
	is_queued, ordinal, last_accessed_at, last_completed_at`

// List returns all definitions ordered by ordinal.
func (s *DefinitionStore) List(ctx context.Context) ([]feed.CrawlDefinition, error) {
	var defs []feed.CrawlDefinition
	err := s.db.SelectContext(ctx, &defs,
		`SELECT `+definitionColumns+` FROM crawl_definitions ORDER BY ordinal, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list crawl definitions")
	}
	return defs, nil
}

// Get returns one definition by id.
func (s *DefinitionStore) Get(ctx context.Context, id string) (feed.CrawlDefinition, error) {
	var def feed.CrawlDefinition
	err := s.db.GetContext(ctx, &def,
		`SELECT `+definitionColumns+` FROM crawl_definitions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.CrawlDefinition{}, errors.Newf("crawl definition %s not found", id)
	}
	if err != nil {
		return feed.CrawlDefinition{}, errors.Wrap(err, "get crawl definition")
	}
	return def, nil
}

// TouchAccessed updates the definition's last access time.
func (s *DefinitionStore) TouchAccessed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crawl_definitions SET last_accessed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "touch crawl definition")
	}
	return nil
}

// SetQueued flips the one-time single-flight guard.
func (s *DefinitionStore) SetQueued(ctx context.Context, id string, queued bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crawl_definitions SET is_queued = $2 WHERE id = $1`, id, queued)
	if err != nil {
		return errors.Wrap(err, "set crawl definition queued")
	}
	return nil
}

// MarkCompleted records a finished one-time crawl and clears the queued
// flag in the same statement.
func (s *DefinitionStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE crawl_definitions SET last_completed_at = $2, is_queued = FALSE WHERE id = $1`, id, at)
	if err != nil {
		return errors.Wrap(err, "mark crawl definition completed")
	}
	return nil
}
