package postgres

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// EntityStore persists canonical entities and their external reference
// identities. Each entity's identity is the unit of consistency: upserts
// are keyed by canonical id and identity rows by (kind, provider,
// url_hash), so concurrent re-processing of the same payload converges on
// one row without cross-entity transactions.
//
// Expected schema:
//
//	CREATE TABLE entities (
//	    kind         TEXT NOT NULL,
//	    canonical_id TEXT NOT NULL,
//	    name         TEXT NOT NULL DEFAULT '',
//	    attributes   JSONB,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (kind, canonical_id)
//	);
//
//	CREATE TABLE entity_identities (
//	    kind           TEXT NOT NULL,
//	    canonical_id   TEXT NOT NULL,
//	    provider       TEXT NOT NULL,
//	    source_url     TEXT NOT NULL,
//	    url_hash       TEXT NOT NULL,
//	    external_value TEXT NOT NULL DEFAULT '',
//	    PRIMARY KEY (kind, provider, url_hash)
//	);
type EntityStore struct {
	db *sqlx.DB
}

// NewEntityStore creates a postgres-backed entity store.
func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

// Upsert creates or updates the entity row and merges its external
// identities. Re-applying the same entity is a no-op beyond updated_at.
func (s *EntityStore) Upsert(ctx context.Context, entity feed.Entity) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin entity upsert")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (kind, canonical_id, name, attributes, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::jsonb, $5)
		ON CONFLICT (kind, canonical_id) DO UPDATE SET
		    name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE entities.name END,
		    attributes = COALESCE(EXCLUDED.attributes, entities.attributes),
		    updated_at = EXCLUDED.updated_at`,
		entity.Kind, entity.CanonicalID, entity.Name, entity.Attributes, entity.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "upsert entity")
	}

	for _, identity := range entity.Identities {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entity_identities (kind, canonical_id, provider, source_url, url_hash, external_value)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (kind, provider, url_hash) DO NOTHING`,
			entity.Kind, entity.CanonicalID, identity.Provider,
			identity.SourceURL, identity.URLHash, identity.ExternalValue,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert entity identity hash=%s", identity.URLHash)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit entity upsert")
	}
	return nil
}

// FindCanonicalID searches the kind's external identities for
// (provider, urlHash). Returns feed.ErrNotFoundDependency on miss.
func (s *EntityStore) FindCanonicalID(ctx context.Context, kind feed.DocumentKind, provider feed.Provider, urlHash string) (string, error) {
	var canonicalID string
	err := s.db.GetContext(ctx, &canonicalID, `
		SELECT canonical_id FROM entity_identities
		WHERE kind = $1 AND provider = $2 AND url_hash = $3`,
		kind, provider, urlHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", feed.ErrNotFoundDependency
	}
	if err != nil {
		return "", errors.Wrap(err, "find canonical id")
	}
	return canonicalID, nil
}

// Get returns one entity with its identities.
func (s *EntityStore) Get(ctx context.Context, kind feed.DocumentKind, canonicalID string) (feed.Entity, error) {
	var entity feed.Entity
	err := s.db.GetContext(ctx, &entity, `
		SELECT kind, canonical_id, name, COALESCE(attributes::text, '') AS attributes, updated_at
		FROM entities WHERE kind = $1 AND canonical_id = $2`,
		kind, canonicalID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return feed.Entity{}, feed.ErrNotFoundDependency
	}
	if err != nil {
		return feed.Entity{}, errors.Wrap(err, "get entity")
	}

	err = s.db.SelectContext(ctx, &entity.Identities, `
		SELECT provider, source_url, url_hash, external_value
		FROM entity_identities
		WHERE kind = $1 AND canonical_id = $2`,
		kind, canonicalID,
	)
	if err != nil {
		return feed.Entity{}, errors.Wrap(err, "get entity identities")
	}
	return entity, nil
}
