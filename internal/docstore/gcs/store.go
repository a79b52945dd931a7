// Package gcs provides a document store backed by Google Cloud Storage.
// Documents live at <prefix>/<collection>/<hash>.json. It is the archival
// option: Count and GetAll walk the collection prefix, so the postgres
// store is preferred where listings run hot.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"google.golang.org/api/iterator"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes documents to a configured GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed document store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *Store) objectPath(collection, urlHash string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s.json", collection, urlHash)
	}
	return fmt.Sprintf("%s/%s/%s.json", s.prefix, collection, urlHash)
}

func (s *Store) collectionPrefix(collection string) string {
	if s.prefix == "" {
		return collection + "/"
	}
	return s.prefix + "/" + collection + "/"
}

// Get reads the document stored under (collection, urlHash).
func (s *Store) Get(ctx context.Context, collection, urlHash string) (feed.Document, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.objectPath(collection, urlHash)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return feed.Document{}, feed.ErrDocumentNotFound
	}
	if err != nil {
		return feed.Document{}, errors.Wrap(err, "open object")
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return feed.Document{}, errors.Wrap(err, "read object")
	}
	var doc feed.Document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return feed.Document{}, errors.Wrap(err, "decode document object")
	}
	return doc, nil
}

// Insert writes the document object. GCS writes are last-wins, so Insert
// and Replace share the same upload path.
func (s *Store) Insert(ctx context.Context, collection string, doc feed.Document) error {
	return s.put(ctx, collection, doc)
}

// Replace overwrites the document stored under (collection, urlHash).
func (s *Store) Replace(ctx context.Context, collection, urlHash string, doc feed.Document) error {
	if doc.SourceURLHash == "" {
		doc.SourceURLHash = urlHash
	}
	return s.put(ctx, collection, doc)
}

func (s *Store) put(ctx context.Context, collection string, doc feed.Document) error {
	data, err := sonic.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode document object")
	}
	writer := s.client.Bucket(s.bucket).Object(s.objectPath(collection, doc.SourceURLHash)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return errors.Wrapf(err, "write object (close writer: %v)", closeErr)
		}
		return errors.Wrap(err, "write object")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "close writer")
	}
	return nil
}

// Count walks the collection prefix and counts objects.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.collectionPrefix(collection)})
	count := 0
	for {
		_, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return count, nil
		}
		if err != nil {
			return 0, errors.Wrap(err, "list collection objects")
		}
		count++
	}
}

// GetAll reads every document under the collection prefix.
func (s *Store) GetAll(ctx context.Context, collection string) ([]feed.Document, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.collectionPrefix(collection)})
	var docs []feed.Document
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "list collection objects")
		}
		name := strings.TrimSuffix(strings.TrimPrefix(attrs.Name, s.collectionPrefix(collection)), ".json")
		doc, err := s.Get(ctx, collection, name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}
