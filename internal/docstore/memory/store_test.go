package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "statshub_soccer_venue", "abc")
	require.ErrorIs(t, err, feed.ErrDocumentNotFound)

	doc := feed.Document{SourceURLHash: "abc", Payload: `{"name":"Anfield"}`}
	require.NoError(t, s.Insert(ctx, "statshub_soccer_venue", doc))

	got, err := s.Get(ctx, "statshub_soccer_venue", "abc")
	require.NoError(t, err)
	require.Equal(t, doc.Payload, got.Payload)

	count, err := s.Count(ctx, "statshub_soccer_venue")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStoreReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	err := s.Replace(ctx, "c", "missing", feed.Document{SourceURLHash: "missing"})
	require.ErrorIs(t, err, feed.ErrDocumentNotFound)

	require.NoError(t, s.Insert(ctx, "c", feed.Document{SourceURLHash: "h1", Payload: "v1"}))
	require.NoError(t, s.Replace(ctx, "c", "h1", feed.Document{SourceURLHash: "h1", Payload: "v2"}))

	got, err := s.Get(ctx, "c", "h1")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Payload)

	count, err := s.Count(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStoreCollectionsIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.Insert(ctx, "a", feed.Document{SourceURLHash: "h"}))

	count, err := s.Count(ctx, "b")
	require.NoError(t, err)
	require.Zero(t, count)

	docs, err := s.GetAll(ctx, "a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
