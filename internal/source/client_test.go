package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pickemhq/sportsfeed/internal/feed"
)

func TestListPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "2", r.URL.Query().Get("page"))
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"count":3,"pageIndex":2,"pageSize":25,"pageCount":1,"items":[{"id":"1","href":"/venues/1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	page, err := c.ListPage(context.Background(), "/soccer/venues", 2, 25)
	require.NoError(t, err)
	require.Equal(t, 3, page.Count)
	require.Len(t, page.Items, 1)
	require.Equal(t, "/venues/1", page.Items[0].Href)
}

func TestFetchDocumentTransientStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.FetchDocument(context.Background(), "/soccer/venues/1")
	require.Error(t, err)
	require.True(t, feed.IsTransient(err))
}

func TestFetchDocumentClientErrorIsValidation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.FetchDocument(context.Background(), "/soccer/venues/404")
	require.Error(t, err)
	require.False(t, feed.IsTransient(err))
	require.True(t, feed.IsValidation(err))
}

func TestFetchDocumentAbsoluteURI(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/soccer/franchises/9", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"9"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: "http://unused.invalid"}, nil)
	body, err := c.FetchDocument(context.Background(), srv.URL+"/soccer/franchises/9")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"9"}`, string(body))
}

func TestListPageMalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"count": not-json`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	_, err := c.ListPage(context.Background(), "/soccer/venues", 1, 10)
	require.Error(t, err)
	require.True(t, feed.IsValidation(err))
}
