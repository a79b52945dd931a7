package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pickemhq/sportsfeed/internal/docstore/memory"
	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/identity"
	"github.com/pickemhq/sportsfeed/internal/metrics"
	storemem "github.com/pickemhq/sportsfeed/internal/store/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func testDefinition() feed.CrawlDefinition {
	return feed.CrawlDefinition{
		ID:               "def-venues",
		Provider:         "statshub",
		Domain:           "soccer",
		DocumentKind:     feed.KindVenue,
		EndpointTemplate: "https://api.statshub.example/v2/soccer/venues",
		PageSize:         25,
	}
}

func newTestCrawler(source *fakeSource, queue *recordingQueue, pacer *countingPacer) (*Crawler, *storemem.DiscoveryStore, *storemem.DefinitionStore) {
	discovery := storemem.NewDiscoveryStore()
	definitions := storemem.NewDefinitionStore()
	definitions.Seed(testDefinition())
	c := New(
		source,
		memory.New(),
		queue,
		discovery,
		definitions,
		identity.New(),
		&sequentialIDs{},
		pacer,
		&fakeClock{now: time.Unix(1000, 0)},
		zap.NewNop(),
	)
	return c, discovery, definitions
}

func TestCrawlEnqueuesEveryDiscoveredItem(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: []feed.ListingPage{{
		Count:     3,
		PageIndex: 1,
		PageSize:  25,
		PageCount: 1,
		Items: []feed.ListingItem{
			{ID: "1", Href: "https://api.statshub.example/v2/soccer/venues/1"},
			{ID: "2", Href: "https://api.statshub.example/v2/soccer/venues/2"},
			{ID: "3", Href: "https://api.statshub.example/v2/soccer/venues/3"},
		},
	}}}
	queue := &recordingQueue{}
	pacer := &countingPacer{}
	c, discovery, _ := newTestCrawler(source, queue, pacer)

	require.NoError(t, c.Crawl(context.Background(), testDefinition()))

	require.Len(t, queue.units, 3)
	require.Equal(t, 3, pacer.waits, "every enqueue passes through the pacer")
	require.Equal(t, 3, discovery.Len())
	for _, unit := range queue.units {
		require.Equal(t, feed.KindVenue, unit.DocumentKind)
		require.NotEmpty(t, unit.URLHash)
		require.NotEmpty(t, unit.CorrelationID)
		require.Equal(t, queue.units[0].CausationID, unit.CausationID)
	}
	require.NotEqual(t, queue.units[0].CorrelationID, queue.units[1].CorrelationID)
}

func TestCrawlShortCircuitsOnMatchingCount(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: []feed.ListingPage{{
		Count: 2, PageIndex: 1, PageCount: 1,
		Items: []feed.ListingItem{{Href: "https://s/1"}, {Href: "https://s/2"}},
	}}}
	queue := &recordingQueue{}
	pacer := &countingPacer{}

	discovery := storemem.NewDiscoveryStore()
	definitions := storemem.NewDefinitionStore()
	definitions.Seed(testDefinition())
	docs := memory.New()
	ctx := context.Background()
	require.NoError(t, docs.Insert(ctx, testDefinition().Collection(), feed.Document{SourceURLHash: "a"}))
	require.NoError(t, docs.Insert(ctx, testDefinition().Collection(), feed.Document{SourceURLHash: "b"}))

	c := New(source, docs, queue, discovery, definitions, identity.New(),
		&sequentialIDs{}, pacer, &fakeClock{now: time.Unix(1000, 0)}, zap.NewNop())

	require.NoError(t, c.Crawl(ctx, testDefinition()))

	require.Empty(t, queue.units)
	require.Zero(t, pacer.waits)
	require.Equal(t, 1, source.calls, "only the count check touches the source")
}

func TestCrawlWalksAllPages(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: []feed.ListingPage{
		{Count: 4, PageIndex: 1, PageCount: 2, Items: []feed.ListingItem{
			{Href: "https://s/1"}, {Href: "https://s/2"},
		}},
		{Count: 4, PageIndex: 2, PageCount: 2, Items: []feed.ListingItem{
			{Href: "https://s/3"}, {Href: "https://s/4"},
		}},
	}}
	queue := &recordingQueue{}
	c, _, _ := newTestCrawler(source, queue, &countingPacer{})

	require.NoError(t, c.Crawl(context.Background(), testDefinition()))
	require.Len(t, queue.units, 4)
	require.Equal(t, 2, source.calls)
}

func TestCrawlContinuesPastBadItem(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: []feed.ListingPage{{
		Count: 2, PageIndex: 1, PageCount: 1,
		Items: []feed.ListingItem{
			{Href: "   "}, // unparseable, skipped
			{Href: "https://s/ok"},
		},
	}}}
	queue := &recordingQueue{}
	c, _, _ := newTestCrawler(source, queue, &countingPacer{})

	require.NoError(t, c.Crawl(context.Background(), testDefinition()))
	require.Len(t, queue.units, 1)
}

func TestCrawlEndsPassOnPageFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: []feed.ListingPage{
			{Count: 4, PageIndex: 1, PageCount: 3, Items: []feed.ListingItem{{Href: "https://s/1"}}},
		},
		failFrom: 2,
	}
	queue := &recordingQueue{}
	c, _, _ := newTestCrawler(source, queue, &countingPacer{})

	require.NoError(t, c.Crawl(context.Background(), testDefinition()))
	require.Len(t, queue.units, 1, "partial progress is kept")
}

func TestCrawlFirstPageFailurePropagates(t *testing.T) {
	t.Parallel()

	source := &fakeSource{failFrom: 1}
	queue := &recordingQueue{}
	c, _, _ := newTestCrawler(source, queue, &countingPacer{})

	require.Error(t, c.Crawl(context.Background(), testDefinition()))
	require.Empty(t, queue.units)
}

func TestCrawlTouchesDefinitionAccessTime(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: []feed.ListingPage{{Count: 0, PageIndex: 1, PageCount: 1}}}
	queue := &recordingQueue{}
	c, _, definitions := newTestCrawler(source, queue, &countingPacer{})

	require.NoError(t, c.Crawl(context.Background(), testDefinition()))

	def, err := definitions.Get(context.Background(), "def-venues")
	require.NoError(t, err)
	require.NotNil(t, def.LastAccessedAt)
}

// --- fakes ---

type fakeSource struct {
	mu       sync.Mutex
	pages    []feed.ListingPage
	failFrom int // fail ListPage calls for pageIndex >= failFrom (0 = never)
	calls    int
}

func (f *fakeSource) ListPage(_ context.Context, _ string, pageIndex, _ int) (feed.ListingPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom > 0 && pageIndex >= f.failFrom {
		return feed.ListingPage{}, errors.New("listing unavailable")
	}
	for _, page := range f.pages {
		if page.PageIndex == pageIndex {
			return page, nil
		}
	}
	return feed.ListingPage{}, fmt.Errorf("no page %d", pageIndex)
}

func (f *fakeSource) FetchDocument(context.Context, string) ([]byte, error) {
	return nil, errors.New("not used")
}

type recordingQueue struct {
	mu    sync.Mutex
	units []feed.ProcessingUnit
}

func (q *recordingQueue) Enqueue(_ context.Context, unit feed.ProcessingUnit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.units = append(q.units, unit)
	return nil
}

func (q *recordingQueue) Dequeue(context.Context) (feed.ProcessingUnit, error) {
	return feed.ProcessingUnit{}, errors.New("not used")
}

type countingPacer struct {
	mu    sync.Mutex
	waits int
}

func (p *countingPacer) Wait(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits++
	return nil
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
