package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	busmem "github.com/pickemhq/sportsfeed/internal/bus/memory"
	docmem "github.com/pickemhq/sportsfeed/internal/docstore/memory"
	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/hash"
	"github.com/pickemhq/sportsfeed/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const venueHash = "3f2a9c5e8b1d4f6a"

func testUnit() feed.ProcessingUnit {
	return feed.ProcessingUnit{
		Provider:      "statshub",
		Domain:        "soccer",
		DocumentKind:  feed.KindVenue,
		SourceURI:     "https://api.statshub.example/v2/soccer/venues/42",
		URLHash:       venueHash,
		CorrelationID: "corr-1",
		CausationID:   "cause-1",
	}
}

type fixture struct {
	source    *fakeFetcher
	docs      *docmem.Store
	publisher *busmem.Publisher
	pacer     *countingPacer
	processor *Processor
}

func newFixture(payloads map[string]string) *fixture {
	f := &fixture{
		source:    &fakeFetcher{payloads: payloads},
		docs:      docmem.New(),
		publisher: busmem.New(),
		pacer:     &countingPacer{},
	}
	f.processor = New(
		f.source,
		f.docs,
		f.publisher,
		hash.New(),
		f.pacer,
		&fakeClock{now: time.Unix(2000, 0)},
		&sequentialIDs{},
		zap.NewNop(),
	)
	return f
}

func TestProcessStoresNewDocumentAndPublishesCreated(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(map[string]string{unit.SourceURI: `{"id":"42","name":"Anfield"}`})

	event, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, event)

	doc, err := f.docs.Get(context.Background(), unit.Collection(), unit.URLHash)
	require.NoError(t, err)
	require.Equal(t, `{"id":"42","name":"Anfield"}`, doc.Payload)
	require.Equal(t, feed.RoutingKey(unit.URLHash), doc.RoutingKey)

	published := f.publisher.MessagesFor(feed.TopicDocumentCreated)
	require.Len(t, published, 1)
	require.Equal(t, *event, published[0].Event.(feed.DocumentChanged))
	require.Equal(t, feed.ActionCreated, event.Action)
	require.Equal(t, unit.URLHash, event.SourceURLHash)
	require.Equal(t, unit.CorrelationID, event.CorrelationID)
	require.Equal(t, `{"id":"42","name":"Anfield"}`, event.DocumentJSON)
	require.Equal(t, 1, f.pacer.waits)
}

func TestProcessUnchangedDocumentPublishesNothing(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	// Same content, different key order and whitespace. The normalized
	// hash must match the stored copy.
	f := newFixture(map[string]string{unit.SourceURI: ` {"name":"Anfield", "id":"42"} `})
	require.NoError(t, f.docs.Insert(context.Background(), unit.Collection(), feed.Document{
		SourceURLHash: unit.URLHash,
		Payload:       `{"id":"42","name":"Anfield"}`,
	}))

	event, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Nil(t, event)

	require.Empty(t, f.publisher.Messages())
	doc, err := f.docs.Get(context.Background(), unit.Collection(), unit.URLHash)
	require.NoError(t, err)
	require.Equal(t, `{"id":"42","name":"Anfield"}`, doc.Payload, "unchanged documents are not rewritten")
}

func TestProcessChangedDocumentPublishesUpdated(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(map[string]string{unit.SourceURI: `{"id":"42","name":"Anfield","capacity":61276}`})
	require.NoError(t, f.docs.Insert(context.Background(), unit.Collection(), feed.Document{
		SourceURLHash: unit.URLHash,
		Payload:       `{"id":"42","name":"Anfield"}`,
	}))

	event, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, feed.ActionUpdated, event.Action)

	require.Empty(t, f.publisher.MessagesFor(feed.TopicDocumentCreated))
	require.Len(t, f.publisher.MessagesFor(feed.TopicDocumentUpdated), 1)

	doc, err := f.docs.Get(context.Background(), unit.Collection(), unit.URLHash)
	require.NoError(t, err)
	require.Contains(t, doc.Payload, "capacity")
}

func TestProcessReingestAfterCrashSuppressesDuplicateEvent(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(map[string]string{unit.SourceURI: `{"id":"42","name":"Anfield"}`})

	first, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Redelivery of the same unit after the first pass completed.
	unit.AttemptCount = 1
	second, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Nil(t, second)
	require.Len(t, f.publisher.Messages(), 1)
}

func TestProcessPendingDispatchRebuildsEventForUnchangedDocument(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(map[string]string{unit.SourceURI: `{"id":"42","name":"Anfield"}`})

	first, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The redelivered unit carries the pending-dispatch flag from a
	// dispatch-phase failure; the event comes back without a re-publish.
	unit.AttemptCount = 1
	unit.PendingDispatch = true
	second, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.SourceURLHash, second.SourceURLHash)
	require.Equal(t, first.DocumentJSON, second.DocumentJSON)
	require.Len(t, f.publisher.Messages(), 1, "the rebuilt event is not re-published")
}

func TestProcessOversizedPayloadOmitsInlineJSON(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	big := fmt.Sprintf(`{"id":"42","blob":"%s"}`, strings.Repeat("x", feed.InlinePayloadLimit))
	f := newFixture(map[string]string{unit.SourceURI: big})

	event, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Len(t, f.publisher.MessagesFor(feed.TopicDocumentCreated), 1)
	require.Empty(t, event.DocumentJSON, "oversized payloads are re-fetched from the store")

	doc, err := f.docs.Get(context.Background(), unit.Collection(), unit.URLHash)
	require.NoError(t, err)
	require.Equal(t, big, doc.Payload)
}

func TestProcessRejectsNullPayload(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(map[string]string{unit.SourceURI: "null"})

	_, err := f.processor.Process(context.Background(), unit)
	require.Error(t, err)
	require.True(t, feed.IsValidation(err))
	require.Empty(t, f.publisher.Messages())
}

func TestProcessUsesInlinePayloadWithoutFetching(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	unit.DocumentJSON = `{"id":"42","name":"Anfield"}`
	f := newFixture(nil)

	event, err := f.processor.Process(context.Background(), unit)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Zero(t, f.source.calls, "inline payloads skip the source")
	require.Zero(t, f.pacer.waits)
	require.Len(t, f.publisher.MessagesFor(feed.TopicDocumentCreated), 1)
}

func TestProcessPropagatesTransientFetchErrors(t *testing.T) {
	t.Parallel()

	unit := testUnit()
	f := newFixture(nil)
	f.source.err = errors.Mark(errors.New("connection reset"), feed.ErrTransientFetch)

	_, err := f.processor.Process(context.Background(), unit)
	require.Error(t, err)
	require.True(t, feed.IsTransient(err))
	require.Empty(t, f.publisher.Messages())
}

// --- fakes ---

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]string
	err      error
	calls    int
}

func (f *fakeFetcher) ListPage(context.Context, string, int, int) (feed.ListingPage, error) {
	return feed.ListingPage{}, errors.New("not used")
}

func (f *fakeFetcher) FetchDocument(_ context.Context, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	payload, ok := f.payloads[uri]
	if !ok {
		return nil, errors.Newf("no payload for %s", uri)
	}
	return []byte(payload), nil
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
	return fmt.Sprintf("event-%04d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
