package resolver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	busmem "github.com/pickemhq/sportsfeed/internal/bus/memory"
	docmem "github.com/pickemhq/sportsfeed/internal/docstore/memory"
	"github.com/pickemhq/sportsfeed/internal/dispatch"
	"github.com/pickemhq/sportsfeed/internal/feed"
	"github.com/pickemhq/sportsfeed/internal/identity"
	"github.com/pickemhq/sportsfeed/internal/metrics"
	storemem "github.com/pickemhq/sportsfeed/internal/store/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const (
	venueURL     = "https://api.statshub.example/v2/soccer/venues/42"
	franchiseURL = "https://api.statshub.example/v2/soccer/franchises/10"
	awayTeamURL  = "https://api.statshub.example/v2/soccer/franchises/11"
)

type fixture struct {
	entities   *storemem.EntityStore
	publisher  *busmem.Publisher
	dispatcher *dispatch.Dispatcher
	ident      *identity.Generator
}

func newFixture() *fixture {
	f := &fixture{
		entities:  storemem.NewEntityStore(),
		publisher: busmem.New(),
		ident:     identity.New(),
	}
	f.dispatcher = dispatch.New(
		docmem.New(),
		f.entities,
		f.publisher,
		f.ident,
		&sequentialIDs{},
		&fakeClock{now: time.Unix(4000, 0)},
		zap.NewNop(),
	)
	RegisterAll(f.dispatcher, "statshub", "soccer")
	return f
}

func (f *fixture) dispatch(t *testing.T, kind feed.DocumentKind, sourceRef, payload string) *feed.ProcessingUnit {
	t.Helper()
	ident, err := f.ident.Identity(sourceRef)
	require.NoError(t, err)
	unit := &feed.ProcessingUnit{}
	event := feed.DocumentChanged{
		ID:            "evt-" + string(kind),
		SourceRef:     sourceRef,
		SourceURLHash: ident.URLHash,
		Domain:        "soccer",
		DocumentKind:  kind,
		Provider:      "statshub",
		CorrelationID: "corr-1",
		CausationID:   "cause-1",
		Action:        feed.ActionCreated,
		DocumentJSON:  payload,
	}
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), unit, event))
	return unit
}

// seedVenue materializes the venue entity the way a prior venue document
// pass would have.
func (f *fixture) seedVenue(t *testing.T) string {
	t.Helper()
	f.dispatch(t, feed.KindVenue, venueURL, `{"id":"42","fullName":"Anfield","capacity":61276,"address":{"city":"Liverpool","country":"England"}}`)
	ident, err := f.ident.Identity(venueURL)
	require.NoError(t, err)
	return ident.CanonicalID
}

func TestResolveVenueMaterializesEntity(t *testing.T) {
	t.Parallel()

	f := newFixture()
	canonicalID := f.seedVenue(t)

	entity, err := f.entities.Get(context.Background(), feed.KindVenue, canonicalID)
	require.NoError(t, err)
	require.Equal(t, "Anfield", entity.Name)
	require.Contains(t, entity.Attributes, "61276")
	require.Len(t, entity.Identities, 1)
	require.Equal(t, "42", entity.Identities[0].ExternalValue)
}

func TestResolveVenueRejectsPayloadWithoutName(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ident, err := f.ident.Identity(venueURL)
	require.NoError(t, err)
	unit := &feed.ProcessingUnit{}
	err = f.dispatcher.Dispatch(context.Background(), unit, feed.DocumentChanged{
		ID:            "evt-bad",
		SourceRef:     venueURL,
		SourceURLHash: ident.URLHash,
		Domain:        "soccer",
		DocumentKind:  feed.KindVenue,
		Provider:      "statshub",
		Action:        feed.ActionCreated,
		DocumentJSON:  `{"id":"42"}`,
	})
	require.Error(t, err)
	require.True(t, feed.IsValidation(err))
}

func TestResolveSeasonMaterializesEntity(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sourceRef := "https://api.statshub.example/v2/soccer/seasons/2026"
	f.dispatch(t, feed.KindSeason, sourceRef, `{"year":2026,"name":"2026 Season","startDate":"2026-08-01","endDate":"2027-05-30"}`)

	ident, err := f.ident.Identity(sourceRef)
	require.NoError(t, err)
	entity, err := f.entities.Get(context.Background(), feed.KindSeason, ident.CanonicalID)
	require.NoError(t, err)
	require.Equal(t, "2026 Season", entity.Name)
	require.Contains(t, entity.Attributes, "2026-08-01")
}

func TestResolveFranchiseLinksMaterializedVenue(t *testing.T) {
	t.Parallel()

	f := newFixture()
	venueID := f.seedVenue(t)

	payload := fmt.Sprintf(`{"id":"10","name":"Liverpool","abbreviation":"LIV","venue":{"$ref":"%s"}}`, venueURL)
	f.dispatch(t, feed.KindFranchise, franchiseURL, payload)

	ident, err := f.ident.Identity(franchiseURL)
	require.NoError(t, err)
	entity, err := f.entities.Get(context.Background(), feed.KindFranchise, ident.CanonicalID)
	require.NoError(t, err)
	require.Equal(t, "Liverpool", entity.Name)
	require.Contains(t, entity.Attributes, venueID)
	require.Empty(t, f.publisher.MessagesFor(feed.TopicDocumentRequested))
}

func TestResolveFranchiseRequestsMissingVenue(t *testing.T) {
	t.Parallel()

	f := newFixture()
	payload := fmt.Sprintf(`{"id":"10","name":"Liverpool","venue":{"$ref":"%s"}}`, venueURL)
	unit := f.dispatch(t, feed.KindFranchise, franchiseURL, payload)

	requested := f.publisher.MessagesFor(feed.TopicDocumentRequested)
	require.Len(t, requested, 1)
	request := requested[0].Event.(feed.DocumentRequested)
	require.Equal(t, feed.KindVenue, request.DocumentKind)
	require.Len(t, unit.RequestedDependencies, 1)

	// The franchise itself is still materialized, with the venue link
	// unset.
	ident, err := f.ident.Identity(franchiseURL)
	require.NoError(t, err)
	entity, err := f.entities.Get(context.Background(), feed.KindFranchise, ident.CanonicalID)
	require.NoError(t, err)
	require.Contains(t, entity.Attributes, `"venue_id":""`)
}

func TestResolveCompetitionLinksAllReferences(t *testing.T) {
	t.Parallel()

	f := newFixture()
	venueID := f.seedVenue(t)
	f.dispatch(t, feed.KindFranchise, franchiseURL, `{"id":"10","name":"Liverpool"}`)
	f.dispatch(t, feed.KindFranchise, awayTeamURL, `{"id":"11","name":"Everton"}`)

	sourceRef := "https://api.statshub.example/v2/soccer/competitions/7"
	payload := fmt.Sprintf(`{
		"id":"7","name":"Merseyside Derby","date":"2026-09-12T15:00Z",
		"venue":{"$ref":"%s"},
		"competitors":[
			{"homeAway":"home","winner":true,"team":{"$ref":"%s"}},
			{"homeAway":"away","team":{"$ref":"%s"}}
		]}`, venueURL, franchiseURL, awayTeamURL)
	f.dispatch(t, feed.KindCompetition, sourceRef, payload)

	ident, err := f.ident.Identity(sourceRef)
	require.NoError(t, err)
	entity, err := f.entities.Get(context.Background(), feed.KindCompetition, ident.CanonicalID)
	require.NoError(t, err)
	require.Equal(t, "Merseyside Derby", entity.Name)
	require.Contains(t, entity.Attributes, venueID)

	homeIdent, err := f.ident.Identity(franchiseURL)
	require.NoError(t, err)
	require.Contains(t, entity.Attributes, homeIdent.CanonicalID)
	require.Empty(t, f.publisher.MessagesFor(feed.TopicDocumentRequested))
}

func TestResolveCompetitionRequestsEachMissingReferenceOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sourceRef := "https://api.statshub.example/v2/soccer/competitions/7"
	payload := fmt.Sprintf(`{
		"id":"7",
		"venue":{"$ref":"%s"},
		"competitors":[
			{"homeAway":"home","team":{"$ref":"%s"}},
			{"homeAway":"away","team":{"$ref":"%s"}}
		]}`, venueURL, franchiseURL, awayTeamURL)
	unit := f.dispatch(t, feed.KindCompetition, sourceRef, payload)

	require.Len(t, f.publisher.MessagesFor(feed.TopicDocumentRequested), 3)
	require.Len(t, unit.RequestedDependencies, 3)

	// Re-dispatching the redelivered unit requests nothing further.
	ident, err := f.ident.Identity(sourceRef)
	require.NoError(t, err)
	unit.AttemptCount++
	require.NoError(t, f.dispatcher.Dispatch(context.Background(), unit, feed.DocumentChanged{
		ID:            "evt-redelivered",
		SourceRef:     sourceRef,
		SourceURLHash: ident.URLHash,
		Domain:        "soccer",
		DocumentKind:  feed.KindCompetition,
		Provider:      "statshub",
		Action:        feed.ActionCreated,
		DocumentJSON:  payload,
	}))
	require.Len(t, f.publisher.MessagesFor(feed.TopicDocumentRequested), 3)
}

func TestResolveCompetitionLeavesUnreferencedCompetitorUnset(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sourceRef := "https://api.statshub.example/v2/soccer/competitions/7"
	unit := f.dispatch(t, feed.KindCompetition, sourceRef,
		`{"id":"7","name":"Derby","competitors":[{"homeAway":"home"}]}`)

	// No source URL, nothing to request; the competitor keeps its slot
	// with the franchise link unset.
	require.Empty(t, f.publisher.MessagesFor(feed.TopicDocumentRequested))
	require.Empty(t, unit.RequestedDependencies)

	ident, err := f.ident.Identity(sourceRef)
	require.NoError(t, err)
	entity, err := f.entities.Get(context.Background(), feed.KindCompetition, ident.CanonicalID)
	require.NoError(t, err)
	require.Contains(t, entity.Attributes, `"home_away":"home"`)
	require.NotContains(t, entity.Attributes, "franchise_id")
}

func TestReprocessingIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	canonicalID := f.seedVenue(t)
	f.seedVenue(t)

	entity, err := f.entities.Get(context.Background(), feed.KindVenue, canonicalID)
	require.NoError(t, err)
	require.Len(t, entity.Identities, 1, "re-resolution never duplicates identities")
}

// --- fakes ---

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("req-%04d", g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
