// Package resolver materializes canonical entities from provider payloads.
// One resolver per document kind; competitions additionally link the
// franchises and venue they reference, requesting any that are not
// materialized yet.
package resolver

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"

	"github.com/pickemhq/sportsfeed/internal/dispatch"
	"github.com/pickemhq/sportsfeed/internal/feed"
)

// RegisterAll binds the four shipped resolvers for one (provider, domain)
// pair, covering both the created and updated actions.
func RegisterAll(d *dispatch.Dispatcher, provider feed.Provider, domain feed.Domain) {
	d.RegisterKind(provider, domain, feed.KindVenue, dispatch.ResolverFunc(ResolveVenue))
	d.RegisterKind(provider, domain, feed.KindSeason, dispatch.ResolverFunc(ResolveSeason))
	d.RegisterKind(provider, domain, feed.KindFranchise, dispatch.ResolverFunc(ResolveFranchise))
	d.RegisterKind(provider, domain, feed.KindCompetition, dispatch.ResolverFunc(ResolveCompetition))
}

type venuePayload struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Capacity int    `json:"capacity,omitempty"`
	Indoor   bool   `json:"indoor,omitempty"`
	Address  struct {
		City    string `json:"city,omitempty"`
		Country string `json:"country,omitempty"`
	} `json:"address,omitempty"`
}

type seasonPayload struct {
	ID        string `json:"id,omitempty"`
	Year      int    `json:"year"`
	Name      string `json:"name,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

type franchisePayload struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Abbreviation string         `json:"abbreviation,omitempty"`
	Venue        feed.Reference `json:"venue,omitempty"`
}

type competitionPayload struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Date        string         `json:"date,omitempty"`
	Venue       feed.Reference `json:"venue,omitempty"`
	Competitors []struct {
		ID       string         `json:"id,omitempty"`
		HomeAway string         `json:"homeAway,omitempty"`
		Winner   bool           `json:"winner,omitempty"`
		Team     feed.Reference `json:"team"`
	} `json:"competitors,omitempty"`
}

func decode(rc *dispatch.Context, out any) error {
	if err := sonic.Unmarshal(rc.Payload, out); err != nil {
		return errors.Mark(
			errors.Wrapf(err, "decode %s payload", rc.Event.DocumentKind),
			feed.ErrValidation,
		)
	}
	return nil
}

// selfEntity builds the entity skeleton shared by every resolver: canonical
// id derived from the document's own source URL, plus the external identity
// linking back to the provider.
func selfEntity(rc *dispatch.Context, kind feed.DocumentKind, name, externalValue string) (feed.Entity, error) {
	ident, err := rc.Identity(rc.Event.SourceRef)
	if err != nil {
		return feed.Entity{}, errors.Mark(
			errors.Wrapf(err, "identity for %q", rc.Event.SourceRef),
			feed.ErrValidation,
		)
	}
	return feed.Entity{
		Kind:        kind,
		CanonicalID: ident.CanonicalID,
		Name:        name,
		Identities: []feed.ExternalIdentity{{
			Provider:      rc.Event.Provider,
			SourceURL:     ident.CleanedURL,
			URLHash:       ident.URLHash,
			ExternalValue: externalValue,
		}},
	}, nil
}

func marshalAttributes(attrs any) (string, error) {
	encoded, err := sonic.Marshal(attrs)
	if err != nil {
		return "", errors.Wrap(err, "marshal entity attributes")
	}
	return string(encoded), nil
}

// ResolveVenue materializes a venue entity.
func ResolveVenue(ctx context.Context, rc *dispatch.Context) error {
	var payload venuePayload
	if err := decode(rc, &payload); err != nil {
		return err
	}
	if payload.FullName == "" {
		return errors.Mark(errors.New("venue payload has no fullName"), feed.ErrValidation)
	}

	entity, err := selfEntity(rc, feed.KindVenue, payload.FullName, payload.ID)
	if err != nil {
		return err
	}
	entity.Attributes, err = marshalAttributes(map[string]any{
		"capacity": payload.Capacity,
		"indoor":   payload.Indoor,
		"city":     payload.Address.City,
		"country":  payload.Address.Country,
	})
	if err != nil {
		return err
	}
	return rc.SaveEntity(ctx, entity)
}

// ResolveSeason materializes a season entity.
func ResolveSeason(ctx context.Context, rc *dispatch.Context) error {
	var payload seasonPayload
	if err := decode(rc, &payload); err != nil {
		return err
	}
	if payload.Year == 0 {
		return errors.Mark(errors.New("season payload has no year"), feed.ErrValidation)
	}

	entity, err := selfEntity(rc, feed.KindSeason, payload.Name, payload.ID)
	if err != nil {
		return err
	}
	entity.Attributes, err = marshalAttributes(map[string]any{
		"year":       payload.Year,
		"start_date": payload.StartDate,
		"end_date":   payload.EndDate,
	})
	if err != nil {
		return err
	}
	return rc.SaveEntity(ctx, entity)
}

// ResolveFranchise materializes a franchise entity and links its home venue
// when that venue is already materialized. A missing venue is requested and
// the link stays unset until a later pass.
func ResolveFranchise(ctx context.Context, rc *dispatch.Context) error {
	var payload franchisePayload
	if err := decode(rc, &payload); err != nil {
		return err
	}
	if payload.Name == "" {
		return errors.Mark(errors.New("franchise payload has no name"), feed.ErrValidation)
	}

	entity, err := selfEntity(rc, feed.KindFranchise, payload.Name, payload.ID)
	if err != nil {
		return err
	}

	venueID, err := rc.ResolveOrRequest(ctx, feed.KindVenue, payload.Venue)
	if err != nil {
		return err
	}
	entity.Attributes, err = marshalAttributes(map[string]any{
		"abbreviation": payload.Abbreviation,
		"venue_id":     venueID,
	})
	if err != nil {
		return err
	}
	return rc.SaveEntity(ctx, entity)
}

// ResolveCompetition materializes a competition entity with links to its
// venue and competing franchises. Unmaterialized references are requested
// and left unset.
func ResolveCompetition(ctx context.Context, rc *dispatch.Context) error {
	var payload competitionPayload
	if err := decode(rc, &payload); err != nil {
		return err
	}
	if payload.ID == "" {
		return errors.Mark(errors.New("competition payload has no id"), feed.ErrValidation)
	}

	entity, err := selfEntity(rc, feed.KindCompetition, payload.Name, payload.ID)
	if err != nil {
		return err
	}

	venueID, err := rc.ResolveOrRequest(ctx, feed.KindVenue, payload.Venue)
	if err != nil {
		return err
	}

	type competitorLink struct {
		FranchiseID string `json:"franchise_id,omitempty"`
		HomeAway    string `json:"home_away,omitempty"`
		Winner      bool   `json:"winner,omitempty"`
	}
	competitors := make([]competitorLink, 0, len(payload.Competitors))
	for _, competitor := range payload.Competitors {
		// A competitor without a team reference keeps its slot with the
		// link unset; later payload versions may fill the reference in.
		franchiseID, err := rc.ResolveOrRequest(ctx, feed.KindFranchise, competitor.Team)
		if err != nil {
			return err
		}
		competitors = append(competitors, competitorLink{
			FranchiseID: franchiseID,
			HomeAway:    competitor.HomeAway,
			Winner:      competitor.Winner,
		})
	}

	entity.Attributes, err = marshalAttributes(map[string]any{
		"date":        payload.Date,
		"venue_id":    venueID,
		"competitors": competitors,
	})
	if err != nil {
		return err
	}
	return rc.SaveEntity(ctx, entity)
}
