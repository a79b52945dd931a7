package feed

// Topics the pipeline publishes to. Consumers subscribe per topic; the
// action is also carried on the event so a single subscription can route.
const (
	TopicDocumentCreated   = "document.created"
	TopicDocumentUpdated   = "document.updated"
	TopicDocumentRequested = "document.requested"
)

// InlinePayloadLimit is the size in bytes above which a change event omits
// the payload. Oversized documents are re-fetched by hash downstream
// instead of riding the bus.
const InlinePayloadLimit = 256 * 1024

// DocumentChanged is the shape shared by the Created and Updated events.
// Action distinguishes the two; everything else is identical by contract.
type DocumentChanged struct {
	ID                         string         `json:"id"`
	ParentID                   string         `json:"parent_id,omitempty"`
	Name                       string         `json:"name,omitempty"`
	SourceRef                  string         `json:"source_ref"`
	Ref                        string         `json:"ref,omitempty"`
	DocumentJSON               string         `json:"document_json,omitempty"`
	SourceURLHash              string         `json:"source_url_hash"`
	Domain                     Domain         `json:"domain"`
	SeasonYear                 *int           `json:"season_year,omitempty"`
	DocumentKind               DocumentKind   `json:"document_kind"`
	Provider                   Provider       `json:"provider"`
	CorrelationID              string         `json:"correlation_id"`
	CausationID                string         `json:"causation_id"`
	AttemptCount               int            `json:"attempt_count"`
	Action                     Action         `json:"action"`
	IncludeLinkedDocumentKinds []DocumentKind `json:"include_linked_document_kinds,omitempty"`
}

// Topic returns the bus topic matching the event's action.
func (e DocumentChanged) Topic() string {
	if e.Action == ActionUpdated {
		return TopicDocumentUpdated
	}
	return TopicDocumentCreated
}

// DocumentRequested asks the pipeline to fetch and ingest a related
// document not yet known locally. It loops back in as new crawl work.
type DocumentRequested struct {
	ID            string       `json:"id"`
	ParentID      string       `json:"parent_id,omitempty"`
	URI           string       `json:"uri"`
	Domain        Domain       `json:"domain"`
	SeasonYear    *int         `json:"season_year,omitempty"`
	DocumentKind  DocumentKind `json:"document_kind"`
	Provider      Provider     `json:"provider"`
	CorrelationID string       `json:"correlation_id"`
	CausationID   string       `json:"causation_id"`
}
