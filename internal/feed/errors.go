package feed

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors classifying pipeline failures. Handlers branch on these
// with errors.Is; wrapping sites attach context with errors.Wrapf so the
// class survives the wrap.
var (
	// ErrDocumentNotFound means a document store lookup missed. Callers
	// usually treat this as "first sight", not as a failure.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNotFoundDependency means a referenced entity is not materialized
	// yet. Resolvers leave the link unset and continue; a later
	// re-processing pass fills it in once the dependency arrives.
	ErrNotFoundDependency = errors.New("dependency not materialized")

	// ErrTransientFetch marks network/5xx failures against the source API.
	// Units failing this way propagate so the queue redelivers them.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrValidation marks malformed or unexpected payload shapes. Retrying
	// cannot fix malformed source data, so these are terminal per unit.
	ErrValidation = errors.New("payload validation failure")

	// ErrConfiguration marks code/deployment gaps such as a missing
	// resolver registration. Never silently skipped.
	ErrConfiguration = errors.New("pipeline configuration error")
)

// IsTransient reports whether err should be retried by the queue.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsValidation reports whether err is terminal for its unit.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConfiguration reports whether err is a code or deployment gap. Marker
// classification needs this package's errors.Is; the standard library's
// does not see marks.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
