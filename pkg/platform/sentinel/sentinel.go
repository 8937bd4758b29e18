// Package sentinel holds the infrastructure facts stores report. Callers
// match them with errors.Is and decide how to surface them.
package sentinel

import "errors"

var (
	// ErrNotFound means the store has no record under the requested key.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the backing service could not be reached.
	ErrUnavailable = errors.New("unavailable")
)
