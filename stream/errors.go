package stream

import (
	"errors"
	"fmt"
)

// Error taxonomy for platform calls. NotFound and InvalidCredentials are
// user-correctable; APIError covers the transient remainder. Offline and
// "no new clips" are normal results and never modeled as errors.
var (
	// ErrNotFound means the channel does not exist on the platform.
	ErrNotFound = errors.New("channel not found")

	// ErrInvalidCredentials means the stored platform credentials were
	// rejected and must be reconfigured.
	ErrInvalidCredentials = errors.New("invalid platform credentials")

	// ErrClipsUnsupported is returned by platforms that only support
	// live-status probes.
	ErrClipsUnsupported = errors.New("clip discovery not supported")
)

// APIError is a transient platform failure: non-200, non-auth, non-404.
// Poll cycles log it and continue; nothing retries within the same cycle.
type APIError struct {
	Platform   Platform
	StatusCode int
	Op         string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: %s returned status %d", e.Platform, e.Op, e.StatusCode)
}

// IsTransient reports whether err should be contained at the channel
// boundary rather than surfaced to the user.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
