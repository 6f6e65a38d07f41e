package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared by every pipeline component. Callers classify failures
// with errors.Is; the wrapped root cause stays in the chain.
var (
	// ErrFetchFailed means the provider was unreachable or answered with a
	// non-success status. The station is skipped for the current cycle.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrMalformedPayload labels a stream entry that cannot be decoded into a
	// Reading. The transformer itself never returns it.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStoreUnavailable means the stream store could not be reached. It is
	// fatal to the owning loop and is handled by the supervisor.
	ErrStoreUnavailable = errors.New("stream store unavailable")

	// ErrClientDisconnected is the normal end of a gateway connection.
	ErrClientDisconnected = errors.New("client disconnected")
)

// StoreUnavailable wraps a transport error from the stream store.
func StoreUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// FetchFailed wraps a provider error for one station.
func FetchFailed(station string, err error) error {
	return fmt.Errorf("station %s: %w: %w", station, ErrFetchFailed, err)
}
