package live

import "errors"

var (
	// ErrContextNotFound is returned by directory lookups for unknown ids.
	ErrContextNotFound = errors.New("live: context not found")

	// ErrCallbackNotFound is returned when a dispatched callback id has no
	// registered handler. Distinct from an invocation error: the handler was
	// never run.
	ErrCallbackNotFound = errors.New("live: callback not found")

	// ErrContextClosed is returned for operations on a closed context.
	ErrContextClosed = errors.New("live: context closed")

	// ErrAlreadyConnected is returned when a second transport attempts to
	// attach to a context.
	ErrAlreadyConnected = errors.New("live: transport already attached")

	// ErrDuplicateContext is returned when publishing a context whose id is
	// already present in the directory.
	ErrDuplicateContext = errors.New("live: duplicate context id")
)
