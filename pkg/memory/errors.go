package memory

import "errors"

// Sentinel errors for the service-wide error taxonomy. Transport layers map
// these to status codes; everything else wraps them with %w.
var (
	// ErrInvalidRequest indicates malformed or semantically invalid input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates a missing or invalid API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but not permitted.
	// Access denial on individual memories is reported as ErrNotFound
	// instead, so denial is indistinguishable from absence.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the resource does not exist or is not visible.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an identifier collision on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrRateLimited indicates the caller exceeded a request window.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates a deadline expired while waiting on a dependency.
	ErrTimeout = errors.New("timeout")

	// ErrStorage indicates the record store failed or is unreachable.
	ErrStorage = errors.New("storage error")

	// ErrUpstream indicates an embedder or curator backend failed.
	ErrUpstream = errors.New("upstream error")
)
