package domain

import "errors"

// Error taxonomy for identity operations. Callers branch with
// errors.Is; adapters wrap driver errors around these sentinels.
var (
	// ErrInvalidCredentials covers malformed registration input
	// (bad email, weak password). User-correctable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrConflict means an identity already exists for the email.
	ErrConflict = errors.New("identity already exists")

	// ErrUnauthorized means the credentials were rejected or the
	// record is inactive.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAccessDenied means a volunteer session was requested for a
	// record that is not a volunteer. The session is discarded.
	ErrAccessDenied = errors.New("access denied: volunteer credentials required")

	// ErrUnavailable means the remote directory could not be reached.
	// Reads fall back to the local cache; registration fails hard.
	ErrUnavailable = errors.New("identity directory unavailable")

	// ErrNotFound means the directory has no record for the id.
	ErrNotFound = errors.New("identity record not found")

	// ErrNoSession means neither the directory nor the local cache
	// knows the user. The bootstrap flow reads this as
	// "never registered".
	ErrNoSession = errors.New("no session")

	// ErrCacheSchema means a cached entry has an unknown schema
	// version and was rejected rather than trusted.
	ErrCacheSchema = errors.New("unknown cache schema version")
)
