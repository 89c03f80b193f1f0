package directory

import (
	"context"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

// Directory is the remote identity service: the single source of
// truth for identity records. Every call is network-bound and maps
// failures onto the domain error taxonomy (ErrConflict,
// ErrInvalidCredentials, ErrUnauthorized, ErrNotFound,
// ErrUnavailable).
type Directory interface {
	// Register creates a new identity. The directory assigns the id.
	Register(ctx context.Context, creds domain.Credentials, profile domain.Profile, role domain.Role) (*domain.IdentityRecord, error)

	// Authenticate verifies credentials and returns the current
	// record for the identity.
	Authenticate(ctx context.Context, creds domain.Credentials) (*domain.IdentityRecord, error)

	// FetchRecord returns the current record for the id.
	FetchRecord(ctx context.Context, id string) (*domain.IdentityRecord, error)

	// InvalidateSession revokes any server-side auth state for the
	// id. Best-effort: callers must not let a failure here block a
	// local logout.
	InvalidateSession(ctx context.Context, id string) error

	// UpdateProfile rewrites the mutable profile attributes and
	// returns the updated record.
	UpdateProfile(ctx context.Context, id string, profile domain.Profile) (*domain.IdentityRecord, error)
}
