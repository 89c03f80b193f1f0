package domain

import "time"

// Role is the access level of an identity. The wire values match the
// userType field of the directory's profile documents.
type Role string

const (
	RoleGeneralUser Role = "user"
	RoleVolunteer   Role = "volunteer"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	return r == RoleGeneralUser || r == RoleVolunteer
}

// IdentityRecord is the canonical profile document for a person.
// ID is assigned by the remote directory at registration and never
// changes; Role is only authoritative as confirmed by the remote
// record (cached copies are advisory until reconciled).
type IdentityRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Role      Role      `json:"userType"`
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"isActive"`
}

// SessionSource tags which authority backed a session at
// authentication time.
type SessionSource string

const (
	SourceRemote SessionSource = "remote"
	SourceCache  SessionSource = "cache"
)

// Session is the reconciled in-memory view of who is using the app.
// A Session with Source == SourceCache is a degraded/offline session:
// fine for read-mostly UI, never sufficient on its own for
// volunteer-gated actions.
type Session struct {
	Identity        IdentityRecord `json:"identity"`
	Source          SessionSource  `json:"source"`
	AuthenticatedAt time.Time      `json:"authenticatedAt"`
}

// Volunteer reports whether the session currently carries the
// volunteer role, regardless of whether that role has been remotely
// confirmed.
func (s *Session) Volunteer() bool {
	return s != nil && s.Identity.Role == RoleVolunteer
}

// Credentials are the self-reported login credentials for the remote
// directory.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is the mutable, self-reported part of an identity record.
type Profile struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
