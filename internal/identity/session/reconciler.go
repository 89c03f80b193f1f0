package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/cache"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/directory"
	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

// State is the reconciler's lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateLoggingOut      State = "logging_out"
)

// Config carries the session policy flags.
type Config struct {
	// AllowDegradedVolunteer lets a cache-backed volunteer session
	// proceed with gated actions when the confirming remote check is
	// unavailable.
	AllowDegradedVolunteer bool
	// PromoteInPlace applies a server-side upgrade to volunteer on
	// the next remote confirmation; when false the stronger role is
	// ignored until the next login.
	PromoteInPlace bool
}

// Reconciler owns the in-memory Session and orchestrates the remote
// directory and the local cache into one coherent view. The directory
// is authoritative whenever it is reachable; the cache carries the
// session across restarts and outages.
//
// Writes (Register, Login, Logout, ClearAllData, UpdateProfile) are
// serialized end to end by opMu, so overlapping calls resolve in one
// deterministic order. Reads snapshot the session under a short read
// lock, do their network work unlocked, and commit results, together
// with any cache mutation, only if no write landed in between
// (generation check under opMu).
type Reconciler struct {
	dir   directory.Directory
	cache *cache.Store
	cfg   Config

	opMu sync.Mutex

	mu    sync.RWMutex
	state State
	sess  *domain.Session
	gen   uint64
}

// NewReconciler creates a Reconciler in the Unauthenticated state.
func NewReconciler(dir directory.Directory, store *cache.Store, cfg Config) *Reconciler {
	return &Reconciler{
		dir:   dir,
		cache: store,
		cfg:   cfg,
		state: StateUnauthenticated,
	}
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// snapshot returns a copy of the current session and the generation
// it was observed at.
func (r *Reconciler) snapshot() (*domain.Session, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sess == nil {
		return nil, r.gen
	}
	copied := *r.sess
	return &copied, r.gen
}

// commit unconditionally transitions state and session.
func (r *Reconciler) commit(state State, sess *domain.Session) {
	r.mu.Lock()
	r.state = state
	r.sess = sess
	r.gen++
	r.mu.Unlock()
}

// commitIf transitions only if no other transition landed since the
// caller's snapshot. A read that lost the race simply abandons its
// result; the winning write already established the newer truth.
func (r *Reconciler) commitIf(gen uint64, state State, sess *domain.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return false
	}
	r.state = state
	r.sess = sess
	r.gen++
	return true
}

// commitAndSync is commitIf for read results that carry a cache
// mutation. It re-enters the write lock so the mutation is ordered
// against Logout and ClearAllData: a refresh that lost the race to a
// logout must not repopulate keys the logout just deleted. The
// mutation runs only after the commit wins, on a detached context so
// cancellation cannot leave it half done.
func (r *Reconciler) commitAndSync(ctx context.Context, gen uint64, state State, sess *domain.Session, sync func(context.Context)) bool {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if !r.commitIf(gen, state, sess) {
		return false
	}
	sync(context.WithoutCancel(ctx))
	return true
}

// Register creates an identity in the remote directory and mirrors it
// into the cache. There is no offline registration: an identity must
// have a server-assigned id before any local record is trusted, so an
// unreachable directory fails the whole operation.
func (r *Reconciler) Register(ctx context.Context, creds domain.Credentials, profile domain.Profile, requestedRole domain.Role) (*domain.Session, error) {
	if !domain.ValidRole(requestedRole) {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidCredentials, requestedRole)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.commit(StateAuthenticating, nil)

	record, err := r.dir.Register(ctx, creds, profile, requestedRole)
	if err != nil {
		r.commit(StateUnauthenticated, nil)
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	// The remote record is authoritative from here on; cache write
	// failures are logged and repaired on the next successful read.
	// Cache writes run on a detached context so a navigation-away
	// cancel cannot leave them half done.
	r.writeThrough(context.WithoutCancel(ctx), record)

	sess := &domain.Session{
		Identity:        *record,
		Source:          domain.SourceRemote,
		AuthenticatedAt: time.Now().UTC(),
	}
	r.commit(StateAuthenticated, sess)

	copied := *sess
	return &copied, nil
}

// Login authenticates against the directory, falling back to the
// local cache when the directory is unreachable. A volunteer claim is
// cross-checked against the remote record: a mismatch discards the
// session and returns ErrAccessDenied, regardless of cache contents.
func (r *Reconciler) Login(ctx context.Context, creds domain.Credentials, claimedRole domain.Role) (*domain.Session, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.commit(StateAuthenticating, nil)

	record, err := r.dir.Authenticate(ctx, creds)
	if errors.Is(err, domain.ErrUnavailable) {
		// A cancelled call is not an outage; don't fall back.
		if ctx.Err() != nil {
			r.commit(StateUnauthenticated, nil)
			return nil, ctx.Err()
		}
		return r.loginFromCache(ctx, claimedRole)
	}
	if err != nil {
		r.commit(StateUnauthenticated, nil)
		return nil, fmt.Errorf("login failed: %w", err)
	}

	if claimedRole == domain.RoleVolunteer && record.Role != domain.RoleVolunteer {
		if ierr := r.dir.InvalidateSession(ctx, record.ID); ierr != nil {
			log.Printf("login: failed to invalidate mismatched session for %s: %v", record.ID, ierr)
		}
		r.commit(StateUnauthenticated, nil)
		return nil, domain.ErrAccessDenied
	}

	if !record.Active {
		if ierr := r.dir.InvalidateSession(ctx, record.ID); ierr != nil {
			log.Printf("login: failed to invalidate inactive session for %s: %v", record.ID, ierr)
		}
		r.commit(StateUnauthenticated, nil)
		return nil, fmt.Errorf("%w: identity is inactive", domain.ErrUnauthorized)
	}

	r.writeThrough(context.WithoutCancel(ctx), record)

	sess := &domain.Session{
		Identity:        *record,
		Source:          domain.SourceRemote,
		AuthenticatedAt: time.Now().UTC(),
	}
	r.commit(StateAuthenticated, sess)

	copied := *sess
	return &copied, nil
}

// loginFromCache establishes a degraded session from the last known
// record. Caller holds opMu.
func (r *Reconciler) loginFromCache(ctx context.Context, claimedRole domain.Role) (*domain.Session, error) {
	var record domain.IdentityRecord
	found, err := r.cache.Read(ctx, cache.KeyUserData, &record)
	if err != nil {
		log.Printf("login: cache read failed, treating as absent: %v", err)
		found = false
	}
	if !found {
		r.commit(StateUnauthenticated, nil)
		return nil, fmt.Errorf("directory unreachable and no cached session: %w", domain.ErrNoSession)
	}

	if !record.Active {
		r.commit(StateUnauthenticated, nil)
		return nil, fmt.Errorf("%w: cached record is inactive", domain.ErrUnauthorized)
	}

	if claimedRole == domain.RoleVolunteer && record.Role != domain.RoleVolunteer {
		r.commit(StateUnauthenticated, nil)
		return nil, domain.ErrAccessDenied
	}

	sess := &domain.Session{
		Identity:        record,
		Source:          domain.SourceCache,
		AuthenticatedAt: time.Now().UTC(),
	}
	r.commit(StateAuthenticated, sess)

	copied := *sess
	return &copied, nil
}

// Logout invalidates the remote session (best-effort) and clears the
// cached identity keys.
func (r *Reconciler) Logout(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sess, _ := r.snapshot()
	r.commit(StateLoggingOut, nil)

	if sess != nil {
		if err := r.dir.InvalidateSession(ctx, sess.Identity.ID); err != nil {
			log.Printf("logout: remote invalidation failed for %s: %v", sess.Identity.ID, err)
		}
	}

	r.clearCache(context.WithoutCancel(ctx))
	r.commit(StateUnauthenticated, nil)
	return nil
}

// ClearAllData is logout for a full local reset: the cache keys are
// deleted even when the remote invalidation fails.
func (r *Reconciler) ClearAllData(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sess, _ := r.snapshot()
	r.commit(StateLoggingOut, nil)

	if sess != nil {
		if err := r.dir.InvalidateSession(ctx, sess.Identity.ID); err != nil {
			log.Printf("clear-data: remote invalidation failed for %s: %v", sess.Identity.ID, err)
		}
	}

	r.clearCache(context.WithoutCancel(ctx))
	r.commit(StateUnauthenticated, nil)
	return nil
}

// CurrentUser returns the reconciled session. With an in-memory
// session it refreshes the record from the directory and repairs the
// cache; on a cold start it rebuilds from the cache and confirms
// remotely when possible. ErrNoSession means neither source knows the
// user.
func (r *Reconciler) CurrentUser(ctx context.Context) (*domain.Session, error) {
	sess, gen := r.snapshot()
	if sess != nil {
		return r.refreshSession(ctx, sess, gen)
	}
	return r.restoreSession(ctx, gen)
}

// refreshSession re-fetches the record backing an in-memory session.
func (r *Reconciler) refreshSession(ctx context.Context, sess *domain.Session, gen uint64) (*domain.Session, error) {
	fresh, err := r.dir.FetchRecord(ctx, sess.Identity.ID)
	switch {
	case err == nil:
		return r.adoptRemote(ctx, sess, fresh, gen, sess.AuthenticatedAt)
	case errors.Is(err, domain.ErrUnavailable):
		// Directory unreachable: the in-memory session stands.
		return sess, nil
	case errors.Is(err, domain.ErrNotFound):
		r.commitAndSync(ctx, gen, StateUnauthenticated, nil, r.clearCache)
		return nil, fmt.Errorf("identity record gone: %w", domain.ErrNoSession)
	default:
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
}

// restoreSession rebuilds a session after a cold start.
func (r *Reconciler) restoreSession(ctx context.Context, gen uint64) (*domain.Session, error) {
	var record domain.IdentityRecord
	found, err := r.cache.Read(ctx, cache.KeyUserData, &record)
	if err != nil {
		log.Printf("restore: cache read failed, treating as absent: %v", err)
		found = false
	}
	if !found {
		return nil, domain.ErrNoSession
	}

	fresh, err := r.dir.FetchRecord(ctx, record.ID)
	switch {
	case err == nil:
		cached := &domain.Session{Identity: record, Source: domain.SourceCache}
		return r.adoptRemote(ctx, cached, fresh, gen, time.Now().UTC())
	case errors.Is(err, domain.ErrUnavailable):
		if !record.Active {
			// Never authenticate an inactive record; safest
			// resolution while offline is Unauthenticated.
			return nil, fmt.Errorf("cached record is inactive: %w", domain.ErrNoSession)
		}
		sess := &domain.Session{
			Identity:        record,
			Source:          domain.SourceCache,
			AuthenticatedAt: time.Now().UTC(),
		}
		r.commitIf(gen, StateAuthenticated, sess)
		copied := *sess
		return &copied, nil
	case errors.Is(err, domain.ErrNotFound):
		r.commitAndSync(ctx, gen, StateUnauthenticated, nil, r.clearCache)
		return nil, fmt.Errorf("identity record gone: %w", domain.ErrNoSession)
	default:
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
}

// adoptRemote commits a freshly confirmed record as the session,
// repairing the cache on the way. authenticatedAt is preserved across
// refreshes of an existing session.
func (r *Reconciler) adoptRemote(ctx context.Context, prev *domain.Session, fresh *domain.IdentityRecord, gen uint64, authenticatedAt time.Time) (*domain.Session, error) {
	if !fresh.Active {
		r.commitAndSync(ctx, gen, StateUnauthenticated, nil, r.clearCache)
		return nil, fmt.Errorf("%w: identity is inactive", domain.ErrUnauthorized)
	}

	effective := *fresh
	if effective.Role == domain.RoleVolunteer &&
		prev.Identity.Role == domain.RoleGeneralUser &&
		!r.cfg.PromoteInPlace {
		// Server-side promotion is deferred to the next login.
		log.Printf("session: ignoring server-side promotion for %s (promote-in-place disabled)", fresh.ID)
		effective.Role = domain.RoleGeneralUser
	}

	sess := &domain.Session{
		Identity:        effective,
		Source:          domain.SourceRemote,
		AuthenticatedAt: authenticatedAt,
	}
	if !r.commitAndSync(ctx, gen, StateAuthenticated, sess, func(c context.Context) {
		r.writeThrough(c, &effective)
	}) {
		// A write landed mid-refresh; report the state it established.
		return r.CurrentUser(ctx)
	}

	copied := *sess
	return &copied, nil
}

// AuthorizeVolunteer gates a volunteer-only action. A remote-backed
// volunteer session is confirmed as-is; a cache-backed one triggers a
// remote re-check first. confirmed == false with a nil error is the
// degraded/offline-volunteer grant.
func (r *Reconciler) AuthorizeVolunteer(ctx context.Context) (confirmed bool, err error) {
	sess, gen := r.snapshot()
	if sess == nil {
		return false, domain.ErrNoSession
	}
	if sess.Identity.Role != domain.RoleVolunteer {
		return false, domain.ErrAccessDenied
	}
	if sess.Source == domain.SourceRemote {
		return true, nil
	}

	fresh, err := r.dir.FetchRecord(ctx, sess.Identity.ID)
	switch {
	case errors.Is(err, domain.ErrUnavailable):
		if r.cfg.AllowDegradedVolunteer {
			return false, nil
		}
		return false, fmt.Errorf("volunteer role unconfirmed: %w", err)
	case errors.Is(err, domain.ErrNotFound):
		r.commitAndSync(ctx, gen, StateUnauthenticated, nil, r.clearCache)
		return false, fmt.Errorf("identity record gone: %w", domain.ErrNoSession)
	case err != nil:
		return false, fmt.Errorf("failed to verify volunteer role: %w", err)
	}

	if !fresh.Active {
		r.commitAndSync(ctx, gen, StateUnauthenticated, nil, r.clearCache)
		return false, fmt.Errorf("%w: identity is inactive", domain.ErrUnauthorized)
	}

	resolved := &domain.Session{
		Identity:        *fresh,
		Source:          domain.SourceRemote,
		AuthenticatedAt: sess.AuthenticatedAt,
	}

	if fresh.Role != domain.RoleVolunteer {
		// Demote before the gated action can execute.
		if !r.commitAndSync(ctx, gen, StateAuthenticated, resolved, func(c context.Context) {
			r.writeThrough(c, fresh)
		}) {
			// A write landed mid-check; decide against its state.
			return r.AuthorizeVolunteer(ctx)
		}
		return false, domain.ErrAccessDenied
	}

	// Confirmed: the session is no longer degraded.
	if !r.commitAndSync(ctx, gen, StateAuthenticated, resolved, func(c context.Context) {
		r.writeThrough(c, fresh)
	}) {
		// A write landed mid-check; decide against its state.
		return r.AuthorizeVolunteer(ctx)
	}
	return true, nil
}

// UpdateProfile rewrites the mutable profile attributes through the
// directory and refreshes the session and cache.
func (r *Reconciler) UpdateProfile(ctx context.Context, profile domain.Profile) (*domain.Session, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sess, _ := r.snapshot()
	if sess == nil {
		return nil, domain.ErrNoSession
	}

	record, err := r.dir.UpdateProfile(ctx, sess.Identity.ID, profile)
	if err != nil {
		return nil, fmt.Errorf("profile update failed: %w", err)
	}

	r.writeThrough(context.WithoutCancel(ctx), record)

	updated := &domain.Session{
		Identity:        *record,
		Source:          domain.SourceRemote,
		AuthenticatedAt: sess.AuthenticatedAt,
	}
	r.commit(StateAuthenticated, updated)

	copied := *updated
	return &copied, nil
}

// Registered reports whether a cached identity exists, without
// touching the network. Used by the bootstrap flow on cold start.
func (r *Reconciler) Registered(ctx context.Context) bool {
	var record domain.IdentityRecord
	found, err := r.cache.Read(ctx, cache.KeyUserData, &record)
	if err != nil {
		log.Printf("registered check: cache read failed: %v", err)
		return false
	}
	return found
}

// UserType returns the last cached role without touching the network.
func (r *Reconciler) UserType(ctx context.Context) (domain.Role, error) {
	var role domain.Role
	found, err := r.cache.Read(ctx, cache.KeyUserType, &role)
	if err != nil {
		return "", fmt.Errorf("failed to read cached user type: %w", err)
	}
	if !found {
		return "", domain.ErrNoSession
	}
	return role, nil
}

// writeThrough mirrors a confirmed record into the cache. Cache
// errors are logged, never returned: the remote record is
// authoritative and the cache heals on the next successful read.
func (r *Reconciler) writeThrough(ctx context.Context, record *domain.IdentityRecord) {
	if err := r.cache.Write(ctx, cache.KeyUserType, record.Role); err != nil {
		log.Printf("cache: failed to write %s: %v", cache.KeyUserType, err)
	}
	if err := r.cache.Write(ctx, cache.KeyUserData, record); err != nil {
		log.Printf("cache: failed to write %s: %v", cache.KeyUserData, err)
	}

	if record.Role == domain.RoleVolunteer {
		if err := r.cache.Write(ctx, cache.KeyVolunteerData, record); err != nil {
			log.Printf("cache: failed to write %s: %v", cache.KeyVolunteerData, err)
		}
		return
	}

	// Drop any stale volunteer entry so a demoted record cannot be
	// re-trusted from the cache.
	if err := r.cache.DeleteMany(ctx, cache.KeyVolunteerData); err != nil {
		log.Printf("cache: failed to delete %s: %v", cache.KeyVolunteerData, err)
	}
}

// clearCache removes every identity key.
func (r *Reconciler) clearCache(ctx context.Context) {
	err := r.cache.DeleteMany(ctx, cache.KeyUserType, cache.KeyUserData, cache.KeyVolunteerData)
	if err != nil {
		log.Printf("cache: failed to clear identity keys: %v", err)
	}
}
