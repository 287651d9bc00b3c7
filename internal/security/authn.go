package security

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrUserNotFound is returned by a UserStore when no credential exists.
var ErrUserNotFound = errors.New("security: user not found")

// UserStore is the pluggable login-storage driver consulted on a cache
// miss (spec §4.6, and SPEC_FULL.md §D: the original ships a Postgres-backed
// implementation, kept out of scope here as an external collaborator —
// only the interface lives in this repo).
type UserStore interface {
	LookupUser(username string) (StoredCredential, error)
}

// Authenticator performs login-time authentication with a cache in front of
// a UserStore (spec §4.6 "If the user is not in cache, consult the storage
// driver once and, on success, install into cache").
type Authenticator struct {
	mu    sync.RWMutex
	cache map[string]StoredCredential
	store UserStore
}

// NewAuthenticator constructs an Authenticator backed by store.
func NewAuthenticator(store UserStore) *Authenticator {
	return &Authenticator{cache: make(map[string]StoredCredential), store: store}
}

// Authenticate verifies username/password, consulting the cache first and
// falling back to the UserStore exactly once on a miss.
func (a *Authenticator) Authenticate(username, password string) (bool, error) {
	a.mu.RLock()
	cred, ok := a.cache[username]
	a.mu.RUnlock()

	if !ok {
		var err error
		cred, err = a.store.LookupUser(username)
		if err != nil {
			return false, err
		}
		a.mu.Lock()
		a.cache[username] = cred
		a.mu.Unlock()
	}
	return VerifyPassword(cred, password)
}

// InvalidateUser drops a cached credential, used when a broker-call
// cache-update event (§4.3) reports a user mutation.
func (a *Authenticator) InvalidateUser(username string) {
	a.mu.Lock()
	delete(a.cache, username)
	a.mu.Unlock()
}

// SetUser installs a credential directly into the cache, used when applying
// a broker-call "set user" cache-update event.
func (a *Authenticator) SetUser(username string, cred StoredCredential) {
	a.mu.Lock()
	a.cache[username] = cred
	a.mu.Unlock()
}
