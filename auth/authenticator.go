package auth

import (
	"sync/atomic"
)

// Authenticator answers access_granted for a CONNECT's credentials.
// Anonymous (empty username) is granted iff AllowAnonymous; otherwise the
// password is checked against the loaded password file. Authenticate
// always responds, never blocking or panicking on a malformed or
// missing store.
type Authenticator struct {
	allowAnonymous atomic.Bool
	store          atomic.Pointer[passwordStore]
}

// New creates an Authenticator with no password file loaded. Until
// LoadFile succeeds, every non-anonymous credential is rejected.
func New(allowAnonymous bool) *Authenticator {
	a := &Authenticator{}
	a.allowAnonymous.Store(allowAnonymous)
	a.store.Store(newEmptyPasswordStore())
	return a
}

// LoadFile reads path and installs it as the current password store. The
// previous store stays live for any Authenticate call already in flight.
func (a *Authenticator) LoadFile(path string) error {
	store, err := loadPasswordFile(path)
	if err != nil {
		return err
	}
	a.store.Store(store)
	return nil
}

// SetAllowAnonymous toggles whether a CONNECT with an empty username is
// granted without a password check.
func (a *Authenticator) SetAllowAnonymous(allow bool) {
	a.allowAnonymous.Store(allow)
}

// Authenticate reports whether username/password are accepted.
func (a *Authenticator) Authenticate(username string, password []byte) bool {
	if username == "" {
		return a.allowAnonymous.Load()
	}
	return a.store.Load().verify(username, password)
}

// UserCount reports how many credentials are currently loaded, useful for
// $SYS metrics and reload logging.
func (a *Authenticator) UserCount() int {
	return len(a.store.Load().users)
}
