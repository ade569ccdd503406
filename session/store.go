package session

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrStoreClosed          = errors.New("store is closed")
)

// Store persists the per-client Session state — subscriptions, QoS 1/2
// replay bookkeeping, and the will — across reconnects and, for
// persistent (non-clean-start) sessions, across broker restarts. Manager
// is the only caller; every method is keyed by the MQTT client id rather
// than the broker-internal SessionGid, since that is what a reconnecting
// CONNECT carries.
type Store interface {
	// Save stores or updates a session, keyed by its client id.
	Save(ctx context.Context, session *Session) error

	// Load retrieves a session by client ID.
	Load(ctx context.Context, clientID string) (*Session, error)

	// Delete removes a session, e.g. after a clean-start CONNECT or
	// once a persistent session's expiry interval has elapsed.
	Delete(ctx context.Context, clientID string) error

	// Exists checks if a session exists, used when minting an
	// auto-generated client id to avoid colliding with one already
	// held by the store.
	Exists(ctx context.Context, clientID string) (bool, error)

	// List returns every stored client ID, driving the session
	// manager's expiry sweep.
	List(ctx context.Context) ([]string, error)

	// Close releases the backend and rejects further calls.
	Close() error
}

// StoreMetrics exposes session population counts, for backends that can
// report them cheaper than listing and loading every session.
type StoreMetrics interface {
	// Count returns the total number of sessions.
	Count(ctx context.Context) (int64, error)

	// CountByState returns the number of sessions currently in a given
	// connection state (active, disconnected-but-retained, expired).
	CountByState(ctx context.Context, state State) (int64, error)
}
