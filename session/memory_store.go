package session

import (
	"context"
	"sync"
)

// MemoryStore is the Store backend for a broker with no durability
// requirement: every session is lost on restart. The broker's own memory
// backend is persist.MemoryStore behind PersistStore; this type is a
// Store that needs no adapter layer. Alongside the client-id index it
// keeps a by-state index so StoreMetrics.CountByState doesn't have to
// scan and re-check every session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byState  map[State]map[string]struct{}
	closed   bool
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byState:  make(map[State]map[string]struct{}),
	}
}

// indexLocked places clientID in the by-state bucket for state,
// removing it from any other bucket it was previously in. Callers must
// hold m.mu for writing.
func (m *MemoryStore) indexLocked(clientID string, state State) {
	for s, ids := range m.byState {
		if s == state {
			continue
		}
		delete(ids, clientID)
	}
	bucket, ok := m.byState[state]
	if !ok {
		bucket = make(map[string]struct{})
		m.byState[state] = bucket
	}
	bucket[clientID] = struct{}{}
}

func (m *MemoryStore) unindexLocked(clientID string) {
	for _, ids := range m.byState {
		delete(ids, clientID)
	}
}

// Save stores or updates a session, re-indexing it by its current
// connection state.
func (m *MemoryStore) Save(ctx context.Context, session *Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	clientID := session.GetClientID()
	m.sessions[clientID] = session
	m.indexLocked(clientID, session.GetState())
	return nil
}

// Load retrieves a session by client ID.
func (m *MemoryStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	session, ok := m.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(ctx context.Context, clientID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.sessions, clientID)
	m.unindexLocked(clientID)
	return nil
}

// Exists checks if a session exists.
func (m *MemoryStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrStoreClosed
	}

	_, ok := m.sessions[clientID]
	return ok, nil
}

// List returns all session client IDs.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	clientIDs := make([]string, 0, len(m.sessions))
	for clientID := range m.sessions {
		clientIDs = append(clientIDs, clientID)
	}

	return clientIDs, nil
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	m.closed = true
	m.sessions = nil
	m.byState = nil
	return nil
}

// Count returns the total number of sessions.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	return int64(len(m.sessions)), nil
}

// CountByState returns the number of sessions last Saved in the given
// state. It reads the by-state index built on Save rather than loading
// and checking every session's live state, so it stays cheap enough to
// back a metrics report tick.
func (m *MemoryStore) CountByState(ctx context.Context, state State) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	return int64(len(m.byState[state])), nil
}
