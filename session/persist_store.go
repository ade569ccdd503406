package session

import (
	"context"
	"errors"

	"github.com/nimbusmq/broker/persist"
)

// RecordStore is the subset of persist.Store[*Record] a PersistStore needs.
// Declaring it locally (rather than importing the generic instantiation
// directly into the Store interface) keeps the session package's exported
// surface free of the persist package's generic type parameter.
type RecordStore interface {
	Save(ctx context.Context, key string, value *Record) error
	Load(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// PersistStore adapts a generic persist.Store[*Record] (memory, Pebble or
// Redis backed) into the session.Store interface. It is the only place in
// the session package that knows about the persist package; session never
// imports pebble or go-redis directly.
type PersistStore struct {
	backend RecordStore
}

// NewPersistStore wraps a RecordStore (typically a *persist.PebbleStore[*Record]
// or *persist.RedisStore[*Record]) as a session.Store.
func NewPersistStore(backend RecordStore) *PersistStore {
	return &PersistStore{backend: backend}
}

func (p *PersistStore) Save(ctx context.Context, s *Session) error {
	return p.backend.Save(ctx, s.GetClientID(), s.ToRecord())
}

func (p *PersistStore) Load(ctx context.Context, clientID string) (*Session, error) {
	record, err := p.backend.Load(ctx, clientID)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		if errors.Is(err, persist.ErrStoreClosed) {
			return nil, ErrStoreClosed
		}
		return nil, err
	}
	return FromRecord(record), nil
}

func (p *PersistStore) Delete(ctx context.Context, clientID string) error {
	return translateErr(p.backend.Delete(ctx, clientID))
}

func (p *PersistStore) Exists(ctx context.Context, clientID string) (bool, error) {
	ok, err := p.backend.Exists(ctx, clientID)
	return ok, translateErr(err)
}

func (p *PersistStore) List(ctx context.Context) ([]string, error) {
	ids, err := p.backend.List(ctx)
	return ids, translateErr(err)
}

func (p *PersistStore) Close() error {
	return translateErr(p.backend.Close())
}

func (p *PersistStore) Count(ctx context.Context) (int64, error) {
	n, err := p.backend.Count(ctx)
	return n, translateErr(err)
}

// CountByState loads every session to tally by state: the generic
// persist.Store has no query support, so this is O(n) and meant for
// infrequent diagnostics/metrics polling, not a hot path.
func (p *PersistStore) CountByState(ctx context.Context, state State) (int64, error) {
	ids, err := p.List(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, id := range ids {
		record, err := p.backend.Load(ctx, id)
		if err != nil {
			continue
		}
		if record.State == state {
			count++
		}
	}
	return count, nil
}

func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persist.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, persist.ErrStoreClosed):
		return ErrStoreClosed
	default:
		return err
	}
}
