// Package memorystore provides an in-memory implementation of the
// session.Store interface. State is process-local, which makes it suitable
// for single-node deployments and tests.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/scalableinternetservicesarchive/tindawg/session"
)

// Store implements session.Store using a mutex-guarded map. Expired records
// are reaped lazily on read.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]entry
}

type entry struct {
	rec       session.Record
	expiresAt time.Time
}

func New() *Store {
	return &Store{sessions: make(map[string]entry)}
}

func (s *Store) Create(ctx context.Context, token string, rec session.Record, ttl time.Duration) error {
	s.mu.Lock()
	s.sessions[token] = entry{rec: rec, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Store) Resolve(ctx context.Context, token string) (*session.Record, error) {
	s.mu.RLock()
	e, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.sessions[token]; ok && time.Now().After(cur.expiresAt) {
			delete(s.sessions, token)
		}
		s.mu.Unlock()
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

func (s *Store) Destroy(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error { return nil }

var _ session.Store = (*Store)(nil)
