// Package users holds the minimal account store backing the auth endpoints:
// enough to create accounts, verify credentials, and resolve ids for
// resolvers.
package users

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/scalableinternetservicesarchive/tindawg/session"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("bad credentials")
)

// User is a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         session.Role
}

// Store is the account boundary consumed by the gateway and resolvers.
type Store interface {
	// Create registers a new account with the given credentials.
	Create(ctx context.Context, email, password string) (*User, error)
	// Authenticate verifies credentials, returning ErrBadCredentials on any
	// mismatch (including unknown email).
	Authenticate(ctx context.Context, email, password string) (*User, error)
	Get(ctx context.Context, id int64) (*User, error)
}

// MemoryStore is a mutex-guarded in-memory Store with auto-incrementing ids.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[int64]*User
	byEmail map[string]int64
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]*User), byEmail: make(map[string]int64)}
}

func (s *MemoryStore) Create(ctx context.Context, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return nil, ErrEmailTaken
	}
	s.nextID++
	u := &User{ID: s.nextID, Email: email, PasswordHash: string(hash), Role: session.RoleUser}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID

	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Authenticate(ctx context.Context, email, password string) (*User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	var u *User
	if ok {
		u = s.byID[id]
	}
	s.mu.RUnlock()
	if u == nil {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	u, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
