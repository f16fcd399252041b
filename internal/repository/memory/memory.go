// Package memory implements the repository interfaces in process memory.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/repository"
)

// Store holds accounts, refresh tokens and API keys.
type Store struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*model.Account
	byEmail map[string]uuid.UUID
	refresh map[string]uuid.UUID
	keys    map[uuid.UUID]*model.StoredKey
	now     func() time.Time
}

var (
	_ repository.UserRepository         = (*Store)(nil)
	_ repository.RefreshTokenRepository = (*Store)(nil)
	_ repository.KeyRepository          = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:   make(map[uuid.UUID]*model.Account),
		byEmail: make(map[string]uuid.UUID),
		refresh: make(map[string]uuid.UUID),
		keys:    make(map[uuid.UUID]*model.StoredKey),
		now:     time.Now,
	}
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts a new account.
func (s *Store) Create(ctx context.Context, a *model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := emailKey(a.Email)
	if _, ok := s.byEmail[k]; ok {
		return errs.ErrAlreadyExists
	}
	if _, ok := s.users[a.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	if cpy.CreatedAt.IsZero() {
		cpy.CreatedAt = s.now()
	}
	s.users[a.ID] = &cpy
	s.byEmail[k] = a.ID
	return nil
}

// GetByID loads an account by ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *a
	return &cpy, nil
}

// GetByEmail loads an account by email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.byEmail[emailKey(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// SaveRefresh binds token to userID.
func (s *Store) SaveRefresh(ctx context.Context, token string, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[token]; ok {
		return errs.ErrAlreadyExists
	}
	s.refresh[token] = userID
	return nil
}

// ConsumeRefresh removes token and returns its owner.
func (s *Store) ConsumeRefresh(ctx context.Context, token string) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[token]
	if !ok {
		return uuid.Nil, errs.ErrNotFound
	}
	delete(s.refresh, token)
	return id, nil
}

// RevokeRefresh drops every token of userID.
func (s *Store) RevokeRefresh(ctx context.Context, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.refresh {
		if id == userID {
			delete(s.refresh, tok)
		}
	}
	return nil
}

// PutKey creates or replaces the user's key.
func (s *Store) PutKey(ctx context.Context, k *model.StoredKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cpy := *k
	if cpy.UpdatedAt.IsZero() {
		cpy.UpdatedAt = s.now()
	}
	s.mu.Lock()
	s.keys[k.UserID] = &cpy
	s.mu.Unlock()
	return nil
}

// GetKey returns the user's key.
func (s *Store) GetKey(ctx context.Context, userID uuid.UUID) (*model.StoredKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *k
	return &cpy, nil
}

// DeleteKey removes the user's key.
func (s *Store) DeleteKey(ctx context.Context, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[userID]; !ok {
		return errs.ErrNotFound
	}
	delete(s.keys, userID)
	return nil
}
