// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/juniordebug/internal/model"
)

// UserRepository stores accounts of the stub identity endpoint.
type UserRepository interface {
	// Create inserts a new account; errs.ErrAlreadyExists on a taken email.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}

// RefreshTokenRepository stores single-use refresh tokens.
type RefreshTokenRepository interface {
	// SaveRefresh binds token to userID.
	SaveRefresh(ctx context.Context, token string, userID uuid.UUID) error
	// ConsumeRefresh removes token and returns its owner; errs.ErrNotFound if unknown.
	ConsumeRefresh(ctx context.Context, token string) (uuid.UUID, error)
	// RevokeRefresh drops every token of userID.
	RevokeRefresh(ctx context.Context, userID uuid.UUID) error
}
