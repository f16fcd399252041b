package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/juniordebug/internal/model"
)

// KeyRepository stores one provider API key per user.
type KeyRepository interface {
	// PutKey creates or replaces the user's key.
	PutKey(ctx context.Context, k *model.StoredKey) error
	// GetKey returns the user's key or errs.ErrNotFound.
	GetKey(ctx context.Context, userID uuid.UUID) (*model.StoredKey, error)
	// DeleteKey removes the user's key or returns errs.ErrNotFound.
	DeleteKey(ctx context.Context, userID uuid.UUID) error
}
