package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Account is a user registered with the stub identity endpoint.
type Account struct {
	ID        uuid.UUID
	Email     string
	PwdHash   string // encoded argon2id hash
	Metadata  map[string]any
	CreatedAt time.Time
}

// User projects the account onto the client-side identity.
func (a Account) User() User {
	u := User{ID: a.ID.String(), Email: a.Email, Metadata: a.Metadata}
	if v, ok := a.Metadata["avatar_url"].(string); ok {
		u.AvatarURL = v
	}
	return u
}

// Tokens is an issued token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// StoredKey is a provider API key held by the backend.
type StoredKey struct {
	UserID    uuid.UUID
	Raw       string // never leaves the backend
	UpdatedAt time.Time
}
