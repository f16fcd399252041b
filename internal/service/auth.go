// Package service contains the stub backend's application services.
package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/juniordebug/internal/crypto"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/repository"
)

// MinPasswordLen mirrors GoTrue's default.
const MinPasswordLen = 6

// Claims are the access token claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ThrottleFunc reports whether a password attempt for key may proceed.
type ThrottleFunc func(key string) bool

// AuthService implements the dev identity endpoint.
type AuthService interface {
	// SignUp creates an account and signs it in.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (model.Tokens, model.Account, error)
	// SignInWithPassword applies throttling and authenticates the account.
	SignInWithPassword(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error)
	// Refresh rotates a refresh token.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, model.Account, error)
	// Account loads the account behind an access token subject.
	Account(ctx context.Context, id uuid.UUID) (model.Account, error)
	// SignOut revokes all refresh tokens of the account.
	SignOut(ctx context.Context, id uuid.UUID) error
}

// AuthServiceImpl is the AuthService over the repositories.
type AuthServiceImpl struct {
	users     repository.UserRepository
	refresh   repository.RefreshTokenRepository
	signKey   []byte
	accessTTL time.Duration
	allow     ThrottleFunc
	params    pkgcrypto.Params
	now       func() time.Time
}

// NewAuthService constructs AuthService. allow may be nil.
func NewAuthService(users repository.UserRepository, refresh repository.RefreshTokenRepository, signKey []byte, accessTTL time.Duration, allow ThrottleFunc) *AuthServiceImpl {
	if allow == nil {
		allow = func(string) bool { return true }
	}
	return &AuthServiceImpl{
		users:     users,
		refresh:   refresh,
		signKey:   signKey,
		accessTTL: accessTTL,
		allow:     allow,
		params:    pkgcrypto.DefaultParams,
		now:       time.Now,
	}
}

// WithHashParams overrides the password hashing cost.
func (s *AuthServiceImpl) WithHashParams(p pkgcrypto.Params) *AuthServiceImpl {
	s.params = p
	return s
}

// SignUp creates a confirmed account.
func (s *AuthServiceImpl) SignUp(ctx context.Context, email, password string, metadata map[string]any) (model.Tokens, model.Account, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return model.Tokens{}, model.Account{}, fmt.Errorf("%w: invalid email", errs.ErrValidation)
	}
	if len(password) < MinPasswordLen {
		return model.Tokens{}, model.Account{}, fmt.Errorf("%w: password should be at least %d characters", errs.ErrValidation, MinPasswordLen)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	hash, err := pkgcrypto.HashPassword(s.params, password)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	a := &model.Account{ID: uid, Email: email, PwdHash: hash, Metadata: metadata, CreatedAt: s.now()}
	if err := s.users.Create(ctx, a); err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	tok, err := s.issue(ctx, *a)
	return tok, *a, err
}

// SignInWithPassword authenticates with throttling by (email, ip).
func (s *AuthServiceImpl) SignInWithPassword(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !s.allow(email + "|" + ip) {
		return model.Tokens{}, model.Account{}, errs.ErrRateLimited
	}
	a, err := s.users.GetByEmail(ctx, email)
	if err != nil || !pkgcrypto.VerifyPassword(password, a.PwdHash) {
		// unknown email and wrong password look the same
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}
	tok, err := s.issue(ctx, *a)
	return tok, *a, err
}

// Refresh consumes refreshToken and issues a new pair.
func (s *AuthServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, model.Account, error) {
	if refreshToken == "" {
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}
	uid, err := s.refresh.ConsumeRefresh(ctx, refreshToken)
	if err != nil {
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}
	a, err := s.users.GetByID(ctx, uid)
	if err != nil {
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}
	tok, err := s.issue(ctx, *a)
	return tok, *a, err
}

// Account loads an account by id.
func (s *AuthServiceImpl) Account(ctx context.Context, id uuid.UUID) (model.Account, error) {
	a, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	return *a, nil
}

// SignOut revokes refresh tokens.
func (s *AuthServiceImpl) SignOut(ctx context.Context, id uuid.UUID) error {
	return s.refresh.RevokeRefresh(ctx, id)
}

func (s *AuthServiceImpl) issue(ctx context.Context, a model.Account) (model.Tokens, error) {
	access, exp, err := s.issueAccessToken(a)
	if err != nil {
		return model.Tokens{}, err
	}
	raw, err := pkgcrypto.RandBytes(32)
	if err != nil {
		return model.Tokens{}, err
	}
	rt := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.refresh.SaveRefresh(ctx, rt, a.ID); err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, RefreshToken: rt, ExpiresAt: exp}, nil
}

// issueAccessToken creates a signed HS256 JWT for the account.
func (s *AuthServiceImpl) issueAccessToken(a model.Account) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Email: a.Email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
