package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/juniordebug/internal/crypto"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/repository/memory"
)

var fastHash = pkgcrypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

type fakeThrottle struct {
	allow bool
	keys  []string
}

func (f *fakeThrottle) Allow(key string) bool {
	f.keys = append(f.keys, key)
	return f.allow
}

func newAuth(t *testing.T, ttl time.Duration, th ThrottleFunc) (*AuthServiceImpl, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewAuthService(st, st, []byte("secret"), ttl, th).WithHashParams(fastHash), st
}

func TestAuth_SignUp(t *testing.T) {
	t.Parallel()
	s, st := newAuth(t, time.Minute, nil)
	ctx := context.Background()

	if _, _, err := s.SignUp(ctx, "not-an-email", "secret1", nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on bad email")
	}
	if _, _, err := s.SignUp(ctx, "a@b.c", "123", nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on short password")
	}

	tok, acc, err := s.SignUp(ctx, "a@b.c", "secret1", map[string]any{"avatar_url": "https://x/y.png"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", tok)
	}
	if acc.PwdHash == "secret1" || acc.PwdHash == "" {
		t.Fatalf("password stored in clear or not at all")
	}
	if acc.User().AvatarURL != "https://x/y.png" {
		t.Fatalf("avatar not projected: %+v", acc.User())
	}
	if _, err := st.GetByEmail(ctx, "A@B.C"); err != nil {
		t.Fatalf("account not stored: %v", err)
	}

	if _, _, err := s.SignUp(ctx, "A@b.c", "secret2", nil); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate email, got %v", err)
	}
}

func TestAuth_SignInWithPassword_ThrottleAndCreds(t *testing.T) {
	t.Parallel()

	th := &fakeThrottle{allow: true}
	s, _ := newAuth(t, 2*time.Minute, th.Allow)
	ctx := context.Background()
	_, acc, err := s.SignUp(ctx, "alice@example.com", "correct", nil)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	th.allow = false
	if _, _, err := s.SignInWithPassword(ctx, "alice@example.com", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if th.keys[0] != "alice@example.com|1.2.3.4" {
		t.Fatalf("throttle key = %q", th.keys[0])
	}
	th.allow = true

	if _, _, err := s.SignInWithPassword(ctx, "nope@example.com", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}
	if _, _, err := s.SignInWithPassword(ctx, "alice@example.com", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, got, err := s.SignInWithPassword(ctx, " Alice@Example.com ", "correct", "127.0.0.1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if got.ID != acc.ID {
		t.Fatalf("wrong account: %v", got.ID)
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("token already expired: %v", tok.ExpiresAt)
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(tok.AccessToken, &claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil }); err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.Subject != acc.ID.String() || claims.Email != "alice@example.com" {
		t.Fatalf("bad claims: %+v", claims)
	}
}

func TestAuth_RefreshRotates(t *testing.T) {
	t.Parallel()

	s, _ := newAuth(t, time.Minute, nil)
	ctx := context.Background()
	first, acc, err := s.SignUp(ctx, "r@example.com", "secret1", nil)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	second, got, err := s.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.ID != acc.ID || second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh did not rotate: %+v", second)
	}
	if _, _, err := s.Refresh(ctx, first.RefreshToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("reused refresh token accepted: %v", err)
	}
	if _, _, err := s.Refresh(ctx, ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("empty refresh token accepted: %v", err)
	}

	if err := s.SignOut(ctx, acc.ID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, _, err := s.Refresh(ctx, second.RefreshToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("refresh after sign-out accepted: %v", err)
	}
}

func TestAuth_Account(t *testing.T) {
	t.Parallel()

	s, _ := newAuth(t, time.Minute, nil)
	ctx := context.Background()
	_, acc, err := s.SignUp(ctx, "who@example.com", "secret1", nil)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	got, err := s.Account(ctx, acc.ID)
	if err != nil || got.Email != "who@example.com" {
		t.Fatalf("Account: %+v %v", got, err)
	}
	if _, err := s.Account(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
