package stubapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
)

type authErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type credentialsBody struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type userBody struct {
	ID           string         `json:"id"`
	Aud          string         `json:"aud"`
	Role         string         `json:"role"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

type tokenBody struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userBody `json:"user"`
}

// writeAuthError writes GoTrue's error shape.
func writeAuthError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, authErrorBody{Error: code, ErrorDescription: desc})
}

func toUserBody(a model.Account) userBody {
	md := a.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return userBody{
		ID:           a.ID.String(),
		Aud:          "authenticated",
		Role:         "authenticated",
		Email:        a.Email,
		UserMetadata: md,
		CreatedAt:    a.CreatedAt.UTC(),
	}
}

func toTokenBody(t model.Tokens, a model.Account, now time.Time) tokenBody {
	return tokenBody{
		AccessToken:  t.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(t.ExpiresAt.Sub(now).Round(time.Second) / time.Second),
		ExpiresAt:    t.ExpiresAt.Unix(),
		RefreshToken: t.RefreshToken,
		User:         toUserBody(a),
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in credentialsBody
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	tok, acc, err := s.auth.SignUp(r.Context(), in.Email, in.Password, in.Data)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrAlreadyExists):
		writeAuthError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	case errors.Is(err, errs.ErrValidation):
		writeAuthError(w, http.StatusUnprocessableEntity, "validation_failed", validationText(err))
		return
	default:
		s.log.Error("signup", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "Database error saving new user")
		return
	}
	// accounts are confirmed immediately, so redirect_to is only logged
	s.log.Info("signup",
		zap.String("user_id", acc.ID.String()),
		zap.String("redirect_to", r.URL.Query().Get("redirect_to")),
	)
	writeJSON(w, http.StatusOK, toTokenBody(tok, acc, time.Now()))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		s.passwordGrant(w, r)
	case "refresh_token":
		s.refreshGrant(w, r)
	default:
		writeAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type "+grant)
	}
}

func (s *Server) passwordGrant(w http.ResponseWriter, r *http.Request) {
	var in credentialsBody
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	tok, acc, err := s.auth.SignInWithPassword(r.Context(), in.Email, in.Password, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toTokenBody(tok, acc, time.Now()))
	case errors.Is(err, errs.ErrRateLimited):
		s.metrics.RecordRateLimited("login")
		writeAuthError(w, http.StatusTooManyRequests, "over_request_rate_limit", "Request rate limit reached")
	case errors.Is(err, errs.ErrUnauthorized):
		writeAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid login credentials")
	default:
		s.log.Error("password grant", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "sign in failed")
	}
}

func (s *Server) refreshGrant(w http.ResponseWriter, r *http.Request) {
	var in refreshBody
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON")
		return
	}
	tok, acc, err := s.auth.Refresh(r.Context(), in.RefreshToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toTokenBody(tok, acc, time.Now()))
	case errors.Is(err, errs.ErrUnauthorized):
		writeAuthError(w, http.StatusBadRequest, "invalid_grant", "Invalid Refresh Token: Refresh Token Not Found")
	default:
		s.log.Error("refresh grant", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "refresh failed")
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	acc, err := s.auth.Account(r.Context(), c.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toUserBody(acc))
	case errors.Is(err, errs.ErrNotFound):
		writeAuthError(w, http.StatusNotFound, "user_not_found", "User not found")
	default:
		s.log.Error("get user", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "failed to load user")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	if err := s.auth.SignOut(r.Context(), c.UserID); err != nil {
		s.log.Error("logout", zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validationText(err error) string {
	msg := strings.TrimPrefix(err.Error(), errs.ErrValidation.Error())
	msg = strings.TrimLeft(msg, ": ")
	if msg == "" {
		return "invalid input"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
