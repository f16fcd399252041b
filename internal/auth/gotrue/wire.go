package gotrue

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/and161185/juniordebug/internal/auth"
	"github.com/and161185/juniordebug/internal/model"
)

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userResponse) toModel() model.User {
	out := model.User{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
	if v, ok := u.UserMetadata["avatar_url"].(string); ok {
		out.AvatarURL = v
	}
	return out
}

type tokenResponse struct {
	AccessToken   string       `json:"access_token"`
	TokenType     string       `json:"token_type"`
	ExpiresIn     int64        `json:"expires_in"`
	ExpiresAt     int64        `json:"expires_at"`
	RefreshToken  string       `json:"refresh_token"`
	ProviderToken string       `json:"provider_token"`
	User          userResponse `json:"user"`
}

// session converts the response, resolving the expiry from expires_at,
// then expires_in, then the token's own exp claim.
func (r tokenResponse) session(now time.Time) *model.Session {
	s := &model.Session{
		AccessToken:   r.AccessToken,
		RefreshToken:  r.RefreshToken,
		TokenType:     r.TokenType,
		ProviderToken: r.ProviderToken,
		User:          r.User.toModel(),
	}
	if s.TokenType == "" {
		s.TokenType = "bearer"
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(r.AccessToken)
	}
	return s
}

// signupResponse is either a token response (auto-confirm) or a bare user.
type signupResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeError(status int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	msg := firstNonEmpty(er.ErrorDescription, er.Msg, er.Message, er.Error)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &auth.Error{
		Status:  status,
		Code:    firstNonEmpty(er.ErrorCode, er.Error),
		Message: msg,
	}
}

// CallbackParams merges the fragment and query parameters of an auth
// callback URL. Fragment values win.
func CallbackParams(u *url.URL) url.Values {
	out := url.Values{}
	if u == nil {
		return out
	}
	if frag, err := url.ParseQuery(u.Fragment); err == nil {
		for k, v := range frag {
			out[k] = v
		}
	}
	for k, v := range u.Query() {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
