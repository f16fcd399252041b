package stubapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/juniordebug/internal/service"
)

// ClockSkew is tolerated on exp/nbf/iat.
const ClockSkew = 30 * time.Second

// verifyToken checks an HS256 access token and returns its subject.
func verifyToken(tok string, signKey []byte) (uuid.UUID, *service.Claims, error) {
	var claims service.Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	}, jwt.WithLeeway(ClockSkew))
	if err != nil || !parsed.Valid {
		return uuid.Nil, nil, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, errors.New("bad subject")
	}
	return id, &claims, nil
}

// bearerToken extracts "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	for _, v := range r.Header.Values("Authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
