package stubapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/juniordebug/internal/repository/memory"
	"github.com/and161185/juniordebug/internal/service"
)

func TestCallerFrom(t *testing.T) {
	t.Parallel()

	_, ok := callerFrom(context.Background())
	require.False(t, ok)
	_, ok = callerFrom(withCaller(context.Background(), caller{Email: "x@example.com"}))
	require.False(t, ok, "nil subject is not a caller")

	want := caller{UserID: uuid.Must(uuid.NewV4()), Email: "dev@example.com"}
	got, ok := callerFrom(withCaller(context.Background(), want))
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestRequireAuth_AttachesCaller(t *testing.T) {
	t.Parallel()

	st := memory.New()
	authSvc := service.NewAuthService(st, st, []byte(testSecret), time.Hour, nil).WithHashParams(fastHash)
	s := New(authSvc, service.NewKeyService(st), service.NewEchoAnalyzer(), Options{SignKey: []byte(testSecret)}, zaptest.NewLogger(t))
	tok, acc, err := authSvc.SignUp(context.Background(), "ctx@example.com", "secret1", nil)
	require.NoError(t, err)

	var got caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = callerFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec := httptest.NewRecorder()
	s.requireAuth(backendUnauthorized)(next).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, caller{UserID: acc.ID, Email: "ctx@example.com"}, got)
}
