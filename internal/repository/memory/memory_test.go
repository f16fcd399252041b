package memory

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
)

func TestStore_Accounts(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	a := &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "Dev@Example.com", PwdHash: "h"}

	require.NoError(t, s.Create(ctx, a))
	require.ErrorIs(t, s.Create(ctx, &model.Account{ID: uuid.Must(uuid.NewV4()), Email: "dev@example.com"}), errs.ErrAlreadyExists)

	got, err := s.GetByEmail(ctx, " dev@EXAMPLE.com ")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.False(t, got.CreatedAt.IsZero())

	got.Email = "mutated"
	again, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "Dev@Example.com", again.Email)

	_, err = s.GetByID(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_RefreshTokensAreSingleUse(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	u1, u2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	require.NoError(t, s.SaveRefresh(ctx, "a", u1))
	require.NoError(t, s.SaveRefresh(ctx, "b", u1))
	require.NoError(t, s.SaveRefresh(ctx, "c", u2))
	require.ErrorIs(t, s.SaveRefresh(ctx, "a", u2), errs.ErrAlreadyExists)

	id, err := s.ConsumeRefresh(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, u1, id)
	_, err = s.ConsumeRefresh(ctx, "a")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.RevokeRefresh(ctx, u1))
	_, err = s.ConsumeRefresh(ctx, "b")
	require.ErrorIs(t, err, errs.ErrNotFound)
	id, err = s.ConsumeRefresh(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, u2, id)
}

func TestStore_Keys(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())

	_, err := s.GetKey(ctx, uid)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.ErrorIs(t, s.DeleteKey(ctx, uid), errs.ErrNotFound)

	require.NoError(t, s.PutKey(ctx, &model.StoredKey{UserID: uid, Raw: "sk-1"}))
	require.NoError(t, s.PutKey(ctx, &model.StoredKey{UserID: uid, Raw: "sk-2"}))
	k, err := s.GetKey(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, "sk-2", k.Raw)
	require.False(t, k.UpdatedAt.IsZero())

	require.NoError(t, s.DeleteKey(ctx, uid))
	_, err = s.GetKey(ctx, uid)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()
	require.ErrorIs(t, s.PutKey(ctx, &model.StoredKey{}), context.Canceled)
	_, err := s.GetByEmail(ctx, "x")
	require.ErrorIs(t, err, context.Canceled)
}
