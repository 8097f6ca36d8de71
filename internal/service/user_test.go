package service

import (
	"context"
	"testing"
	"time"

	"chatterlite/internal/auth"
	"chatterlite/internal/config"
	"chatterlite/internal/store"

	"github.com/stretchr/testify/require"
)

func newUserService(cfg config.Config) *UserService {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "secret"
	}
	cfg.AccessTokenTTLMinutes = 15
	cfg.RefreshTokenTTLDays = 7
	return NewUserService(store.NewMemory(), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(config.Config{})

	u, err := svc.Register(ctx, RegisterInput{Email: "alice@example.com", Password: "secret1", FullName: "Alice"})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	_, err = svc.Register(ctx, RegisterInput{Email: "ALICE@example.com", Password: "secret1", FullName: "Alice 2"})
	require.ErrorIs(t, err, ErrEmailTaken)

	sess, err := svc.Login(ctx, "Alice@Example.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, u.ID, sess.User.ID)
	claims, err := auth.ParseAccessToken(sess.AccessToken, "secret")
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "secret1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := newUserService(config.Config{})
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"bad email", RegisterInput{Email: "nope", Password: "secret1", FullName: "A"}},
		{"short password", RegisterInput{Email: "a@example.com", Password: "123", FullName: "A"}},
		{"missing name", RegisterInput{Email: "a@example.com", Password: "secret1", FullName: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(config.Config{})
	_, err := svc.Register(ctx, RegisterInput{Email: "bob@example.com", Password: "secret1", FullName: "Bob"})
	require.NoError(t, err)
	sess, err := svc.Login(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials, "a consumed token must not be reusable")

	require.NoError(t, svc.Logout(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, svc.Logout(ctx, "unknown"))
}

func TestRefreshExpired(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(config.Config{})
	_, err := svc.Register(ctx, RegisterInput{Email: "c@example.com", Password: "secret1", FullName: "C"})
	require.NoError(t, err)
	sess, err := svc.Login(ctx, "c@example.com", "secret1")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = svc.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthDisabled(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(config.Config{AuthDisabled: true})

	_, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "secret1", FullName: "A"})
	require.ErrorIs(t, err, ErrAuthDisabled)
	_, err = svc.Login(ctx, "a@example.com", "secret1")
	require.ErrorIs(t, err, ErrAuthDisabled)
	_, err = svc.Refresh(ctx, "x")
	require.ErrorIs(t, err, ErrAuthDisabled)
}

func TestSyncAndSearch(t *testing.T) {
	ctx := context.Background()
	svc := newUserService(config.Config{})

	_, err := svc.Sync(ctx, SyncInput{ID: "ext-1", Email: "dana@example.com"})
	require.ErrorIs(t, err, ErrValidation)

	u, err := svc.Sync(ctx, SyncInput{ID: "ext-1", Email: "dana@example.com", FullName: "Dana"})
	require.NoError(t, err)
	require.Equal(t, "ext-1", u.ID)

	_, err = svc.Sync(ctx, SyncInput{ID: "ext-1", Email: "dana@example.com", FullName: "Dana Scully"})
	require.NoError(t, err)
	got, err := svc.Get(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, "Dana Scully", got.FullName)

	found, err := svc.Search(ctx, "scul")
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = svc.Search(ctx, "zzz")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Empty(t, found)

	_, err = svc.Search(ctx, " ")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.SetOnline(ctx, "ext-1", true))
	got, err = svc.Get(ctx, "ext-1")
	require.NoError(t, err)
	require.True(t, got.IsOnline)
}
