package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aq2208/portfolio-api/internal/adapter/memory"
	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "h:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "h:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type stubIssuer struct{}

func (stubIssuer) Issue(p domain.Principal) (string, time.Duration, error) {
	return "token-for-" + p.Username, time.Hour, nil
}

func TestAuth_RegisterLoginMe(t *testing.T) {
	s := memory.NewStore()
	a := usecase.NewAuth(s, stubIssuer{}, plainHasher{})
	ctx := context.Background()

	u, err := a.Register(ctx, usecase.RegisterInput{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "s3cretpass",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.NotEqual(t, "s3cretpass", u.PasswordHash)

	_, err = a.Register(ctx, usecase.RegisterInput{Username: "carol", Email: "other@example.com", Password: "s3cretpass"})
	require.ErrorIs(t, err, domain.ErrConflict)
	_, err = a.Register(ctx, usecase.RegisterInput{Username: "carol2", Email: "CAROL@example.com", Password: "s3cretpass"})
	require.ErrorIs(t, err, domain.ErrConflict)

	out, err := a.Login(ctx, "carol", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, "token-for-carol", out.AccessToken)
	assert.Equal(t, time.Hour, out.ExpiresIn)

	_, err = a.Login(ctx, "carol", "wrong-password")
	require.ErrorIs(t, err, usecase.ErrInvalidCredentials)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = a.Login(ctx, "nobody", "s3cretpass")
	require.ErrorIs(t, err, usecase.ErrInvalidCredentials)

	me, err := a.Me(ctx, u.Principal())
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", me.Email)

	_, err = a.Me(ctx, domain.Principal{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuth_RegisterValidation(t *testing.T) {
	a := usecase.NewAuth(memory.NewStore(), stubIssuer{}, plainHasher{})
	cases := map[string]usecase.RegisterInput{
		"short username": {Username: "ab", Email: "a@b.co", Password: "longenough"},
		"bad email":      {Username: "dave", Email: "not-an-email", Password: "longenough"},
		"short password": {Username: "dave", Email: "d@b.co", Password: "short"},
		"unknown role":   {Username: "dave", Email: "d@b.co", Password: "longenough", Role: "root"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Register(context.Background(), in)
			require.ErrorIs(t, err, domain.ErrInvalid)
		})
	}
}
