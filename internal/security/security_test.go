package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestJWT_IssueVerify(t *testing.T) {
	j := NewJWT(secret, "portfolio-api", "portfolio-web", time.Hour)
	p := domain.Principal{ID: "u-1", Username: "alice", Role: domain.RoleAdmin}

	raw, ttl, err := j.Issue(p)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	got, err := j.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestJWT_Rejects(t *testing.T) {
	j := NewJWT(secret, "portfolio-api", "portfolio-web", time.Hour)
	raw, _, err := j.Issue(domain.Principal{ID: "u-1", Username: "alice", Role: domain.RoleUser})
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		other := NewJWT("ffffffffffffffffffffffffffffffff", "portfolio-api", "portfolio-web", time.Hour)
		_, err := other.Verify(raw)
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})
	t.Run("other audience", func(t *testing.T) {
		other := NewJWT(secret, "portfolio-api", "admin-console", time.Hour)
		_, err := other.Verify(raw)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("expired", func(t *testing.T) {
		later := NewJWT(secret, "portfolio-api", "portfolio-web", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(raw)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := j.Verify("not.a.jwt")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
	t.Run("none alg", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
			"iss": "portfolio-api", "aud": "portfolio-web", "sub": "u-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		unsigned, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = j.Verify(unsigned)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestJWT_UnknownRoleIsUser(t *testing.T) {
	j := NewJWT(secret, "portfolio-api", "portfolio-web", time.Hour)
	raw, _, err := j.Issue(domain.Principal{ID: "u-2", Username: "mallory", Role: "superuser"})
	require.NoError(t, err)
	p, err := j.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, p.Role)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	require.NoError(t, h.Compare(hash, "correct horse"))
	require.Error(t, h.Compare(hash, "battery staple"))

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
}
