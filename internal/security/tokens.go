package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

var ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)

// JWT issues and verifies HS256 access tokens carrying the principal in
// sub, username and role.
type JWT struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

func NewJWT(secret, issuer, audience string, ttl time.Duration) *JWT {
	return &JWT{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		leeway:   30 * time.Second, // small clock skew
		now:      time.Now,
	}
}

func (j *JWT) Issue(p domain.Principal) (string, time.Duration, error) {
	now := j.now()
	claims := jwt.MapClaims{
		"iss":      j.issuer,
		"aud":      j.audience,
		"sub":      p.ID,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      now.Add(j.ttl).Unix(),
		"username": p.Username,
		"role":     string(p.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, j.ttl, nil
}

// Verify checks signature, issuer, audience and expiry and returns the
// principal the token was issued for.
func (j *JWT) Verify(raw string) (domain.Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	},
		jwt.WithLeeway(j.leeway),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !token.Valid {
		return domain.Principal{}, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if sub == "" {
		return domain.Principal{}, ErrInvalidToken
	}
	p := domain.Principal{ID: sub, Username: username, Role: domain.Role(role)}
	if p.Role != domain.RoleAdmin {
		p.Role = domain.RoleUser
	}
	return p, nil
}

var _ usecase.TokenIssuer = (*JWT)(nil)
