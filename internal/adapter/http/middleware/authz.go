package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

const principalKey = "principal"

// TokenVerifier resolves a bearer token to the principal it was issued for.
type TokenVerifier interface {
	Verify(raw string) (domain.Principal, error)
}

type Authz struct {
	tokens TokenVerifier
}

func NewAuthz(tokens TokenVerifier) *Authz {
	return &Authz{tokens: tokens}
}

// Require checks the bearer token and, when roles are given, that the
// principal holds one of them. The principal is stored on the gin context.
func (a *Authz) Require(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		p, err := a.tokens.Verify(raw)
		if err != nil {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		if len(roles) > 0 && !hasRole(p, roles) {
			forbidden(c, "insufficient_scope", "missing required role")
			return
		}

		c.Set(principalKey, p)
		c.Next()
	}
}

// Principal returns the principal stored by Require. The zero value means
// the request is anonymous.
func Principal(c *gin.Context) domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(domain.Principal); ok {
			return p
		}
	}
	return domain.Principal{}
}

func hasRole(p domain.Principal, roles []domain.Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
