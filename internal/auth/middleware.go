package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// RoleKey is the gin context key holding the authenticated Role.
const RoleKey = "auth_role"

// GinAuth admits requests carrying a bearer token with one of roles. A
// missing or unknown token gets 401, a token of another role 403.
func (a *Authenticator) GinAuth(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		role, err := a.Authenticate(bearer(c.Request))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="clogs"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !slices.Contains(roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not allowed for this endpoint"})
			return
		}

		c.Set(RoleKey, role)
		c.Next()
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
