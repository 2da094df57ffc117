// Package auth authenticates the two kinds of callers this service has: the
// external scoring service, which presents a static shared secret, and
// merchants, who arrive through the embedded admin with a session token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderInternalAuth carries the shared secret on internal endpoints.
const HeaderInternalAuth = "x-internal-auth"

// Gate checks the internal shared secret.
type Gate struct {
	digest [sha256.Size]byte
	empty  bool
}

// NewGate creates a Gate for secret. An empty secret rejects every caller.
func NewGate(secret string) *Gate {
	return &Gate{digest: sha256.Sum256([]byte(secret)), empty: secret == ""}
}

// Check reports whether header matches the secret. Both sides are hashed
// first so the comparison time does not depend on the header's length.
func (g *Gate) Check(header string) bool {
	if g.empty {
		return false
	}
	got := sha256.Sum256([]byte(header))
	return subtle.ConstantTimeCompare(got[:], g.digest[:]) == 1
}

// RequireInternal rejects requests without the shared secret. The response
// never says which check failed.
func RequireInternal(g *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Check(c.GetHeader(HeaderInternalAuth)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
