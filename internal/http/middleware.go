package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/rankfeed/internal/ledger"
)

const actorKey = "rankfeed.actor"

// IdentityMiddleware reads the caller identity from X-Identity and grants
// the admin role when X-Admin-Token matches adminToken. Identities are
// opaque; authenticating them is the job of whatever sits in front.
func IdentityMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		who := ledger.Actor{Identity: c.GetHeader("X-Identity")}
		if supplied := c.GetHeader("X-Admin-Token"); adminToken != "" && supplied != "" {
			who.Admin = subtle.ConstantTimeCompare([]byte(supplied), []byte(adminToken)) == 1
		}
		c.Set(actorKey, who)
		c.Next()
	}
}

func actor(c *gin.Context) ledger.Actor {
	if v, ok := c.Get(actorKey); ok {
		if who, ok := v.(ledger.Actor); ok {
			return who
		}
	}
	return ledger.Actor{}
}

// RequireIdentity rejects anonymous callers.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor(c).Identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: X-Identity header required"})
			return
		}
		c.Next()
	}
}

// AdminAuthMiddleware checks for a valid X-Admin-Token header. With no
// token configured every admin request is refused.
func AdminAuthMiddleware(requiredToken string) gin.HandlerFunc {
	if requiredToken == "" {
		slog.Warn("X_ADMIN_TOKEN not set; admin routes are disabled")
	}

	return func(c *gin.Context) {
		suppliedToken := c.GetHeader("X-Admin-Token")

		if suppliedToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Admin token required"})
			return
		}

		if !actor(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden: Invalid admin token"})
			return
		}

		c.Next()
	}
}

// SecurityHeadersMiddleware adds basic, sensible security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevents clickjacking
		c.Header("X-Frame-Options", "DENY")
		// Prevents MIME-type sniffing
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}
