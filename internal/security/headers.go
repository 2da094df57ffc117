// Package security provides HTTP hardening for the embedded admin pages and
// the outbound alert webhooks.
package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// FrameAncestors are the origins allowed to frame the embedded admin pages.
var FrameAncestors = []string{"https://admin.shopify.com", "https://*.myshopify.com"}

// HeadersMiddleware adds security headers to all responses. Pages must stay
// frameable by the merchant admin, so framing is restricted through CSP
// frame-ancestors instead of X-Frame-Options.
func HeadersMiddleware() gin.HandlerFunc {
	csp := "default-src 'self'; script-src 'self' 'unsafe-inline' https://cdn.shopify.com; " +
		"style-src 'self' 'unsafe-inline' https://cdn.shopify.com; img-src 'self' data: https://cdn.shopify.com; " +
		"connect-src 'self' ws: wss:; frame-ancestors " + strings.Join(FrameAncestors, " ")

	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", csp)
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// CORSMiddleware handles CORS for the merchant API. Origins may use a
// leading "*." wildcard in the host, e.g. "https://*.myshopify.com".
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	exact := make(map[string]bool)
	var suffixes []string
	for _, o := range allowedOrigins {
		if scheme, host, ok := strings.Cut(o, "://*."); ok {
			suffixes = append(suffixes, scheme+"://|."+host)
			continue
		}
		exact[o] = true
	}

	allowed := func(origin string) bool {
		if len(allowedOrigins) == 0 || exact["*"] || exact[origin] {
			return true
		}
		for _, s := range suffixes {
			prefix, suffix, _ := strings.Cut(s, "|")
			rest, ok := strings.CutPrefix(origin, prefix)
			if ok && strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) && !strings.ContainsAny(rest, "/:@") {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if allowed(origin) {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			// Wildcard origins never carry credentials.
			if !exact["*"] {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
