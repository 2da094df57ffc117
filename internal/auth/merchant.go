package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/sessions"
)

const (
	// ContextKeyMerchant holds the *Merchant of an authenticated request.
	ContextKeyMerchant = "merchant"
	// ContextKeySession holds the shop's *sessions.Session.
	ContextKeySession = "offlineSession"
)

// Initializer runs once per shop, on the first merchant request after the
// offline session is stored. It declares the metafield definitions and marks
// the session initialized in the store.
type Initializer func(ctx context.Context, s *sessions.Session) error

// RequireMerchant authenticates the session token, loads the shop's offline
// session, and runs init when the shop has not been initialized yet. An init
// failure is logged and retried on the next request; it never blocks the page.
func RequireMerchant(v *TokenVerifier, store sessions.Store, init Initializer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("id_token")
		}

		merchant, err := v.Verify(token)
		if err != nil {
			logging.L(c.Request.Context()).Debug("session token rejected", "error", err)
			// Tells the embedded admin to fetch a fresh token and retry.
			c.Header("X-Shopify-Retry-Invalid-Session-Request", "1")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}

		ctx := logging.WithShop(c.Request.Context(), merchant.Shop)
		c.Request = c.Request.WithContext(ctx)

		sess, err := store.Get(ctx, merchant.Shop)
		if errors.Is(err, sessions.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "no_offline_session"})
			return
		}
		if err != nil {
			logging.L(ctx).Error("load offline session", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "exception"})
			return
		}

		if !sess.MetafieldsInitialized && init != nil {
			if err := init(ctx, sess); err != nil {
				logging.L(ctx).Warn("shop initialization failed", "error", err)
			} else {
				sess.MetafieldsInitialized = true
			}
		}

		c.Set(ContextKeyMerchant, merchant)
		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// MerchantFrom returns the authenticated merchant, if any.
func MerchantFrom(c *gin.Context) (*Merchant, bool) {
	v, ok := c.Get(ContextKeyMerchant)
	if !ok {
		return nil, false
	}
	m, ok := v.(*Merchant)
	return m, ok
}

// SessionFrom returns the offline session loaded by RequireMerchant.
func SessionFrom(c *gin.Context) (*sessions.Session, bool) {
	v, ok := c.Get(ContextKeySession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*sessions.Session)
	return s, ok
}
