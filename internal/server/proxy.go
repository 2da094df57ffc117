package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/proxysig"
	"github.com/fraudpop/fraudpop/internal/shopify"
)

func (s *Server) captureAliveHandler(c *gin.Context) {
	c.String(http.StatusOK, "FraudPop proxy is alive.")
}

// captureHandler accepts storefront beacons relayed by the app proxy. The
// query string carries the proxy signature; the body is echoed back.
func (s *Server) captureHandler(c *gin.Context) {
	params := c.Request.URL.Query()
	if !proxysig.Verify(params, s.cfg.ShopifyAPISecret) {
		metrics.ProxySignaturesTotal.WithLabelValues("invalid").Inc()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": codeUnauthorized})
		return
	}
	metrics.ProxySignaturesTotal.WithLabelValues("valid").Inc()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, err)
		return
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		body = map[string]any{}
	}

	shop := shopify.NormalizeShop(params.Get("shop"))
	logging.L(logging.WithShop(c.Request.Context(), shop)).Debug("proxy capture", "bytes", len(raw))
	c.JSON(http.StatusOK, gin.H{"ok": true, "shop": shop, "body": body})
}
