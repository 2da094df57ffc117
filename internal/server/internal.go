package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/sessions"
	"github.com/fraudpop/fraudpop/internal/settings"
	"github.com/fraudpop/fraudpop/internal/shopify"
	"github.com/fraudpop/fraudpop/internal/traces"
	"github.com/fraudpop/fraudpop/internal/validation"
)

type metafieldsSetRequest struct {
	Shop       string               `json:"shop"`
	Metafields []metafields.WriteOp `json:"metafields"`
}

// shopFromBody normalizes and validates a shop taken from a request body.
func shopFromBody(raw string) (string, error) {
	shop := shopify.NormalizeShop(raw)
	if errs := validation.Validate(
		validation.Required("shop", shop),
		validation.ValidShop("shop", shop),
	); errs != nil {
		return "", errs
	}
	return shop, nil
}

// metafieldsSetHandler forwards caller-supplied metafield inputs as one
// metafieldsSet batch on behalf of the shop's offline session.
func (s *Server) metafieldsSetHandler(c *gin.Context) {
	var req metafieldsSetRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	shop, err := shopFromBody(req.Shop)
	if err != nil {
		fail(c, err)
		return
	}
	if len(req.Metafields) == 0 {
		fail(c, validation.ValidationErrors{{Field: "metafields", Message: "must not be empty"}})
		return
	}
	for i := range req.Metafields {
		if req.Metafields[i].Namespace == "" {
			req.Metafields[i].Namespace = metafields.Namespace
		}
	}
	if err := metafields.Validate(req.Metafields); err != nil {
		fail(c, err)
		return
	}

	ctx := logging.WithShop(c.Request.Context(), shop)
	ctx, span := traces.StartSpan(ctx, "server.metafieldsSet", traces.Shop(shop), traces.FieldCount(len(req.Metafields)))
	client, err := s.clientFor(ctx, shop)
	if err != nil {
		traces.End(span, err)
		fail(c, err)
		return
	}
	res, err := s.upserter.SetRaw(ctx, client, req.Metafields)
	traces.End(span, err)
	if err != nil {
		fail(c, err)
		return
	}
	if !res.OK {
		userErrors(c, res)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": res})
}

type ingestRiskRequest struct {
	Shop string          `json:"shop"`
	Risk json.RawMessage `json:"risk"`
}

// ingestRiskHandler normalizes a scorer payload and writes it onto the order.
// The verdict is derived from the shop's thresholds when the scorer omits it.
// A payload that is not an object, or that carries neither a usable score nor
// a verdict, is rejected before the platform is called. After the write the
// shop's tag and hold follow-ups run; their failures are reported under
// "actions" without failing the request.
func (s *Server) ingestRiskHandler(c *gin.Context) {
	var req ingestRiskRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	shop, err := shopFromBody(req.Shop)
	if err != nil {
		fail(c, err)
		return
	}
	orderGID := c.GetString("orderGID")

	trimmed := bytes.TrimSpace(req.Risk)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		fail(c, validation.ValidationErrors{{Field: "risk", Message: "must be a JSON object"}})
		return
	}
	rec, warns := s.decoder.WithClock(s.now).Decode(trimmed)
	for _, w := range warns {
		metrics.RiskDecodeWarningsTotal.WithLabelValues(w.Field, w.Code).Inc()
	}
	if topLevelMalformed(warns) {
		fail(c, validation.ValidationErrors{{Field: "risk", Message: "must be a JSON object"}})
		return
	}
	if !rec.Present.Has(risk.HasScore) && !rec.Present.Has(risk.HasVerdict) {
		fail(c, validation.ValidationErrors{{Field: "risk", Message: "must carry a valid score or verdict"}})
		return
	}

	ctx := logging.WithShop(c.Request.Context(), shop)
	ctx, span := traces.StartSpan(ctx, "server.ingestRisk", traces.Shop(shop), traces.OwnerID(orderGID))
	var spanErr error
	defer func() { traces.End(span, spanErr) }()

	client, err := s.clientFor(ctx, shop)
	if err != nil {
		spanErr = err
		fail(c, err)
		return
	}

	if len(warns) > 0 {
		logging.L(ctx).Warn("risk payload coerced", "order", orderGID, "warnings", len(warns))
	}

	st, err := settings.Load(ctx, s.settings, shop)
	if err != nil {
		spanErr = err
		fail(c, err)
		return
	}
	if !rec.Present.Has(risk.HasVerdict) {
		rec.Verdict = st.Classify(rec.Score)
		rec.Present |= risk.HasVerdict
	}
	metrics.RiskVerdictsTotal.WithLabelValues(string(rec.Verdict)).Inc()

	res, err := s.upserter.Upsert(ctx, client, orderGID, risk.ScoringPatch(rec))
	if err != nil {
		spanErr = err
		fail(c, err)
		return
	}
	if !res.OK {
		userErrors(c, res)
		return
	}

	done := s.actions.Apply(ctx, client, st, orderGID, rec)

	s.realtimeHub.BroadcastRisk(shop, orderGID, rec)
	if s.notifier.HighRisk(st, orderGID, rec) {
		logging.L(ctx).Info("high risk alert queued", "order", orderGID)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "result": res, "risk": rec, "actions": done, "warnings": warnsOrEmpty(warns)})
}

// topLevelMalformed reports a payload that did not parse as an object at all,
// as opposed to a single field that failed to parse.
func topLevelMalformed(warns risk.Warnings) bool {
	for _, w := range warns {
		if w.Field == "" && w.Code == risk.CodeMalformedJSON {
			return true
		}
	}
	return false
}

func warnsOrEmpty(w risk.Warnings) risk.Warnings {
	if w == nil {
		return risk.Warnings{}
	}
	return w
}

type shopRequest struct {
	Shop string `json:"shop"`
}

// bootstrapHandler declares the metafield definitions on a shop.
func (s *Server) bootstrapHandler(c *gin.Context) {
	var req shopRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	shop, err := shopFromBody(req.Shop)
	if err != nil {
		fail(c, err)
		return
	}

	ctx := logging.WithShop(c.Request.Context(), shop)
	client, err := s.clientFor(ctx, shop)
	if err != nil {
		fail(c, err)
		return
	}
	report, err := s.bootstrapper.Run(ctx, client)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.sessions.MarkInitialized(ctx, shop); err != nil {
		logging.L(ctx).Warn("mark shop initialized", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "report": report})
}

type putSessionRequest struct {
	AccessToken string `json:"accessToken"`
	Scope       string `json:"scope"`
}

// putSessionHandler stores the offline token handed over after OAuth.
func (s *Server) putSessionHandler(c *gin.Context) {
	var req putSessionRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if errs := validation.Validate(validation.Required("accessToken", req.AccessToken)); errs != nil {
		fail(c, errs)
		return
	}

	shop := c.GetString("shop")
	unlock, err := s.shopLocks.Lock(c.Request.Context(), shop)
	if err != nil {
		fail(c, err)
		return
	}
	defer unlock()

	now := s.now().UTC()
	sess := &sessions.Session{
		ID:          sessions.OfflineID(shop),
		Shop:        shop,
		AccessToken: req.AccessToken,
		Scope:       req.Scope,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// A reinstall keeps the initialized flag only if the token is unchanged.
	if prev, err := s.sessions.Get(c.Request.Context(), shop); err == nil {
		sess.CreatedAt = prev.CreatedAt
		sess.MetafieldsInitialized = prev.MetafieldsInitialized && prev.AccessToken == req.AccessToken
	} else if !errors.Is(err, sessions.ErrNotFound) {
		fail(c, err)
		return
	}

	if err := s.sessions.Save(c.Request.Context(), sess); err != nil {
		fail(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("offline session stored", "shop", shop)
	c.JSON(http.StatusOK, gin.H{"ok": true, "session": sess})
}

// deleteSessionHandler forgets a shop's offline token, e.g. on uninstall.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	shop := c.GetString("shop")
	if err := s.sessions.Delete(c.Request.Context(), shop); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		fail(c, err)
		return
	}
	logging.L(c.Request.Context()).Info("offline session deleted", "shop", shop)
	c.JSON(http.StatusOK, gin.H{"ok": true, "deletedAt": s.now().UTC().Format(time.RFC3339)})
}
