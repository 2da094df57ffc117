package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/notify"
	"github.com/fraudpop/fraudpop/internal/projections"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/security"
	"github.com/fraudpop/fraudpop/internal/settings"
	"github.com/fraudpop/fraudpop/internal/validation"
)

// Recheck windows offered with merchant feedback, in days.
const (
	recheckShort = 15
	recheckLong  = 30
)

func (s *Server) dashboardHandler(c *gin.Context) {
	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	d, err := s.projections.Dashboard(c.Request.Context(), client, s.now())
	if err != nil {
		fail(c, err)
		return
	}
	s.render(c, pageDashboard, shop, d)
}

func (s *Server) alertsHandler(c *gin.Context) {
	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	q := projections.ParseAlertQuery(c.Query("days"), c.Query("verdict"))
	a, err := s.projections.Alerts(c.Request.Context(), client, q, s.now())
	if err != nil {
		fail(c, err)
		return
	}
	s.render(c, pageAlerts, shop, a)
}

func (s *Server) evidenceHandler(c *gin.Context) {
	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	d, err := s.projections.Evidence(c.Request.Context(), client, shop, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	s.render(c, pageEvidence, shop, d)
}

func (s *Server) orderHandler(c *gin.Context) {
	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	d, err := s.projections.Order(c.Request.Context(), client, shop, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	s.render(c, pageOrder, shop, d)
}

type feedbackRequest struct {
	Label       string `json:"label"`
	Note        string `json:"note"`
	RecheckDays int    `json:"recheckDays"`
}

// feedbackHandler records the merchant's review of an order. Only the
// feedback metafields are written.
func (s *Server) feedbackHandler(c *gin.Context) {
	var req feedbackRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}
	if req.RecheckDays == 0 {
		req.RecheckDays = recheckShort
	}
	label := strings.ToLower(strings.TrimSpace(req.Label))
	if errs := validation.Validate(
		validation.OneOf("label", label, risk.FeedbackSafe, risk.FeedbackCaution),
		validation.MaxLength("note", strings.TrimSpace(req.Note), validation.MaxNoteLength),
		func() *validation.ValidationError {
			if req.RecheckDays != recheckShort && req.RecheckDays != recheckLong {
				return &validation.ValidationError{Field: "recheckDays", Message: "must be 15 or 30"}
			}
			return nil
		},
	); errs != nil {
		fail(c, errs)
		return
	}

	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	orderGID := c.GetString("orderGID")
	note := validation.SanitizeString(req.Note, validation.MaxNoteLength)
	nextCheckAt := s.now().UTC().Add(time.Duration(req.RecheckDays) * 24 * time.Hour)

	res, err := s.upserter.Upsert(c.Request.Context(), client, orderGID, risk.FeedbackPatch(label, note, nextCheckAt))
	if err != nil {
		fail(c, err)
		return
	}
	if !res.OK {
		userErrors(c, res)
		return
	}

	s.realtimeHub.BroadcastFeedback(shop, orderGID, label, note, nextCheckAt)
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"result": res,
		"feedback": gin.H{
			"label":       label,
			"note":        note,
			"nextCheckAt": nextCheckAt.Format(time.RFC3339),
		},
	})
}

// settingsView is the settings page model.
type settingsView struct {
	Settings         settings.Settings  `json:"settings"`
	Definitions      *metafields.Status `json:"definitions"`
	WebhookSecretSet bool               `json:"webhookSecretSet"`
	WebhookSecret    string             `json:"webhookSecret,omitempty"`
}

func (s *Server) settingsHandler(c *gin.Context) {
	client, shop, ok := s.merchantClient(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	st, err := settings.Load(ctx, s.settings, shop)
	if err != nil {
		fail(c, err)
		return
	}

	view := settingsView{Settings: st, WebhookSecretSet: st.AlertWebhookSecret != ""}
	// The page stays usable when the platform is unreachable.
	if status, err := metafields.DefinitionStatus(ctx, client); err != nil {
		logging.L(ctx).Warn("definition status unavailable", "error", err)
	} else {
		view.Definitions = status
	}
	s.render(c, pageSettings, shop, view)
}

type saveSettingsRequest struct {
	HighThreshold       *int    `json:"highThreshold"`
	MediumThreshold     *int    `json:"mediumThreshold"`
	AutoHoldHigh        *bool   `json:"autoHoldHigh"`
	AutoTagging         *bool   `json:"autoTagging"`
	TagHigh             *string `json:"tagHigh"`
	TagMedium           *string `json:"tagMedium"`
	TagLow              *string `json:"tagLow"`
	AlertWebhookURL     *string `json:"alertWebhookUrl"`
	RotateWebhookSecret bool    `json:"rotateWebhookSecret"`
}

// saveSettingsHandler applies a partial settings update. Setting a new
// webhook URL, or asking for rotation, issues a fresh signing secret which
// is returned once.
func (s *Server) saveSettingsHandler(c *gin.Context) {
	sess, ok := s.merchantSession(c)
	if !ok {
		return
	}
	shop := sess.Shop
	ctx := c.Request.Context()

	var req saveSettingsRequest
	if err := bindJSON(c, &req); err != nil {
		fail(c, err)
		return
	}

	st, err := settings.Load(ctx, s.settings, shop)
	if err != nil {
		fail(c, err)
		return
	}
	prevURL := st.AlertWebhookURL

	if req.HighThreshold != nil {
		st.HighThreshold = *req.HighThreshold
	}
	if req.MediumThreshold != nil {
		st.MediumThreshold = *req.MediumThreshold
	}
	if req.AutoHoldHigh != nil {
		st.AutoHoldHigh = *req.AutoHoldHigh
	}
	if req.AutoTagging != nil {
		st.AutoTagging = *req.AutoTagging
	}
	for _, t := range []struct {
		in  *string
		dst *string
	}{{req.TagHigh, &st.TagHigh}, {req.TagMedium, &st.TagMedium}, {req.TagLow, &st.TagLow}} {
		if t.in != nil {
			*t.dst = strings.TrimSpace(*t.in)
		}
	}
	if req.AlertWebhookURL != nil {
		st.AlertWebhookURL = strings.TrimSpace(*req.AlertWebhookURL)
	}
	if err := st.Validate(); err != nil {
		fail(c, err)
		return
	}

	var issued string
	switch {
	case st.AlertWebhookURL == "":
		st.AlertWebhookSecret = ""
	case st.AlertWebhookURL != prevURL || req.RotateWebhookSecret || st.AlertWebhookSecret == "":
		if st.AlertWebhookURL != prevURL {
			if err := security.ValidateEndpointURL(ctx, st.AlertWebhookURL, !s.cfg.IsProduction()); err != nil {
				fail(c, &settings.ValidationError{Field: "alertWebhookUrl", Message: err.Error()})
				return
			}
		}
		secret, err := notify.NewSecret()
		if err != nil {
			fail(c, err)
			return
		}
		st.AlertWebhookSecret = secret
		issued = secret
	}

	st.Shop = shop
	st.UpdatedAt = s.now().UTC()
	if err := s.settings.Save(ctx, &st); err != nil {
		fail(c, err)
		return
	}

	logging.L(ctx).Info("settings saved",
		"high", st.HighThreshold, "medium", st.MediumThreshold, "webhook", st.AlertWebhookURL != "")
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": settingsView{
		Settings:         st,
		WebhookSecretSet: st.AlertWebhookSecret != "",
		WebhookSecret:    issued,
	}})
}

// wsHandler upgrades to the shop-scoped realtime stream. Browsers pass the
// session token as the id_token query parameter.
func (s *Server) wsHandler(c *gin.Context) {
	sess, ok := s.merchantSession(c)
	if !ok {
		return
	}
	s.realtimeHub.HandleWebSocket(c.Writer, c.Request, sess.Shop)
}
