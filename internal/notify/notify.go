// Package notify delivers signed alert events to merchant-configured
// webhook URLs.
//
// Deliveries are fire-and-forget: they run on their own goroutine with a
// bounded timeout, and results are logged and counted but never returned to
// the request that triggered them.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/security"
	"github.com/fraudpop/fraudpop/internal/settings"
)

// EventType names an alert event.
type EventType string

const (
	EventHighRisk EventType = "order.high_risk"
	EventTest     EventType = "test"
)

// Delivery headers.
const (
	HeaderSignature = "X-FraudPop-Signature"
	HeaderEvent     = "X-FraudPop-Event"
	HeaderTimestamp = "X-FraudPop-Timestamp"
)

// DeliveryTimeout bounds one delivery attempt.
const DeliveryTimeout = 10 * time.Second

// Event is the JSON body posted to the webhook.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Shop      string         `json:"shop"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Target is where an event is delivered.
type Target struct {
	URL    string
	Secret string
}

// URLValidator rejects destinations the server must not call.
type URLValidator func(ctx context.Context, rawURL string) error

func defaultValidator(ctx context.Context, rawURL string) error {
	return security.ValidateEndpointURL(ctx, rawURL, false)
}

// Notifier sends alert events.
type Notifier struct {
	client   *http.Client
	logger   *slog.Logger
	validate URLValidator
	now      func() time.Time
	wg       sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithURLValidator replaces the destination check applied before every send.
func WithURLValidator(v URLValidator) Option {
	return func(n *Notifier) { n.validate = v }
}

// New creates a Notifier.
func New(logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		client:   &http.Client{Timeout: DeliveryTimeout},
		logger:   logger,
		validate: defaultValidator,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// NewSecret returns a random signing secret for a newly configured webhook.
func NewSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("notify: generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// NewEvent stamps an event with a fresh ID and the current time.
func (n *Notifier) NewEvent(shop string, typ EventType, data map[string]any) *Event {
	return &Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      typ,
		Shop:      shop,
		Timestamp: n.now().UTC(),
		Data:      data,
	}
}

// Deliver posts event to target and waits for the response.
func (n *Notifier) Deliver(ctx context.Context, target Target, event *Event) error {
	if err := n.validate(ctx, target.URL); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, target.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: status %d", resp.StatusCode)
	}
	return nil
}

// Send delivers event in the background.
func (n *Notifier) Send(target Target, event *Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
		defer cancel()

		if err := n.Deliver(ctx, target, event); err != nil {
			metrics.NotificationDeliveriesTotal.WithLabelValues("failure").Inc()
			n.logger.Warn("alert delivery failed",
				"event", event.Type, "event_id", event.ID, "shop", event.Shop, "error", err)
			return
		}
		metrics.NotificationDeliveriesTotal.WithLabelValues("success").Inc()
		n.logger.Debug("alert delivered", "event", event.Type, "event_id", event.ID, "shop", event.Shop)
	}()
}

// Wait blocks until background deliveries finish.
func (n *Notifier) Wait() { n.wg.Wait() }

// HighRisk sends a high-risk alert for an order when the shop has a webhook
// configured and the verdict is high. It reports whether a delivery started.
func (n *Notifier) HighRisk(s settings.Settings, orderGID string, rec risk.Record) bool {
	if n == nil || s.AlertWebhookURL == "" || rec.Verdict != risk.VerdictHigh {
		return false
	}
	data := map[string]any{
		"orderId": orderGID,
		"score":   rec.Score,
		"verdict": rec.Verdict,
		"reasons": rec.Reasons,
	}
	if rec.EvidenceRef != "" {
		data["evidenceRef"] = rec.EvidenceRef
	}
	n.Send(Target{URL: s.AlertWebhookURL, Secret: s.AlertWebhookSecret}, n.NewEvent(s.Shop, EventHighRisk, data))
	return true
}
