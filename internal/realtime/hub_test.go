package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fraudpop/fraudpop/internal/risk"
)

const shopA = "a.myshopify.com"

func testHub() *Hub {
	return NewHub(slog.Default())
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func addClient(h *Hub, shop string, sub Subscription) *Client {
	c := &Client{hub: h, shop: shop, send: make(chan []byte, 256), sub: sub}
	h.register <- c
	return c
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_ShopScope(t *testing.T) {
	h := testHub()
	client := &Client{shop: shopA}

	if !h.shouldSend(client, &Event{Type: EventRiskUpdated, Shop: shopA}) {
		t.Error("client should receive its own shop's events")
	}
	if h.shouldSend(client, &Event{Type: EventRiskUpdated, Shop: "b.myshopify.com"}) {
		t.Error("client should NOT receive another shop's events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{shop: shopA, sub: Subscription{EventTypes: []EventType{EventFeedbackUpdated}}}

	if h.shouldSend(client, &Event{Type: EventRiskUpdated, Shop: shopA}) {
		t.Error("should NOT receive risk events")
	}
	if !h.shouldSend(client, &Event{Type: EventFeedbackUpdated, Shop: shopA}) {
		t.Error("should receive feedback events")
	}
}

func TestShouldSend_OrderFilter(t *testing.T) {
	h := testHub()
	client := &Client{shop: shopA, sub: Subscription{OrderIDs: []string{"gid://shopify/Order/1"}}}

	match := &Event{Type: EventRiskUpdated, Shop: shopA, Data: map[string]any{"orderId": "gid://shopify/Order/1"}}
	other := &Event{Type: EventRiskUpdated, Shop: shopA, Data: map[string]any{"orderId": "gid://shopify/Order/2"}}
	noData := &Event{Type: EventRiskUpdated, Shop: shopA}

	if !h.shouldSend(client, match) {
		t.Error("should match subscribed order")
	}
	if h.shouldSend(client, other) {
		t.Error("should NOT match other orders")
	}
	if h.shouldSend(client, noData) {
		t.Error("events without an order should NOT pass an order filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	stats := testHub().Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := startHub(t)

	client := addClient(h, shopA, Subscription{})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastRisk(t *testing.T) {
	h := startHub(t)
	mine := addClient(h, shopA, Subscription{})
	theirs := addClient(h, "b.myshopify.com", Subscription{})
	time.Sleep(50 * time.Millisecond)

	h.BroadcastRisk(shopA, "gid://shopify/Order/7", risk.Record{Score: 88, Verdict: risk.VerdictHigh, Reasons: []string{"VPN"}})

	select {
	case msg := <-mine.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad event JSON: %v", err)
		}
		if ev.Type != EventRiskUpdated || ev.Data["label"] != "High" || ev.Data["orderId"] != "gid://shopify/Order/7" {
			t.Errorf("unexpected event: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}

	time.Sleep(50 * time.Millisecond)
	select {
	case msg := <-theirs.send:
		t.Errorf("other shop received %s", msg)
	default:
	}
}

func TestHub_BroadcastFeedback(t *testing.T) {
	h := startHub(t)
	client := addClient(h, shopA, Subscription{EventTypes: []EventType{EventFeedbackUpdated}})
	time.Sleep(50 * time.Millisecond)

	h.BroadcastRisk(shopA, "gid://shopify/Order/7", risk.Record{Verdict: risk.VerdictLow})
	h.BroadcastFeedback(shopA, "gid://shopify/Order/7", "safe", "", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), `"feedback.updated"`) || !strings.Contains(string(msg), "2026-04-01T00:00:00Z") {
			t.Errorf("unexpected event: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for feedback event")
	}
}

func TestHub_NilBroadcast(t *testing.T) {
	var h *Hub
	// Should not panic
	h.BroadcastRisk(shopA, "gid://shopify/Order/1", risk.Record{})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHandleWebSocket_EndToEnd(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, shopA)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	h.BroadcastRisk(shopA, "gid://shopify/Order/3", risk.Record{Score: 61, Verdict: risk.VerdictMedium})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(msg), `"Medium"`) {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestHandleWebSocket_AfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/app/ws", nil), shopA)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}
