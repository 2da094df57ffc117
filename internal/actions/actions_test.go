package actions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/settings"
)

const orderGID = "gid://shopify/Order/1001"

type call struct {
	op   string
	vars map[string]any
}

// fakeClient answers by operation name with a JSON "data" member.
type fakeClient struct {
	mu    sync.Mutex
	calls []call
	data  map[string]string
	errs  map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		data: map[string]string{
			"tagsAdd":    `{"tagsAdd":{"node":{"id":"gid://shopify/Order/1001"},"userErrors":[]}}`,
			"tagsRemove": `{"tagsRemove":{"node":{"id":"gid://shopify/Order/1001"},"userErrors":[]}}`,
		},
		errs: map[string]error{},
	}
}

func (f *fakeClient) Do(_ context.Context, query string, vars map[string]any, out any) error {
	op := strings.Fields(strings.NewReplacer("(", " ").Replace(query))[1]
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, vars: vars})
	data, err := f.data[op], f.errs[op]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if data == "" {
		data = "{}"
	}
	return json.Unmarshal([]byte(data), out)
}

func (f *fakeClient) callsTo(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func scored(score int, v risk.Verdict, reasons ...string) risk.Record {
	return risk.Record{
		Score: score, Verdict: v, Reasons: reasons,
		Present: risk.HasScore | risk.HasVerdict | risk.HasReasons,
	}
}

func TestApply_TagsAndRemovesStaleVerdictTags(t *testing.T) {
	client := newFakeClient()
	st := settings.Defaults("acme.myshopify.com")

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(20, risk.VerdictLow))

	assert.Equal(t, settings.DefaultTagLow, res.Tagged)
	assert.Equal(t, []string{settings.DefaultTagHigh, settings.DefaultTagMedium}, res.Untagged)
	assert.Empty(t, res.Errors)

	added := client.callsTo("tagsAdd")
	require.Len(t, added, 1)
	assert.Equal(t, orderGID, added[0].vars["id"])
	assert.Equal(t, []string{settings.DefaultTagLow}, added[0].vars["tags"])
	assert.Empty(t, client.callsTo("orderFulfillmentOrders"))
}

func TestApply_NothingConfigured(t *testing.T) {
	client := newFakeClient()
	st := settings.Defaults("acme.myshopify.com")
	st.AutoTagging = false

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(99, risk.VerdictHigh))
	assert.True(t, res.Empty())
	assert.Empty(t, client.calls)
}

func TestApply_CustomTagsSkipEmptyOnes(t *testing.T) {
	client := newFakeClient()
	st := settings.Defaults("acme.myshopify.com")
	st.TagHigh, st.TagMedium, st.TagLow = "fraud-review", "", ""

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(10, risk.VerdictLow))
	assert.True(t, res.Empty())
	assert.Empty(t, client.callsTo("tagsAdd"))
	assert.Empty(t, client.callsTo("tagsRemove"))

	res = NewRunner().Apply(context.Background(), client, st, orderGID, scored(90, risk.VerdictHigh))
	assert.Equal(t, "fraud-review", res.Tagged)
	assert.Empty(t, res.Untagged)
	assert.Empty(t, client.callsTo("tagsRemove"))
}

func TestApply_TagErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeClient)
		want  string
	}{
		{"transport", func(f *fakeClient) { f.errs["tagsAdd"] = errors.New("connection reset") }, "tag: connection reset"},
		{"user error", func(f *fakeClient) {
			f.data["tagsAdd"] = `{"tagsAdd":{"node":null,"userErrors":[{"field":["id"],"message":"Order does not exist"}]}}`
		}, "tag: Order does not exist"},
		{"no payload", func(f *fakeClient) { f.data["tagsAdd"] = `{}` }, "tag: tagsAdd returned no payload"},
		{"missing order", func(f *fakeClient) { f.data["tagsAdd"] = `{"tagsAdd":{"node":null,"userErrors":[]}}` }, "tag: tagsAdd: order not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.setup(client)

			res := NewRunner().Apply(context.Background(), client, settings.Defaults("acme.myshopify.com"), orderGID, scored(70, risk.VerdictMedium))
			assert.Equal(t, []string{tt.want}, res.Errors)
			assert.Empty(t, res.Tagged)
			assert.Empty(t, client.callsTo("tagsRemove"))
		})
	}
}

func TestApply_HoldsOpenFulfillmentOrders(t *testing.T) {
	client := newFakeClient()
	client.data["orderFulfillmentOrders"] = `{"order":{"fulfillmentOrders":{"nodes":[
		{"id":"gid://shopify/FulfillmentOrder/1","status":"OPEN"},
		{"id":"gid://shopify/FulfillmentOrder/2","status":"IN_PROGRESS"},
		{"id":"gid://shopify/FulfillmentOrder/3","status":"OPEN"}
	]}}}`
	client.data["fulfillmentOrderHold"] = `{"fulfillmentOrderHold":{"fulfillmentOrder":{"status":"ON_HOLD"},"userErrors":[]}}`

	st := settings.Defaults("acme.myshopify.com")
	st.AutoTagging = false
	st.AutoHoldHigh = true

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(88, risk.VerdictHigh, "vpn", "velocity"))
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"gid://shopify/FulfillmentOrder/1", "gid://shopify/FulfillmentOrder/3"}, res.Held)

	holds := client.callsTo("fulfillmentOrderHold")
	require.Len(t, holds, 2)
	hold := holds[0].vars["fulfillmentHold"].(map[string]any)
	assert.Equal(t, HoldReason, hold["reason"])
	assert.Equal(t, "FraudPop: high risk (score 88): vpn, velocity", hold["reasonNotes"])
}

func TestApply_HoldErrorsAreCollected(t *testing.T) {
	client := newFakeClient()
	client.data["orderFulfillmentOrders"] = `{"order":{"fulfillmentOrders":{"nodes":[
		{"id":"gid://shopify/FulfillmentOrder/1","status":"OPEN"}
	]}}}`
	client.data["fulfillmentOrderHold"] = `{"fulfillmentOrderHold":{"userErrors":[{"field":["id"],"message":"Fulfillment order is not open"}]}}`

	st := settings.Defaults("acme.myshopify.com")
	st.AutoHoldHigh = true

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(95, risk.VerdictHigh))
	assert.Equal(t, settings.DefaultTagHigh, res.Tagged)
	assert.Empty(t, res.Held)
	assert.Equal(t, []string{"hold gid://shopify/FulfillmentOrder/1: Fulfillment order is not open"}, res.Errors)
}

func TestApply_HoldOrderMissing(t *testing.T) {
	client := newFakeClient()
	client.data["orderFulfillmentOrders"] = `{"order":null}`

	st := settings.Defaults("acme.myshopify.com")
	st.AutoTagging = false
	st.AutoHoldHigh = true

	res := NewRunner().Apply(context.Background(), client, st, orderGID, scored(95, risk.VerdictHigh))
	assert.Equal(t, []string{"hold: order not found"}, res.Errors)
	assert.Empty(t, client.callsTo("fulfillmentOrderHold"))
}

func TestHoldNotes(t *testing.T) {
	assert.Equal(t, "FraudPop: high risk", holdNotes(risk.Record{Verdict: risk.VerdictHigh, Present: risk.HasVerdict}))

	long := scored(90, risk.VerdictHigh, strings.Repeat("r", 400))
	notes := holdNotes(long)
	assert.Len(t, notes, maxHoldNotes)
	assert.True(t, strings.HasPrefix(notes, "FraudPop: high risk (score 90): rrr"))
}
