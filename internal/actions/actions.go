// Package actions applies a shop's follow-ups to a freshly scored order:
// the verdict tag, and a fulfillment hold for high risk orders.
//
// Follow-ups run after the risk metafields are written. Their failures are
// reported on the Result and logged; they never undo the metafield write.
package actions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/settings"
	"github.com/fraudpop/fraudpop/internal/validation"
)

const tagsAddMutation = `mutation tagsAdd($id: ID!, $tags: [String!]!) {
  tagsAdd(id: $id, tags: $tags) {
    node { id }
    userErrors { field message }
  }
}`

const tagsRemoveMutation = `mutation tagsRemove($id: ID!, $tags: [String!]!) {
  tagsRemove(id: $id, tags: $tags) {
    node { id }
    userErrors { field message }
  }
}`

const fulfillmentOrdersQuery = `query orderFulfillmentOrders($id: ID!) {
  order(id: $id) {
    fulfillmentOrders(first: 25) {
      nodes { id status }
    }
  }
}`

const holdMutation = `mutation fulfillmentOrderHold($id: ID!, $fulfillmentHold: FulfillmentOrderHoldInput!) {
  fulfillmentOrderHold(id: $id, fulfillmentHold: $fulfillmentHold) {
    fulfillmentOrder { id status }
    userErrors { field message }
  }
}`

// HoldReason is the platform hold reason used for risk holds.
const HoldReason = "OTHER"

// maxHoldNotes bounds the reason notes sent with a hold.
const maxHoldNotes = 255

// Client executes Admin GraphQL calls.
type Client interface {
	Do(ctx context.Context, query string, vars map[string]any, out any) error
}

// Result reports what was done to the order.
type Result struct {
	Tagged   string   `json:"tagged,omitempty"`
	Untagged []string `json:"untagged,omitempty"`
	Held     []string `json:"held,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Empty reports whether no follow-up ran.
func (r Result) Empty() bool {
	return r.Tagged == "" && len(r.Untagged) == 0 && len(r.Held) == 0 && len(r.Errors) == 0
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func firstUserError(errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errs[0].Message)
}

// Runner applies follow-ups.
type Runner struct{}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Apply tags orderGID with the verdict tag when auto-tagging is on, removing
// the other verdict tags, and holds its open fulfillment orders when the
// verdict is high and auto-hold is on.
func (r *Runner) Apply(ctx context.Context, client Client, st settings.Settings, orderGID string, rec risk.Record) Result {
	var res Result
	if st.AutoTagging {
		r.tag(ctx, client, st, orderGID, rec.Verdict, &res)
	}
	if st.AutoHoldHigh && rec.Verdict == risk.VerdictHigh {
		r.hold(ctx, client, orderGID, holdNotes(rec), &res)
	}
	if len(res.Errors) > 0 {
		logging.L(ctx).Warn("order follow-ups incomplete", "order", orderGID, "errors", len(res.Errors), "first", res.Errors[0])
	}
	return res
}

func (r *Runner) tag(ctx context.Context, client Client, st settings.Settings, orderGID string, v risk.Verdict, res *Result) {
	tag := st.TagFor(v)
	if tag == "" {
		return
	}
	if err := editTags(ctx, client, tagsAddMutation, "tagsAdd", orderGID, []string{tag}); err != nil {
		metrics.OrderActionsTotal.WithLabelValues("tag", "error").Inc()
		res.Errors = append(res.Errors, "tag: "+err.Error())
		return
	}
	metrics.OrderActionsTotal.WithLabelValues("tag", "ok").Inc()
	res.Tagged = tag

	var stale []string
	for _, t := range st.VerdictTags() {
		if t != "" && t != tag {
			stale = append(stale, t)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := editTags(ctx, client, tagsRemoveMutation, "tagsRemove", orderGID, stale); err != nil {
		metrics.OrderActionsTotal.WithLabelValues("untag", "error").Inc()
		res.Errors = append(res.Errors, "untag: "+err.Error())
		return
	}
	metrics.OrderActionsTotal.WithLabelValues("untag", "ok").Inc()
	res.Untagged = stale
}

func editTags(ctx context.Context, client Client, mutation, field, orderGID string, tags []string) error {
	var data map[string]*struct {
		Node *struct {
			ID string `json:"id"`
		} `json:"node"`
		UserErrors []userError `json:"userErrors"`
	}
	if err := client.Do(ctx, mutation, map[string]any{"id": orderGID, "tags": tags}, &data); err != nil {
		return err
	}
	payload := data[field]
	if payload == nil {
		return fmt.Errorf("%s returned no payload", field)
	}
	if err := firstUserError(payload.UserErrors); err != nil {
		return err
	}
	if payload.Node == nil {
		return fmt.Errorf("%s: order not found", field)
	}
	return nil
}

func (r *Runner) hold(ctx context.Context, client Client, orderGID, notes string, res *Result) {
	var data struct {
		Order *struct {
			FulfillmentOrders struct {
				Nodes []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"nodes"`
			} `json:"fulfillmentOrders"`
		} `json:"order"`
	}
	if err := client.Do(ctx, fulfillmentOrdersQuery, map[string]any{"id": orderGID}, &data); err != nil {
		metrics.OrderActionsTotal.WithLabelValues("hold", "error").Inc()
		res.Errors = append(res.Errors, "hold: "+err.Error())
		return
	}
	if data.Order == nil {
		metrics.OrderActionsTotal.WithLabelValues("hold", "error").Inc()
		res.Errors = append(res.Errors, "hold: order not found")
		return
	}

	hold := map[string]any{"reason": HoldReason, "reasonNotes": notes}
	for _, fo := range data.Order.FulfillmentOrders.Nodes {
		// Only open fulfillment orders can be put on hold.
		if fo.Status != "OPEN" {
			continue
		}
		var out struct {
			FulfillmentOrderHold *struct {
				UserErrors []userError `json:"userErrors"`
			} `json:"fulfillmentOrderHold"`
		}
		err := client.Do(ctx, holdMutation, map[string]any{"id": fo.ID, "fulfillmentHold": hold}, &out)
		if err == nil && out.FulfillmentOrderHold == nil {
			err = errors.New("fulfillmentOrderHold returned no payload")
		}
		if err == nil {
			err = firstUserError(out.FulfillmentOrderHold.UserErrors)
		}
		if err != nil {
			metrics.OrderActionsTotal.WithLabelValues("hold", "error").Inc()
			res.Errors = append(res.Errors, "hold "+fo.ID+": "+err.Error())
			continue
		}
		metrics.OrderActionsTotal.WithLabelValues("hold", "ok").Inc()
		res.Held = append(res.Held, fo.ID)
	}
}

func holdNotes(rec risk.Record) string {
	var b strings.Builder
	b.WriteString("FraudPop: high risk")
	if rec.Present.Has(risk.HasScore) {
		b.WriteString(" (score ")
		b.WriteString(strconv.Itoa(rec.Score))
		b.WriteString(")")
	}
	if len(rec.Reasons) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(rec.Reasons, ", "))
	}
	return validation.Truncate(b.String(), maxHoldNotes)
}
