package metafields

import (
	"context"
	"strconv"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
)

const setMutation = `mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id key namespace type value owner { __typename ... on Order { id } } }
    userErrors { field message code }
  }
}`

// Metafield is a value echoed back by the platform after a write.
type Metafield struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	Owner     *struct {
		Typename string `json:"__typename"`
		ID       string `json:"id,omitempty"`
	} `json:"owner,omitempty"`
}

// UserError is a per-field rejection. Key and OwnerID are resolved from the
// field path when it points into the submitted batch.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Key     string   `json:"key,omitempty"`
	OwnerID string   `json:"ownerId,omitempty"`
}

// Result is the outcome of one write batch.
type Result struct {
	OK         bool        `json:"ok"`
	Noop       bool        `json:"noop,omitempty"`
	Metafields []Metafield `json:"metafields"`
	Written    []string    `json:"written,omitempty"`
	UserErrors []UserError `json:"userErrors"`
}

// Upserter writes metafields in a single metafieldsSet call per invocation.
type Upserter struct{}

// NewUpserter creates an Upserter.
func NewUpserter() *Upserter {
	return &Upserter{}
}

// Upsert writes the set fields of p onto the order ownerID. An empty patch
// returns a no-op result without calling the platform.
func (u *Upserter) Upsert(ctx context.Context, client Client, ownerID string, p risk.Patch) (*Result, error) {
	return u.SetRaw(ctx, client, Ops(ownerID, p))
}

// SetRaw forwards ops as one batch. Platform errors are returned as-is from
// the client; user errors are reported on the Result.
func (u *Upserter) SetRaw(ctx context.Context, client Client, ops []WriteOp) (*Result, error) {
	if len(ops) == 0 {
		metrics.MetafieldWritesTotal.WithLabelValues("noop").Inc()
		return &Result{OK: true, Noop: true, Metafields: []Metafield{}, UserErrors: []UserError{}}, nil
	}

	var data struct {
		MetafieldsSet *struct {
			Metafields []Metafield `json:"metafields"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"metafieldsSet"`
	}
	if err := client.Do(ctx, setMutation, map[string]any{"metafields": ops}, &data); err != nil {
		metrics.MetafieldWritesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res := &Result{Metafields: []Metafield{}, UserErrors: []UserError{}}
	if data.MetafieldsSet != nil {
		if data.MetafieldsSet.Metafields != nil {
			res.Metafields = data.MetafieldsSet.Metafields
		}
		for _, ue := range data.MetafieldsSet.UserErrors {
			if op, ok := opForPath(ue.Field, ops); ok {
				ue.Key = op.Key
				ue.OwnerID = op.OwnerID
			}
			res.UserErrors = append(res.UserErrors, ue)
		}
	}
	for _, mf := range res.Metafields {
		res.Written = append(res.Written, mf.Key)
	}
	res.OK = len(res.UserErrors) == 0

	if res.OK {
		metrics.MetafieldWritesTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.MetafieldWritesTotal.WithLabelValues("user_errors").Inc()
		logging.L(ctx).Warn("metafieldsSet user errors", "count", len(res.UserErrors), "first", res.UserErrors[0].Message)
	}
	return res, nil
}

// opForPath resolves paths like ["metafields", "2", "value"] to the op at
// that index.
func opForPath(path []string, ops []WriteOp) (WriteOp, bool) {
	for i := 0; i+1 < len(path); i++ {
		if path[i] != "metafields" {
			continue
		}
		idx, err := strconv.Atoi(path[i+1])
		if err != nil || idx < 0 || idx >= len(ops) {
			return WriteOp{}, false
		}
		return ops[idx], true
	}
	return WriteOp{}, false
}
