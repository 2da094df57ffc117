package metafields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudpop/fraudpop/internal/risk"
)

const orderGID = "gid://shopify/Order/1"

func TestCatalog_MatchesRiskKeys(t *testing.T) {
	require.Len(t, Catalog, len(risk.Keys))
	for i, key := range risk.Keys {
		assert.Equal(t, key, Catalog[i].Key)
		assert.Equal(t, Namespace, Catalog[i].Namespace)
		assert.Equal(t, DefaultAccess, Catalog[i].Access)
	}

	d, ok := Lookup(risk.KeyReasons)
	require.True(t, ok)
	assert.Equal(t, TypeJSON, d.Type)

	_, ok = Lookup("risk")
	assert.False(t, ok)
}

func TestOps_EmptyPatch(t *testing.T) {
	assert.Empty(t, Ops(orderGID, risk.Patch{}))
}

func TestOps_ScoringPatch(t *testing.T) {
	dev := 2
	rec := risk.Record{
		Score:           87,
		Verdict:         risk.VerdictHigh,
		Reasons:         []string{"ip_mismatch", "velocity"},
		ScoredAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
		DeviceSeenCount: &dev,
		Present:         risk.HasScore | risk.HasVerdict | risk.HasReasons | risk.HasDeviceSeenCount,
	}
	ops := Ops(orderGID, risk.ScoringPatch(rec))

	got := map[string]WriteOp{}
	var order []string
	for _, op := range ops {
		got[op.Key] = op
		order = append(order, op.Key)
		assert.Equal(t, orderGID, op.OwnerID)
		assert.Equal(t, Namespace, op.Namespace)
	}
	assert.Equal(t, []string{risk.KeyScore, risk.KeyVerdict, risk.KeyReasons, risk.KeyScoredAt, risk.KeyDeviceSeenCount}, order)

	assert.Equal(t, WriteOp{OwnerID: orderGID, Namespace: Namespace, Key: risk.KeyScore, Type: TypeInteger, Value: "87"}, got[risk.KeyScore])
	assert.Equal(t, "high", got[risk.KeyVerdict].Value)
	assert.Equal(t, `["ip_mismatch","velocity"]`, got[risk.KeyReasons].Value)
	assert.Equal(t, TypeJSON, got[risk.KeyReasons].Type)
	assert.Equal(t, "2026-03-01T11:00:00Z", got[risk.KeyScoredAt].Value)
	assert.Equal(t, TypeDateTime, got[risk.KeyScoredAt].Type)
	assert.Equal(t, "2", got[risk.KeyDeviceSeenCount].Value)

	assert.NoError(t, Validate(ops))
}

func TestOps_FeedbackPatchTouchesOnlyFeedback(t *testing.T) {
	next := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ops := Ops(orderGID, risk.FeedbackPatch(risk.FeedbackCaution, "call back", next))

	require.Len(t, ops, 3)
	assert.Equal(t, risk.KeyFeedbackLabel, ops[0].Key)
	assert.Equal(t, risk.KeyFeedbackNote, ops[1].Key)
	assert.Equal(t, TypeLongText, ops[1].Type)
	assert.Equal(t, risk.KeyFeedbackNextCheckAt, ops[2].Key)
}

func TestValidate(t *testing.T) {
	ok := WriteOp{OwnerID: orderGID, Namespace: Namespace, Key: risk.KeyScore, Type: TypeInteger, Value: "87"}
	assert.NoError(t, Validate([]WriteOp{ok}))

	foreign := WriteOp{OwnerID: orderGID, Namespace: "custom", Key: risk.KeyScore, Type: TypeShortText, Value: "x"}
	assert.NoError(t, Validate([]WriteOp{foreign}), "other namespaces are not checked against the catalog")

	wrongType := ok
	wrongType.Type = TypeShortText
	noOwner := ok
	noOwner.OwnerID = ""

	err := Validate([]WriteOp{wrongType, noOwner})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 2)
	assert.Contains(t, err.Error(), "risk_score must be number_integer")
}
