package metafields

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/shopify"
)

func TestUpsert_EmptyPatchIsNoop(t *testing.T) {
	client := &fakeClient{respond: constant(`{}`)}
	before := testutil.ToFloat64(metrics.MetafieldWritesTotal.WithLabelValues("noop"))

	res, err := NewUpserter().Upsert(context.Background(), client, orderGID, risk.Patch{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Noop)
	assert.Zero(t, client.callCount())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MetafieldWritesTotal.WithLabelValues("noop")))
}

func TestUpsert_SingleCall(t *testing.T) {
	client := &fakeClient{respond: constant(`{"metafieldsSet":{
		"metafields":[{"id":"gid://shopify/Metafield/1","namespace":"fraudpop","key":"risk_score","type":"number_integer","value":"87"}],
		"userErrors":[]}}`)}

	score := 87
	res, err := NewUpserter().Upsert(context.Background(), client, orderGID, risk.Patch{Score: &score})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.Noop)
	assert.Equal(t, []string{risk.KeyScore}, res.Written)
	assert.Empty(t, res.UserErrors)

	require.Equal(t, 1, client.callCount())
	assert.Contains(t, client.calls[0].query, "metafieldsSet")
	ops, ok := client.calls[0].vars["metafields"].([]WriteOp)
	require.True(t, ok)
	require.Len(t, ops, 1)
	assert.Equal(t, "87", ops[0].Value)
}

func TestUpsert_PartialUserErrorsAreTaggedByKey(t *testing.T) {
	client := &fakeClient{respond: constant(`{"metafieldsSet":{
		"metafields":[{"id":"gid://shopify/Metafield/1","namespace":"fraudpop","key":"risk_score","type":"number_integer","value":"87"}],
		"userErrors":[
			{"field":["metafields","1","value"],"message":"Value is invalid","code":"INVALID_VALUE"},
			{"field":["metafields","2","type"],"message":"Type mismatch","code":"INVALID_TYPE"},
			{"field":null,"message":"Something else"}
		]}}`)}

	rec := risk.Record{
		Score: 87, Verdict: risk.VerdictHigh, Reasons: []string{"a"},
		Present: risk.HasScore | risk.HasVerdict | risk.HasReasons,
	}
	res, err := NewUpserter().Upsert(context.Background(), client, orderGID, risk.ScoringPatch(rec))
	require.NoError(t, err)

	assert.False(t, res.OK)
	require.Len(t, res.UserErrors, 3)
	assert.Equal(t, risk.KeyVerdict, res.UserErrors[0].Key)
	assert.Equal(t, orderGID, res.UserErrors[0].OwnerID)
	assert.Equal(t, risk.KeyReasons, res.UserErrors[1].Key)
	assert.Equal(t, orderGID, res.UserErrors[1].OwnerID)
	assert.Empty(t, res.UserErrors[2].Key)
	assert.Empty(t, res.UserErrors[2].OwnerID)
	assert.Equal(t, []string{risk.KeyScore}, res.Written)
	assert.Equal(t, 1, client.callCount())
}

func TestUpsert_ClientErrorsPassThrough(t *testing.T) {
	for _, want := range []error{
		shopify.ErrTransport,
		&shopify.InvalidResponseError{Status: 502, Text: "<html>"},
		&shopify.GraphQLErrors{Errors: []shopify.GraphQLError{{Message: "boom"}}},
	} {
		client := &fakeClient{respond: func(int, string, map[string]any) (string, error) { return "", want }}
		score := 1
		res, err := NewUpserter().Upsert(context.Background(), client, orderGID, risk.Patch{Score: &score})
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, want))
	}
}

func TestSetRaw_ForwardsInputs(t *testing.T) {
	client := &fakeClient{respond: constant(`{"metafieldsSet":{"metafields":[],"userErrors":[]}}`)}
	ops := []WriteOp{{OwnerID: orderGID, Namespace: Namespace, Key: risk.KeyScore, Type: TypeInteger, Value: "87"}}

	res, err := NewUpserter().SetRaw(context.Background(), client, ops)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, ops, client.calls[0].vars["metafields"])
}

func TestOpForPath(t *testing.T) {
	ops := []WriteOp{{Key: "a", OwnerID: "gid://shopify/Order/1"}, {Key: "b", OwnerID: "gid://shopify/Order/2"}}

	op, ok := opForPath([]string{"metafields", "1", "value"}, ops)
	require.True(t, ok)
	assert.Equal(t, "b", op.Key)
	assert.Equal(t, "gid://shopify/Order/2", op.OwnerID)

	op, ok = opForPath([]string{"input", "metafields", "0"}, ops)
	require.True(t, ok)
	assert.Equal(t, "a", op.Key)

	for _, path := range [][]string{{"metafields", "9"}, {"metafields", "x"}, nil} {
		_, ok := opForPath(path, ops)
		assert.False(t, ok, path)
	}
}
