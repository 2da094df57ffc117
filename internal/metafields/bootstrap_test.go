package metafields

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/shopify"
)

// platformDefinitions simulates a shop that remembers created definitions.
type platformDefinitions struct {
	created map[string]bool
	reject  map[string]string // key -> message for blocking errors
}

func (p *platformDefinitions) respond(_ int, query string, _ map[string]any) (string, error) {
	out := map[string]any{}
	for i, d := range Catalog {
		a := alias(i)
		if !strings.Contains(query, a+": metafieldDefinitionCreate") {
			continue
		}
		switch {
		case p.reject[d.Key] != "":
			out[a] = map[string]any{
				"createdDefinition": nil,
				"userErrors":        []map[string]any{{"field": []string{"definition", "type"}, "message": p.reject[d.Key], "code": "INVALID"}},
			}
		case p.created[d.Key]:
			out[a] = map[string]any{
				"createdDefinition": nil,
				"userErrors":        []map[string]any{{"field": []string{"definition", "key"}, "message": "Key is in use for Order metafields on the 'fraudpop' namespace.", "code": "TAKEN"}},
			}
		default:
			p.created[d.Key] = true
			out[a] = map[string]any{
				"createdDefinition": map[string]any{"id": fmt.Sprintf("gid://shopify/MetafieldDefinition/%d", i), "key": d.Key},
				"userErrors":        []any{},
			}
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func counterValue(t *testing.T, outcome string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.DefinitionBootstrapsTotal.WithLabelValues(outcome).Write(&m))
	return m.GetCounter().GetValue()
}

func TestBootstrapper_MutationCoversCatalog(t *testing.T) {
	m := NewBootstrapper().Mutation()
	for i, d := range Catalog {
		assert.Contains(t, m, fmt.Sprintf("op%d: metafieldDefinitionCreate", i))
		assert.Contains(t, m, `key: "`+d.Key+`"`)
		assert.Contains(t, m, `type: "`+d.Type+`"`)
	}
	assert.Contains(t, m, `namespace: "fraudpop"`)
	assert.Contains(t, m, "ownerType: ORDER")
	assert.Contains(t, m, "access: { admin: MERCHANT_READ_WRITE, storefront: NONE, customerAccount: NONE }")
	assert.Contains(t, m, `description: "0–100 composite risk score"`)
}

func TestBootstrapper_Idempotent(t *testing.T) {
	shop := &platformDefinitions{created: map[string]bool{}}
	client := &fakeClient{respond: shop.respond}
	b := NewBootstrapper()

	first, err := b.Run(context.Background(), client)
	require.NoError(t, err)
	assert.Len(t, first.Created, len(Catalog))
	assert.Empty(t, first.Existing)

	okBefore := counterValue(t, "ok")
	second, err := b.Run(context.Background(), client)
	require.NoError(t, err, "existing definitions are not blocking")
	assert.Empty(t, second.Created)
	assert.Len(t, second.Existing, len(Catalog))
	assert.Equal(t, okBefore+1, counterValue(t, "ok"))
	assert.Equal(t, 2, client.callCount())
}

func TestBootstrapper_MessageOnlyAlreadyExists(t *testing.T) {
	client := &fakeClient{respond: constant(`{"op0":{"createdDefinition":null,"userErrors":[{"field":["definition"],"message":"Definition ALREADY exists","code":null}]}}`)}
	report, err := NewBootstrapper().Run(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []string{"risk_score"}, report.Existing)
}

func TestBootstrapper_PartialFailure(t *testing.T) {
	shop := &platformDefinitions{
		created: map[string]bool{"risk_score": true},
		reject:  map[string]string{"risk_reasons": "Type is not allowed", "vault_hits": "Limit reached"},
	}
	client := &fakeClient{respond: shop.respond}

	blockedBefore := counterValue(t, "blocked")
	report, err := NewBootstrapper().Run(context.Background(), client)
	assert.Nil(t, report)

	var berr *BootstrapError
	require.ErrorAs(t, err, &berr)
	require.Len(t, berr.Errors, 2)
	assert.Equal(t, "op2", berr.Errors[0].Alias)
	assert.Equal(t, "risk_reasons", berr.Errors[0].Key)
	assert.Equal(t, "INVALID", berr.Errors[0].Code)
	assert.Equal(t, "vault_hits", berr.Errors[1].Key)
	assert.Contains(t, err.Error(), "Limit reached")
	assert.Equal(t, blockedBefore+1, counterValue(t, "blocked"))
}

func TestBootstrapper_TopLevelErrors(t *testing.T) {
	want := &shopify.GraphQLErrors{Errors: []shopify.GraphQLError{{Message: "Access denied"}}}
	client := &fakeClient{respond: func(int, string, map[string]any) (string, error) { return "", want }}

	_, err := NewBootstrapper().Run(context.Background(), client)
	assert.ErrorIs(t, err, want)
}

func TestDefinitionError_Benign(t *testing.T) {
	assert.True(t, DefinitionError{Code: "TAKEN"}.Benign())
	assert.True(t, DefinitionError{Message: "A definition already exists"}.Benign())
	assert.True(t, DefinitionError{Message: "Already Exists"}.Benign())
	assert.False(t, DefinitionError{Message: "Type is invalid", Code: "INVALID"}.Benign())
}

func TestDefinitionStatus(t *testing.T) {
	client := &fakeClient{respond: constant(`{"metafieldDefinitions":{"nodes":[{"key":"risk_verdict"},{"key":"risk_score"}]}}`)}
	st, err := DefinitionStatus(context.Background(), client)
	require.NoError(t, err)
	assert.True(t, st.HaveScore)
	assert.False(t, st.HaveEvidence)
	assert.False(t, st.Complete)
	assert.Equal(t, []string{"risk_score", "risk_verdict"}, st.Keys)
	assert.Equal(t, Namespace, client.calls[0].vars["namespace"])

	nodes := make([]map[string]string, 0, len(Catalog))
	for _, d := range Catalog {
		nodes = append(nodes, map[string]string{"key": d.Key})
	}
	b, _ := json.Marshal(map[string]any{"metafieldDefinitions": map[string]any{"nodes": nodes}})
	client = &fakeClient{respond: constant(string(b))}
	st, err = DefinitionStatus(context.Background(), client)
	require.NoError(t, err)
	assert.True(t, st.Complete)
	assert.True(t, st.HaveEvidence)
}
