package metafields

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
)

var alreadyExistsRe = regexp.MustCompile(`(?i)already.*exist`)

// DefinitionError is one userError returned for a definition create.
type DefinitionError struct {
	Alias   string   `json:"alias"`
	Key     string   `json:"key"`
	Field   []string `json:"field,omitempty"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// Benign reports whether the error only says the definition already exists.
func (e DefinitionError) Benign() bool {
	return e.Code == "TAKEN" || alreadyExistsRe.MatchString(e.Message)
}

// BootstrapError carries every blocking definition error of a run.
type BootstrapError struct {
	Errors []DefinitionError
}

func (e *BootstrapError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, de := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", de.Key, de.Message))
	}
	return "metafield definition errors: " + strings.Join(parts, "; ")
}

// BootstrapReport summarizes a successful run.
type BootstrapReport struct {
	Created  []string `json:"created"`
	Existing []string `json:"existing"`
}

// Bootstrapper declares the catalog definitions in one aliased mutation.
type Bootstrapper struct {
	catalog []Definition
}

// NewBootstrapper creates a Bootstrapper for the catalog.
func NewBootstrapper() *Bootstrapper {
	return &Bootstrapper{catalog: Catalog}
}

func alias(i int) string { return "op" + strconv.Itoa(i) }

// Mutation renders the aliased metafieldDefinitionCreate mutation.
func (b *Bootstrapper) Mutation() string {
	var sb strings.Builder
	sb.WriteString("mutation ensureFraudpopDefinitions {\n")
	for i, d := range b.catalog {
		fmt.Fprintf(&sb, `  %s: metafieldDefinitionCreate(definition: {
    name: %s
    namespace: %s
    key: %s
    type: %s
    description: %s
    ownerType: %s
    access: { admin: %s, storefront: %s, customerAccount: %s }
  }) {
    createdDefinition { id namespace key }
    userErrors { field message code }
  }
`, alias(i), quote(d.Name), quote(d.Namespace), quote(d.Key), quote(d.Type), quote(d.Description),
			OwnerTypeOrder, d.Access.Admin, d.Access.Storefront, d.Access.CustomerAccount)
	}
	sb.WriteString("}")
	return sb.String()
}

// quote renders s as a GraphQL string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type createPayload struct {
	CreatedDefinition *struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"createdDefinition"`
	UserErrors []struct {
		Field   []string `json:"field"`
		Message string   `json:"message"`
		Code    string   `json:"code"`
	} `json:"userErrors"`
}

// Run creates any missing definitions. Definitions that already exist are
// not errors, so Run is safe to repeat. Any other userError makes Run return
// a *BootstrapError listing all of them.
func (b *Bootstrapper) Run(ctx context.Context, client Client) (*BootstrapReport, error) {
	data := make(map[string]*createPayload, len(b.catalog))
	if err := client.Do(ctx, b.Mutation(), nil, &data); err != nil {
		metrics.DefinitionBootstrapsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	report := &BootstrapReport{Created: []string{}, Existing: []string{}}
	var blocking []DefinitionError
	for i, d := range b.catalog {
		payload := data[alias(i)]
		if payload == nil {
			continue
		}
		if payload.CreatedDefinition != nil {
			report.Created = append(report.Created, d.Key)
		}
		benign := false
		for _, ue := range payload.UserErrors {
			de := DefinitionError{Alias: alias(i), Key: d.Key, Field: ue.Field, Message: ue.Message, Code: ue.Code}
			if de.Benign() {
				benign = true
				continue
			}
			blocking = append(blocking, de)
		}
		if benign {
			report.Existing = append(report.Existing, d.Key)
		}
	}

	if len(blocking) > 0 {
		metrics.DefinitionBootstrapsTotal.WithLabelValues("blocked").Inc()
		return nil, &BootstrapError{Errors: blocking}
	}

	metrics.DefinitionBootstrapsTotal.WithLabelValues("ok").Inc()
	logging.L(ctx).Info("metafield definitions ensured", "created", len(report.Created), "existing", len(report.Existing))
	return report, nil
}

const definitionsQuery = `query fraudpopDefinitions($namespace: String!) {
  metafieldDefinitions(first: 50, ownerType: ORDER, namespace: $namespace) {
    nodes { key type { name } }
  }
}`

// Status reports which catalog definitions exist on a shop.
type Status struct {
	Keys         []string `json:"keys"`
	HaveScore    bool     `json:"haveScore"`
	HaveEvidence bool     `json:"haveEvidence"`
	Complete     bool     `json:"complete"`
}

// DefinitionStatus lists the definitions present in the app namespace.
func DefinitionStatus(ctx context.Context, client Client) (*Status, error) {
	var data struct {
		MetafieldDefinitions struct {
			Nodes []struct {
				Key string `json:"key"`
			} `json:"nodes"`
		} `json:"metafieldDefinitions"`
	}
	if err := client.Do(ctx, definitionsQuery, map[string]any{"namespace": Namespace}, &data); err != nil {
		return nil, err
	}

	have := make(map[string]bool)
	st := &Status{Keys: []string{}}
	for _, n := range data.MetafieldDefinitions.Nodes {
		have[n.Key] = true
		st.Keys = append(st.Keys, n.Key)
	}
	sort.Strings(st.Keys)

	st.HaveScore = have[risk.KeyScore] && have[risk.KeyVerdict]
	st.HaveEvidence = have[risk.KeyEvidenceRef]
	st.Complete = true
	for _, d := range Catalog {
		if !have[d.Key] {
			st.Complete = false
			break
		}
	}
	return st, nil
}
