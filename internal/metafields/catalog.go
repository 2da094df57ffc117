// Package metafields writes risk records onto orders as platform metafields
// and declares the metafield definitions they rely on.
package metafields

import (
	"context"

	"github.com/fraudpop/fraudpop/internal/risk"
)

// Namespace holds every metafield this app owns.
const Namespace = "fraudpop"

// OwnerTypeOrder is the definition owner type for order metafields.
const OwnerTypeOrder = "ORDER"

// Metafield value types used by the catalog.
const (
	TypeInteger   = "number_integer"
	TypeShortText = "single_line_text_field"
	TypeLongText  = "multi_line_text_field"
	TypeJSON      = "json"
	TypeDateTime  = "date_time"
)

// Client is the subset of the platform client used here.
type Client interface {
	Do(ctx context.Context, query string, vars map[string]any, out any) error
}

// Access is the visibility policy of a definition.
type Access struct {
	Admin           string `json:"admin"`
	Storefront      string `json:"storefront"`
	CustomerAccount string `json:"customerAccount"`
}

// DefaultAccess lets merchants read and edit values in the admin and hides
// them everywhere else.
var DefaultAccess = Access{
	Admin:           "MERCHANT_READ_WRITE",
	Storefront:      "NONE",
	CustomerAccount: "NONE",
}

// Definition declares one metafield.
type Definition struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Access      Access `json:"access"`
}

func def(name, key, typ, desc string) Definition {
	return Definition{Name: name, Namespace: Namespace, Key: key, Type: typ, Description: desc, Access: DefaultAccess}
}

// Catalog is the fixed order metafield schema, in write order.
var Catalog = []Definition{
	def("FraudPop Risk Score", risk.KeyScore, TypeInteger, "0–100 composite risk score"),
	def("FraudPop Risk Verdict", risk.KeyVerdict, TypeShortText, "Traffic-light verdict"),
	def("FraudPop Reasons", risk.KeyReasons, TypeJSON, "Compact list of rule hits/signals"),
	def("FraudPop Evidence Ref", risk.KeyEvidenceRef, TypeShortText, "Internal evidence log id"),
	def("FraudPop Engine Version", risk.KeyEngineVersion, TypeShortText, "Scoring engine version"),
	def("FraudPop Scored At", risk.KeyScoredAt, TypeDateTime, "Timestamp when order was scored"),
	def("FraudPop Device Seen Count", risk.KeyDeviceSeenCount, TypeInteger, "Anonymized device count"),
	def("FraudPop Vault Hits", risk.KeyVaultHits, TypeInteger, "Prior bad-flag count"),
	def("FraudPop Feedback Label", risk.KeyFeedbackLabel, TypeShortText, "Merchant feedback: safe|caution"),
	def("FraudPop Feedback Note", risk.KeyFeedbackNote, TypeLongText, "Optional merchant note"),
	def("FraudPop Feedback Next Check", risk.KeyFeedbackNextCheckAt, TypeDateTime, "When to re-prompt (15/30 days)"),
}

// Lookup returns the catalog definition for key.
func Lookup(key string) (Definition, bool) {
	for _, d := range Catalog {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}
