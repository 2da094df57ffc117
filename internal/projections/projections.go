// Package projections builds the merchant-facing read models (dashboard,
// alert list, evidence and order detail) from orders and their risk
// metafields. Reads are never cached; unreadable risk data renders as an
// unscored order.
package projections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/metrics"
	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/shopify"
)

// ErrOrderNotFound is returned when the platform has no such order.
var ErrOrderNotFound = errors.New("projections: order not found")

// legacyBlobKey is the single JSON metafield older installs wrote.
const legacyBlobKey = "risk"

const (
	// Placeholder shown for absent values.
	Placeholder   = "—"
	noFlags       = "No flags recorded"
	summaryLimit  = 3
	summarySep    = " · "
	summaryMore   = " …"
	dashboardDays = 14
	dashboardMax  = 50
	alertsMax     = 100
	recentAlerts  = 10
)

// Client is the subset of the platform client used here.
type Client interface {
	Do(ctx context.Context, query string, vars map[string]any, out any) error
}

// Service builds projections.
type Service struct {
	decoder *risk.Decoder
}

// New creates a Service that decodes risk data with decoder.
func New(decoder *risk.Decoder) *Service {
	return &Service{decoder: decoder}
}

// OrderSummary is one row of the dashboard and alert tables.
type OrderSummary struct {
	GID            string       `json:"gid"`
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Email          string       `json:"email"`
	CreatedAt      time.Time    `json:"createdAt"`
	Total          string       `json:"total"`
	Tags           []string     `json:"tags"`
	Score          int          `json:"score"`
	Verdict        risk.Verdict `json:"verdict"`
	Reasons        []string     `json:"reasons"`
	ReasonsSummary string       `json:"reasonsSummary"`
}

// Label is the badge text for the row's verdict.
func (o OrderSummary) Label() string { return o.Verdict.Label() }

// Tone is the badge tone for the row's verdict.
func (o OrderSummary) Tone() string { return o.Verdict.Tone() }

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type mfNode struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type orderNode struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Email                string    `json:"email"`
	CreatedAt            time.Time `json:"createdAt"`
	Tags                 []string  `json:"tags"`
	CurrentTotalPriceSet *struct {
		ShopMoney *money `json:"shopMoney"`
	} `json:"currentTotalPriceSet"`
	ShippingAddress *Address `json:"shippingAddress"`
	Metafields      struct {
		Nodes []mfNode `json:"nodes"`
	} `json:"metafields"`
}

func (n *orderNode) total() string {
	if n.CurrentTotalPriceSet == nil {
		return Placeholder
	}
	m := n.CurrentTotalPriceSet.ShopMoney
	if m == nil {
		return Placeholder
	}
	return FormatMoney(m.Amount, m.CurrencyCode)
}

func (n *orderNode) tags() []string {
	if n.Tags == nil {
		return []string{}
	}
	return n.Tags
}

// FormatMoney renders "12.50 USD", or the placeholder when absent or unparsable.
func FormatMoney(amount, currency string) string {
	if amount == "" {
		return Placeholder
	}
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return Placeholder
	}
	return strings.TrimSpace(fmt.Sprintf("%.2f %s", f, currency))
}

// ReasonsSummary joins the first reasons for a table cell.
func ReasonsSummary(reasons []string) string {
	if len(reasons) == 0 {
		return noFlags
	}
	if len(reasons) <= summaryLimit {
		return strings.Join(reasons, summarySep)
	}
	return strings.Join(reasons[:summaryLimit], summarySep) + summaryMore
}

// record decodes an order's metafields. Per-field values win; the legacy
// blob is read only when no per-field value exists.
func (s *Service) record(nodes []mfNode) (risk.Record, risk.Warnings) {
	values := make(map[string]string, len(nodes))
	var blob string
	for _, n := range nodes {
		if n.Key == legacyBlobKey {
			blob = n.Value
			continue
		}
		values[n.Key] = n.Value
	}

	var rec risk.Record
	var warns risk.Warnings
	hasFields := false
	for _, k := range risk.Keys {
		if _, ok := values[k]; ok {
			hasFields = true
			break
		}
	}
	if !hasFields && blob != "" {
		rec, warns = s.decoder.Decode([]byte(blob))
	} else {
		rec, warns = s.decoder.DecodeFields(values)
	}

	for _, w := range warns {
		metrics.RiskDecodeWarningsTotal.WithLabelValues(w.Field, w.Code).Inc()
	}
	return rec, warns
}

func (s *Service) summarize(n *orderNode) OrderSummary {
	rec, _ := s.record(n.Metafields.Nodes)
	return OrderSummary{
		GID:            n.ID,
		ID:             shopify.OrderNumericID(n.ID),
		Name:           n.Name,
		Email:          n.Email,
		CreatedAt:      n.CreatedAt,
		Total:          n.total(),
		Tags:           n.tags(),
		Score:          rec.Score,
		Verdict:        rec.Verdict,
		Reasons:        rec.Reasons,
		ReasonsSummary: ReasonsSummary(rec.Reasons),
	}
}

func sinceQuery(now time.Time, days int) string {
	return "created_at:>=" + now.UTC().AddDate(0, 0, -days).Format("2006-01-02")
}

func sortByScore(rows []OrderSummary) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
}

const orderListFields = `
        id
        name
        email
        createdAt
        tags
        currentTotalPriceSet { shopMoney { amount currencyCode } }
        metafields(first: 20, namespace: "` + metafields.Namespace + `") { nodes { key value } }`
