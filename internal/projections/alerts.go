package projections

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fraudpop/fraudpop/internal/risk"
)

var alertsQuery = `query Alerts($first: Int!, $query: String!) {
  orders(first: $first, sortKey: CREATED_AT, reverse: true, query: $query) {
    nodes {` + orderListFields + `
    }
  }
}`

// VerdictAll disables verdict filtering.
const VerdictAll = "all"

// AlertQuery selects orders for the alert list.
type AlertQuery struct {
	Days    int    `json:"days"`
	Verdict string `json:"verdict"` // "all" or a canonical verdict
}

// ParseAlertQuery normalizes raw query parameters. Days defaults to fourteen
// and is at least one. Legacy verdict tokens (red, amber, green) are
// translated; anything unrecognized means all.
func ParseAlertQuery(days, verdict string) AlertQuery {
	q := AlertQuery{Days: dashboardDays, Verdict: VerdictAll}
	if d, err := strconv.Atoi(strings.TrimSpace(days)); err == nil {
		q.Days = max(1, d)
	}
	if v, ok := risk.LookupVerdict(verdict); ok {
		q.Verdict = string(v)
	}
	return q
}

func (q AlertQuery) matches(v risk.Verdict) bool {
	return q.Verdict == VerdictAll || q.Verdict == string(v)
}

// Alerts is the alert list model.
type Alerts struct {
	Query  AlertQuery     `json:"query"`
	Since  time.Time      `json:"since"`
	Alerts []OrderSummary `json:"alerts"`
}

// Alerts lists orders created in the query window, filtered by verdict and
// sorted by score, highest first.
func (s *Service) Alerts(ctx context.Context, client Client, q AlertQuery, now time.Time) (*Alerts, error) {
	if q.Days < 1 {
		q.Days = 1
	}
	if q.Verdict == "" {
		q.Verdict = VerdictAll
	}

	var resp struct {
		Orders struct {
			Nodes []orderNode `json:"nodes"`
		} `json:"orders"`
	}
	vars := map[string]any{"first": alertsMax, "query": sinceQuery(now, q.Days)}
	if err := client.Do(ctx, alertsQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}

	out := &Alerts{
		Query:  q,
		Since:  now.UTC().AddDate(0, 0, -q.Days),
		Alerts: []OrderSummary{},
	}
	for i := range resp.Orders.Nodes {
		row := s.summarize(&resp.Orders.Nodes[i])
		if q.matches(row.Verdict) {
			out.Alerts = append(out.Alerts, row)
		}
	}
	sortByScore(out.Alerts)
	return out, nil
}
