package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/risk"
)

var dashboardQuery = `query Dashboard($first: Int!, $query: String!) {
  orders(first: $first, sortKey: CREATED_AT, reverse: true, query: $query) {
    nodes {` + orderListFields + `
    }
  }
  metafieldDefinitions(first: 50, ownerType: ORDER, namespace: "` + metafields.Namespace + `") {
    nodes { key }
  }
}`

// KPIs are verdict counts over the dashboard window.
type KPIs struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Dashboard is the landing page model.
type Dashboard struct {
	Since          time.Time      `json:"since"`
	Days           int            `json:"days"`
	HasDefinitions bool           `json:"hasDefinitions"`
	KPIs           KPIs           `json:"kpis"`
	RecentAlerts   []OrderSummary `json:"recentAlerts"`
	Orders         []OrderSummary `json:"orders"`
}

type dashboardResponse struct {
	Orders struct {
		Nodes []orderNode `json:"nodes"`
	} `json:"orders"`
	MetafieldDefinitions struct {
		Nodes []struct {
			Key string `json:"key"`
		} `json:"nodes"`
	} `json:"metafieldDefinitions"`
}

// Dashboard loads the newest orders of the last fourteen days with KPI
// counts and the highest scoring non-low orders.
func (s *Service) Dashboard(ctx context.Context, client Client, now time.Time) (*Dashboard, error) {
	var resp dashboardResponse
	vars := map[string]any{"first": dashboardMax, "query": sinceQuery(now, dashboardDays)}
	if err := client.Do(ctx, dashboardQuery, vars, &resp); err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	d := &Dashboard{
		Since:        now.UTC().AddDate(0, 0, -dashboardDays),
		Days:         dashboardDays,
		Orders:       make([]OrderSummary, 0, len(resp.Orders.Nodes)),
		RecentAlerts: []OrderSummary{},
	}

	keys := make(map[string]bool, len(resp.MetafieldDefinitions.Nodes))
	for _, n := range resp.MetafieldDefinitions.Nodes {
		keys[n.Key] = true
	}
	d.HasDefinitions = keys[risk.KeyScore] && keys[risk.KeyVerdict]

	for i := range resp.Orders.Nodes {
		row := s.summarize(&resp.Orders.Nodes[i])
		d.Orders = append(d.Orders, row)
		d.KPIs.Total++
		switch row.Verdict {
		case risk.VerdictHigh:
			d.KPIs.High++
		case risk.VerdictMedium:
			d.KPIs.Medium++
		default:
			d.KPIs.Low++
		}
		if row.Verdict != risk.VerdictLow {
			d.RecentAlerts = append(d.RecentAlerts, row)
		}
	}

	sortByScore(d.RecentAlerts)
	if len(d.RecentAlerts) > recentAlerts {
		d.RecentAlerts = d.RecentAlerts[:recentAlerts]
	}
	return d, nil
}
