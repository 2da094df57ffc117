package projections

import (
	"context"
	"fmt"
	"time"

	"github.com/fraudpop/fraudpop/internal/risk"
	"github.com/fraudpop/fraudpop/internal/shopify"
)

var orderQuery = `query Order($id: ID!) {
  order(id: $id) {` + orderListFields + `
    shippingAddress { city province zip country countryCodeV2 }
  }
}`

// Address is an order's shipping address.
type Address struct {
	City        string `json:"city"`
	Province    string `json:"province"`
	Zip         string `json:"zip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCodeV2"`
}

// Detail is the evidence and order detail model.
type Detail struct {
	GID       string        `json:"gid"`
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	CreatedAt time.Time     `json:"createdAt"`
	Total     string        `json:"total"`
	Tags      []string      `json:"tags"`
	Shipping  *Address      `json:"shippingAddress,omitempty"`
	Risk      risk.Record   `json:"risk"`
	Warnings  risk.Warnings `json:"warnings,omitempty"`
	AdminURL  string        `json:"adminUrl"`
}

// EvidenceRef returns the evidence reference or the placeholder.
func (d *Detail) EvidenceRef() string { return orPlaceholder(d.Risk.EvidenceRef) }

// EngineVersion returns the scorer version or the placeholder.
func (d *Detail) EngineVersion() string { return orPlaceholder(d.Risk.EngineVersion) }

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}

// AdminOrderURL links to the order in the shop's admin.
func AdminOrderURL(shop, numericID string) string {
	return "https://" + shop + "/admin/orders/" + numericID
}

// Order loads one order with its risk record. id may be numeric or a GID.
func (s *Service) Order(ctx context.Context, client Client, shop, id string) (*Detail, error) {
	gid, err := shopify.OrderGID(id)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order *orderNode `json:"order"`
	}
	if err := client.Do(ctx, orderQuery, map[string]any{"id": gid}, &resp); err != nil {
		return nil, fmt.Errorf("order: %w", err)
	}
	if resp.Order == nil {
		return nil, ErrOrderNotFound
	}

	n := resp.Order
	rec, warns := s.record(n.Metafields.Nodes)
	numeric := shopify.OrderNumericID(n.ID)
	return &Detail{
		GID:       n.ID,
		ID:        numeric,
		Name:      n.Name,
		Email:     n.Email,
		CreatedAt: n.CreatedAt,
		Total:     n.total(),
		Tags:      n.tags(),
		Shipping:  n.ShippingAddress,
		Risk:      rec,
		Warnings:  warns,
		AdminURL:  AdminOrderURL(shop, numeric),
	}, nil
}

// Evidence is Order under the name used by the evidence page.
func (s *Service) Evidence(ctx context.Context, client Client, shop, id string) (*Detail, error) {
	return s.Order(ctx, client, shop, id)
}
