package shopify

import (
	"regexp"
	"strings"
)

const orderGIDPrefix = "gid://shopify/Order/"

var (
	shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
	numericRe    = regexp.MustCompile(`^[0-9]+$`)
)

// NormalizeShop lower-cases and trims a shop domain.
func NormalizeShop(shop string) string {
	return strings.ToLower(strings.TrimSpace(shop))
}

// ValidShop reports whether shop is a normalized *.myshopify.com domain.
func ValidShop(shop string) bool {
	return shopDomainRe.MatchString(shop)
}

// OrderGID accepts a numeric order id or a full order GID and returns the GID.
func OrderGID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if n, ok := strings.CutPrefix(id, orderGIDPrefix); ok {
		id = n
	}
	if !numericRe.MatchString(id) {
		return "", ErrInvalidOrderID
	}
	return orderGIDPrefix + id, nil
}

// OrderNumericID returns the trailing numeric part of an order GID, or the
// input unchanged when it is not a GID.
func OrderNumericID(gid string) string {
	if n, ok := strings.CutPrefix(gid, orderGIDPrefix); ok {
		return n
	}
	return gid
}
