// Package sessions stores the offline access tokens used to call the Admin
// API on behalf of an installed shop.
package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a shop has no offline session.
var ErrNotFound = errors.New("sessions: no offline session")

// Session is an offline (non-expiring) Admin API session for one shop.
type Session struct {
	ID                    string    `json:"id"`
	Shop                  string    `json:"shop"`
	AccessToken           string    `json:"-"`
	Scope                 string    `json:"scope"`
	MetafieldsInitialized bool      `json:"metafieldsInitialized"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// OfflineID returns the session id for shop.
func OfflineID(shop string) string {
	return "offline_" + shop
}

// Store persists offline sessions.
type Store interface {
	Get(ctx context.Context, shop string) (*Session, error)
	// Save inserts or replaces the session for s.Shop, including the
	// MetafieldsInitialized flag. CreatedAt is kept on replace.
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, shop string) error
	MarkInitialized(ctx context.Context, shop string) error
}
