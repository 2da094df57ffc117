// Package settings stores per-shop risk preferences.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fraudpop/fraudpop/internal/risk"
)

// Settings are one shop's preferences.
type Settings struct {
	Shop               string    `json:"shop"`
	HighThreshold      int       `json:"highThreshold"`
	MediumThreshold    int       `json:"mediumThreshold"`
	AutoHoldHigh       bool      `json:"autoHoldHigh"`
	AutoTagging        bool      `json:"autoTagging"`
	TagHigh            string    `json:"tagHigh"`
	TagMedium          string    `json:"tagMedium"`
	TagLow             string    `json:"tagLow"`
	AlertWebhookURL    string    `json:"alertWebhookUrl"`
	AlertWebhookSecret string    `json:"-"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

// Default verdict tags.
const (
	DefaultTagHigh   = "FraudPop: Red"
	DefaultTagMedium = "FraudPop: Amber"
	DefaultTagLow    = "FraudPop: Green"
)

// MaxTagLength is the longest tag the platform accepts.
const MaxTagLength = 255

// Defaults returns the settings used for shops that never saved any.
func Defaults(shop string) Settings {
	return Settings{
		Shop:            shop,
		HighThreshold:   risk.DefaultHighThreshold,
		MediumThreshold: risk.DefaultMediumThreshold,
		AutoTagging:     true,
		TagHigh:         DefaultTagHigh,
		TagMedium:       DefaultTagMedium,
		TagLow:          DefaultTagLow,
	}
}

// Classify maps a score to a verdict using the shop's thresholds.
func (s Settings) Classify(score int) risk.Verdict {
	return risk.Classify(score, s.MediumThreshold, s.HighThreshold)
}

// TagFor returns the order tag for v.
func (s Settings) TagFor(v risk.Verdict) string {
	switch v {
	case risk.VerdictHigh:
		return s.TagHigh
	case risk.VerdictMedium:
		return s.TagMedium
	default:
		return s.TagLow
	}
}

// VerdictTags returns the three verdict tags, high first.
func (s Settings) VerdictTags() []string {
	return []string{s.TagHigh, s.TagMedium, s.TagLow}
}

// ValidationError describes a rejected settings field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: %s: %s", e.Field, e.Message)
}

// Validate checks threshold ranges and the verdict tags. The webhook URL is
// checked by the caller, which owns the network policy.
func (s Settings) Validate() error {
	if s.HighThreshold < 0 || s.HighThreshold > risk.MaxScore {
		return &ValidationError{Field: "highThreshold", Message: "must be between 0 and 100"}
	}
	if s.MediumThreshold < 0 || s.MediumThreshold > risk.MaxScore {
		return &ValidationError{Field: "mediumThreshold", Message: "must be between 0 and 100"}
	}
	if s.MediumThreshold >= s.HighThreshold {
		return &ValidationError{Field: "mediumThreshold", Message: "must be below highThreshold"}
	}

	seen := make(map[string]bool, 3)
	for _, f := range []struct{ field, tag string }{
		{"tagHigh", s.TagHigh}, {"tagMedium", s.TagMedium}, {"tagLow", s.TagLow},
	} {
		switch {
		case f.tag == "" && s.AutoTagging:
			return &ValidationError{Field: f.field, Message: "is required when autoTagging is on"}
		case len(f.tag) > MaxTagLength:
			return &ValidationError{Field: f.field, Message: "must be at most 255 bytes"}
		case strings.Contains(f.tag, ","):
			return &ValidationError{Field: f.field, Message: "must not contain a comma"}
		case f.tag != "" && seen[strings.ToLower(f.tag)]:
			return &ValidationError{Field: f.field, Message: "must differ from the other verdict tags"}
		}
		seen[strings.ToLower(f.tag)] = true
	}
	return nil
}

// ErrNotFound is returned by stores for shops without saved settings.
var ErrNotFound = errors.New("settings: not found")

// Store persists settings.
type Store interface {
	Get(ctx context.Context, shop string) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

// Load returns the saved settings for shop, or Defaults when none exist.
func Load(ctx context.Context, store Store, shop string) (Settings, error) {
	s, err := store.Get(ctx, shop)
	if errors.Is(err, ErrNotFound) {
		return Defaults(shop), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return *s, nil
}
