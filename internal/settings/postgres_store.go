package settings

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists shop settings in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, shop string) (*Settings, error) {
	s := &Settings{}
	err := p.db.QueryRowContext(ctx, `
		SELECT shop, high_threshold, medium_threshold, auto_hold_high,
		       auto_tagging, tag_high, tag_medium, tag_low,
		       alert_webhook_url, alert_webhook_secret, updated_at
		FROM shop_settings WHERE shop = $1
	`, shop).Scan(
		&s.Shop, &s.HighThreshold, &s.MediumThreshold, &s.AutoHoldHigh,
		&s.AutoTagging, &s.TagHigh, &s.TagMedium, &s.TagLow,
		&s.AlertWebhookURL, &s.AlertWebhookSecret, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Settings) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO shop_settings (shop, high_threshold, medium_threshold, auto_hold_high,
			auto_tagging, tag_high, tag_medium, tag_low,
			alert_webhook_url, alert_webhook_secret, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (shop) DO UPDATE
		SET high_threshold = EXCLUDED.high_threshold,
		    medium_threshold = EXCLUDED.medium_threshold,
		    auto_hold_high = EXCLUDED.auto_hold_high,
		    auto_tagging = EXCLUDED.auto_tagging,
		    tag_high = EXCLUDED.tag_high,
		    tag_medium = EXCLUDED.tag_medium,
		    tag_low = EXCLUDED.tag_low,
		    alert_webhook_url = EXCLUDED.alert_webhook_url,
		    alert_webhook_secret = EXCLUDED.alert_webhook_secret,
		    updated_at = NOW()
	`, s.Shop, s.HighThreshold, s.MediumThreshold, s.AutoHoldHigh,
		s.AutoTagging, s.TagHigh, s.TagMedium, s.TagLow,
		s.AlertWebhookURL, s.AlertWebhookSecret)
	return err
}

// Migrate creates the shop_settings table if it doesn't exist and adds the
// verdict tag columns to tables created before them.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shop_settings (
			shop                  VARCHAR(255) PRIMARY KEY,
			high_threshold        INTEGER NOT NULL DEFAULT 80,
			medium_threshold      INTEGER NOT NULL DEFAULT 60,
			auto_hold_high        BOOLEAN NOT NULL DEFAULT FALSE,
			alert_webhook_url     TEXT NOT NULL DEFAULT '',
			alert_webhook_secret  VARCHAR(128) NOT NULL DEFAULT '',
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE shop_settings
			ADD COLUMN IF NOT EXISTS auto_tagging BOOLEAN NOT NULL DEFAULT TRUE,
			ADD COLUMN IF NOT EXISTS tag_high     VARCHAR(255) NOT NULL DEFAULT 'FraudPop: Red',
			ADD COLUMN IF NOT EXISTS tag_medium   VARCHAR(255) NOT NULL DEFAULT 'FraudPop: Amber',
			ADD COLUMN IF NOT EXISTS tag_low      VARCHAR(255) NOT NULL DEFAULT 'FraudPop: Green',
			DROP COLUMN IF EXISTS notify_email;
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
