package sessions

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists offline sessions in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, shop string) (*Session, error) {
	s := &Session{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, shop, access_token, scope, metafields_initialized, created_at, updated_at
		FROM offline_sessions WHERE shop = $1
	`, shop).Scan(&s.ID, &s.Shop, &s.AccessToken, &s.Scope, &s.MetafieldsInitialized, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offline_sessions (id, shop, access_token, scope, metafields_initialized)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    scope = EXCLUDED.scope,
		    metafields_initialized = EXCLUDED.metafields_initialized,
		    updated_at = NOW()
	`, OfflineID(s.Shop), s.Shop, s.AccessToken, s.Scope, s.MetafieldsInitialized)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, shop string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM offline_sessions WHERE shop = $1`, shop)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (p *PostgresStore) MarkInitialized(ctx context.Context, shop string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE offline_sessions SET metafields_initialized = TRUE, updated_at = NOW()
		WHERE shop = $1
	`, shop)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// Ping checks database connectivity for health reporting.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the offline_sessions table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS offline_sessions (
			id                      VARCHAR(300) PRIMARY KEY,
			shop                    VARCHAR(255) NOT NULL UNIQUE,
			access_token            TEXT NOT NULL,
			scope                   TEXT NOT NULL DEFAULT '',
			metafields_initialized  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
