package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const syncConnectionColumns = `owner_id, provider, cursor, last_checked_at, created_at, updated_at, pass_started_at, pass_seen`

type SyncConnectionRepository struct {
	db dbtx
}

func NewSyncConnectionRepository(pool *pgxpool.Pool) *SyncConnectionRepository {
	return &SyncConnectionRepository{db: pool}
}

func (r *SyncConnectionRepository) Get(ctx context.Context, ownerID string, provider domain.Provider) (*domain.SyncConnection, error) {
	var c domain.SyncConnection
	var cursor *string
	err := r.db.QueryRow(ctx,
		`SELECT `+syncConnectionColumns+`
		 FROM sync_connections WHERE owner_id = $1 AND provider = $2`,
		ownerID, provider,
	).Scan(&c.OwnerID, &c.Provider, &cursor, &c.LastCheckedAt, &c.CreatedAt, &c.UpdatedAt, &c.PassStartedAt, &c.PassSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSyncConnectionNotFound
		}
		return nil, err
	}
	c.Cursor = stringValue(cursor)
	return &c, nil
}

func (r *SyncConnectionRepository) Upsert(ctx context.Context, c *domain.SyncConnection) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.db.Exec(ctx,
		`INSERT INTO sync_connections (`+syncConnectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (owner_id, provider) DO UPDATE
		 SET cursor = EXCLUDED.cursor,
		     last_checked_at = EXCLUDED.last_checked_at,
		     updated_at = EXCLUDED.updated_at,
		     pass_started_at = EXCLUDED.pass_started_at,
		     pass_seen = EXCLUDED.pass_seen`,
		c.OwnerID, c.Provider, nullableString(c.Cursor), c.LastCheckedAt, c.CreatedAt, c.UpdatedAt, c.PassStartedAt, c.PassSeen,
	)
	return err
}

// List returns every connection that has an access token on file.
func (r *SyncConnectionRepository) List(ctx context.Context) ([]*domain.SyncConnection, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.owner_id, s.provider, s.cursor, s.last_checked_at, s.created_at, s.updated_at, s.pass_started_at, s.pass_seen
		 FROM sync_connections s
		 JOIN oauth_tokens t ON t.owner_id = s.owner_id AND t.provider = s.provider
		 ORDER BY s.last_checked_at ASC NULLS FIRST`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*domain.SyncConnection
	for rows.Next() {
		var c domain.SyncConnection
		var cursor *string
		if err := rows.Scan(&c.OwnerID, &c.Provider, &cursor, &c.LastCheckedAt, &c.CreatedAt, &c.UpdatedAt, &c.PassStartedAt, &c.PassSeen); err != nil {
			return nil, err
		}
		c.Cursor = stringValue(cursor)
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}
