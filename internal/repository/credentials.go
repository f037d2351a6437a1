package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository reads provider access tokens and owner API keys. Both
// are written by the account surface, not by this service.
type CredentialRepository struct {
	db dbtx
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{db: pool}
}

func (r *CredentialRepository) AccessToken(ctx context.Context, ownerID string, provider domain.Provider) (string, error) {
	var token string
	var expiresAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT access_token, expires_at FROM oauth_tokens WHERE owner_id = $1 AND provider = $2`,
		ownerID, provider,
	).Scan(&token, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrTokenNotFound
		}
		return "", err
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return "", domain.NewDomainError(domain.ErrCodeUnauthorized, "access token expired")
	}
	return token, nil
}

func (r *CredentialRepository) APIKey(ctx context.Context, ownerID string) (string, error) {
	var key string
	err := r.db.QueryRow(ctx,
		`SELECT api_key FROM owner_api_keys WHERE owner_id = $1`,
		ownerID,
	).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrOwnerKeyNotFound
		}
		return "", err
	}
	return key, nil
}
