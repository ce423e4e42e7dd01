package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// RefreshTokenRepository persists issued refresh tokens so they survive
// restarts and can be revoked.
type RefreshTokenRepository interface {
	Save(ctx context.Context, token, email string, expiresAt time.Time) error
	GetEmail(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) error
}

type PostgresRefreshTokenRepo struct {
	DB *sqlx.DB
}

func NewPostgresRefreshTokenRepo(db *sqlx.DB) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{DB: db}
}

func (r *PostgresRefreshTokenRepo) Save(ctx context.Context, token, email string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, email, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
	`, token, email, expiresAt)
	return errors.Wrap(err, "failed to save refresh token")
}

// GetEmail returns the owner of a still-valid token.
func (r *PostgresRefreshTokenRepo) GetEmail(ctx context.Context, token string) (string, error) {
	var email string
	err := r.DB.GetContext(ctx, &email, `
		SELECT email FROM refresh_tokens
		WHERE token = $1 AND expires_at > NOW()
	`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("refresh token not found or expired")
	}
	return email, errors.Wrap(err, "failed to look up refresh token")
}

func (r *PostgresRefreshTokenRepo) Delete(ctx context.Context, token string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return errors.Wrap(err, "failed to delete refresh token")
}

func (r *PostgresRefreshTokenRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= NOW()`)
	return errors.Wrap(err, "failed to delete expired tokens")
}
