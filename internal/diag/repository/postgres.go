package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"tvbridge/internal/diag"
)

// DiagRepository persists the bot action log, delivery failures and SMS
// retry attempts.
type DiagRepository interface {
	Log(ctx context.Context, level, scope, message, detail string)
	ListLogs(ctx context.Context, level string, limit, offset int) ([]*diag.BotLog, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RecordFailure(ctx context.Context, kind string, refID int64, errText string)
	ListFailures(ctx context.Context, limit int) ([]*diag.DeliveryFailure, error)
	RecordAttempt(ctx context.Context, refID int64, attempt int, outcome, errText string)
	ListAttempts(ctx context.Context, limit int) ([]*diag.RetryAttempt, error)
}

type PostgresDiagRepo struct {
	DB *sqlx.DB
}

func NewPostgresDiagRepo(db *sqlx.DB) *PostgresDiagRepo {
	return &PostgresDiagRepo{DB: db}
}

// Log writes a bot action row. Diagnostics writes are best-effort: a failed
// insert must never fail the operation being logged.
func (r *PostgresDiagRepo) Log(ctx context.Context, level, scope, message, detail string) {
	_, _ = r.DB.ExecContext(ctx, `
		INSERT INTO bot_logs (level, scope, message, detail, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, level, scope, message, detail)
}

func (r *PostgresDiagRepo) ListLogs(ctx context.Context, level string, limit, offset int) ([]*diag.BotLog, error) {
	var logs []*diag.BotLog
	err := r.DB.SelectContext(ctx, &logs, `
		SELECT id, level, scope, message, detail, created_at
		FROM bot_logs
		WHERE ($1 = '' OR level = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, level, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list logs")
	}
	return logs, nil
}

func (r *PostgresDiagRepo) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM bot_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete logs")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *PostgresDiagRepo) RecordFailure(ctx context.Context, kind string, refID int64, errText string) {
	_, _ = r.DB.ExecContext(ctx, `
		INSERT INTO delivery_failures (kind, ref_id, error, created_at)
		VALUES ($1, $2, $3, NOW())
	`, kind, refID, errText)
}

func (r *PostgresDiagRepo) ListFailures(ctx context.Context, limit int) ([]*diag.DeliveryFailure, error) {
	var failures []*diag.DeliveryFailure
	err := r.DB.SelectContext(ctx, &failures, `
		SELECT id, kind, ref_id, error, created_at
		FROM delivery_failures
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failures")
	}
	return failures, nil
}

func (r *PostgresDiagRepo) RecordAttempt(ctx context.Context, refID int64, attempt int, outcome, errText string) {
	_, _ = r.DB.ExecContext(ctx, `
		INSERT INTO retry_attempts (ref_id, attempt, outcome, error, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, refID, attempt, outcome, errText)
}

func (r *PostgresDiagRepo) ListAttempts(ctx context.Context, limit int) ([]*diag.RetryAttempt, error) {
	var attempts []*diag.RetryAttempt
	err := r.DB.SelectContext(ctx, &attempts, `
		SELECT id, ref_id, attempt, outcome, error, created_at
		FROM retry_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list attempts")
	}
	return attempts, nil
}

var _ DiagRepository = (*PostgresDiagRepo)(nil)
