package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"tvbridge/internal/alert"
)

// ListFilter narrows GET /api/alerts queries.
type ListFilter struct {
	Status string
	Symbol string
	Limit  int
	Offset int
}

// AlertRepository is the storage surface of the webhook pipeline and the
// alerts dashboard.
type AlertRepository interface {
	Save(ctx context.Context, a *alert.Alert) error
	UpdateStatus(ctx context.Context, id int64, status, errText string) error
	GetByID(ctx context.Context, id int64) (*alert.Alert, error)
	List(ctx context.Context, f ListFilter) ([]*alert.Alert, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresAlertRepo struct {
	DB *sqlx.DB
}

func NewPostgresAlertRepo(db *sqlx.DB) *PostgresAlertRepo {
	return &PostgresAlertRepo{DB: db}
}

func (r *PostgresAlertRepo) Save(ctx context.Context, a *alert.Alert) error {
	query := `
		INSERT INTO alerts (
			strategy, symbol, action, tier, price, qty, tp_percent, sl_percent,
			leverage, raw_payload, status, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.DB.QueryRowContext(ctx, query,
		a.Strategy, a.Symbol, a.Action, a.Tier, a.Price, a.Qty, a.TPPercent,
		a.SLPercent, a.Leverage, a.RawPayload, a.Status, a.Error,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return errors.Wrap(err, "failed to save alert")
}

func (r *PostgresAlertRepo) UpdateStatus(ctx context.Context, id int64, status, errText string) error {
	query := `UPDATE alerts SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.DB.ExecContext(ctx, query, status, errText, id)
	return errors.Wrap(err, "failed to update alert status")
}

func (r *PostgresAlertRepo) GetByID(ctx context.Context, id int64) (*alert.Alert, error) {
	query := `
		SELECT id, strategy, symbol, action, tier, price, qty, tp_percent, sl_percent,
		       leverage, raw_payload, status, error, created_at, updated_at
		FROM alerts
		WHERE id = $1
	`
	a := &alert.Alert{}
	if err := r.DB.GetContext(ctx, a, query, id); err != nil {
		return nil, errors.Wrap(err, "failed to get alert")
	}
	return a, nil
}

func (r *PostgresAlertRepo) List(ctx context.Context, f ListFilter) ([]*alert.Alert, error) {
	query := `
		SELECT id, strategy, symbol, action, tier, price, qty, tp_percent, sl_percent,
		       leverage, raw_payload, status, error, created_at, updated_at
		FROM alerts
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR symbol = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	var alerts []*alert.Alert
	if err := r.DB.SelectContext(ctx, &alerts, query, f.Status, f.Symbol, f.Limit, f.Offset); err != nil {
		return nil, errors.Wrap(err, "failed to list alerts")
	}
	return alerts, nil
}

func (r *PostgresAlertRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete alerts")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
