package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"tvbridge/internal/position"
)

// PositionRepository is the storage surface for positions, their lifecycle
// history and the cached balance snapshot.
type PositionRepository interface {
	Save(ctx context.Context, p *position.Position) error
	GetByID(ctx context.Context, id int64) (*position.Position, error)
	GetOpen(ctx context.Context) ([]*position.Position, error)
	GetOpenBySymbol(ctx context.Context, symbol string) (*position.Position, error)
	CountOpen(ctx context.Context) (int, error)
	MarkClosed(ctx context.Context, id int64, realizedPnl float64) error
	UpdateStops(ctx context.Context, id int64, tpPrice, slPrice float64) error
	ListClosed(ctx context.Context, limit, offset int) ([]*position.Position, error)
	AppendHistory(ctx context.Context, h *position.HistoryEvent) error
	ListHistory(ctx context.Context, positionID int64, limit, offset int) ([]*position.HistoryEvent, error)
	SaveBalanceSnapshot(ctx context.Context, payload string) error
	GetBalanceSnapshot(ctx context.Context) (*position.BalanceSnapshot, error)
}

type PostgresPositionRepo struct {
	DB *sqlx.DB
}

func NewPostgresPositionRepo(db *sqlx.DB) *PostgresPositionRepo {
	return &PostgresPositionRepo{DB: db}
}

func (r *PostgresPositionRepo) Save(ctx context.Context, p *position.Position) error {
	query := `
		INSERT INTO bot_positions (
			alert_id, symbol, side, qty, entry_price, tp_price, sl_price,
			leverage, order_id, status, realized_pnl, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, NOW())
		RETURNING id, opened_at
	`
	err := r.DB.QueryRowContext(ctx, query,
		p.AlertID, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.TPPrice, p.SLPrice,
		p.Leverage, p.OrderID, p.Status,
	).Scan(&p.ID, &p.OpenedAt)
	return errors.Wrap(err, "failed to save position")
}

func (r *PostgresPositionRepo) GetByID(ctx context.Context, id int64) (*position.Position, error) {
	p := &position.Position{}
	err := r.DB.GetContext(ctx, p, `
		SELECT id, alert_id, symbol, side, qty, entry_price, tp_price, sl_price,
		       leverage, order_id, status, realized_pnl, opened_at, closed_at
		FROM bot_positions WHERE id = $1
	`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get position")
	}
	return p, nil
}

func (r *PostgresPositionRepo) GetOpen(ctx context.Context) ([]*position.Position, error) {
	var positions []*position.Position
	err := r.DB.SelectContext(ctx, &positions, `
		SELECT id, alert_id, symbol, side, qty, entry_price, tp_price, sl_price,
		       leverage, order_id, status, realized_pnl, opened_at, closed_at
		FROM bot_positions WHERE status = 'open'
		ORDER BY opened_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open positions")
	}
	return positions, nil
}

func (r *PostgresPositionRepo) GetOpenBySymbol(ctx context.Context, symbol string) (*position.Position, error) {
	p := &position.Position{}
	err := r.DB.GetContext(ctx, p, `
		SELECT id, alert_id, symbol, side, qty, entry_price, tp_price, sl_price,
		       leverage, order_id, status, realized_pnl, opened_at, closed_at
		FROM bot_positions WHERE symbol = $1 AND status = 'open'
		ORDER BY opened_at DESC LIMIT 1
	`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get open position")
	}
	return p, nil
}

func (r *PostgresPositionRepo) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := r.DB.GetContext(ctx, &count, `SELECT COUNT(*) FROM bot_positions WHERE status = 'open'`)
	return count, errors.Wrap(err, "failed to count open positions")
}

func (r *PostgresPositionRepo) MarkClosed(ctx context.Context, id int64, realizedPnl float64) error {
	query := `
		UPDATE bot_positions
		SET status = 'closed', realized_pnl = $1, closed_at = NOW()
		WHERE id = $2 AND status = 'open'
	`
	res, err := r.DB.ExecContext(ctx, query, realizedPnl, id)
	if err != nil {
		return errors.Wrap(err, "failed to close position")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("position %d is not open", id)
	}
	return nil
}

func (r *PostgresPositionRepo) UpdateStops(ctx context.Context, id int64, tpPrice, slPrice float64) error {
	query := `
		UPDATE bot_positions
		SET tp_price = $1, sl_price = $2
		WHERE id = $3 AND status = 'open'
	`
	res, err := r.DB.ExecContext(ctx, query, tpPrice, slPrice, id)
	if err != nil {
		return errors.Wrap(err, "failed to update stops")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("position %d is not open", id)
	}
	return nil
}

func (r *PostgresPositionRepo) ListClosed(ctx context.Context, limit, offset int) ([]*position.Position, error) {
	var positions []*position.Position
	err := r.DB.SelectContext(ctx, &positions, `
		SELECT id, alert_id, symbol, side, qty, entry_price, tp_price, sl_price,
		       leverage, order_id, status, realized_pnl, opened_at, closed_at
		FROM bot_positions WHERE status = 'closed'
		ORDER BY closed_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list closed positions")
	}
	return positions, nil
}

func (r *PostgresPositionRepo) AppendHistory(ctx context.Context, h *position.HistoryEvent) error {
	query := `
		INSERT INTO position_history (position_id, event, detail, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	err := r.DB.QueryRowContext(ctx, query, h.PositionID, h.Event, h.Detail).Scan(&h.ID, &h.CreatedAt)
	return errors.Wrap(err, "failed to append history")
}

func (r *PostgresPositionRepo) ListHistory(ctx context.Context, positionID int64, limit, offset int) ([]*position.HistoryEvent, error) {
	var events []*position.HistoryEvent
	err := r.DB.SelectContext(ctx, &events, `
		SELECT id, position_id, event, detail, created_at
		FROM position_history
		WHERE ($1 = 0 OR position_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, positionID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list history")
	}
	return events, nil
}

func (r *PostgresPositionRepo) SaveBalanceSnapshot(ctx context.Context, payload string) error {
	query := `
		INSERT INTO balance_snapshots (id, payload, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`
	_, err := r.DB.ExecContext(ctx, query, payload)
	return errors.Wrap(err, "failed to save balance snapshot")
}

func (r *PostgresPositionRepo) GetBalanceSnapshot(ctx context.Context) (*position.BalanceSnapshot, error) {
	s := &position.BalanceSnapshot{}
	err := r.DB.GetContext(ctx, s, `SELECT id, payload, updated_at FROM balance_snapshots WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance snapshot")
	}
	return s, nil
}

var _ PositionRepository = (*PostgresPositionRepo)(nil)
