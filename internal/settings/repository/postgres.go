package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"tvbridge/internal/settings"
)

// SettingsRepository is what the webhook pipeline and the settings dashboard
// need from storage.
type SettingsRepository interface {
	Get(ctx context.Context) (*settings.BotSettings, error)
	Upsert(ctx context.Context, s *settings.BotSettings) error
	ListLocks(ctx context.Context) ([]*settings.SymbolLock, error)
	IsLocked(ctx context.Context, symbol string) (bool, error)
	CreateLock(ctx context.Context, lock *settings.SymbolLock) error
	DeleteLock(ctx context.Context, symbol string) (int64, error)
}

type PostgresSettingsRepo struct {
	DB *sqlx.DB
}

func NewPostgresSettingsRepo(db *sqlx.DB) *PostgresSettingsRepo {
	return &PostgresSettingsRepo{DB: db}
}

// Get returns the stored settings row, or the defaults when none was saved yet.
func (r *PostgresSettingsRepo) Get(ctx context.Context) (*settings.BotSettings, error) {
	query := `
		SELECT id, trading_enabled, min_tier, default_tp_percent, default_sl_percent,
		       default_leverage, default_qty, max_open_positions, sms_enabled,
		       sms_recipient, updated_at
		FROM bot_settings
		WHERE id = 1
	`
	s := &settings.BotSettings{}
	err := r.DB.GetContext(ctx, s, query)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.Defaults(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load settings")
	}
	return s, nil
}

func (r *PostgresSettingsRepo) Upsert(ctx context.Context, s *settings.BotSettings) error {
	query := `
		INSERT INTO bot_settings (
			id, trading_enabled, min_tier, default_tp_percent, default_sl_percent,
			default_leverage, default_qty, max_open_positions, sms_enabled,
			sms_recipient, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			trading_enabled = EXCLUDED.trading_enabled,
			min_tier = EXCLUDED.min_tier,
			default_tp_percent = EXCLUDED.default_tp_percent,
			default_sl_percent = EXCLUDED.default_sl_percent,
			default_leverage = EXCLUDED.default_leverage,
			default_qty = EXCLUDED.default_qty,
			max_open_positions = EXCLUDED.max_open_positions,
			sms_enabled = EXCLUDED.sms_enabled,
			sms_recipient = EXCLUDED.sms_recipient,
			updated_at = NOW()
	`
	_, err := r.DB.ExecContext(ctx, query,
		s.TradingEnabled, s.MinTier, s.DefaultTPPercent, s.DefaultSLPercent,
		s.DefaultLeverage, s.DefaultQty, s.MaxOpenPositions, s.SMSEnabled,
		s.SMSRecipient,
	)
	return errors.Wrap(err, "failed to save settings")
}

func (r *PostgresSettingsRepo) ListLocks(ctx context.Context) ([]*settings.SymbolLock, error) {
	query := `
		SELECT id, symbol, reason, locked_until, created_at
		FROM symbol_locks
		ORDER BY created_at DESC
	`
	var locks []*settings.SymbolLock
	if err := r.DB.SelectContext(ctx, &locks, query); err != nil {
		return nil, errors.Wrap(err, "failed to list locks")
	}
	return locks, nil
}

// IsLocked treats a lock whose locked_until has passed as expired.
func (r *PostgresSettingsRepo) IsLocked(ctx context.Context, symbol string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM symbol_locks
		WHERE symbol = $1 AND (locked_until IS NULL OR locked_until > NOW())
	`
	var count int
	if err := r.DB.GetContext(ctx, &count, query, symbol); err != nil {
		return false, errors.Wrap(err, "failed to check lock")
	}
	return count > 0, nil
}

func (r *PostgresSettingsRepo) CreateLock(ctx context.Context, lock *settings.SymbolLock) error {
	query := `
		INSERT INTO symbol_locks (symbol, reason, locked_until, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			reason = EXCLUDED.reason,
			locked_until = EXCLUDED.locked_until
		RETURNING id
	`
	err := r.DB.QueryRowContext(ctx, query, lock.Symbol, lock.Reason, lock.LockedUntil).Scan(&lock.ID)
	return errors.Wrap(err, "failed to create lock")
}

func (r *PostgresSettingsRepo) DeleteLock(ctx context.Context, symbol string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM symbol_locks WHERE symbol = $1`, symbol)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete lock")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
