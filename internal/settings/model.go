package settings

import "time"

// BotSettings is the single operator-tuned configuration row.
type BotSettings struct {
	ID               int64     `db:"id" json:"id"`
	TradingEnabled   bool      `db:"trading_enabled" json:"trading_enabled"`
	MinTier          int       `db:"min_tier" json:"min_tier"`
	DefaultTPPercent float64   `db:"default_tp_percent" json:"default_tp_percent"`
	DefaultSLPercent float64   `db:"default_sl_percent" json:"default_sl_percent"`
	DefaultLeverage  int       `db:"default_leverage" json:"default_leverage"`
	DefaultQty       float64   `db:"default_qty" json:"default_qty"`
	MaxOpenPositions int       `db:"max_open_positions" json:"max_open_positions"`
	SMSEnabled       bool      `db:"sms_enabled" json:"sms_enabled"`
	SMSRecipient     string    `db:"sms_recipient" json:"sms_recipient"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Defaults returns the settings used until the operator saves their own.
func Defaults() *BotSettings {
	return &BotSettings{
		ID:               1,
		TradingEnabled:   false,
		MinTier:          1,
		DefaultTPPercent: 2.0,
		DefaultSLPercent: 1.0,
		DefaultLeverage:  1,
		DefaultQty:       0.01,
		MaxOpenPositions: 5,
	}
}

// SymbolLock blocks webhook entries for one symbol. A nil LockedUntil means
// the lock holds until it is deleted.
type SymbolLock struct {
	ID          int64      `db:"id" json:"id"`
	Symbol      string     `db:"symbol" json:"symbol"`
	Reason      string     `db:"reason" json:"reason"`
	LockedUntil *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}
