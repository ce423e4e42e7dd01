package position

import (
	"time"

	"github.com/pkg/errors"
)

// ErrNoOpenPosition is returned when a close is requested for a symbol the
// bot has no open row for.
var ErrNoOpenPosition = errors.New("no open position for symbol")

const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// History event kinds.
const (
	EventOpened  = "opened"
	EventAmended = "amended"
	EventClosed  = "closed"
)

// Position is a bot-managed position row. It mirrors what was sent to the
// exchange, not what the exchange currently reports; the live view is
// reconciled on read.
type Position struct {
	ID          int64      `db:"id" json:"id"`
	AlertID     int64      `db:"alert_id" json:"alert_id"`
	Symbol      string     `db:"symbol" json:"symbol"`
	Side        string     `db:"side" json:"side"` // Buy / Sell
	Qty         float64    `db:"qty" json:"qty"`
	EntryPrice  float64    `db:"entry_price" json:"entry_price"`
	TPPrice     float64    `db:"tp_price" json:"tp_price"`
	SLPrice     float64    `db:"sl_price" json:"sl_price"`
	Leverage    int        `db:"leverage" json:"leverage"`
	OrderID     string     `db:"order_id" json:"order_id"`
	Status      string     `db:"status" json:"status"`
	RealizedPnl float64    `db:"realized_pnl" json:"realized_pnl"`
	OpenedAt    time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt    *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// HistoryEvent is one lifecycle transition of a position.
type HistoryEvent struct {
	ID         int64     `db:"id" json:"id"`
	PositionID int64     `db:"position_id" json:"position_id"`
	Event      string    `db:"event" json:"event"`
	Detail     string    `db:"detail" json:"detail"` // JSON blob
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// BalanceSnapshot caches the last wallet balance fetched from the exchange so
// the dashboard has something to show while the API is geo-blocked.
type BalanceSnapshot struct {
	ID        int64     `db:"id" json:"id"`
	Payload   string    `db:"payload" json:"payload"` // raw JSON as served
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
