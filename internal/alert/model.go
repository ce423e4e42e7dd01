package alert

import "time"

// Alert lifecycle statuses. An alert always lands as StatusReceived and ends
// in exactly one of the terminal states.
const (
	StatusReceived  = "received"
	StatusFiltered  = "filtered" // below the min-tier gate
	StatusLocked    = "locked"   // symbol lock active
	StatusDisabled  = "disabled" // trading switched off
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Actions accepted from the webhook payload.
const (
	ActionBuy   = "buy"
	ActionSell  = "sell"
	ActionClose = "close"
)

// Alert is one received TradingView webhook notification.
type Alert struct {
	ID         int64     `db:"id" json:"id"`
	Strategy   string    `db:"strategy" json:"strategy"`
	Symbol     string    `db:"symbol" json:"symbol"`
	Action     string    `db:"action" json:"action"`
	Tier       int       `db:"tier" json:"tier"`
	Price      float64   `db:"price" json:"price"`
	Qty        float64   `db:"qty" json:"qty"`
	TPPercent  float64   `db:"tp_percent" json:"tp_percent"`
	SLPercent  float64   `db:"sl_percent" json:"sl_percent"`
	Leverage   int       `db:"leverage" json:"leverage"`
	RawPayload string    `db:"raw_payload" json:"raw_payload,omitempty"`
	Status     string    `db:"status" json:"status"`
	Error      string    `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
