package diag

import "time"

// BotLog is one bot action record shown on the logs dashboard.
type BotLog struct {
	ID        int64     `db:"id" json:"id"`
	Level     string    `db:"level" json:"level"` // info, warn, error
	Scope     string    `db:"scope" json:"scope"` // webhook, order, sms, ...
	Message   string    `db:"message" json:"message"`
	Detail    string    `db:"detail" json:"detail,omitempty"` // JSON blob
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DeliveryFailure records an outbound call (exchange order, SMS) that
// ultimately failed, for the diagnostics dashboard.
type DeliveryFailure struct {
	ID        int64     `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"` // order, sms
	RefID     int64     `db:"ref_id" json:"ref_id"`
	Error     string    `db:"error" json:"error"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RetryAttempt is one SMS delivery attempt, success or not.
type RetryAttempt struct {
	ID        int64     `db:"id" json:"id"`
	RefID     int64     `db:"ref_id" json:"ref_id"` // alert id the SMS refers to
	Attempt   int       `db:"attempt" json:"attempt"`
	Outcome   string    `db:"outcome" json:"outcome"` // delivered, retrying, failed
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
