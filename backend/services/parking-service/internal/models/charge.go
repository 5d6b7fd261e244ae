package models

import "time"

// ChargeRecord is the priced result of one completed session. Amount is fixed
// when the record is created; only the payment and overdue fields change later.
type ChargeRecord struct {
	ID               string     `db:"id" json:"id"`
	SessionID        string     `db:"session_id" json:"session_id"`
	PayerID          string     `db:"payer_id" json:"payer_id"`
	LotID            string     `db:"lot_id" json:"lot_id"`
	RateType         RateType   `db:"rate_type" json:"rate_type"`
	PolicyID         string     `db:"policy_id" json:"policy_id"`
	EntryTime        time.Time  `db:"entry_time" json:"entry_time"`
	DurationMinutes  int64      `db:"duration_minutes" json:"duration_minutes"`
	Tier             Tier       `db:"tier" json:"tier"`
	Amount           float64    `db:"amount" json:"amount"`
	Discount         float64    `db:"discount" json:"discount"`
	Paid             bool       `db:"paid" json:"paid"`
	PaymentMethod    string     `db:"payment_method" json:"payment_method,omitempty"`
	PaidAt           *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	Overdue          bool       `db:"overdue" json:"overdue"`
	OverdueSurcharge float64    `db:"overdue_surcharge" json:"overdue_surcharge"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// Due is the amount owed for the charge including any overdue surcharge.
func (c *ChargeRecord) Due() float64 {
	return c.Amount + c.OverdueSurcharge
}

// UnpricedSession is a backlog entry for a session whose exit could not be
// priced. The session stays active until an administrator resolves it.
type UnpricedSession struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	PayerID   string    `db:"payer_id" json:"payer_id"`
	LotID     string    `db:"lot_id" json:"lot_id"`
	RateType  RateType  `db:"rate_type" json:"rate_type"`
	Reason    string    `db:"reason" json:"reason"`
	Resolved  bool      `db:"resolved" json:"resolved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
