package models

import "time"

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// ParkingSession is one stay of a payer's vehicle in a lot, opened by an
// entry scan and closed by an exit scan.
type ParkingSession struct {
	ID              string        `db:"id" json:"id"`
	PayerID         string        `db:"payer_id" json:"payer_id"`
	VehicleID       string        `db:"vehicle_id" json:"vehicle_id"`
	LotID           string        `db:"lot_id" json:"lot_id"`
	GateID          string        `db:"gate_id" json:"gate_id"`
	RateType        RateType      `db:"rate_type" json:"rate_type"`
	Status          SessionStatus `db:"status" json:"status"`
	EntryTime       time.Time     `db:"entry_time" json:"entry_time"`
	ExitTime        *time.Time    `db:"exit_time" json:"exit_time,omitempty"`
	DurationMinutes int64         `db:"duration_minutes" json:"duration_minutes"`
	AgentID         string        `db:"agent_id" json:"agent_id"`
	ExitAgentID     string        `db:"exit_agent_id" json:"exit_agent_id,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the session is still open.
func (s *ParkingSession) IsActive() bool {
	return s != nil && s.Status == SessionStatusActive
}

// ElapsedMinutes returns whole minutes between entry and exit, rounded down.
// An exit earlier than the entry yields zero.
func ElapsedMinutes(entry, exit time.Time) int64 {
	if !exit.After(entry) {
		return 0
	}
	return int64(exit.Sub(entry) / time.Minute)
}
