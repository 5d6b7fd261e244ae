package models

import "time"

// Token is the decoded form of a scanned gate token. It is a bearer credential
// built by the payer's device and is never stored.
type Token struct {
	PayerID   string
	VehicleID string
	IssuedAt  time.Time
	Digest    []byte
}
