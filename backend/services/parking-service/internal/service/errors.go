package service

import (
	"errors"
)

// Error codes reported to gate agents and administrators.
const (
	CodeMalformed               = "MALFORMED"
	CodeTampered                = "TAMPERED"
	CodeExpired                 = "EXPIRED"
	CodeConflict                = "CONFLICT"
	CodeNotFound                = "NOT_FOUND"
	CodeChargeComputationFailed = "CHARGE_COMPUTATION_FAILED"
	CodeInvalidArgument         = "INVALID_ARGUMENT"
	CodeInternal                = "INTERNAL"
)

var (
	ErrMalformedToken          = errors.New("token is malformed")
	ErrTamperedToken           = errors.New("token signature mismatch")
	ErrExpiredToken            = errors.New("token has expired")
	ErrActiveSessionExists     = errors.New("payer already has an active session")
	ErrNoActiveSession         = errors.New("no active session for payer")
	ErrVehicleMismatch         = errors.New("vehicle does not match")
	ErrUnknownVehicle          = errors.New("vehicle is not registered")
	ErrRatePolicyNotFound      = errors.New("no active rate policy")
	ErrChargeComputationFailed = errors.New("charge computation failed")
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrInvalidArgument         = errors.New("invalid argument")
)

// Code maps err to its error code. Unrecognized errors are INTERNAL.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedToken):
		return CodeMalformed
	case errors.Is(err, ErrTamperedToken):
		return CodeTampered
	case errors.Is(err, ErrExpiredToken):
		return CodeExpired
	case errors.Is(err, ErrActiveSessionExists), errors.Is(err, ErrVehicleMismatch):
		return CodeConflict
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, ErrUnknownVehicle),
		errors.Is(err, ErrRatePolicyNotFound), errors.Is(err, ErrInvoiceNotFound):
		return CodeNotFound
	case errors.Is(err, ErrChargeComputationFailed):
		return CodeChargeComputationFailed
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeInternal
	}
}
