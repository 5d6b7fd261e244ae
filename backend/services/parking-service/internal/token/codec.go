// Package token encodes, decodes and validates the short-lived gate tokens
// shown by a payer's device at entry and exit.
//
// Wire format: payer|vehicle|issuedUnixMillis|hex(hmac-sha256(payer|vehicle|issuedUnixMillis)).
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"parkwise/backend/services/parking-service/internal/models"
)

const (
	delimiter  = "|"
	fieldCount = 4

	keyInfo = "parkwise gate token v1"
	keySize = 32

	// DefaultFreshness is the window used when none is configured.
	DefaultFreshness = 30 * time.Second
)

// Status is the outcome of validating a token.
type Status string

const (
	StatusValid     Status = "VALID"
	StatusExpired   Status = "EXPIRED"
	StatusTampered  Status = "TAMPERED"
	StatusMalformed Status = "MALFORMED"
)

var (
	// ErrMalformed is returned by Decode when the string is not a token.
	ErrMalformed = errors.New("token: malformed")
	// ErrSecretTooShort is returned by NewCodec for weak secrets.
	ErrSecretTooShort = errors.New("token: secret must be at least 16 bytes")
	// ErrInvalidField is returned by Encode when an id cannot be encoded.
	ErrInvalidField = errors.New("token: invalid field")
)

// Codec signs and verifies tokens with a key derived from a shared secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	key       []byte
	freshness time.Duration
}

// NewCodec derives the MAC key from secret. A non-positive freshness falls back
// to DefaultFreshness.
func NewCodec(secret string, freshness time.Duration) (*Codec, error) {
	if len(secret) < 16 {
		return nil, ErrSecretTooShort
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	return &Codec{key: key, freshness: freshness}, nil
}

// Freshness returns the maximum accepted token age.
func (c *Codec) Freshness() time.Duration {
	return c.freshness
}

// Encode builds the token string for the given fields. issuedAt is truncated
// to millisecond precision.
func (c *Codec) Encode(payerID, vehicleID string, issuedAt time.Time) (string, error) {
	if err := checkField(payerID); err != nil {
		return "", fmt.Errorf("%w: payer id: %v", ErrInvalidField, err)
	}
	if err := checkField(vehicleID); err != nil {
		return "", fmt.Errorf("%w: vehicle id: %v", ErrInvalidField, err)
	}

	payload := signedPayload(payerID, vehicleID, issuedAt.UnixMilli())
	return payload + delimiter + hex.EncodeToString(c.sign(payload)), nil
}

// Decode parses raw without checking the digest or freshness. Only strings in
// the exact form produced by Encode are accepted.
func (c *Codec) Decode(raw string) (models.Token, error) {
	parts := strings.Split(raw, delimiter)
	if len(parts) != fieldCount {
		return models.Token{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, fieldCount, len(parts))
	}
	payerID, vehicleID, issuedRaw, digestRaw := parts[0], parts[1], parts[2], parts[3]

	if checkField(payerID) != nil || checkField(vehicleID) != nil {
		return models.Token{}, fmt.Errorf("%w: empty identifier", ErrMalformed)
	}

	millis, err := strconv.ParseInt(issuedRaw, 10, 64)
	if err != nil || strconv.FormatInt(millis, 10) != issuedRaw {
		return models.Token{}, fmt.Errorf("%w: bad timestamp", ErrMalformed)
	}

	digest, err := hex.DecodeString(digestRaw)
	if err != nil || len(digest) != sha256.Size || hex.EncodeToString(digest) != digestRaw {
		return models.Token{}, fmt.Errorf("%w: bad digest", ErrMalformed)
	}

	return models.Token{
		PayerID:   payerID,
		VehicleID: vehicleID,
		IssuedAt:  time.UnixMilli(millis).UTC(),
		Digest:    digest,
	}, nil
}

// Validate checks the digest first and then freshness. A correctly signed but
// stale token is EXPIRED.
func (c *Codec) Validate(tok models.Token, now time.Time) Status {
	if tok.PayerID == "" || tok.VehicleID == "" || len(tok.Digest) != sha256.Size {
		return StatusMalformed
	}

	expected := c.sign(signedPayload(tok.PayerID, tok.VehicleID, tok.IssuedAt.UnixMilli()))
	if !hmac.Equal(expected, tok.Digest) {
		return StatusTampered
	}

	age := now.Sub(tok.IssuedAt)
	if age > c.freshness || -age > c.freshness {
		return StatusExpired
	}
	return StatusValid
}

// Verify decodes and validates raw in one step.
func (c *Codec) Verify(raw string, now time.Time) (models.Token, Status) {
	tok, err := c.Decode(raw)
	if err != nil {
		return models.Token{}, StatusMalformed
	}
	return tok, c.Validate(tok, now)
}

func (c *Codec) sign(payload string) []byte {
	mac := hmac.New(sha256.New, c.key)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func signedPayload(payerID, vehicleID string, issuedMillis int64) string {
	return strings.Join([]string{payerID, vehicleID, strconv.FormatInt(issuedMillis, 10)}, delimiter)
}

func checkField(v string) error {
	switch {
	case v == "":
		return errors.New("empty")
	case strings.Contains(v, delimiter):
		return fmt.Errorf("contains %q", delimiter)
	}
	return nil
}
