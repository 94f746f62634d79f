package qrtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadType discriminates check-in tokens from any other QR content a
// scanner might hand us.
const PayloadType = "attendance-checkin"

// Expected validation failures. These are routine outcomes of a live
// check-in flow, reported to callers as tagged errors rather than panics.
var (
	ErrMalformed = errors.New("qrtoken: payload malformed")
	ErrUnknown   = errors.New("qrtoken: token unknown or already removed")
	ErrExpired   = errors.New("qrtoken: token expired")
	ErrMismatch  = errors.New("qrtoken: payload does not match stored token")
)

// Payload is the wire format embedded in the QR image. Any consumer can
// parse it without additional context.
type Payload struct {
	SessionID string `json:"sessionId"`
	TokenID   string `json:"tokenId"`
	IssuedAt  int64  `json:"issuedAt"`  // epoch ms
	ExpiresAt int64  `json:"expiresAt"` // epoch ms
	Type      string `json:"type"`
}

// CheckInToken is one issued, time-bounded check-in authorization.
type CheckInToken struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Payload   string    `json:"payload"` // canonical JSON, exactly what the QR encodes
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t CheckInToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// newTokenID builds an identifier unique across active tokens: a timestamp
// for ordering plus a random suffix so tokens issued in the same
// millisecond never collide.
func newTokenID(now time.Time) string {
	return fmt.Sprintf("qr_%d_%s", now.UnixMilli(), uuid.NewString())
}

// canonicalPayload serializes the payload once; validation later compares
// scanned text byte-for-byte against this string.
func canonicalPayload(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// parsePayload deserializes scanned text and checks the type discriminator.
func parsePayload(scanned string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(scanned), &p); err != nil {
		return Payload{}, ErrMalformed
	}
	if p.Type != PayloadType || p.TokenID == "" {
		return Payload{}, ErrMalformed
	}
	return p, nil
}
