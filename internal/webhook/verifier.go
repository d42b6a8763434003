package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTolerance bounds how far a claimed timestamp may drift from the
// receiver clock in either direction.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("signature header is required")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTimestampExpired = errors.New("signature timestamp outside allowed skew")
)

// Verifier authenticates provider webhooks signed with HMAC-SHA256 over the
// raw request body. It holds no per-request state and is safe for concurrent use.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A non-positive tolerance selects DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, for tests and replay tooling.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Tolerance returns the accepted clock skew.
func (v *Verifier) Tolerance() time.Duration {
	return v.tolerance
}

// Verify reports whether rawBody was signed with secret and timestamp is fresh.
func (v *Verifier) Verify(rawBody []byte, signature string, timestamp int64, secret []byte) bool {
	return v.Check(rawBody, signature, timestamp, secret) == nil
}

// Check runs freshness then signature verification and returns the reason for
// a rejection. Malformed input is a rejection, never a panic.
func (v *Verifier) Check(rawBody []byte, signature string, timestamp int64, secret []byte) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if !v.fresh(timestamp) {
		return ErrTimestampExpired
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	expected := computeMAC(secret, rawBody)
	if len(provided) != len(expected) {
		return ErrInvalidSignature
	}
	if !hmac.Equal(expected, provided) {
		return ErrInvalidSignature
	}
	return nil
}

// fresh compares in whole seconds without subtracting the claimed value, so
// extreme timestamps cannot overflow.
func (v *Verifier) fresh(timestamp int64) bool {
	now := v.now().Unix()
	tol := int64(v.tolerance / time.Second)
	return timestamp >= now-tol && timestamp <= now+tol
}

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	return hex.EncodeToString(computeMAC(secret, payload))
}

func computeMAC(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
