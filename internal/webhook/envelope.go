package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/idvrelay/idvrelay/internal/events"
)

var (
	ErrMalformedRequest = errors.New("malformed webhook request")
	ErrEmptyBody        = fmt.Errorf("%w: missing request body", ErrMalformedRequest)
	ErrInvalidJSON      = fmt.Errorf("%w: invalid JSON body", ErrMalformedRequest)
	ErrMissingTimestamp = fmt.Errorf("%w: missing created_at timestamp", ErrMalformedRequest)
	ErrInvalidTimestamp = fmt.Errorf("%w: created_at must be integer epoch seconds", ErrMalformedRequest)
)

// Envelope is one inbound webhook as received on the wire. RawBody holds the
// exact bytes read from the transport; the signature covers those bytes only.
type Envelope struct {
	RawBody    []byte
	Signature  string
	Timestamp  int64
	SessionID  string
	Status     string
	VendorData json.RawMessage
}

type payload struct {
	SessionID  string          `json:"session_id"`
	Status     string          `json:"status"`
	VendorData json.RawMessage `json:"vendor_data"`
	CreatedAt  json.RawMessage `json:"created_at"`
}

// ParseEnvelope decodes the event fields from rawBody without altering it.
func ParseEnvelope(rawBody []byte, signature string) (Envelope, error) {
	if len(bytes.TrimSpace(rawBody)) == 0 {
		return Envelope{}, ErrEmptyBody
	}

	var p payload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return Envelope{}, ErrInvalidJSON
	}

	ts, err := parseTimestamp(p.CreatedAt)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		RawBody:    rawBody,
		Signature:  signature,
		Timestamp:  ts,
		SessionID:  p.SessionID,
		Status:     p.Status,
		VendorData: p.VendorData,
	}, nil
}

// parseTimestamp accepts a JSON integer or a string of digits.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	text := string(bytes.TrimSpace(raw))
	if text == "" || text == "null" {
		return 0, ErrMissingTimestamp
	}
	if text[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return 0, ErrInvalidTimestamp
		}
		text = unquoted
	}
	ts, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	if ts == 0 {
		return 0, ErrMissingTimestamp
	}
	return ts, nil
}

// Fingerprint is the hex SHA-256 of the raw body, used for storage dedup.
func (e Envelope) Fingerprint() string {
	digest := sha256.Sum256(e.RawBody)
	return hex.EncodeToString(digest[:])
}

// Event converts a verified envelope into its stored form.
func (e Envelope) Event(receivedAt time.Time, requestID string) events.Event {
	return events.Event{
		ID:          uuid.New(),
		SessionID:   e.SessionID,
		Status:      e.Status,
		VendorData:  e.VendorData,
		CreatedAt:   time.Unix(e.Timestamp, 0).UTC(),
		ReceivedAt:  receivedAt.UTC(),
		Fingerprint: e.Fingerprint(),
		RequestID:   requestID,
		Payload:     append(json.RawMessage(nil), e.RawBody...),
	}
}
