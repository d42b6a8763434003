package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a verified provider webhook, normalized for persistence and fan-out.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	SessionID   string          `json:"session_id"`
	Status      string          `json:"status"`
	VendorData  json.RawMessage `json:"vendor_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ReceivedAt  time.Time       `json:"received_at"`
	Fingerprint string          `json:"fingerprint"`
	RequestID   string          `json:"request_id,omitempty"`
	Payload     json.RawMessage `json:"-"`
}

// Sink receives accepted events. Deliver must not block the webhook response.
type Sink interface {
	Deliver(ctx context.Context, evt Event)
}

// Fanout delivers each event to every non-nil sink in order.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, evt Event) {
	for _, s := range f {
		if s != nil {
			s.Deliver(ctx, evt)
		}
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Deliver(context.Context, Event) {}
