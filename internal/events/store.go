package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/idvrelay/idvrelay/internal/platform/database"
)

// Store handles webhook event persistence.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes events in one statement and returns how many rows were
// new. Redelivered events share a fingerprint and are skipped.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	sql, args := buildBatchInsert(events)
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting webhook events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func buildBatchInsert(events []Event) (string, []any) {
	const cols = "(id, session_id, status, vendor_data, payload, fingerprint, request_id, created_at, received_at)"
	const width = 9

	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*width)
	for i, e := range events {
		base := i * width
		ph := make([]string, width)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		var vendorData []byte
		if len(e.VendorData) > 0 {
			vendorData = e.VendorData
		}
		args = append(args,
			e.ID, e.SessionID, e.Status, vendorData, []byte(e.Payload),
			e.Fingerprint, e.RequestID, e.CreatedAt, e.ReceivedAt,
		)
	}

	sql := fmt.Sprintf(
		"INSERT INTO webhook_events %s VALUES %s ON CONFLICT (fingerprint) DO NOTHING",
		cols, strings.Join(placeholders, ", "),
	)
	return sql, args
}

// ListBySession returns the newest events for a session first.
func (s *Store) ListBySession(ctx context.Context, db database.Querier, sessionID string, limit int) ([]Event, error) {
	rows, err := db.Query(ctx,
		`SELECT id, session_id, status, vendor_data, payload, fingerprint, request_id, created_at, received_at
		FROM webhook_events
		WHERE session_id = $1
		ORDER BY received_at DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying webhook events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                   Event
			vendorData, payload []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Status, &vendorData, &payload,
			&e.Fingerprint, &e.RequestID, &e.CreatedAt, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		e.VendorData = vendorData
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook events: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes up to limit events received before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, db database.Querier, before time.Time, limit int) (int, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM webhook_events
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE received_at < $1
			ORDER BY received_at
			LIMIT $2
		)`,
		before, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting webhook events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
