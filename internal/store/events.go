package store

import (
	"context"
	"fmt"
)

// maxSummaryLen bounds the human-readable summary column, in runes.
const maxSummaryLen = 1000

// truncateRunes shortens s to at most n runes. Cutting on a rune boundary
// keeps the value valid UTF-8; Postgres rejects TEXT parameters carrying a
// split multibyte character.
func truncateRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// InsertEvent appends one row to the webhook event log.
func (s *Store) InsertEvent(ctx context.Context, e EventLogEntry) (int64, error) {
	summary := truncateRunes(e.Summary, maxSummaryLen)

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO event_log (event_type, instance_name, chat_id, sender_id, summary, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.EventType, e.InstanceName, e.ChatID, e.SenderID, summary, e.RawPayload).Scan(&id)
	return id, err
}

// ListEvents returns one page of the event log, newest first, optionally
// filtered by event type.
func (s *Store) ListEvents(ctx context.Context, p Page, eventType string) ([]EventLogEntry, int, error) {
	where, args := "", []any{}
	if eventType != "" {
		args = append(args, eventType)
		where = " WHERE event_type = $1"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM event_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, event_type, instance_name, chat_id, sender_id, summary, received_at
		FROM event_log%s
		ORDER BY received_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]EventLogEntry, 0, p.Limit)
	for rows.Next() {
		var e EventLogEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.InstanceName, &e.ChatID, &e.SenderID,
			&e.Summary, &e.ReceivedAt); err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
