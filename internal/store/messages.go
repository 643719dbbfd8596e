package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertMessage stores a received message. A duplicate provider message id
// is a typed outcome, not an error: inserted is false and the id of the
// existing row is returned.
func (s *Store) InsertMessage(ctx context.Context, m NewMessage) (id int64, inserted bool, err error) {
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (provider_message_id, chat_id, sender_id, sender_name, body, message_type, raw_payload)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING id
	`, m.ProviderMessageID, m.ChatID, m.SenderID, m.SenderName, m.Body, m.MessageType, m.RawPayload).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	// Conflict path: fetch the surviving row's id.
	err = s.pool.QueryRow(ctx,
		`SELECT id FROM messages WHERE provider_message_id = $1`, m.ProviderMessageID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup duplicate message %s: %w", m.ProviderMessageID, err)
	}
	return id, false, nil
}

// MarkMessageProcessed flips the processed flag after the rule engine has
// seen the message.
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE messages SET processed = TRUE WHERE id = $1`, id)
	return err
}

// ListMessages returns one page of messages, newest first, with the total
// row count for the applied filter.
func (s *Store) ListMessages(ctx context.Context, p Page, chatID string) ([]Message, int, error) {
	where, args := "", []any{}
	if chatID != "" {
		args = append(args, chatID)
		where = " WHERE chat_id = $1"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, provider_message_id, chat_id, sender_id, sender_name, body, message_type, received_at, processed
		FROM messages%s
		ORDER BY received_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, p.Limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ProviderMessageID, &m.ChatID, &m.SenderID, &m.SenderName,
			&m.Body, &m.MessageType, &m.ReceivedAt, &m.Processed); err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}
