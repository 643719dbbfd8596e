package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// validChatSuffixes are the id suffixes the provider hands out. Rows whose
// id lacks all of them are considered malformed during sync reconciliation.
var validChatSuffixes = []string{"@g.us", "@s.whatsapp.net", "@c.us"}

// ChatTypeFromID derives the chat kind from the id suffix.
func ChatTypeFromID(id string) string {
	if strings.HasSuffix(id, "@g.us") {
		return "group"
	}
	return "direct"
}

// UpsertChatFromMessage creates or touches a chat row for a received
// message. On insert the kind and a best-effort display name are recorded;
// on conflict only the activity timestamps move.
func (s *Store) UpsertChatFromMessage(ctx context.Context, c ChatUpsert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chats (id, chat_type, name, phone_number, last_message_at, updated_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, date_trunc('second', now())), date_trunc('second', now()))
		ON CONFLICT (id) DO UPDATE SET
			last_message_at = EXCLUDED.last_message_at,
			updated_at      = EXCLUDED.updated_at
	`, c.ID, c.ChatType, c.Name, c.PhoneNumber, c.LastMessageAt)
	return err
}

// ListChats returns chats matching the filter, most recently active first.
func (s *Store) ListChats(ctx context.Context, f ChatFilter) ([]Chat, error) {
	q := `SELECT id, chat_type, name, phone_number, enabled, last_message_at, created_at, updated_at
		FROM chats WHERE 1=1`
	args := []any{}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(" AND chat_type = $%d", len(args))
	}
	if f.Enabled != nil {
		args = append(args, *f.Enabled)
		q += fmt.Sprintf(" AND enabled = $%d", len(args))
	}
	q += " ORDER BY last_message_at DESC NULLS LAST, name ASC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := make([]Chat, 0)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.ChatType, &c.Name, &c.PhoneNumber, &c.Enabled,
			&c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SetChatEnabled flips the operator-controlled enabled flag. Returns false
// when no chat with that id exists.
func (s *Store) SetChatEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chats SET enabled = $2, updated_at = date_trunc('second', now()) WHERE id = $1
	`, id, enabled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceChatCatalog upserts the merged group/contact catalogue and removes
// stale rows in a single transaction. A row is stale when its updated_at
// predates syncStart and its id lacks a known valid suffix.
func (s *Store) ReplaceChatCatalog(ctx context.Context, entries []ChatUpsert, syncStart time.Time) (upserted, removed int64, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		// Keep the longer of the stored and incoming names; catalogue
		// listings often carry bare numbers where a push name exists.
		_, err = tx.Exec(ctx, `
			INSERT INTO chats (id, chat_type, name, phone_number, last_message_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, date_trunc('second', now()))
			ON CONFLICT (id) DO UPDATE SET
				chat_type       = EXCLUDED.chat_type,
				name            = CASE WHEN length(EXCLUDED.name) > length(chats.name)
				                       THEN EXCLUDED.name ELSE chats.name END,
				phone_number    = COALESCE(EXCLUDED.phone_number, chats.phone_number),
				last_message_at = COALESCE(EXCLUDED.last_message_at, chats.last_message_at),
				updated_at      = EXCLUDED.updated_at
		`, e.ID, e.ChatType, e.Name, e.PhoneNumber, e.LastMessageAt)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert chat %s: %w", e.ID, err)
		}
		upserted++
	}

	cond := make([]string, 0, len(validChatSuffixes))
	args := []any{syncStart}
	for _, suf := range validChatSuffixes {
		args = append(args, "%"+suf)
		cond = append(cond, fmt.Sprintf("id NOT LIKE $%d", len(args)))
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM chats WHERE updated_at < $1 AND `+strings.Join(cond, " AND "), args...)
	if err != nil {
		return 0, 0, fmt.Errorf("reconcile chats: %w", err)
	}
	removed = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	log.Info().Int64("upserted", upserted).Int64("removed", removed).Msg("chat catalogue replaced")
	return upserted, removed, nil
}
