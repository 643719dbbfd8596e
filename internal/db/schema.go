package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// schema is the full DDL for the gateway. Statements are idempotent so the
// bootstrap can run on every start without a migration tool.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id              TEXT PRIMARY KEY,
		chat_type       TEXT NOT NULL DEFAULT 'direct',
		name            TEXT NOT NULL DEFAULT '',
		phone_number    TEXT,
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		last_message_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now()),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now())
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                  BIGSERIAL PRIMARY KEY,
		provider_message_id TEXT UNIQUE,
		chat_id             TEXT NOT NULL,
		sender_id           TEXT NOT NULL DEFAULT '',
		sender_name         TEXT NOT NULL DEFAULT '',
		body                TEXT NOT NULL DEFAULT '',
		message_type        TEXT NOT NULL DEFAULT 'text',
		raw_payload         JSONB,
		received_at         TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now()),
		processed           BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS messages_chat_id_idx ON messages (chat_id, received_at DESC)`,
	`CREATE TABLE IF NOT EXISTS rule_sets (
		id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		yaml_text  TEXT NOT NULL DEFAULT '',
		version    INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now())
	)`,
	`INSERT INTO rule_sets (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS rule_cooldowns (
		rule_id    TEXT NOT NULL,
		scope_key  TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (rule_id, scope_key)
	)`,
	`CREATE TABLE IF NOT EXISTS rule_fires (
		id            BIGSERIAL PRIMARY KEY,
		rule_id       TEXT NOT NULL,
		rule_name     TEXT NOT NULL DEFAULT '',
		message_id    BIGINT REFERENCES messages (id) ON DELETE SET NULL,
		chat_id       TEXT NOT NULL DEFAULT '',
		sender_id     TEXT NOT NULL DEFAULT '',
		matched_text  TEXT NOT NULL DEFAULT '',
		actions_json  JSONB,
		success       BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		fired_at      TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now())
	)`,
	`CREATE INDEX IF NOT EXISTS rule_fires_rule_id_idx ON rule_fires (rule_id, fired_at DESC)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		id            BIGSERIAL PRIMARY KEY,
		event_type    TEXT NOT NULL,
		instance_name TEXT NOT NULL DEFAULT '',
		chat_id       TEXT,
		sender_id     TEXT,
		summary       TEXT NOT NULL DEFAULT '',
		raw_payload   JSONB,
		received_at   TIMESTAMPTZ NOT NULL DEFAULT date_trunc('second', now())
	)`,
	`CREATE INDEX IF NOT EXISTS event_log_type_idx ON event_log (event_type, received_at DESC)`,
}

// EnsureSchema creates all gateway tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Info().Msg("database schema ensured")
	return nil
}
