package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the typed persistence layer over the Postgres pool. All durable
// gateway state (chats, messages, the rule set, cooldowns, rule fires and
// the event log) lives behind it; timestamps are written with the database
// clock at second resolution.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
