package store

import (
	"context"
	"time"
)

// IsOnCooldown reports whether (rule, scope) has an unexpired cooldown row.
func (s *Store) IsOnCooldown(ctx context.Context, ruleID, scopeKey string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM rule_cooldowns
			WHERE rule_id = $1 AND scope_key = $2 AND expires_at > now()
		)
	`, ruleID, scopeKey).Scan(&active)
	return active, err
}

// SetCooldown arms the cooldown for (rule, scope). The expiry only ever
// moves forward, so concurrent fires cannot shorten an active window.
func (s *Store) SetCooldown(ctx context.Context, ruleID, scopeKey string, d time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rule_cooldowns (rule_id, scope_key, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (rule_id, scope_key) DO UPDATE SET
			expires_at = GREATEST(rule_cooldowns.expires_at, EXCLUDED.expires_at)
	`, ruleID, scopeKey, d.Seconds())
	return err
}

// SweepExpiredCooldowns deletes rows whose window has passed.
func (s *Store) SweepExpiredCooldowns(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rule_cooldowns WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
