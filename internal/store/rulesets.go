package store

import (
	"context"
	"time"
)

// GetRuleSet returns the operator's rule YAML verbatim together with its
// version. The singleton row is seeded by the schema bootstrap, so a missing
// row is a genuine error.
func (s *Store) GetRuleSet(ctx context.Context) (yamlText string, version int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT yaml_text, version FROM rule_sets WHERE id = 1`).Scan(&yamlText, &version)
	return yamlText, version, err
}

// PutRuleSet replaces the rule YAML atomically and bumps the version. The
// caller is responsible for validating the document first.
func (s *Store) PutRuleSet(ctx context.Context, yamlText string) (version int, err error) {
	err = s.pool.QueryRow(ctx, `
		UPDATE rule_sets
		SET yaml_text = $1, version = version + 1, updated_at = date_trunc('second', now())
		WHERE id = 1
		RETURNING version
	`, yamlText).Scan(&version)
	return version, err
}

// RuleSetUpdatedAt returns the last save instant, for the management UI.
func (s *Store) RuleSetUpdatedAt(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT updated_at FROM rule_sets WHERE id = 1`).Scan(&t)
	return t, err
}
