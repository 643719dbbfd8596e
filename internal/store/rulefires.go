package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertRuleFire appends one rule-fire record.
func (s *Store) InsertRuleFire(ctx context.Context, f RuleFire) (int64, error) {
	actions, err := json.Marshal(f.Actions)
	if err != nil {
		return 0, fmt.Errorf("marshal action results: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO rule_fires (rule_id, rule_name, message_id, chat_id, sender_id, matched_text, actions_json, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, f.RuleID, f.RuleName, f.MessageID, f.ChatID, f.SenderID, f.MatchedText, actions, f.Success, f.ErrorMessage).Scan(&id)
	return id, err
}

// ListRuleFires returns one page of the rule-fire log, newest first.
func (s *Store) ListRuleFires(ctx context.Context, p Page, ruleID string) ([]RuleFire, int, error) {
	where, args := "", []any{}
	if ruleID != "" {
		args = append(args, ruleID)
		where = " WHERE rule_id = $1"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM rule_fires`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, rule_id, rule_name, message_id, chat_id, sender_id, matched_text, actions_json, success, error_message, fired_at
		FROM rule_fires%s
		ORDER BY fired_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	fires := make([]RuleFire, 0, p.Limit)
	for rows.Next() {
		var f RuleFire
		var actions []byte
		if err := rows.Scan(&f.ID, &f.RuleID, &f.RuleName, &f.MessageID, &f.ChatID, &f.SenderID,
			&f.MatchedText, &actions, &f.Success, &f.ErrorMessage, &f.FiredAt); err != nil {
			return nil, 0, err
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &f.Actions); err != nil {
				return nil, 0, fmt.Errorf("unmarshal action results for fire %d: %w", f.ID, err)
			}
		}
		fires = append(fires, f)
	}
	return fires, total, rows.Err()
}
