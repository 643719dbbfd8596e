package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/rules"
	"github.com/erauner12/wa-gateway/internal/store"
)

// executeActions runs a matched rule's actions sequentially in list order.
// Each action succeeds or fails independently; a failure never aborts the
// siblings that follow it.
func (e *Engine) executeActions(ctx context.Context, r rules.Rule, ev Event) []store.ActionResult {
	results := make([]store.ActionResult, 0, len(r.Actions))
	for i, a := range r.Actions {
		res := store.ActionResult{Type: a.Type, Description: describeAction(a), Success: true}

		var err error
		switch a.Type {
		case rules.ActionHAService:
			err = e.ha.CallService(ctx, a.Service, a.Target, a.Data)
		case rules.ActionReplyWhatsApp:
			_, err = e.wa.SendText(ctx, e.instance, ev.ChatID, a.Text)
		default:
			err = fmt.Errorf("unknown action type %q", a.Type)
		}

		if err != nil {
			res.Success = false
			res.Error = err.Error()
			log.Error().Err(err).
				Str("rule_id", r.ID).
				Int("action", i).
				Str("action_type", a.Type).
				Msg("rule action failed")
		}
		results = append(results, res)
	}
	return results
}

// describeAction renders a human-readable preview of an action, used both
// in rule-fire records and by the rule-test endpoint.
func describeAction(a rules.Action) string {
	switch a.Type {
	case rules.ActionHAService:
		if len(a.Target) == 0 {
			return fmt.Sprintf("call %s", a.Service)
		}
		parts := make([]string, 0, len(a.Target))
		for k, v := range a.Target {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(parts)
		return fmt.Sprintf("call %s (%s)", a.Service, strings.Join(parts, ", "))
	case rules.ActionReplyWhatsApp:
		return fmt.Sprintf("reply %q", a.Text)
	default:
		return a.Type
	}
}

// RuleTestResult is what the test endpoint returns: the per-rule match
// outcome plus a preview of the actions that would run. Nothing is
// executed and no cooldown state is read or written.
type RuleTestResult struct {
	Evaluated      []RuleOutcome `json:"matched_rules"`
	ActionsPreview []string      `json:"actions_preview"`
}

// TestMessage runs matching only. Chain semantics mirror HandleEvent: once
// a matching rule with stop_on_match is seen, the remaining rules are
// reported as skipped.
func (e *Engine) TestMessage(ev Event) *RuleTestResult {
	out := &RuleTestResult{Evaluated: []RuleOutcome{}, ActionsPreview: []string{}}
	stopped := ""
	for _, r := range e.Rules() {
		if !r.IsEnabled() {
			continue
		}
		if stopped != "" {
			out.Evaluated = append(out.Evaluated, RuleOutcome{
				RuleID: r.ID, RuleName: r.Name, Skipped: true,
				Reason: fmt.Sprintf("chain stopped by rule %s", stopped),
			})
			continue
		}

		matched, reason := matchRule(r, ev)
		out.Evaluated = append(out.Evaluated, RuleOutcome{
			RuleID: r.ID, RuleName: r.Name, Matched: matched, Reason: reason,
		})
		if !matched {
			continue
		}

		for _, a := range r.Actions {
			out.ActionsPreview = append(out.ActionsPreview,
				fmt.Sprintf("[%s] %s", r.ID, describeAction(a)))
		}
		if r.StopsOnMatch() {
			stopped = r.ID
		}
	}
	return out
}
