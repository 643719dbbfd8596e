// Package engine evaluates incoming chat events against the cached rule set
// and dispatches the matching rules' actions.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/metrics"
	"github.com/erauner12/wa-gateway/internal/rules"
	"github.com/erauner12/wa-gateway/internal/store"
)

// Event is the normalised form every provider event is reduced to before
// rule evaluation.
type Event struct {
	Kind       string `json:"event_kind"`
	ChatID     string `json:"chat_id"`
	ChatKind   string `json:"chat_kind"` // group | direct
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	MessageID  *int64 `json:"message_id,omitempty"`
}

// RuleStore is the persistence surface the engine needs: the saved rule
// set, cooldown bookkeeping and the rule-fire log.
type RuleStore interface {
	GetRuleSet(ctx context.Context) (yamlText string, version int, err error)
	IsOnCooldown(ctx context.Context, ruleID, scopeKey string) (bool, error)
	SetCooldown(ctx context.Context, ruleID, scopeKey string, d time.Duration) error
	SweepExpiredCooldowns(ctx context.Context) (int64, error)
	InsertRuleFire(ctx context.Context, f store.RuleFire) (int64, error)
}

// ServiceCaller invokes a Home Assistant service. The implementation owns
// the allow-list check.
type ServiceCaller interface {
	CallService(ctx context.Context, service string, target, data map[string]any) error
}

// TextSender sends a WhatsApp text message through the provider.
type TextSender interface {
	SendText(ctx context.Context, instance, to, text string) (messageID string, err error)
}

// Engine caches the parsed rule set and runs events through it. The cache
// is replaced wholesale on save (atomic pointer swap), so the read path
// needs no locking.
type Engine struct {
	store    RuleStore
	ha       ServiceCaller
	wa       TextSender
	instance string

	ruleset atomic.Pointer[[]rules.Rule]
	version atomic.Int64
}

// New builds an engine with an empty rule cache. Call Reload (or Load) to
// populate it.
func New(st RuleStore, ha ServiceCaller, wa TextSender, instance string) *Engine {
	e := &Engine{store: st, ha: ha, wa: wa, instance: instance}
	empty := []rules.Rule{}
	e.ruleset.Store(&empty)
	return e
}

// Load replaces the cached rule set. Rules are sorted stably by ascending
// priority once, here, so evaluation iterates in final order.
func (e *Engine) Load(doc *rules.Document, version int) {
	sorted := make([]rules.Rule, len(doc.Rules))
	copy(sorted, doc.Rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	e.ruleset.Store(&sorted)
	e.version.Store(int64(version))
	log.Info().Int("rules", len(sorted)).Int("version", version).Msg("rule set loaded")
}

// Reload re-reads the saved rule set from the store and swaps the cache.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	yamlText, version, err := e.store.GetRuleSet(ctx)
	if err != nil {
		return 0, err
	}
	doc, err := rules.Parse(yamlText)
	if err != nil {
		return 0, err
	}
	e.Load(doc, version)
	return len(doc.Rules), nil
}

// Rules returns the current cached rule set in evaluation order.
func (e *Engine) Rules() []rules.Rule {
	return *e.ruleset.Load()
}

// Version returns the version of the cached rule set.
func (e *Engine) Version() int {
	return int(e.version.Load())
}

// RuleOutcome describes how a single rule fared against one event.
type RuleOutcome struct {
	RuleID   string               `json:"rule_id"`
	RuleName string               `json:"rule_name"`
	Matched  bool                 `json:"matched"`
	Skipped  bool                 `json:"skipped"`
	Reason   string               `json:"reason,omitempty"`
	Actions  []store.ActionResult `json:"actions,omitempty"`
	Success  bool                 `json:"success"`
}

// EventOutcome is the result of running one event through the rule chain.
type EventOutcome struct {
	Evaluated []RuleOutcome `json:"evaluated"`
	Fired     int           `json:"fired"`
}

// matchedTextLimit bounds the triggering-text excerpt stored per fire, in
// runes.
const matchedTextLimit = 500

// HandleEvent runs one normalised event through the rule chain: cooldown
// check, match, ordered action dispatch, fire record, cooldown arm. Rules
// iterate by ascending priority; a matching rule with stop_on_match ends
// the chain. A cooldown-skipped rule never stops the chain.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) (*EventOutcome, error) {
	// Opportunistic cleanup; a failure here never blocks evaluation.
	if _, err := e.store.SweepExpiredCooldowns(ctx); err != nil {
		log.Warn().Err(err).Msg("cooldown sweep failed")
	}

	out := &EventOutcome{}
	for _, r := range e.Rules() {
		if !r.IsEnabled() {
			continue
		}

		onCooldown, err := e.store.IsOnCooldown(ctx, r.ID, ev.ChatID)
		if err != nil {
			return out, err
		}
		if onCooldown {
			out.Evaluated = append(out.Evaluated, RuleOutcome{
				RuleID: r.ID, RuleName: r.Name, Skipped: true, Reason: "cooldown active",
			})
			continue
		}

		matched, reason := matchRule(r, ev)
		if !matched {
			out.Evaluated = append(out.Evaluated, RuleOutcome{
				RuleID: r.ID, RuleName: r.Name, Reason: reason,
			})
			continue
		}

		results := e.executeActions(ctx, r, ev)
		success, errMsg := summarize(results)

		fire := store.RuleFire{
			RuleID:       r.ID,
			RuleName:     r.Name,
			MessageID:    ev.MessageID,
			ChatID:       ev.ChatID,
			SenderID:     ev.SenderID,
			MatchedText:  truncate(ev.Text, matchedTextLimit),
			Actions:      results,
			Success:      success,
			ErrorMessage: errMsg,
		}
		if _, err := e.store.InsertRuleFire(ctx, fire); err != nil {
			log.Error().Err(err).Str("rule_id", r.ID).Msg("failed to record rule fire")
		}
		metrics.RuleFires.WithLabelValues(outcomeLabel(success)).Inc()
		out.Fired++

		if success && r.CooldownSeconds > 0 {
			d := time.Duration(r.CooldownSeconds) * time.Second
			if err := e.store.SetCooldown(ctx, r.ID, ev.ChatID, d); err != nil {
				log.Error().Err(err).Str("rule_id", r.ID).Msg("failed to set cooldown")
			}
		}

		out.Evaluated = append(out.Evaluated, RuleOutcome{
			RuleID: r.ID, RuleName: r.Name, Matched: true, Actions: results, Success: success,
		})

		if r.StopsOnMatch() {
			break
		}
	}
	return out, nil
}

func summarize(results []store.ActionResult) (bool, string) {
	success := true
	errs := []string{}
	for _, res := range results {
		if !res.Success {
			success = false
			if res.Error != "" {
				errs = append(errs, res.Error)
			}
		}
	}
	return success, strings.Join(errs, "; ")
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// truncate shortens s to at most n runes. Cutting on a rune boundary keeps
// the result valid UTF-8 for the database.
func truncate(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
