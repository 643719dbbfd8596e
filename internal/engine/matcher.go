package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/erauner12/wa-gateway/internal/rules"
)

// NormalizeEventKind folds the provider's two event naming conventions into
// one: dots become underscores and the result is upper-cased, so
// "messages.upsert" and "MESSAGES_UPSERT" compare equal.
func NormalizeEventKind(kind string) string {
	return strings.ToUpper(strings.ReplaceAll(kind, ".", "_"))
}

// ChatKindFromID derives the chat kind from the id suffix.
func ChatKindFromID(chatID string) string {
	if strings.HasSuffix(chatID, "@g.us") {
		return "group"
	}
	return "direct"
}

// senderNumber is the numeric part of a sender id (everything before "@").
func senderNumber(senderID string) string {
	if i := strings.Index(senderID, "@"); i >= 0 {
		return senderID[:i]
	}
	return senderID
}

// matchRule checks one rule's match clause against a normalised event. All
// configured conditions are conjunctive. The reason explains the first
// failing condition, for the rule-test endpoint.
func matchRule(r rules.Rule, ev Event) (bool, string) {
	m := r.Match

	if len(m.Events) > 0 {
		found := false
		for _, k := range m.Events {
			if NormalizeEventKind(k) == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("event kind %s not in rule events", ev.Kind)
		}
	}

	if m.Chat != nil {
		if m.Chat.Kind != "" && m.Chat.Kind != "any" && m.Chat.Kind != ev.ChatKind {
			return false, fmt.Sprintf("chat kind %s does not match %s", ev.ChatKind, m.Chat.Kind)
		}
		if len(m.Chat.IDs) > 0 && !containsString(m.Chat.IDs, ev.ChatID) {
			return false, "chat id not in rule chat ids"
		}
	}

	if m.Sender != nil {
		if len(m.Sender.IDs) > 0 && !containsString(m.Sender.IDs, ev.SenderID) {
			return false, "sender id not in rule sender ids"
		}
		if len(m.Sender.Numbers) > 0 && !containsString(m.Sender.Numbers, senderNumber(ev.SenderID)) {
			return false, "sender number not in rule sender numbers"
		}
	}

	if m.Text != nil {
		if !matchText(m.Text, ev.Text) {
			return false, "text did not match"
		}
	}

	return true, ""
}

// matchText applies the rule's text clause. Contains and starts_with are
// ASCII-case-insensitive and trim surrounding whitespace on both sides;
// regex patterns compile case-insensitively against the raw text. Empty
// event text never matches.
func matchText(tm *rules.TextMatch, text string) bool {
	subject := strings.TrimSpace(text)
	if subject == "" {
		return false
	}

	switch tm.Mode {
	case rules.MatchContains:
		lower := strings.ToLower(subject)
		for _, p := range tm.Patterns {
			if strings.Contains(lower, strings.ToLower(strings.TrimSpace(p))) {
				return true
			}
		}
	case rules.MatchStartsWith:
		lower := strings.ToLower(subject)
		for _, p := range tm.Patterns {
			if strings.HasPrefix(lower, strings.ToLower(strings.TrimSpace(p))) {
				return true
			}
		}
	case rules.MatchRegex:
		for _, p := range tm.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				// Rejected at validation time; an invalid pattern that
				// slipped through simply never matches.
				continue
			}
			if re.MatchString(text) {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
