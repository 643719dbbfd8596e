// Package rules defines the operator-authored automation rule set: the YAML
// document format, strict parsing and schema validation.
package rules

// Action kinds.
const (
	ActionHAService     = "ha_service"
	ActionReplyWhatsApp = "reply_whatsapp"
)

// Text match modes.
const (
	MatchContains   = "contains"
	MatchStartsWith = "starts_with"
	MatchRegex      = "regex"
)

// Document is the root of the rule YAML.
type Document struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is a single automation rule. Enabled and StopOnMatch default to true
// when omitted, so both are pointers to distinguish "unset" from false.
type Rule struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Enabled         *bool    `yaml:"enabled,omitempty"`
	Priority        int      `yaml:"priority,omitempty"`
	StopOnMatch     *bool    `yaml:"stop_on_match,omitempty"`
	CooldownSeconds int      `yaml:"cooldown_seconds,omitempty"`
	Match           Match    `yaml:"match,omitempty"`
	Actions         []Action `yaml:"actions"`
}

// IsEnabled applies the default-true semantics of the enabled flag.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// StopsOnMatch applies the default-true semantics of stop_on_match.
func (r Rule) StopsOnMatch() bool {
	return r.StopOnMatch == nil || *r.StopOnMatch
}

// Match is the conjunctive match clause of a rule. All set conditions must
// hold; an empty clause matches every event.
type Match struct {
	Events []string     `yaml:"events,omitempty"`
	Chat   *ChatMatch   `yaml:"chat,omitempty"`
	Sender *SenderMatch `yaml:"sender,omitempty"`
	Text   *TextMatch   `yaml:"text,omitempty"`
}

// ChatMatch restricts the chat the event arrived in.
type ChatMatch struct {
	Kind string   `yaml:"type,omitempty"` // any | group | direct
	IDs  []string `yaml:"ids,omitempty"`
}

// SenderMatch restricts the message sender. When both IDs and Numbers are
// set, both must hold.
type SenderMatch struct {
	IDs     []string `yaml:"ids,omitempty"`
	Numbers []string `yaml:"numbers,omitempty"`
}

// TextMatch restricts the message text. A rule with a text clause never
// matches an event with empty text.
type TextMatch struct {
	Mode     string   `yaml:"mode"`
	Patterns []string `yaml:"patterns"`
}

// Action is one step of a rule's ordered action list. The Type discriminates
// which of the remaining fields apply.
type Action struct {
	Type string `yaml:"type"`

	// ha_service
	Service string         `yaml:"service,omitempty"`
	Target  map[string]any `yaml:"target,omitempty"`
	Data    map[string]any `yaml:"data,omitempty"`

	// reply_whatsapp
	Text string `yaml:"text,omitempty"`
}
