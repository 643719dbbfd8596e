package store

import "time"

// Chat is one WhatsApp conversation known to the gateway. The id suffix
// distinguishes groups (@g.us) from direct chats (@s.whatsapp.net, @c.us).
type Chat struct {
	ID            string     `json:"id"`
	ChatType      string     `json:"chat_type"`
	Name          string     `json:"name"`
	PhoneNumber   *string    `json:"phone_number,omitempty"`
	Enabled       bool       `json:"enabled"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ChatUpsert carries the writable fields of a chat row.
type ChatUpsert struct {
	ID            string
	ChatType      string
	Name          string
	PhoneNumber   *string
	LastMessageAt *time.Time
}

// ChatFilter narrows ListChats. Zero values mean "no filter".
type ChatFilter struct {
	Type    string
	Enabled *bool
}

// Message is one received chat message.
type Message struct {
	ID                int64     `json:"id"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	ChatID            string    `json:"chat_id"`
	SenderID          string    `json:"sender_id"`
	SenderName        string    `json:"sender_name"`
	Body              string    `json:"body"`
	MessageType       string    `json:"message_type"`
	ReceivedAt        time.Time `json:"received_at"`
	Processed         bool      `json:"processed"`
}

// NewMessage carries the fields of a message about to be inserted.
type NewMessage struct {
	ProviderMessageID string
	ChatID            string
	SenderID          string
	SenderName        string
	Body              string
	MessageType       string
	RawPayload        []byte
}

// ActionResult records the outcome of a single rule action.
type ActionResult struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// RuleFire is one append-only record of a rule that matched and had its
// actions attempted.
type RuleFire struct {
	ID           int64          `json:"id"`
	RuleID       string         `json:"rule_id"`
	RuleName     string         `json:"rule_name"`
	MessageID    *int64         `json:"message_id,omitempty"`
	ChatID       string         `json:"chat_id"`
	SenderID     string         `json:"sender_id"`
	MatchedText  string         `json:"matched_text"`
	Actions      []ActionResult `json:"actions"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	FiredAt      time.Time      `json:"fired_at"`
}

// EventLogEntry is one append-only record of an inbound webhook event.
type EventLogEntry struct {
	ID           int64     `json:"id"`
	EventType    string    `json:"event_type"`
	InstanceName string    `json:"instance_name"`
	ChatID       *string   `json:"chat_id,omitempty"`
	SenderID     *string   `json:"sender_id,omitempty"`
	Summary      string    `json:"summary"`
	RawPayload   []byte    `json:"-"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Page is 1-based pagination input for the list endpoints.
type Page struct {
	Page  int
	Limit int
}

// Offset converts the 1-based page into a SQL offset.
func (p Page) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}
