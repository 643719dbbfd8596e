// Package ingest turns raw provider webhook envelopes into event-log rows,
// persisted messages and normalised events for the rule engine.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/engine"
	"github.com/erauner12/wa-gateway/internal/metrics"
	"github.com/erauner12/wa-gateway/internal/store"
)

// Envelope is the provider's webhook payload.
type Envelope struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     map[string]any `json:"data"`
}

// Store is the persistence surface the ingestor needs.
type Store interface {
	InsertEvent(ctx context.Context, e store.EventLogEntry) (int64, error)
	InsertMessage(ctx context.Context, m store.NewMessage) (int64, bool, error)
	UpsertChatFromMessage(ctx context.Context, c store.ChatUpsert) error
	MarkMessageProcessed(ctx context.Context, id int64) error
}

// RuleRunner is the engine surface the ingestor hands events to.
type RuleRunner interface {
	HandleEvent(ctx context.Context, ev engine.Event) (*engine.EventOutcome, error)
}

// Ingestor normalises, records, deduplicates and forwards provider events.
type Ingestor struct {
	store  Store
	engine RuleRunner
}

// New builds an ingestor.
func New(st Store, eng RuleRunner) *Ingestor {
	return &Ingestor{store: st, engine: eng}
}

// Handle processes one webhook envelope. Every event gets an event-log row;
// message events additionally go through text extraction, dedup, message
// persistence and chat upkeep before reaching the engine. Errors are
// returned for logging only: the HTTP layer answers 200 regardless so the
// provider does not retry already-recorded events.
func (i *Ingestor) Handle(ctx context.Context, env Envelope) error {
	kind := engine.NormalizeEventKind(env.Event)
	metrics.WebhookEvents.WithLabelValues(kind).Inc()

	chatID, senderID, summary := extractMeta(kind, env.Data)

	raw, err := json.Marshal(env.Data)
	if err != nil {
		log.Warn().Err(err).Str("event", kind).Msg("failed to marshal event payload")
		raw = nil
	}
	if _, err := i.store.InsertEvent(ctx, store.EventLogEntry{
		EventType:    kind,
		InstanceName: env.Instance,
		ChatID:       chatID,
		SenderID:     senderID,
		Summary:      summary,
		RawPayload:   raw,
	}); err != nil {
		return err
	}

	if kind == "MESSAGES_UPSERT" {
		return i.handleMessage(ctx, env, raw)
	}

	// Non-message kinds still reach the engine so rules subscribing to
	// them (connection updates and the like) can fire.
	ev := engine.Event{Kind: kind}
	if chatID != nil {
		ev.ChatID = *chatID
		ev.ChatKind = engine.ChatKindFromID(*chatID)
	}
	if senderID != nil {
		ev.SenderID = *senderID
	}
	_, err = i.engine.HandleEvent(ctx, ev)
	return err
}

func (i *Ingestor) handleMessage(ctx context.Context, env Envelope, raw []byte) error {
	key := extractKey(env.Data)
	if key.FromMe {
		// Self-sent messages are audited in the event log only.
		return nil
	}

	text, msgType := extractText(env.Data)
	if text == "" {
		log.Debug().Str("chat_id", key.RemoteJID).Msg("message without text content, skipping")
		return nil
	}

	senderID := key.RemoteJID
	if key.Participant != "" {
		senderID = key.Participant
	}
	senderName, _ := getString(env.Data, "pushName")

	msgID, inserted, err := i.store.InsertMessage(ctx, store.NewMessage{
		ProviderMessageID: key.ID,
		ChatID:            key.RemoteJID,
		SenderID:          senderID,
		SenderName:        senderName,
		Body:              text,
		MessageType:       msgType,
		RawPayload:        raw,
	})
	if err != nil {
		return err
	}
	if !inserted {
		metrics.MessagesDeduplicated.Inc()
		log.Debug().Str("provider_message_id", key.ID).Msg("duplicate message, skipping")
		return nil
	}
	metrics.MessagesIngested.Inc()

	chatKind := engine.ChatKindFromID(key.RemoteJID)
	now := time.Now()
	chatName := senderName
	if chatKind == "group" {
		chatName = ""
	}
	if err := i.store.UpsertChatFromMessage(ctx, store.ChatUpsert{
		ID:            key.RemoteJID,
		ChatType:      chatKind,
		Name:          chatName,
		LastMessageAt: &now,
	}); err != nil {
		log.Error().Err(err).Str("chat_id", key.RemoteJID).Msg("failed to upsert chat")
	}

	ev := engine.Event{
		Kind:       "MESSAGES_UPSERT",
		ChatID:     key.RemoteJID,
		ChatKind:   chatKind,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		MessageID:  &msgID,
	}
	if _, err := i.engine.HandleEvent(ctx, ev); err != nil {
		log.Error().Err(err).Int64("message_id", msgID).Msg("rule evaluation failed")
	}

	// The processed flag flips only after the engine has run, so an
	// unprocessed row always means the engine never saw it.
	return i.store.MarkMessageProcessed(ctx, msgID)
}
