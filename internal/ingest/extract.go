package ingest

import (
	"fmt"
	"strings"
)

// getString safely extracts a string value from a map
func getString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// getBool safely extracts a bool value from a map
func getBool(m map[string]any, k string) bool {
	if v, ok := m[k]; ok {
		if b, ok2 := v.(bool); ok2 {
			return b
		}
	}
	return false
}

// getMap safely extracts a nested map from a map
func getMap(m map[string]any, k string) (map[string]any, bool) {
	if v, ok := m[k]; ok {
		if mm, ok2 := v.(map[string]any); ok2 {
			return mm, true
		}
	}
	return nil, false
}

// messageKey is the provider's key block on message events.
type messageKey struct {
	RemoteJID   string
	Participant string
	ID          string
	FromMe      bool
}

func extractKey(data map[string]any) messageKey {
	k := messageKey{}
	key, ok := getMap(data, "key")
	if !ok {
		return k
	}
	k.RemoteJID, _ = getString(key, "remoteJid")
	k.Participant, _ = getString(key, "participant")
	k.ID, _ = getString(key, "id")
	k.FromMe = getBool(key, "fromMe")
	return k
}

// extractText pulls the message text from the first present of the known
// content locations: plain conversation, extended text, then image and
// video captions. Returns the text and the message kind.
func extractText(data map[string]any) (string, string) {
	msg, ok := getMap(data, "message")
	if !ok {
		return "", "text"
	}
	if s, ok := getString(msg, "conversation"); ok && s != "" {
		return s, "text"
	}
	if ext, ok := getMap(msg, "extendedTextMessage"); ok {
		if s, ok := getString(ext, "text"); ok && s != "" {
			return s, "text"
		}
	}
	if img, ok := getMap(msg, "imageMessage"); ok {
		s, _ := getString(img, "caption")
		return s, "image"
	}
	if vid, ok := getMap(msg, "videoMessage"); ok {
		s, _ := getString(vid, "caption")
		return s, "video"
	}
	return "", "text"
}

// summaryLimit bounds the event-log summary for message events, in runes.
const summaryLimit = 120

// truncateRunes shortens s to at most n runes. Cutting on a rune boundary
// keeps the result valid UTF-8; a byte slice could split a multibyte
// character and Postgres rejects invalid UTF-8 text.
func truncateRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// extractMeta derives the event-log chat id, sender id and short summary
// for one event. Message events summarise their text; other kinds get a
// best-effort description.
func extractMeta(kind string, data map[string]any) (chatID, senderID *string, summary string) {
	switch kind {
	case "MESSAGES_UPSERT":
		key := extractKey(data)
		if key.RemoteJID != "" {
			chatID = &key.RemoteJID
		}
		sender := key.RemoteJID
		if key.Participant != "" {
			sender = key.Participant
		}
		if sender != "" {
			senderID = &sender
		}

		text, _ := extractText(data)
		summary = truncateRunes(text, summaryLimit)
		if key.FromMe {
			summary = "[sent] " + summary
		}

	case "CONNECTION_UPDATE":
		state, _ := getString(data, "state")
		summary = fmt.Sprintf("connection update: %s", state)

	case "QRCODE_UPDATED":
		summary = "qr code updated"

	default:
		if jid, ok := getString(data, "remoteJid"); ok && jid != "" {
			chatID = &jid
		} else if key := extractKey(data); key.RemoteJID != "" {
			chatID = &key.RemoteJID
		}
		summary = strings.ToLower(strings.ReplaceAll(kind, "_", " "))
	}
	return chatID, senderID, summary
}
