package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erauner12/wa-gateway/internal/db"
)

// getTestStore returns a store against the test database, with the schema
// applied and all gateway tables emptied.
func getTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration tests")
	}

	pool, err := db.Open(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		t.Fatalf("Failed to ensure schema: %v", err)
	}
	truncateAll(t, pool)
	return New(pool)
}

func truncateAll(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE messages, rule_cooldowns, rule_fires, event_log, chats RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	_, err = pool.Exec(context.Background(),
		`UPDATE rule_sets SET yaml_text = '', version = 0 WHERE id = 1`)
	require.NoError(t, err)
}

func TestInsertMessage_Dedup(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	msg := NewMessage{
		ProviderMessageID: "MSG-1",
		ChatID:            "49170000000@s.whatsapp.net",
		SenderID:          "49170000000@s.whatsapp.net",
		SenderName:        "Alice",
		Body:              "goodnight",
		MessageType:       "text",
	}

	id1, inserted, err := st.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same provider id returns the surviving row.
	id2, inserted, err := st.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id1, id2)

	msgs, total, err := st.ListMessages(ctx, Page{Page: 1, Limit: 10}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Processed)

	require.NoError(t, st.MarkMessageProcessed(ctx, id1))
	msgs, _, err = st.ListMessages(ctx, Page{Page: 1, Limit: 10}, "")
	require.NoError(t, err)
	assert.True(t, msgs[0].Processed)
}

func TestUpsertChatFromMessage_TouchOnly(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	first := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, st.UpsertChatFromMessage(ctx, ChatUpsert{
		ID: "49170000000@s.whatsapp.net", ChatType: "direct", Name: "Alice", LastMessageAt: &first,
	}))

	// A later message must not overwrite the stored name.
	second := time.Now().Truncate(time.Second)
	require.NoError(t, st.UpsertChatFromMessage(ctx, ChatUpsert{
		ID: "49170000000@s.whatsapp.net", ChatType: "direct", Name: "", LastMessageAt: &second,
	}))

	chats, err := st.ListChats(ctx, ChatFilter{})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Alice", chats[0].Name)
	assert.True(t, chats[0].Enabled, "chats start enabled")
	require.NotNil(t, chats[0].LastMessageAt)
	assert.True(t, chats[0].LastMessageAt.After(first))
}

func TestSetChatEnabled(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertChatFromMessage(ctx, ChatUpsert{
		ID: "1234@g.us", ChatType: "group", Name: "Family",
	}))

	found, err := st.SetChatEnabled(ctx, "1234@g.us", false)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = st.SetChatEnabled(ctx, "missing@g.us", true)
	require.NoError(t, err)
	assert.False(t, found)

	off := false
	chats, err := st.ListChats(ctx, ChatFilter{Enabled: &off})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "1234@g.us", chats[0].ID)
}

func TestReplaceChatCatalog(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	// A stale malformed row from an earlier provider generation, and a real
	// chat the sync will also return.
	require.NoError(t, st.UpsertChatFromMessage(ctx, ChatUpsert{
		ID: "status@broadcast", ChatType: "direct", Name: "Status",
	}))
	require.NoError(t, st.UpsertChatFromMessage(ctx, ChatUpsert{
		ID: "1234@g.us", ChatType: "group", Name: "Fam",
	}))

	time.Sleep(1100 * time.Millisecond) // updated_at has second resolution
	syncStart := time.Now()

	upserted, removed, err := st.ReplaceChatCatalog(ctx, []ChatUpsert{
		{ID: "1234@g.us", ChatType: "group", Name: "Family Group"},
		{ID: "49170000000@s.whatsapp.net", ChatType: "direct", Name: "Alice"},
	}, syncStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), upserted)
	assert.Equal(t, int64(1), removed, "malformed row is reconciled away")

	chats, err := st.ListChats(ctx, ChatFilter{})
	require.NoError(t, err)
	require.Len(t, chats, 2)

	byID := map[string]Chat{}
	for _, c := range chats {
		byID[c.ID] = c
	}
	assert.Equal(t, "Family Group", byID["1234@g.us"].Name, "longer name replaces the stored one")
	assert.Contains(t, byID, "49170000000@s.whatsapp.net")
}

func TestRuleSetVersioning(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	yamlText, version, err := st.GetRuleSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, yamlText)
	assert.Equal(t, 0, version)

	v1, err := st.PutRuleSet(ctx, "rules: []\n")
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := st.PutRuleSet(ctx, "rules: []\n# edited\n")
	require.NoError(t, err)
	assert.Equal(t, 2, v2)

	yamlText, version, err = st.GetRuleSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rules: []\n# edited\n", yamlText, "YAML is stored verbatim")
	assert.Equal(t, 2, version)

	updated, err := st.RuleSetUpdatedAt(ctx)
	require.NoError(t, err)
	assert.False(t, updated.IsZero())
}

func TestCooldownLifecycle(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	active, err := st.IsOnCooldown(ctx, "goodnight", "49170000000@s.whatsapp.net")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, st.SetCooldown(ctx, "goodnight", "49170000000@s.whatsapp.net", time.Minute))
	active, err = st.IsOnCooldown(ctx, "goodnight", "49170000000@s.whatsapp.net")
	require.NoError(t, err)
	assert.True(t, active)

	// Same rule, different chat: independent window.
	active, err = st.IsOnCooldown(ctx, "goodnight", "1234@g.us")
	require.NoError(t, err)
	assert.False(t, active)

	// Re-arming with a shorter window must not shorten the active one.
	require.NoError(t, st.SetCooldown(ctx, "goodnight", "49170000000@s.whatsapp.net", time.Millisecond))
	active, err = st.IsOnCooldown(ctx, "goodnight", "49170000000@s.whatsapp.net")
	require.NoError(t, err)
	assert.True(t, active)

	// An expired row is swept.
	require.NoError(t, st.SetCooldown(ctx, "other", "1234@g.us", -time.Second))
	n, err := st.SweepExpiredCooldowns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", maxSummaryLen))

	// A multibyte rune spanning the limit is dropped whole, never split.
	long := strings.Repeat("a", maxSummaryLen-1) + "é…"
	got := truncateRunes(long, maxSummaryLen)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxSummaryLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "é"))
}

func TestRuleFiresAndEvents(t *testing.T) {
	st := getTestStore(t)
	ctx := context.Background()

	fireID, err := st.InsertRuleFire(ctx, RuleFire{
		RuleID:      "goodnight",
		RuleName:    "Goodnight routine",
		ChatID:      "49170000000@s.whatsapp.net",
		SenderID:    "49170000000@s.whatsapp.net",
		MatchedText: "goodnight everyone",
		Actions: []ActionResult{
			{Type: "ha_service", Description: "call script.turn_on", Success: true},
		},
		Success: true,
	})
	require.NoError(t, err)
	assert.Greater(t, fireID, int64(0))

	fires, total, err := st.ListRuleFires(ctx, Page{Page: 1, Limit: 10}, "goodnight")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, fires, 1)
	assert.Equal(t, "goodnight", fires[0].RuleID)
	require.Len(t, fires[0].Actions, 1)
	assert.True(t, fires[0].Actions[0].Success)

	_, total, err = st.ListRuleFires(ctx, Page{Page: 1, Limit: 10}, "unknown")
	require.NoError(t, err)
	assert.Zero(t, total)

	chat := "49170000000@s.whatsapp.net"
	_, err = st.InsertEvent(ctx, EventLogEntry{
		EventType:    "MESSAGES_UPSERT",
		InstanceName: "gateway",
		ChatID:       &chat,
		Summary:      "goodnight everyone",
	})
	require.NoError(t, err)

	events, total, err := st.ListEvents(ctx, Page{Page: 1, Limit: 10}, "MESSAGES_UPSERT")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "goodnight everyone", events[0].Summary)

	_, total, err = st.ListEvents(ctx, Page{Page: 1, Limit: 10}, "CONNECTION_UPDATE")
	require.NoError(t, err)
	assert.Zero(t, total)
}
