package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/chatsync"
	"github.com/erauner12/wa-gateway/internal/engine"
	"github.com/erauner12/wa-gateway/internal/evolution"
	"github.com/erauner12/wa-gateway/internal/homeassistant"
	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/store"
)

type fakeAPIStore struct {
	chats       []store.Chat
	enabledSets map[string]bool
	ruleYAML    string
	ruleVersion int
}

func (f *fakeAPIStore) ListChats(ctx context.Context, filter store.ChatFilter) ([]store.Chat, error) {
	return f.chats, nil
}

func (f *fakeAPIStore) SetChatEnabled(ctx context.Context, id string, enabled bool) (bool, error) {
	for _, c := range f.chats {
		if c.ID == id {
			if f.enabledSets == nil {
				f.enabledSets = map[string]bool{}
			}
			f.enabledSets[id] = enabled
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAPIStore) GetRuleSet(ctx context.Context) (string, int, error) {
	return f.ruleYAML, f.ruleVersion, nil
}

func (f *fakeAPIStore) PutRuleSet(ctx context.Context, yamlText string) (int, error) {
	f.ruleYAML = yamlText
	f.ruleVersion++
	return f.ruleVersion, nil
}

func (f *fakeAPIStore) ListMessages(ctx context.Context, p store.Page, chatID string) ([]store.Message, int, error) {
	return []store.Message{}, 0, nil
}

func (f *fakeAPIStore) ListRuleFires(ctx context.Context, p store.Page, ruleID string) ([]store.RuleFire, int, error) {
	return []store.RuleFire{}, 0, nil
}

func (f *fakeAPIStore) ListEvents(ctx context.Context, p store.Page, eventType string) ([]store.EventLogEntry, int, error) {
	return []store.EventLogEntry{}, 0, nil
}

type fakeAPIEngine struct {
	reloads int
	tested  []engine.Event
}

func (f *fakeAPIEngine) Reload(ctx context.Context) (int, error) {
	f.reloads++
	return 1, nil
}

func (f *fakeAPIEngine) TestMessage(ev engine.Event) *engine.RuleTestResult {
	f.tested = append(f.tested, ev)
	return &engine.RuleTestResult{Evaluated: []engine.RuleOutcome{}, ActionsPreview: []string{}}
}

type sentText struct {
	Instance, To, Text string
}

type sentMedia struct {
	Instance, To, URL, Type, Caption string
}

type fakeAPIProvider struct {
	texts  []sentText
	medias []sentMedia
	status evolution.Status
}

func (f *fakeAPIProvider) EnsureInstance(ctx context.Context, name string) (bool, error) {
	return name == "fresh", nil
}

func (f *fakeAPIProvider) RequestQR(ctx context.Context, name string) (*evolution.QR, error) {
	return &evolution.QR{Payload: "CODE-1234", Kind: "code", ExpiresIn: 40}, nil
}

func (f *fakeAPIProvider) ConnectionStatus(ctx context.Context, name string) (*evolution.Status, error) {
	st := f.status
	return &st, nil
}

func (f *fakeAPIProvider) Disconnect(ctx context.Context, name string) error { return nil }

func (f *fakeAPIProvider) SendText(ctx context.Context, instance, to, text string) (string, error) {
	f.texts = append(f.texts, sentText{instance, to, text})
	return fmt.Sprintf("MSG%d", len(f.texts)), nil
}

func (f *fakeAPIProvider) SendMedia(ctx context.Context, instance, to, mediaURL, mediaType, caption string) (string, error) {
	f.medias = append(f.medias, sentMedia{instance, to, mediaURL, mediaType, caption})
	return fmt.Sprintf("MEDIA%d", len(f.medias)), nil
}

type fakeOrchestrator struct {
	calls []string
}

func (f *fakeOrchestrator) CallService(ctx context.Context, service string, target, data map[string]any) error {
	if service == "shell_command.run" {
		return fmt.Errorf("%w: %s", homeassistant.ErrServiceNotAllowed, service)
	}
	f.calls = append(f.calls, service)
	return nil
}

func (f *fakeOrchestrator) ListScripts(ctx context.Context) ([]homeassistant.Entity, error) {
	return []homeassistant.Entity{{EntityID: "script.goodnight", State: "off"}}, nil
}

func (f *fakeOrchestrator) ListAutomations(ctx context.Context) ([]homeassistant.Entity, error) {
	return nil, errors.New("unreachable")
}

func (f *fakeOrchestrator) ListEntities(ctx context.Context) ([]homeassistant.Entity, error) {
	return []homeassistant.Entity{}, nil
}

func (f *fakeOrchestrator) Status(ctx context.Context) (string, error) { return "API running.", nil }

func (f *fakeOrchestrator) AllowedServices() []string {
	return []string{"script.turn_on", "notify.notify"}
}

type fakeSync struct {
	running bool
	starts  int
}

func (f *fakeSync) Start() error {
	if f.running {
		return chatsync.ErrSyncRunning
	}
	f.running = true
	f.starts++
	return nil
}

func (f *fakeSync) Progress() chatsync.Progress {
	return chatsync.Progress{State: chatsync.StateIdle}
}

type fakeAPIIngestor struct {
	envelopes []ingest.Envelope
	err       error
}

func (f *fakeAPIIngestor) Handle(ctx context.Context, env ingest.Envelope) error {
	f.envelopes = append(f.envelopes, env)
	return f.err
}

type testServer struct {
	srv      *httptest.Server
	store    *fakeAPIStore
	engine   *fakeAPIEngine
	provider *fakeAPIProvider
	ha       *fakeOrchestrator
	sync     *fakeSync
	ingestor *fakeAPIIngestor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		store: &fakeAPIStore{
			chats: []store.Chat{{ID: "49170000000@s.whatsapp.net", ChatType: "direct", Name: "Alice"}},
		},
		engine:   &fakeAPIEngine{},
		provider: &fakeAPIProvider{status: evolution.Status{State: evolution.StateConnected, Phone: "49170000000"}},
		ha:       &fakeOrchestrator{},
		sync:     &fakeSync{},
		ingestor: &fakeAPIIngestor{},
	}
	s := &Server{
		Store:    ts.store,
		Engine:   ts.engine,
		Provider: ts.provider,
		HA:       ts.ha,
		Sync:     ts.sync,
		Ingestor: ts.ingestor,
		Instance: "gateway",
	}
	// Empty secret: auth middleware passes requests through.
	ts.srv = httptest.NewServer(s.Routes(auth.JWTCfg{}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestWAStatus(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodGet, "/api/wa/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gateway", body["instance_name"])
	assert.Equal(t, "connected", body["evolution_status"])
	assert.Equal(t, true, body["evolution_connected"])
}

func TestEnsureInstance_DefaultsToConfigured(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodPost, "/api/wa/instances", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gateway", body["instance_name"])
	assert.Equal(t, "already_exists", body["status"])

	_, body = ts.request(t, http.MethodPost, "/api/wa/instances", map[string]any{"name": "fresh"})
	assert.Equal(t, "created", body["status"])
}

func TestConnectInstance_ReturnsQR(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodPost, "/api/wa/instances/gateway/connect", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CODE-1234", body["qr"])
	assert.Equal(t, "code", body["qr_type"])
}

func TestPatchChat(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPatch, "/api/wa/chats/49170000000@s.whatsapp.net",
		map[string]any{"enabled": false})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, false, ts.store.enabledSets["49170000000@s.whatsapp.net"])

	resp, _ = ts.request(t, http.MethodPatch, "/api/wa/chats/unknown@s.whatsapp.net",
		map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPatch, "/api/wa/chats/49170000000@s.whatsapp.net",
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshChats_Conflict(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPost, "/api/wa/chats/refresh", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "started", body["status"])

	resp, body = ts.request(t, http.MethodPost, "/api/wa/chats/refresh", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_running", body["status"])
	assert.Equal(t, 1, ts.sync.starts)
}

func TestSendText_NormalizesRecipient(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPost, "/api/wa/send",
		map[string]any{"to": "+49 170 0000-00", "text": "hello"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MSG1", body["message_id"])
	require.Len(t, ts.provider.texts, 1)
	assert.Equal(t, "49170000000@s.whatsapp.net", ts.provider.texts[0].To)

	// A full JID passes through untouched.
	ts.request(t, http.MethodPost, "/api/wa/send",
		map[string]any{"to": "1234@g.us", "text": "hi group"})
	require.Len(t, ts.provider.texts, 2)
	assert.Equal(t, "1234@g.us", ts.provider.texts[1].To)

	resp, _ = ts.request(t, http.MethodPost, "/api/wa/send", map[string]any{"to": "123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMedia_DefaultsToImage(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/wa/send-media",
		map[string]any{"to": "49170000000", "media_url": "https://example.com/cat.png"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ts.provider.medias, 1)
	assert.Equal(t, "image", ts.provider.medias[0].Type)

	resp, _ = ts.request(t, http.MethodPost, "/api/wa/send-media",
		map[string]any{"to": "49170000000", "media_url": "https://example.com/x.bin", "media_type": "malware"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHACallService(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPost, "/api/ha/call-service",
		map[string]any{"service": "script.turn_on", "target": map[string]any{"entity_id": "script.goodnight"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "called", body["status"])
	assert.Equal(t, []string{"script.turn_on"}, ts.ha.calls)

	resp, _ = ts.request(t, http.MethodPost, "/api/ha/call-service",
		map[string]any{"service": "shell_command.run"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPost, "/api/ha/call-service", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHAListsAndUpstreamFailure(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodGet, "/api/ha/scripts", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	// The fake's automation listing fails; the handler maps it to 502.
	resp, _ = ts.request(t, http.MethodGet, "/api/ha/automations", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPutRules(t *testing.T) {
	ts := newTestServer(t)

	valid := "rules:\n  - id: a\n    name: A\n    actions:\n      - type: reply_whatsapp\n        text: hi\n"
	resp, body := ts.request(t, http.MethodPut, "/api/rules/", map[string]any{"yaml": valid})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, float64(1), body["rule_count"])
	assert.Equal(t, valid, ts.store.ruleYAML, "operator formatting survives the save")
	assert.Equal(t, 1, ts.engine.reloads, "save swaps the engine cache")

	invalid := "rules:\n  - id: a\n    actions: []\n"
	resp, body = ts.request(t, http.MethodPut, "/api/rules/", map[string]any{"yaml": invalid})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])
	assert.Equal(t, valid, ts.store.ruleYAML, "rejected save leaves the stored rules untouched")
}

func TestValidateRules_AlwaysOK(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.request(t, http.MethodPost, "/api/rules/validate",
		map[string]any{"yaml": "rules:\n  - id: a\n"})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "validation reports findings, not failure")
	assert.Equal(t, false, body["valid"])
}

func TestTestRules_DefaultsChatAndSender(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/rules/test",
		map[string]any{"message": "goodnight"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ts.engine.tested, 1)
	ev := ts.engine.tested[0]
	assert.Equal(t, "test@s.whatsapp.net", ev.ChatID)
	assert.Equal(t, ev.ChatID, ev.SenderID)
	assert.Equal(t, "direct", ev.ChatKind)
	assert.Equal(t, "goodnight", ev.Text)

	resp, _ = ts.request(t, http.MethodPost, "/api/rules/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifySend(t *testing.T) {
	ts := newTestServer(t)

	// Plain text with a title becomes a bold first line.
	resp, body := ts.request(t, http.MethodPost, "/api/notify/send",
		map[string]any{"message": "door open", "target": "+4917 0000000", "title": "Alarm"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "49170000000@s.whatsapp.net", body["to"])
	require.Len(t, ts.provider.texts, 1)
	assert.Equal(t, "*Alarm*\n\ndoor open", ts.provider.texts[0].Text)

	// An image URL switches to a media send with the text as caption.
	resp, _ = ts.request(t, http.MethodPost, "/api/notify/send",
		map[string]any{
			"message": "snapshot",
			"target":  "49170000000",
			"data":    map[string]any{"image": "https://example.com/cam.jpg"},
		})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ts.provider.medias, 1)
	assert.Equal(t, "image", ts.provider.medias[0].Type)
	assert.Equal(t, "snapshot", ts.provider.medias[0].Caption)

	resp, _ = ts.request(t, http.MethodPost, "/api/notify/send",
		map[string]any{"message": "no target"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderWebhook_Always200(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, http.MethodPost, "/webhook/provider",
		map[string]any{"event": "messages.upsert", "instance": "gateway", "data": map[string]any{}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	require.Len(t, ts.ingestor.envelopes, 1)

	// Processing failures still answer 200 so the provider stops retrying.
	ts.ingestor.err = errors.New("db down")
	resp, body = ts.request(t, http.MethodPost, "/webhook/provider",
		map[string]any{"event": "messages.upsert", "instance": "gateway", "data": map[string]any{}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	// So does garbage.
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/webhook/provider",
		bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusOK, raw.StatusCode)
}

func TestLogsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/logs/messages", "/api/logs/rules", "/api/logs/events"} {
		resp, body := ts.request(t, http.MethodGet, path+"?page=2&limit=500", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, float64(2), body["page"], path)
		assert.Equal(t, float64(200), body["limit"], "limit is capped")
	}
}
