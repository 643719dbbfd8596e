// Package evolution wraps the Evolution API, the upstream WhatsApp-protocol
// provider.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// listTimeout covers the catalogue listing endpoints, which can stream very
// large replies on accounts with many chats. Cancellation discipline lives
// with the caller (the sync coordinator), not in a short client timeout.
const listTimeout = 30 * time.Minute

// Client talks to one Evolution API deployment.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a client for the given base URL and API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: listTimeout},
	}
}

// do issues one request and decodes a 2xx JSON reply into out (when out is
// non-nil). Non-2xx replies become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("evolution api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// EnsureInstance creates the named instance if it does not exist yet.
// Returns true when a new instance was created. Safe to call repeatedly:
// the upstream rejects a duplicate name with a 4xx, which is folded into
// the already-exists outcome.
func (c *Client) EnsureInstance(ctx context.Context, name string) (bool, error) {
	body := map[string]any{
		"instanceName": name,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	err := c.do(ctx, http.MethodPost, "/instance/create", body, nil)
	if err == nil {
		log.Info().Str("instance", name).Msg("evolution instance created")
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusConflict) {
		return false, nil
	}
	return false, err
}

// RequestQR fetches the pairing payload for the instance. The upstream
// rotates QR codes roughly every 40 seconds.
func (c *Client) RequestQR(ctx context.Context, name string) (*QR, error) {
	var resp connectResponse
	if err := c.do(ctx, http.MethodGet, "/instance/connect/"+name, nil, &resp); err != nil {
		return nil, err
	}
	qr := &QR{ExpiresIn: 40}
	switch {
	case resp.Base64 != "":
		qr.Payload, qr.Kind = resp.Base64, "qr_image"
	case resp.Code != "":
		qr.Payload, qr.Kind = resp.Code, "code"
	case resp.PairingCode != "":
		qr.Payload, qr.Kind = resp.PairingCode, "code"
	default:
		return nil, fmt.Errorf("evolution api: connect returned no qr payload")
	}
	return qr, nil
}

// ConnectionStatus returns the folded connection state of the instance:
// open maps to connected, connecting stays connecting, close and anything
// unrecognised map to disconnected.
func (c *Client) ConnectionStatus(ctx context.Context, name string) (*Status, error) {
	var resp instanceState
	if err := c.do(ctx, http.MethodGet, "/instance/connectionState/"+name, nil, &resp); err != nil {
		return nil, err
	}

	st := &Status{}
	switch resp.Instance.State {
	case "open":
		st.State = StateConnected
	case "connecting":
		st.State = StateConnecting
	case "qr":
		st.State = StateQR
	default: // includes "close"
		st.State = StateDisconnected
	}
	if owner := resp.Instance.Owner; owner != "" {
		if i := strings.Index(owner, "@"); i > 0 {
			st.Phone = owner[:i]
		} else {
			st.Phone = owner
		}
	}
	return st, nil
}

// Disconnect logs the instance out of WhatsApp.
func (c *Client) Disconnect(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/instance/logout/"+name, nil, nil)
}

// ListGroups returns all known group chats. Two endpoint generations exist
// upstream; both are attempted and the union is returned. A failed attempt
// is logged and does not abort the other one.
func (c *Client) ListGroups(ctx context.Context, name string) ([]CatalogEntry, error) {
	byID := map[string]CatalogEntry{}
	var errs []error

	var groups []groupEntry
	if err := c.do(ctx, http.MethodGet, "/group/fetchAllGroups/"+name+"?getParticipants=false", nil, &groups); err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("primary group listing failed")
		errs = append(errs, err)
	} else {
		for _, g := range groups {
			e := CatalogEntry{ID: g.ID, Name: g.Subject}
			if g.SubjectTime > 0 {
				t := time.Unix(g.SubjectTime, 0)
				e.LastActivity = &t
			}
			mergeEntry(byID, e)
		}
	}

	var chats []chatEntry
	if err := c.do(ctx, http.MethodPost, "/chat/findChats/"+name, map[string]any{}, &chats); err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("fall-back group listing failed")
		errs = append(errs, err)
	} else {
		for _, ch := range chats {
			if !strings.HasSuffix(ch.ID, "@g.us") {
				continue
			}
			mergeEntry(byID, chatToEntry(ch))
		}
	}

	if len(byID) == 0 && len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	return mapValues(byID), nil
}

// ListContacts returns all known direct-chat contacts, with the same
// try-both-endpoints discipline as ListGroups.
func (c *Client) ListContacts(ctx context.Context, name string) ([]CatalogEntry, error) {
	byID := map[string]CatalogEntry{}
	var errs []error

	var contacts []contactEntry
	if err := c.do(ctx, http.MethodPost, "/chat/findContacts/"+name, map[string]any{}, &contacts); err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("primary contact listing failed")
		errs = append(errs, err)
	} else {
		for _, ct := range contacts {
			if strings.HasSuffix(ct.ID, "@g.us") {
				continue
			}
			e := CatalogEntry{ID: ct.ID, Name: ct.PushName}
			if num := numberFromJID(ct.ID); num != "" {
				e.PhoneNumber = &num
			}
			mergeEntry(byID, e)
		}
	}

	var chats []chatEntry
	if err := c.do(ctx, http.MethodPost, "/chat/findChats/"+name, map[string]any{}, &chats); err != nil {
		log.Warn().Err(err).Str("instance", name).Msg("fall-back contact listing failed")
		errs = append(errs, err)
	} else {
		for _, ch := range chats {
			if strings.HasSuffix(ch.ID, "@g.us") {
				continue
			}
			mergeEntry(byID, chatToEntry(ch))
		}
	}

	if len(byID) == 0 && len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	return mapValues(byID), nil
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, instance, to, text string) (string, error) {
	var resp sendResponse
	body := map[string]any{"number": to, "text": text}
	if err := c.do(ctx, http.MethodPost, "/message/sendText/"+instance, body, &resp); err != nil {
		return "", err
	}
	return resp.Key.ID, nil
}

// SendMedia sends a media message by URL and returns the provider message
// id. mediaType is one of image, video, audio, document.
func (c *Client) SendMedia(ctx context.Context, instance, to, mediaURL, mediaType, caption string) (string, error) {
	var resp sendResponse
	body := map[string]any{
		"number":    to,
		"mediatype": mediaType,
		"media":     mediaURL,
	}
	if caption != "" {
		body["caption"] = caption
	}
	if err := c.do(ctx, http.MethodPost, "/message/sendMedia/"+instance, body, &resp); err != nil {
		return "", err
	}
	return resp.Key.ID, nil
}

// ConfigureWebhook points the instance's outbound webhook at url for the
// given event kinds. Idempotent: the upstream replaces the configuration.
func (c *Client) ConfigureWebhook(ctx context.Context, name, url string, events []string) error {
	body := map[string]any{
		"webhook": map[string]any{
			"enabled":         true,
			"url":             url,
			"events":          events,
			"webhookByEvents": false,
			"base64":          false,
		},
	}
	return c.do(ctx, http.MethodPost, "/webhook/set/"+name, body, nil)
}

// ApplySettings pushes instance settings (call rejection, read receipts and
// the like). Idempotent for the same settings map.
func (c *Client) ApplySettings(ctx context.Context, name string, settings map[string]any) error {
	return c.do(ctx, http.MethodPost, "/settings/set/"+name, settings, nil)
}

func chatToEntry(ch chatEntry) CatalogEntry {
	e := CatalogEntry{ID: ch.ID, Name: ch.Name}
	if ch.LastMessageTimestamp > 0 {
		t := time.Unix(ch.LastMessageTimestamp, 0)
		e.LastActivity = &t
	}
	if !strings.HasSuffix(ch.ID, "@g.us") {
		if num := numberFromJID(ch.ID); num != "" {
			e.PhoneNumber = &num
		}
	}
	return e
}

// mergeEntry unions a listing row into the accumulator, keeping the longer
// name and any known activity timestamp on collision.
func mergeEntry(byID map[string]CatalogEntry, e CatalogEntry) {
	prev, ok := byID[e.ID]
	if !ok {
		byID[e.ID] = e
		return
	}
	if len(e.Name) > len(prev.Name) {
		prev.Name = e.Name
	}
	if prev.PhoneNumber == nil {
		prev.PhoneNumber = e.PhoneNumber
	}
	if prev.LastActivity == nil {
		prev.LastActivity = e.LastActivity
	}
	byID[e.ID] = prev
}

func numberFromJID(jid string) string {
	if i := strings.Index(jid, "@"); i > 0 {
		return jid[:i]
	}
	return ""
}

func mapValues(m map[string]CatalogEntry) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
