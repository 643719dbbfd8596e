// Package homeassistant wraps the Home Assistant REST API, the downstream
// automation orchestrator. Service invocation is guarded by an allow-list;
// a refused call never leaves the process.
package homeassistant

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

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/metrics"
)

// ErrServiceNotAllowed is returned when a service is not on the allow-list.
var ErrServiceNotAllowed = errors.New("service not in allow-list")

// APIError is a non-2xx reply from Home Assistant.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("home assistant: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is retryable (5xx). 4xx replies are
// permanent: retrying an unauthorized or malformed call cannot help.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Entity is one row of the Home Assistant state listing.
type Entity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// FriendlyName returns the display name, falling back to the entity id.
func (e Entity) FriendlyName() string {
	if v, ok := e.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return e.EntityID
}

// ServiceDomain is one row of the Home Assistant service listing.
type ServiceDomain struct {
	Domain   string                    `json:"domain"`
	Services map[string]map[string]any `json:"services"`
}

// Client talks to one Home Assistant deployment.
type Client struct {
	baseURL string
	token   string
	allowed []string
	http    *http.Client
}

// New builds a client. allowed is the full set of services the gateway may
// ever call, from configuration.
func New(baseURL, token string, allowed []string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		allowed: allowed,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// AllowedServices returns the configured allow-list.
func (c *Client) AllowedServices() []string {
	return c.allowed
}

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
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant: %w", err)
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

// CallService invokes domain.name with the merged target and data payload.
// The allow-list is checked first; a refused service fails without any
// outbound request. Transient failures (network, 5xx) are retried.
func (c *Client) CallService(ctx context.Context, service string, target, data map[string]any) error {
	if !containsString(c.allowed, service) {
		metrics.OrchestratorCalls.WithLabelValues("refused").Inc()
		return fmt.Errorf("%w: %s", ErrServiceNotAllowed, service)
	}

	domain, name, ok := strings.Cut(service, ".")
	if !ok {
		return fmt.Errorf("malformed service name %q", service)
	}

	payload := map[string]any{}
	for k, v := range target {
		payload[k] = v
	}
	for k, v := range data {
		payload[k] = v
	}

	err := retry.Do(
		func() error {
			err := c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+name, payload, nil)
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Transient() {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.OrchestratorCalls.WithLabelValues("failure").Inc()
		log.Error().Err(err).Str("service", service).Msg("service call failed")
		return err
	}

	metrics.OrchestratorCalls.WithLabelValues("success").Inc()
	log.Info().Str("service", service).Msg("service called")
	return nil
}

// ListScripts returns all script entities.
func (c *Client) ListScripts(ctx context.Context) ([]Entity, error) {
	return c.listStates(ctx, "script.")
}

// ListAutomations returns all automation entities.
func (c *Client) ListAutomations(ctx context.Context) ([]Entity, error) {
	return c.listStates(ctx, "automation.")
}

// ListEntities returns every entity state.
func (c *Client) ListEntities(ctx context.Context) ([]Entity, error) {
	return c.listStates(ctx, "")
}

func (c *Client) listStates(ctx context.Context, prefix string) ([]Entity, error) {
	var all []Entity
	if err := c.do(ctx, http.MethodGet, "/api/states", nil, &all); err != nil {
		return nil, err
	}
	if prefix == "" {
		return all, nil
	}
	out := make([]Entity, 0, len(all))
	for _, e := range all {
		if strings.HasPrefix(e.EntityID, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ServiceDetails returns the field schema of one service (domain.name).
func (c *Client) ServiceDetails(ctx context.Context, service string) (map[string]any, error) {
	domain, name, ok := strings.Cut(service, ".")
	if !ok {
		return nil, fmt.Errorf("malformed service name %q", service)
	}

	var domains []ServiceDomain
	if err := c.do(ctx, http.MethodGet, "/api/services", nil, &domains); err != nil {
		return nil, err
	}
	for _, d := range domains {
		if d.Domain != domain {
			continue
		}
		if details, ok := d.Services[name]; ok {
			return details, nil
		}
	}
	return nil, fmt.Errorf("service %s not found", service)
}

// Status pings the API root and reports reachability.
func (c *Client) Status(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/", nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
