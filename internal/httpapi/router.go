package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/auth"
	"github.com/erauner12/wa-gateway/internal/chatsync"
	"github.com/erauner12/wa-gateway/internal/engine"
	"github.com/erauner12/wa-gateway/internal/evolution"
	"github.com/erauner12/wa-gateway/internal/homeassistant"
	"github.com/erauner12/wa-gateway/internal/ingest"
	"github.com/erauner12/wa-gateway/internal/store"
)

// Store is the persistence surface the management handlers use.
type Store interface {
	ListChats(ctx context.Context, f store.ChatFilter) ([]store.Chat, error)
	SetChatEnabled(ctx context.Context, id string, enabled bool) (bool, error)
	GetRuleSet(ctx context.Context) (yamlText string, version int, err error)
	PutRuleSet(ctx context.Context, yamlText string) (int, error)
	ListMessages(ctx context.Context, p store.Page, chatID string) ([]store.Message, int, error)
	ListRuleFires(ctx context.Context, p store.Page, ruleID string) ([]store.RuleFire, int, error)
	ListEvents(ctx context.Context, p store.Page, eventType string) ([]store.EventLogEntry, int, error)
}

// RuleEngine is the engine surface the rules endpoints use.
type RuleEngine interface {
	Reload(ctx context.Context) (int, error)
	TestMessage(ev engine.Event) *engine.RuleTestResult
}

// Provider is the upstream client surface the WhatsApp endpoints use.
type Provider interface {
	EnsureInstance(ctx context.Context, name string) (created bool, err error)
	RequestQR(ctx context.Context, name string) (*evolution.QR, error)
	ConnectionStatus(ctx context.Context, name string) (*evolution.Status, error)
	Disconnect(ctx context.Context, name string) error
	SendText(ctx context.Context, instance, to, text string) (string, error)
	SendMedia(ctx context.Context, instance, to, mediaURL, mediaType, caption string) (string, error)
}

// Orchestrator is the downstream client surface the HA endpoints use.
type Orchestrator interface {
	CallService(ctx context.Context, service string, target, data map[string]any) error
	ListScripts(ctx context.Context) ([]homeassistant.Entity, error)
	ListAutomations(ctx context.Context) ([]homeassistant.Entity, error)
	ListEntities(ctx context.Context) ([]homeassistant.Entity, error)
	Status(ctx context.Context) (string, error)
	AllowedServices() []string
}

// Sync is the catalogue sync surface.
type Sync interface {
	Start() error
	Progress() chatsync.Progress
}

// Ingestor handles inbound provider webhook envelopes.
type Ingestor interface {
	Handle(ctx context.Context, env ingest.Envelope) error
}

// Server holds dependencies for HTTP handlers
type Server struct {
	Store    Store
	Engine   RuleEngine
	Provider Provider
	HA       Orchestrator
	Sync     Sync
	Ingestor Ingestor
	Instance string
}

var validate = validator.New()

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeValid decodes a JSON body into v and runs struct validation.
func decodeValid(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// parsePage parses page/limit query params with defaults and a cap.
func parsePage(r *http.Request) store.Page {
	p := store.Page{Page: 1, Limit: 50}
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		p.Page = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		p.Limit = n
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return p
}

// upstreamError maps a client error onto the management API response:
// everything that came back from (or failed to reach) an upstream is a 502,
// so the operator can tell gateway faults from upstream faults.
func upstreamError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("upstream call failed")
	writeError(w, http.StatusBadGateway, err.Error())
}

// Routes creates the HTTP router with the management API and webhook ingest
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	// Liveness and scrape endpoints stay unauthenticated
	r.Get("/api/health", s.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Inbound provider events; the provider cannot carry operator tokens
	r.Post("/webhook/provider", s.ProviderWebhook)

	// Management API
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Route("/api/wa", func(r chi.Router) {
			r.Get("/status", s.WAStatus)
			r.Post("/instances", s.EnsureInstance)
			r.Post("/instances/{name}/connect", s.ConnectInstance)
			r.Get("/instances/{name}/status", s.InstanceStatus)
			r.Post("/instances/{name}/disconnect", s.DisconnectInstance)
			r.Get("/chats", s.ListChats)
			r.Post("/chats/refresh", s.RefreshChats)
			r.Get("/chats/refresh/status", s.RefreshStatus)
			r.Patch("/chats/{id}", s.PatchChat)
			r.Post("/send", s.SendText)
			r.Post("/send-media", s.SendMedia)
		})

		r.Route("/api/ha", func(r chi.Router) {
			r.Get("/status", s.HAStatus)
			r.Get("/scripts", s.HAScripts)
			r.Get("/automations", s.HAAutomations)
			r.Get("/entities", s.HAEntities)
			r.Get("/allowed-services", s.HAAllowedServices)
			r.Post("/call-service", s.HACallService)
		})

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", s.GetRules)
			r.Put("/", s.PutRules)
			r.Post("/validate", s.ValidateRules)
			r.Post("/test", s.TestRules)
			r.Post("/reload", s.ReloadRules)
		})

		r.Route("/api/logs", func(r chi.Router) {
			r.Get("/messages", s.LogMessages)
			r.Get("/rules", s.LogRuleFires)
			r.Get("/events", s.LogEvents)
		})

		r.Post("/api/notify/send", s.NotifySend)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

// Health handles GET /api/health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
