package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/engine"
	"github.com/erauner12/wa-gateway/internal/rules"
)

// GetRules handles GET /api/rules: the operator's YAML verbatim.
func (s *Server) GetRules(w http.ResponseWriter, r *http.Request) {
	yamlText, version, err := s.Store.GetRuleSet(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load rule set")
		writeError(w, http.StatusInternalServerError, "failed to load rule set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"yaml": yamlText, "version": version})
}

type putRulesReq struct {
	YAML string `json:"yaml"`
}

// PutRules handles PUT /api/rules: validate, persist, swap the engine cache.
func (s *Server) PutRules(w http.ResponseWriter, r *http.Request) {
	var req putRulesReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res := rules.Validate(req.YAML)
	if !res.Valid {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}

	// The verbatim YAML is stored so operator formatting survives the
	// round trip; the engine re-parses it on reload.
	version, err := s.Store.PutRuleSet(r.Context(), req.YAML)
	if err != nil {
		log.Error().Err(err).Msg("failed to save rule set")
		writeError(w, http.StatusInternalServerError, "failed to save rule set")
		return
	}
	if _, err := s.Engine.Reload(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to reload engine after save")
		writeError(w, http.StatusInternalServerError, "saved but failed to reload engine")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version,
		"rule_count": res.RuleCount,
	})
}

type validateRulesReq struct {
	YAML string `json:"yaml"`
}

// ValidateRules handles POST /api/rules/validate
func (s *Server) ValidateRules(w http.ResponseWriter, r *http.Request) {
	var req validateRulesReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	writeJSON(w, http.StatusOK, rules.Validate(req.YAML))
}

type testRulesReq struct {
	Message string `json:"message" validate:"required"`
	ChatID  string `json:"chat_id"`
	Sender  string `json:"sender"`
}

// TestRules handles POST /api/rules/test: dry-run matching against a
// synthetic message event. No actions run and no state is written.
func (s *Server) TestRules(w http.ResponseWriter, r *http.Request) {
	var req testRulesReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = "test@s.whatsapp.net"
	}
	sender := req.Sender
	if sender == "" {
		sender = chatID
	}

	result := s.Engine.TestMessage(engine.Event{
		Kind:       "MESSAGES_UPSERT",
		ChatID:     chatID,
		ChatKind:   engine.ChatKindFromID(chatID),
		SenderID:   sender,
		SenderName: "Test",
		Text:       req.Message,
	})
	writeJSON(w, http.StatusOK, result)
}

// ReloadRules handles POST /api/rules/reload
func (s *Server) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := s.Engine.Reload(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to reload rule set")
		writeError(w, http.StatusInternalServerError, "failed to reload rule set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "rule_count": count})
}
