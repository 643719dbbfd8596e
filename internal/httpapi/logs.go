package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// LogMessages handles GET /api/logs/messages?page=&limit=&chat_id=
func (s *Server) LogMessages(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	msgs, total, err := s.Store.ListMessages(r.Context(), p, r.URL.Query().Get("chat_id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    total,
		"page":     p.Page,
		"limit":    p.Limit,
	})
}

// LogRuleFires handles GET /api/logs/rules?page=&limit=&rule_id=
func (s *Server) LogRuleFires(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	fires, total, err := s.Store.ListRuleFires(r.Context(), p, r.URL.Query().Get("rule_id"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list rule fires")
		writeError(w, http.StatusInternalServerError, "failed to list rule fires")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fires": fires,
		"total": total,
		"page":  p.Page,
		"limit": p.Limit,
	})
}

// LogEvents handles GET /api/logs/events?page=&limit=&event_type=
func (s *Server) LogEvents(w http.ResponseWriter, r *http.Request) {
	p := parsePage(r)
	events, total, err := s.Store.ListEvents(r.Context(), p, r.URL.Query().Get("event_type"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"page":   p.Page,
		"limit":  p.Limit,
	})
}
