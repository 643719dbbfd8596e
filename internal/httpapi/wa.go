package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/wa-gateway/internal/evolution"
	"github.com/erauner12/wa-gateway/internal/store"
)

// WAStatus handles GET /api/wa/status
func (s *Server) WAStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Provider.ConnectionStatus(r.Context(), s.Instance)
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_name":       s.Instance,
		"evolution_status":    st.State,
		"evolution_connected": st.State == evolution.StateConnected,
	})
}

type ensureInstanceReq struct {
	Name string `json:"name"`
}

// EnsureInstance handles POST /api/wa/instances
func (s *Server) EnsureInstance(w http.ResponseWriter, r *http.Request) {
	var req ensureInstanceReq
	// Body is optional; the configured default instance is assumed.
	_ = decodeValid(r, &req)
	name := req.Name
	if name == "" {
		name = s.Instance
	}

	created, err := s.Provider.EnsureInstance(r.Context(), name)
	if err != nil {
		upstreamError(w, err)
		return
	}
	status := "already_exists"
	if created {
		status = "created"
	}
	writeJSON(w, http.StatusOK, map[string]string{"instance_name": name, "status": status})
}

// ConnectInstance handles POST /api/wa/instances/{name}/connect
func (s *Server) ConnectInstance(w http.ResponseWriter, r *http.Request) {
	qr, err := s.Provider.RequestQR(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

// InstanceStatus handles GET /api/wa/instances/{name}/status
func (s *Server) InstanceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Provider.ConnectionStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DisconnectInstance handles POST /api/wa/instances/{name}/disconnect
func (s *Server) DisconnectInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.Provider.Disconnect(r.Context(), chi.URLParam(r, "name")); err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// ListChats handles GET /api/wa/chats?type=&enabled=
func (s *Server) ListChats(w http.ResponseWriter, r *http.Request) {
	f := store.ChatFilter{Type: r.URL.Query().Get("type")}
	switch r.URL.Query().Get("enabled") {
	case "true":
		t := true
		f.Enabled = &t
	case "false":
		fa := false
		f.Enabled = &fa
	}

	chats, err := s.Store.ListChats(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("failed to list chats")
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats, "total": len(chats)})
}

// RefreshChats handles POST /api/wa/chats/refresh. The sync runs in the
// background; the reply only says whether this call started it.
func (s *Server) RefreshChats(w http.ResponseWriter, r *http.Request) {
	if err := s.Sync.Start(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// RefreshStatus handles GET /api/wa/chats/refresh/status
func (s *Server) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sync.Progress())
}

type patchChatReq struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// PatchChat handles PATCH /api/wa/chats/{id}
func (s *Server) PatchChat(w http.ResponseWriter, r *http.Request) {
	var req patchChatReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "enabled flag is required")
		return
	}

	found, err := s.Store.SetChatEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		log.Error().Err(err).Msg("failed to update chat")
		writeError(w, http.StatusInternalServerError, "failed to update chat")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": *req.Enabled})
}

type sendTextReq struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// SendText handles POST /api/wa/send
func (s *Server) SendText(w http.ResponseWriter, r *http.Request) {
	var req sendTextReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "to and text are required")
		return
	}

	id, err := s.Provider.SendText(r.Context(), s.Instance, normalizeRecipient(req.To), req.Text)
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}

type sendMediaReq struct {
	To        string `json:"to" validate:"required"`
	MediaURL  string `json:"media_url" validate:"required,url"`
	MediaType string `json:"media_type" validate:"omitempty,oneof=image video audio document"`
	Caption   string `json:"caption"`
}

// SendMedia handles POST /api/wa/send-media
func (s *Server) SendMedia(w http.ResponseWriter, r *http.Request) {
	var req sendMediaReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "to and media_url are required; media_type must be image, video, audio or document")
		return
	}
	if req.MediaType == "" {
		req.MediaType = "image"
	}

	id, err := s.Provider.SendMedia(r.Context(), s.Instance, normalizeRecipient(req.To), req.MediaURL, req.MediaType, req.Caption)
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}

// normalizeRecipient turns a bare phone number into a WhatsApp JID: strip
// everything non-numeric and append the direct-chat suffix. Targets already
// carrying an @ pass through untouched.
func normalizeRecipient(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	return digits + "@s.whatsapp.net"
}
