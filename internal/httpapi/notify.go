package httpapi

import (
	"net/http"
)

type notifyData struct {
	Image    string `json:"image,omitempty" validate:"omitempty,url"`
	Document string `json:"document,omitempty" validate:"omitempty,url"`
}

type notifyReq struct {
	Message string     `json:"message" validate:"required"`
	Target  string     `json:"target" validate:"required"`
	Title   string     `json:"title,omitempty"`
	Data    notifyData `json:"data,omitempty"`
}

// NotifySend handles POST /api/notify/send, the orchestrator-facing send
// endpoint. A bare phone target is normalised to a direct-chat JID; a title
// becomes a bold first line. When data carries an image or document URL the
// message goes out as media with the text as caption.
func (s *Server) NotifySend(w http.ResponseWriter, r *http.Request) {
	var req notifyReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "message and target are required")
		return
	}

	to := normalizeRecipient(req.Target)
	text := req.Message
	if req.Title != "" {
		text = "*" + req.Title + "*\n\n" + text
	}

	var id string
	var err error
	switch {
	case req.Data.Image != "":
		id, err = s.Provider.SendMedia(r.Context(), s.Instance, to, req.Data.Image, "image", text)
	case req.Data.Document != "":
		id, err = s.Provider.SendMedia(r.Context(), s.Instance, to, req.Data.Document, "document", text)
	default:
		id, err = s.Provider.SendText(r.Context(), s.Instance, to, text)
	}
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id, "to": to})
}
