package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/erauner12/wa-gateway/internal/homeassistant"
)

// HAStatus handles GET /api/ha/status
func (s *Server) HAStatus(w http.ResponseWriter, r *http.Request) {
	msg, err := s.HA.Status(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true, "message": msg})
}

// HAScripts handles GET /api/ha/scripts
func (s *Server) HAScripts(w http.ResponseWriter, r *http.Request) {
	s.listEntities(w, r, s.HA.ListScripts)
}

// HAAutomations handles GET /api/ha/automations
func (s *Server) HAAutomations(w http.ResponseWriter, r *http.Request) {
	s.listEntities(w, r, s.HA.ListAutomations)
}

// HAEntities handles GET /api/ha/entities
func (s *Server) HAEntities(w http.ResponseWriter, r *http.Request) {
	s.listEntities(w, r, s.HA.ListEntities)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]homeassistant.Entity, error)) {
	entities, err := list(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "total": len(entities)})
}

// HAAllowedServices handles GET /api/ha/allowed-services
func (s *Server) HAAllowedServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.HA.AllowedServices()})
}

type callServiceReq struct {
	Service string         `json:"service" validate:"required"`
	Target  map[string]any `json:"target"`
	Data    map[string]any `json:"data"`
}

// HACallService handles POST /api/ha/call-service. The same allow-list that
// guards rule actions guards the operator surface.
func (s *Server) HACallService(w http.ResponseWriter, r *http.Request) {
	var req callServiceReq
	if err := decodeValid(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	err := s.HA.CallService(r.Context(), req.Service, req.Target, req.Data)
	if errors.Is(err, homeassistant.ErrServiceNotAllowed) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err != nil {
		upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "called", "service": req.Service})
}
