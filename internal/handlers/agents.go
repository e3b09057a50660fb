package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storefront-labs/livechat/internal/models"
)

// AgentRequest is the create/update agent body.
type AgentRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// sanitizeName trims and limits name to 100 characters, removing control
// characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// ListAgents handles GET /admin/agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	h.JSON(w, http.StatusOK, map[string][]models.Agent{"agents": agents})
}

// CreateAgent handles POST /admin/agents.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	agent, err := h.store.CreateAgent(r.Context(), req.Name, req.Avatar)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	h.JSON(w, http.StatusCreated, agent)
}

// UpdateAgent handles PUT /admin/agents/{id}.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.agentID(w, r)
	if !ok {
		return
	}

	var req AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	agent, err := h.store.UpdateAgent(r.Context(), id, req.Name, req.Avatar)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	h.JSON(w, http.StatusOK, agent)
}

// DeleteAgent handles DELETE /admin/agents/{id}.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.agentID(w, r)
	if !ok {
		return
	}

	existing, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}
	if existing.IsActive {
		h.Error(w, http.StatusConflict, "cannot delete the active agent")
		return
	}

	if err := h.store.DeleteAgent(r.Context(), id); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ActivateAgent handles POST /admin/agents/{id}/activate. Exactly one
// agent is active at a time.
func (h *Handler) ActivateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.agentID(w, r)
	if !ok {
		return
	}

	existing, err := h.store.GetAgent(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	if err := h.store.SetActiveAgent(r.Context(), id); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to activate agent")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

// agentID parses the {id} URL parameter.
func (h *Handler) agentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent ID format")
		return uuid.Nil, false
	}
	return id, true
}
