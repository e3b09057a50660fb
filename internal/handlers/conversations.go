package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storefront-labs/livechat/internal/chat"
	"github.com/storefront-labs/livechat/internal/models"
	"github.com/storefront-labs/livechat/internal/store"
)

// ConversationListResponse is the paginated conversation list envelope.
type ConversationListResponse struct {
	Conversations []models.ConversationSummary `json:"conversations"`
	Page          int                          `json:"page"`
	PageSize      int                          `json:"page_size"`
	TotalItems    int                          `json:"total_items"`
	TotalPages    int                          `json:"total_pages"`
	TotalUnread   int64                        `json:"total_unread"`
}

// CloseConversationRequest carries the closing agent's display name.
type CloseConversationRequest struct {
	AgentName string `json:"agent_name"`
}

// ListConversations handles GET /admin/conversations with pagination,
// status filter and search.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(q.Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	if pageSize > 100 {
		pageSize = 100
	}

	status := models.Status(q.Get("status"))
	switch status {
	case "", models.StatusActive, models.StatusPending, models.StatusClosed:
	default:
		h.Error(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	summaries, total, err := h.store.ListConversations(r.Context(), store.ListOptions{
		Status: status,
		Query:  q.Get("q"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	totalUnread, err := h.store.TotalUnread(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	h.JSON(w, http.StatusOK, ConversationListResponse{
		Conversations: summaries,
		Page:          page,
		PageSize:      pageSize,
		TotalItems:    total,
		TotalPages:    (total + pageSize - 1) / pageSize,
		TotalUnread:   totalUnread,
	})
}

// GetConversation handles GET /admin/conversations/{id}. Fetching a
// conversation's history marks it read as a side effect, broadcasting the
// read update through the chat core.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if _, err := h.chat.MarkRead(r.Context(), id); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark conversation read")
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].Role == models.RoleVisitor {
			conv.Messages[i].Read = true
		}
	}

	h.JSON(w, http.StatusOK, conv)
}

// CloseConversation handles POST /admin/conversations/{id}/close. It
// routes through the chat core so connected clients are notified rather
// than duplicating the broadcast logic here.
func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var req CloseConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentName == "" {
		req.AgentName = "Support"
	}

	if err := h.chat.Close(r.Context(), id, req.AgentName); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to close conversation")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// DeleteConversation handles DELETE /admin/conversations/{id}.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	if err := h.chat.Delete(r.Context(), id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// MarkConversationRead handles POST /admin/conversations/{id}/read.
func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	count, err := h.chat.MarkRead(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to mark conversation read")
		return
	}

	h.JSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// conversationID parses the {id} URL parameter.
func (h *Handler) conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return uuid.Nil, false
	}
	return id, true
}
