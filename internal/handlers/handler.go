package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/storefront-labs/livechat/internal/chat"
	"github.com/storefront-labs/livechat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store store.ConversationStore
	chat  *chat.Service
	redis *store.RedisStore // nil when redis is not configured
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(st store.ConversationStore, chatSvc *chat.Service, redis *store.RedisStore) *Handler {
	return &Handler{store: st, chat: chatSvc, redis: redis}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
