package handlers

import "net/http"

// StatsResponse aggregates store totals and the live presence snapshot.
type StatsResponse struct {
	TotalConversations int64 `json:"total_conversations"`
	OpenConversations  int64 `json:"open_conversations"`
	TotalUnread        int64 `json:"total_unread"`
	ConnectedVisitors  int   `json:"connected_visitors"`
	ConnectedAdmins    int   `json:"connected_admins"`
}

// Stats handles GET /admin/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.store.CountConversations(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	open, err := h.store.CountOpenConversations(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	unread, err := h.store.TotalUnread(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	snapshot := h.chat.Presence().Snapshot()

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalConversations: total,
		OpenConversations:  open,
		TotalUnread:        unread,
		ConnectedVisitors:  snapshot.Visitors,
		ConnectedAdmins:    snapshot.Admins,
	})
}
