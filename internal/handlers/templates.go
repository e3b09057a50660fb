package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/storefront-labs/livechat/internal/models"
)

// GetTemplates handles GET /admin/templates.
func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTemplates(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch templates")
		return
	}
	h.JSON(w, http.StatusOK, t)
}

// UpdateTemplates handles PUT /admin/templates. All five texts must be
// non-empty; the coupon offer may carry a {coupon} placeholder.
func (h *Handler) UpdateTemplates(w http.ResponseWriter, r *http.Request) {
	var t models.BotTemplates
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if t.Welcome == "" || t.AskName == "" || t.AskEmail == "" || t.EmailRetry == "" || t.CouponOffer == "" {
		h.Error(w, http.StatusBadRequest, "all template texts are required")
		return
	}

	if err := h.store.UpdateTemplates(r.Context(), &t); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update templates")
		return
	}

	h.JSON(w, http.StatusOK, t)
}
