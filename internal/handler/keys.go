package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// KeysHandler serves the admin API for API keys.
type KeysHandler struct {
	keys *service.KeyService
}

func NewKeysHandler(keys *service.KeyService) *KeysHandler {
	return &KeysHandler{keys: keys}
}

// ListAPIKeys returns API keys, optionally filtered by owner. Secrets and
// hashes are never included.
// GET /api/v1/system/api-key
func (h *KeysHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeServiceError(w, err, "Failed to list API keys")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta: &model.ResponseMeta{
			Count: len(keys),
		},
	})
}

// CreateAPIKey issues a new key and returns the plaintext credential. This
// response is the only time the secret is visible.
// POST /api/v1/system/api-key
func (h *KeysHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req service.IssueParams
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	issued, err := h.keys.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, "Failed to create API key")
		return
	}

	writeJSON(w, http.StatusCreated, issued)
}

// GetAPIKey returns one API key.
// GET /api/v1/system/api-key/{keyId}
func (h *KeysHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Get(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, err, "Failed to get API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// UpdateAPIKey applies a partial update.
// PATCH /api/v1/system/api-key/{keyId}
func (h *KeysHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req model.APIKeyUpdate
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key, err := h.keys.Update(r.Context(), chi.URLParam(r, "keyId"), req)
	if err != nil {
		writeServiceError(w, err, "Failed to update API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// RevokeAPIKey deactivates an API key without deleting it.
// POST /api/v1/system/api-key/{keyId}/revoke
func (h *KeysHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.Revoke(r.Context(), chi.URLParam(r, "keyId"))
	if err != nil {
		writeServiceError(w, err, "Failed to revoke API key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// DeleteAPIKey permanently removes an API key. Its usage history remains.
// DELETE /api/v1/system/api-key/{keyId}
func (h *KeysHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(r.Context(), chi.URLParam(r, "keyId")); err != nil {
		writeServiceError(w, err, "Failed to delete API key")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "API key deleted",
	})
}

// ListUsage returns a page of usage history for a key, newest first.
// GET /api/v1/system/api-key/{keyId}/usage?from=&to=&limit=&offset=
func (h *KeysHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	f := model.UsageFilter{APIKeyID: chi.URLParam(r, "keyId")}

	var err error
	if f.Limit, err = queryInt(r, "limit", service.DefaultUsageLimit); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.keys.Usage(r.Context(), f)
	if err != nil {
		writeServiceError(w, err, "Failed to list usage")
		return
	}

	total := page.Total
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: page.Items,
		Meta: &model.ResponseMeta{
			Count:  len(page.Items),
			Total:  &total,
			Limit:  f.Limit,
			Offset: f.Offset,
		},
	})
}

// RateLimitStatus reports a key's current window on an endpoint without
// counting a request.
// GET /api/v1/system/api-key/{keyId}/rate-limit?endpoint=
func (h *KeysHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.keys.RateLimitStatus(r.Context(), chi.URLParam(r, "keyId"), r.URL.Query().Get("endpoint"))
	if err != nil && status.APIKeyID == "" {
		writeServiceError(w, err, "Failed to read rate limit")
		return
	}
	// A degraded snapshot is still reported, flagged as such.
	writeJSON(w, http.StatusOK, status)
}
