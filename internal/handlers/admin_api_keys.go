package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/style-suite/api/internal/platform/auth"
	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/services"
)

type createAPIKeyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateAPIKeyRequest struct {
	IsActive *bool `json:"isActive"`
}

type apiKeyResponse struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"isActive"`
	LastUsed    string `json:"lastUsed,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// AdminAPIKeyHandlers manages partner keys for administrators.
type AdminAPIKeyHandlers struct {
	authn *auth.Authenticator
	keys  services.APIKeyService
}

// NewAdminAPIKeyHandlers constructs the admin key handlers.
func NewAdminAPIKeyHandlers(authn *auth.Authenticator, keys services.APIKeyService) *AdminAPIKeyHandlers {
	return &AdminAPIKeyHandlers{authn: authn, keys: keys}
}

// Routes registers the /admin endpoints.
func (h *AdminAPIKeyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSession(auth.RoleAdmin))
	}
	r.Get("/api-keys", h.listKeys)
	r.Post("/api-keys", h.createKey)
	r.Patch("/api-keys/{keyID}", h.updateKey)
	r.Delete("/api-keys/{keyID}", h.deleteKey)
}

func (h *AdminAPIKeyHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		httpx.WriteError(ctx, w, httpx.NewError("api_key_service_unavailable", "api key service unavailable", http.StatusServiceUnavailable))
		return
	}
	keys, err := h.keys.List(ctx)
	if err != nil {
		writeServiceError(ctx, w, "api_keys.list", err)
		return
	}
	items := make([]apiKeyResponse, 0, len(keys))
	for _, key := range keys {
		items = append(items, buildAPIKeyResponse(key))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"apiKeys": items})
}

func (h *AdminAPIKeyHandlers) createKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		httpx.WriteError(ctx, w, httpx.NewError("api_key_service_unavailable", "api key service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req createAPIKeyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	key, err := h.keys.Create(ctx, services.CreateAPIKeyCommand{Name: req.Name, Description: req.Description})
	if err != nil {
		writeServiceError(ctx, w, "api_keys.create", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildAPIKeyResponse(key))
}

func (h *AdminAPIKeyHandlers) updateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		httpx.WriteError(ctx, w, httpx.NewError("api_key_service_unavailable", "api key service unavailable", http.StatusServiceUnavailable))
		return
	}
	keyID := strings.TrimSpace(chi.URLParam(r, "keyID"))
	var req updateAPIKeyRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "isActive is required", http.StatusBadRequest))
		return
	}
	key, err := h.keys.SetActive(ctx, keyID, *req.IsActive)
	if err != nil {
		writeServiceError(ctx, w, "api_keys.set_active", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAPIKeyResponse(key))
}

func (h *AdminAPIKeyHandlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		httpx.WriteError(ctx, w, httpx.NewError("api_key_service_unavailable", "api key service unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.keys.Delete(ctx, strings.TrimSpace(chi.URLParam(r, "keyID"))); err != nil {
		writeServiceError(ctx, w, "api_keys.delete", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func buildAPIKeyResponse(key services.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:          key.ID,
		Key:         key.Key,
		Name:        key.Name,
		Description: key.Description,
		IsActive:    key.Active,
		CreatedAt:   formatTime(key.CreatedAt),
		UpdatedAt:   formatTime(key.UpdatedAt),
	}
	if key.LastUsedAt != nil {
		resp.LastUsed = formatTime(*key.LastUsedAt)
	}
	return resp
}
