package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/style-suite/api/internal/services"
)

func newAdminRouter(t *testing.T, keys services.APIKeyService) (chi.Router, func(userID, role string) string) {
	t.Helper()
	authn, sign := newTestAuth(t)
	r := chi.NewRouter()
	r.Route("/api/admin", NewAdminAPIKeyHandlers(authn, keys).Routes)
	return r, sign
}

func TestAdminAPIKeys_RequiresAdminRole(t *testing.T) {
	listed := false
	router, sign := newAdminRouter(t, &stubAPIKeyService{
		listFn: func(context.Context) ([]services.APIKey, error) {
			listed = true
			return nil, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/api-keys", nil)
	req.Header.Set("Authorization", "Bearer "+sign("user-1", "user"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if listed {
		t.Fatalf("list must not run for non-admins")
	}
}

func TestAdminAPIKeys_ListAndCreate(t *testing.T) {
	var created services.CreateAPIKeyCommand
	router, sign := newAdminRouter(t, &stubAPIKeyService{
		listFn: func(context.Context) ([]services.APIKey, error) {
			used := handlerNow
			return []services.APIKey{
				{ID: "key_2", Key: "k2", Name: "Newer", Active: true, LastUsedAt: &used, CreatedAt: handlerNow},
				{ID: "key_1", Key: "k1", Name: "Older", Active: false, CreatedAt: handlerNow.Add(-1)},
			}, nil
		},
		createFn: func(_ context.Context, cmd services.CreateAPIKeyCommand) (services.APIKey, error) {
			created = cmd
			return services.APIKey{ID: "key_3", Key: strings.Repeat("a", 64), Name: cmd.Name, Active: true, CreatedAt: handlerNow}, nil
		},
	})
	token := sign("admin-1", "admin")

	req := httptest.NewRequest(http.MethodGet, "/api/admin/api-keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	keys, _ := decodeBody(t, rr)["apiKeys"].([]any)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	first, _ := keys[0].(map[string]any)
	if first["id"] != "key_2" || first["isActive"] != true || first["lastUsed"] == nil {
		t.Fatalf("unexpected first key %v", first)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/api-keys", strings.NewReader(`{"name":"Marketplace","description":"sync"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if created.Name != "Marketplace" || created.Description != "sync" {
		t.Fatalf("unexpected create command %+v", created)
	}
	if body := decodeBody(t, rr); body["key"] != strings.Repeat("a", 64) {
		t.Fatalf("expected raw key in create response, got %v", body["key"])
	}
}

func TestAdminAPIKeys_CreateValidation(t *testing.T) {
	router, sign := newAdminRouter(t, &stubAPIKeyService{
		createFn: func(context.Context, services.CreateAPIKeyCommand) (services.APIKey, error) {
			return services.APIKey{}, fmt.Errorf("%w: name is required", services.ErrValidation)
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/api-keys", strings.NewReader(`{"name":""}`))
	req.Header.Set("Authorization", "Bearer "+sign("admin-1", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || decodeBody(t, rr)["error"] != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminAPIKeys_ToggleAndDelete(t *testing.T) {
	var toggledID string
	var toggledTo bool
	var deletedID string
	router, sign := newAdminRouter(t, &stubAPIKeyService{
		setActiveFn: func(_ context.Context, keyID string, active bool) (services.APIKey, error) {
			toggledID, toggledTo = keyID, active
			return services.APIKey{ID: keyID, Active: active}, nil
		},
		deleteFn: func(_ context.Context, keyID string) error {
			if keyID == "key_missing" {
				return fmt.Errorf("api_keys.delete: %w", services.ErrNotFound)
			}
			deletedID = keyID
			return nil
		},
	})
	token := sign("admin-1", "ADMIN")

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/api-keys/key_1", strings.NewReader(`{"isActive":false}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if toggledID != "key_1" || toggledTo {
		t.Fatalf("unexpected toggle %s %v", toggledID, toggledTo)
	}
	if decodeBody(t, rr)["isActive"] != false {
		t.Fatalf("expected inactive key in response")
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/admin/api-keys/key_1", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without isActive, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/api-keys/key_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["success"] != true || deletedID != "key_1" {
		t.Fatalf("expected delete success, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/api-keys/key_missing", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
