package rbac_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/shared"
)

func permissionHarness(repo rbac.Repository) http.Handler {
	svc := rbac.NewService(repo, slog.Default())
	resolver := auth.NewResolver(emptyAuthRepo{}, slog.Default())
	mw := rbac.Middleware{Service: svc, Resolver: resolver, Logger: slog.Default()}

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mw.RequirePermission(shared.PermKeysIssue)(ok)
}

func TestRequirePermissionGranted(t *testing.T) {
	handler := permissionHarness(&mockRepository{
		keyActors: map[string]int64{"ops-key": 70},
		keyPerms:  map[string][]string{"ops-key": {shared.PermKeysIssue}},
	})

	r := httptest.NewRequest("POST", "/v1/api-keys", nil)
	r.Header.Set("X-Api-Key", "ops-key")
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequirePermissionMissingGrant(t *testing.T) {
	handler := permissionHarness(&mockRepository{
		keyActors: map[string]int64{"ops-key": 70},
		keyPerms:  map[string][]string{"ops-key": {shared.PermDevicesView}},
	})

	r := httptest.NewRequest("POST", "/v1/api-keys", nil)
	r.Header.Set("X-Api-Key", "ops-key")
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	handler := permissionHarness(&mockRepository{})

	r := httptest.NewRequest("POST", "/v1/api-keys", nil)
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermissionUserIdentity(t *testing.T) {
	handler := permissionHarness(&mockRepository{
		userPerms: map[int64][]string{11: {shared.PermKeysIssue}},
	})

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{User: &auth.User{ID: 11}})
	r := httptest.NewRequest("POST", "/v1/api-keys", nil)
	r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
