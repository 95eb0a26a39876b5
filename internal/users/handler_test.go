package users

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/shared"
	_ "github.com/armada-fleet/armada/testing"
)

type stubAuthRepo struct{}

func (stubAuthRepo) FindUserByAPIKey(context.Context, string) (*auth.User, error) {
	return nil, nil
}

func (stubAuthRepo) FindUserByID(context.Context, int64) (*auth.User, error) {
	return nil, nil
}

func (stubAuthRepo) APIKeyActorID(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

type stubRBACRepo struct {
	userPerms map[int64][]string
}

func (s stubRBACRepo) APIKeyPermissions(context.Context, string) (int64, []string, bool, error) {
	return 0, nil, false, nil
}

func (s stubRBACRepo) UserPermissions(_ context.Context, userID int64) ([]string, error) {
	return s.userPerms[userID], nil
}

func (s stubRBACRepo) VisibleResourceID(context.Context, string, int64) (int64, error) {
	return 0, nil
}

type recordingAuditor struct {
	logs []shared.AuditLog
}

func (a *recordingAuditor) EnqueueAudit(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newHandlerHarness(repo *mockRepository, rbacRepo rbac.Repository) (*Handler, *recordingAuditor, chi.Router) {
	logger := slog.Default()
	auditor := &recordingAuditor{}
	h := NewHandler(
		NewDirectory(repo, logger),
		auth.NewResolver(stubAuthRepo{}, logger),
		rbac.NewService(rbacRepo, logger),
		auditor,
		logger,
	)
	router := chi.NewRouter()
	router.Post("/v1/users", h.HandleRegister)
	router.Post("/v1/users/{id}/password", h.HandleChangePassword)
	return h, auditor, router
}

func doJSON(router http.Handler, method, target, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "10.0.0.1:52311"
	if identity != nil {
		r = r.WithContext(auth.ContextWithIdentity(r.Context(), identity))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestHandleRegister(t *testing.T) {
	repo := newMockRepository()
	_, auditor, router := newHandlerHarness(repo, stubRBACRepo{})

	w := doJSON(router, "POST", "/v1/users",
		`{"username":"bosun","email":"bosun@example.com","password":"eight888"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"bosun"`)

	require.Len(t, auditor.logs, 1)
	assert.Equal(t, "user.register", auditor.logs[0].Action)
	assert.Equal(t, "10.0.0.1", auditor.logs[0].ClientIP)
}

func TestHandleRegisterConflict(t *testing.T) {
	repo := newMockRepository()
	repo.add("bosun", "bosun@example.com", "eight888")
	_, _, router := newHandlerHarness(repo, stubRBACRepo{})

	w := doJSON(router, "POST", "/v1/users",
		`{"username":"bosun","email":"other@example.com","password":"eight888"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, "POST", "/v1/users",
		`{"username":"admin","email":"admin@example.com","password":"eight888"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleRegisterInvalidPayload(t *testing.T) {
	_, _, router := newHandlerHarness(newMockRepository(), stubRBACRepo{})

	w := doJSON(router, "POST", "/v1/users", `{"username":"bosun","email":"not-an-email"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/v1/users", `{"username":"ab","email":"a@example.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChangePasswordSelf(t *testing.T) {
	repo := newMockRepository()
	u := repo.add("bosun", "bosun@example.com", "eight888")
	_, _, router := newHandlerHarness(repo, stubRBACRepo{})

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{User: u})
	w := doJSON(router, "POST", "/v1/users/1/password",
		`{"current_password":"eight888","new_password":"new-password-9"}`, id)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, NewDirectory(repo, slog.Default()).CheckUserPassword(context.Background(), "new-password-9", u.ID))
}

func TestHandleChangePasswordWrongCurrent(t *testing.T) {
	repo := newMockRepository()
	u := repo.add("bosun", "bosun@example.com", "eight888")
	_, _, router := newHandlerHarness(repo, stubRBACRepo{})

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{User: u})
	w := doJSON(router, "POST", "/v1/users/1/password",
		`{"current_password":"not-it","new_password":"new-password-9"}`, id)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChangePasswordOtherUser(t *testing.T) {
	repo := newMockRepository()
	repo.add("bosun", "bosun@example.com", "eight888")
	operator := repo.add("quartermaster", "qm@example.com", "eight888")

	t.Run("without grant", func(t *testing.T) {
		_, _, router := newHandlerHarness(repo, stubRBACRepo{})
		id := &auth.Identity{}
		id.SetCredentials(&auth.Credentials{User: &auth.User{ID: operator.ID, Permissions: []string{}}})
		w := doJSON(router, "POST", "/v1/users/1/password",
			`{"current_password":"eight888","new_password":"new-password-9"}`, id)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("with users.edit", func(t *testing.T) {
		_, _, router := newHandlerHarness(repo, stubRBACRepo{
			userPerms: map[int64][]string{operator.ID: {shared.PermUsersEdit}},
		})
		id := &auth.Identity{}
		id.SetCredentials(&auth.Credentials{User: &auth.User{ID: operator.ID}})
		w := doJSON(router, "POST", "/v1/users/1/password",
			`{"current_password":"eight888","new_password":"new-password-9"}`, id)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestHandleChangePasswordUnauthenticated(t *testing.T) {
	repo := newMockRepository()
	repo.add("bosun", "bosun@example.com", "eight888")
	_, _, router := newHandlerHarness(repo, stubRBACRepo{})

	w := doJSON(router, "POST", "/v1/users/1/password",
		`{"current_password":"eight888","new_password":"new-password-9"}`,
		&auth.Identity{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
