package rbac_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/rbac"
	"github.com/armada-fleet/armada/internal/shared"
)

type mockRepository struct {
	keyActors map[string]int64
	keyPerms  map[string][]string
	userPerms map[int64][]string
	resources map[string]map[int64]int64

	keyLookups  atomic.Int64
	userLookups atomic.Int64
	block       chan struct{}
}

func (m *mockRepository) APIKeyPermissions(_ context.Context, key string) (int64, []string, bool, error) {
	m.keyLookups.Add(1)
	if m.block != nil {
		<-m.block
	}
	actorID, ok := m.keyActors[key]
	if !ok {
		return 0, nil, false, nil
	}
	return actorID, m.keyPerms[key], true, nil
}

func (m *mockRepository) UserPermissions(_ context.Context, userID int64) ([]string, error) {
	m.userLookups.Add(1)
	return m.userPerms[userID], nil
}

func (m *mockRepository) VisibleResourceID(_ context.Context, resource string, resourceID int64) (int64, error) {
	return m.resources[resource][resourceID], nil
}

var _ rbac.Repository = (*mockRepository)(nil)

func TestRequestHasPermissionAPIKey(t *testing.T) {
	repo := &mockRepository{
		keyActors: map[string]int64{"device-key": 70},
		keyPerms:  map[string][]string{"device-key": {shared.PermDevicesView}},
	}
	svc := rbac.NewService(repo, slog.Default())

	id := &auth.Identity{}
	id.SetAPIKey("device-key")
	r := httptest.NewRequest("GET", "/v1/devices", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	ok, err := svc.RequestHasPermission(ctx, r, shared.PermDevicesView)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.RequestHasPermission(ctx, r, shared.PermDevicesEnroll)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(1), repo.keyLookups.Load(), "permission set must be cached on the request identity")
}

func TestRequestHasPermissionUser(t *testing.T) {
	repo := &mockRepository{userPerms: map[int64][]string{11: {shared.PermUsersEdit}}}
	svc := rbac.NewService(repo, slog.Default())

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{User: &auth.User{ID: 11}})
	r := httptest.NewRequest("GET", "/v1/users", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	ok, err := svc.RequestHasPermission(ctx, r, shared.PermUsersEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.RequestHasPermission(ctx, r, shared.PermKeysIssue)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int64(1), repo.userLookups.Load())
}

func TestRequestHasPermissionNoIdentity(t *testing.T) {
	svc := rbac.NewService(&mockRepository{}, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	ok, err := svc.RequestHasPermission(r.Context(), r, shared.PermDevicesView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestHasPermissionUnknownKey(t *testing.T) {
	svc := rbac.NewService(&mockRepository{}, slog.Default())

	id := &auth.Identity{}
	id.SetAPIKey("dead-key")
	r := httptest.NewRequest("GET", "/v1/devices", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	ok, err := svc.RequestHasPermission(ctx, r, shared.PermDevicesView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentKeyLoadsAreCollapsed(t *testing.T) {
	repo := &mockRepository{
		keyActors: map[string]int64{"shared-key": 70},
		keyPerms:  map[string][]string{"shared-key": {shared.PermDevicesView}},
		block:     make(chan struct{}),
	}
	svc := rbac.NewService(repo, slog.Default())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]bool, callers)
	errs := make([]error, callers)
	check := func(i int) {
		defer wg.Done()
		// Each request carries its own identity; only the in-flight store
		// query is shared.
		id := &auth.Identity{}
		id.SetAPIKey("shared-key")
		r := httptest.NewRequest("GET", "/v1/devices", nil)
		ctx := auth.ContextWithIdentity(r.Context(), id)
		results[i], errs[i] = svc.RequestHasPermission(ctx, r, shared.PermDevicesView)
	}

	wg.Add(1)
	go check(0)
	for repo.keyLookups.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go check(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(repo.block)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.True(t, results[i])
	}
	assert.Equal(t, int64(1), repo.keyLookups.Load(), "concurrent loads for one key must be deduplicated")
}

func TestKeyObserverSeesResolvedKeys(t *testing.T) {
	repo := &mockRepository{
		keyActors: map[string]int64{"device-key": 70},
		keyPerms:  map[string][]string{"device-key": {shared.PermDevicesView}},
	}
	var seen []string
	svc := rbac.NewService(repo, slog.Default(),
		rbac.WithKeyObserver(func(_ context.Context, key string) { seen = append(seen, key) }))

	id := &auth.Identity{}
	id.SetAPIKey("device-key")
	r := httptest.NewRequest("GET", "/v1/devices", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	_, err := svc.RequestHasPermission(ctx, r, shared.PermDevicesView)
	require.NoError(t, err)
	assert.Equal(t, []string{"device-key"}, seen)

	// Unknown keys are never reported.
	seen = nil
	id2 := &auth.Identity{}
	id2.SetAPIKey("dead-key")
	r2 := httptest.NewRequest("GET", "/v1/devices", nil)
	ctx2 := auth.ContextWithIdentity(r2.Context(), id2)
	_, err = svc.RequestHasPermission(ctx2, r2, shared.PermDevicesView)
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestCanAccess(t *testing.T) {
	repo := &mockRepository{
		userPerms: map[int64][]string{11: {"application.create-observer"}},
		resources: map[string]map[int64]int64{"application": {7: 7}},
	}
	svc := rbac.NewService(repo, slog.Default())
	ctx := context.Background()

	creds := &auth.Credentials{User: &auth.User{ID: 11}}
	granted, err := svc.CanAccess(ctx, creds, "application", 7, "create-observer")
	require.NoError(t, err)
	assert.Equal(t, int64(7), granted)

	granted, err = svc.CanAccess(ctx, creds, "application", 7, "create-fleet-admin")
	require.NoError(t, err)
	assert.Zero(t, granted, "missing action grant must not match")

	granted, err = svc.CanAccess(ctx, creds, "application", 404, "create-observer")
	require.NoError(t, err)
	assert.Zero(t, granted, "invisible resource must not match")

	granted, err = svc.CanAccess(ctx, nil, "application", 7, "create-observer")
	require.NoError(t, err)
	assert.Zero(t, granted)
}

func TestAPIKeyWithoutUserGrantsRolePermissions(t *testing.T) {
	// A device-bound key has no backing user: user resolution stays empty
	// while the key's role grants still authorize the request.
	repo := &mockRepository{
		keyActors: map[string]int64{"device-key": 70},
		keyPerms:  map[string][]string{"device-key": {shared.PermDevicesView}},
	}
	svc := rbac.NewService(repo, slog.Default())
	resolver := auth.NewResolver(emptyAuthRepo{}, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("X-Api-Key", "device-key")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	user, err := resolver.User(ctx, r, false)
	require.NoError(t, err)
	assert.Nil(t, user)

	ok, err := svc.RequestHasPermission(ctx, r, shared.PermDevicesView)
	require.NoError(t, err)
	assert.True(t, ok)
}

type emptyAuthRepo struct{}

func (emptyAuthRepo) FindUserByAPIKey(context.Context, string) (*auth.User, error) {
	return nil, nil
}

func (emptyAuthRepo) FindUserByID(context.Context, int64) (*auth.User, error) {
	return nil, nil
}

func (emptyAuthRepo) APIKeyActorID(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}
