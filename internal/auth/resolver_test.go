package auth_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/auth"
	"github.com/armada-fleet/armada/internal/shared"
)

type stubAuthRepo struct {
	usersByKey map[string]*auth.User
	usersByID  map[int64]*auth.User

	keyLookups int
}

func (s *stubAuthRepo) FindUserByAPIKey(_ context.Context, key string) (*auth.User, error) {
	s.keyLookups++
	return s.usersByKey[key], nil
}

func (s *stubAuthRepo) FindUserByID(_ context.Context, id int64) (*auth.User, error) {
	return s.usersByID[id], nil
}

func (s *stubAuthRepo) APIKeyActorID(_ context.Context, key string) (int64, bool, error) {
	u, ok := s.usersByKey[key]
	if !ok {
		return 0, false, nil
	}
	return u.ActorID, true, nil
}

func TestResolverRequiresIdentity(t *testing.T) {
	rv := auth.NewResolver(&stubAuthRepo{}, slog.Default())

	_, err := rv.User(context.Background(), httptest.NewRequest("GET", "/v1/users", nil), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))

	user, err := rv.User(context.Background(), httptest.NewRequest("GET", "/v1/users", nil), false)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolverNoCredentials(t *testing.T) {
	rv := auth.NewResolver(&stubAuthRepo{}, slog.Default())

	r := httptest.NewRequest("GET", "/v1/users", nil)
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	_, err := rv.User(ctx, r, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))

	user, err := rv.User(ctx, r, false)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolverAPIKeyHeader(t *testing.T) {
	owner := &auth.User{ID: 5, ActorID: 50, Username: "quartermaster"}
	repo := &stubAuthRepo{usersByKey: map[string]*auth.User{"live-key": owner}}
	rv := auth.NewResolver(repo, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("X-Api-Key", "live-key")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	user, err := rv.User(ctx, r, true)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(5), user.ID)
}

func TestResolverAPIKeyQueryParam(t *testing.T) {
	owner := &auth.User{ID: 6, ActorID: 60}
	repo := &stubAuthRepo{usersByKey: map[string]*auth.User{"query-key": owner}}
	rv := auth.NewResolver(repo, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices?apikey=query-key", nil)
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	user, err := rv.User(ctx, r, true)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(6), user.ID)
}

func TestResolverBearerAsAPIKey(t *testing.T) {
	// A bearer token that is not structurally a JWT is treated as an API key.
	owner := &auth.User{ID: 9, ActorID: 90}
	repo := &stubAuthRepo{usersByKey: map[string]*auth.User{"opaque-bearer-value": owner}}
	rv := auth.NewResolver(repo, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("Authorization", "Bearer opaque-bearer-value")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	user, err := rv.User(ctx, r, true)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(9), user.ID)
}

func TestResolverMemoizesLookup(t *testing.T) {
	owner := &auth.User{ID: 5, ActorID: 50}
	repo := &stubAuthRepo{usersByKey: map[string]*auth.User{"live-key": owner}}
	rv := auth.NewResolver(repo, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("X-Api-Key", "live-key")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	for range 3 {
		user, err := rv.User(ctx, r, true)
		require.NoError(t, err)
		require.NotNil(t, user)
	}
	assert.Equal(t, 1, repo.keyLookups, "resolution must hit the store at most once per request")
}

func TestResolverNotifiesKeyObserver(t *testing.T) {
	owner := &auth.User{ID: 5, ActorID: 50}
	repo := &stubAuthRepo{usersByKey: map[string]*auth.User{"live-key": owner}}

	var seen []string
	rv := auth.NewResolver(repo, slog.Default(),
		auth.WithKeyObserver(func(_ context.Context, key string) { seen = append(seen, key) }))

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("X-Api-Key", "live-key")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	for range 2 {
		_, err := rv.User(ctx, r, true)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"live-key"}, seen, "a memoized resolution must not be re-reported")
}

func TestResolverUnknownKey(t *testing.T) {
	rv := auth.NewResolver(&stubAuthRepo{}, slog.Default())

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	r.Header.Set("X-Api-Key", "dead-key")
	ctx := auth.ContextWithIdentity(r.Context(), &auth.Identity{})

	_, err := rv.User(ctx, r, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))

	user, err := rv.User(ctx, r, false)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolverUserlessCredentials(t *testing.T) {
	// Device and application keys carry permissions without a backing user.
	rv := auth.NewResolver(&stubAuthRepo{}, slog.Default())

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{APIKey: &auth.APIKeyCredentials{
		Key:         "device-key",
		ActorID:     77,
		Permissions: []string{shared.PermDevicesView},
	}})

	r := httptest.NewRequest("GET", "/v1/devices", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	_, err := rv.User(ctx, r, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnauthorized))

	user, err := rv.User(ctx, r, false)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestResolverAttachedCredentials(t *testing.T) {
	// Credentials attached upstream (bearer-JWT middleware) skip the store.
	repo := &stubAuthRepo{}
	rv := auth.NewResolver(repo, slog.Default())

	id := &auth.Identity{}
	id.SetCredentials(&auth.Credentials{User: &auth.User{ID: 11, Username: "bosun"}})

	r := httptest.NewRequest("GET", "/v1/users", nil)
	ctx := auth.ContextWithIdentity(r.Context(), id)

	user, err := rv.User(ctx, r, true)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(11), user.ID)
	assert.Zero(t, repo.keyLookups)
}
