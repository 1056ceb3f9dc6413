package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway-pms/fairway/internal/shared"
)

type countingSource struct {
	mu    sync.Mutex
	perms map[int64][]string
	err   error
	calls int
}

func (s *countingSource) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCacheEntryIsStale(t *testing.T) {
	fetched := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	e := cacheEntry{fetchedAt: fetched, ttl: 5 * time.Minute}
	assert.False(t, e.isStale(fetched))
	assert.False(t, e.isStale(fetched.Add(5*time.Minute-time.Nanosecond)))
	assert.True(t, e.isStale(fetched.Add(5*time.Minute)))
}

func TestPermissionCacheRefreshesAfterTTL(t *testing.T) {
	src := &countingSource{perms: map[int64][]string{1: {shared.PermDailyCloseView}}}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	cache := NewPermissionCache(src, 5*time.Minute, clock.now)
	ctx := context.Background()

	perms, err := cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{shared.PermDailyCloseView}, perms)

	clock.t = clock.t.Add(4 * time.Minute)
	_, err = cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	src.perms[1] = shared.DailyCloseScopes()
	clock.t = clock.t.Add(2 * time.Minute)
	perms, err = cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.ElementsMatch(t, shared.DailyCloseScopes(), perms)

	cache.Invalidate(1)
	_, err = cache.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestPermissionCacheDoesNotCacheErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	cache := NewPermissionCache(src, time.Minute, nil)

	_, err := cache.EffectivePermissions(context.Background(), 1)
	require.Error(t, err)

	src.err = nil
	src.perms = map[int64][]string{1: {"dailyclose.view"}}
	perms, err := cache.EffectivePermissions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dailyclose.view"}, perms)
	assert.Equal(t, 2, src.calls)
}

func TestPermissionCacheDisabled(t *testing.T) {
	src := &countingSource{perms: map[int64][]string{1: {"a"}}}
	cache := NewPermissionCache(src, 0, nil)
	for i := 0; i < 3; i++ {
		_, err := cache.EffectivePermissions(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}

func TestMiddleware(t *testing.T) {
	src := &countingSource{perms: map[int64][]string{
		1: {"DailyClose.View"},
		2: {shared.PermDailyCloseView, shared.PermDailyCloseExecute},
	}}
	mw := Middleware{Permissions: src}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name    string
		handler http.Handler
		op      *shared.Operator
		status  int
	}{
		{name: "anonymous", handler: mw.RequireAny(shared.PermDailyCloseView)(ok), status: http.StatusForbidden},
		{name: "any granted", handler: mw.RequireAny(shared.PermDailyCloseView, shared.PermDailyCloseExecute)(ok), op: &shared.Operator{ID: 1, Name: "a"}, status: http.StatusNoContent},
		{name: "all missing one", handler: mw.RequireAll(shared.PermDailyCloseView, shared.PermDailyCloseExecute)(ok), op: &shared.Operator{ID: 1, Name: "a"}, status: http.StatusForbidden},
		{name: "all granted", handler: mw.RequireAll(shared.PermDailyCloseView, shared.PermDailyCloseExecute)(ok), op: &shared.Operator{ID: 2, Name: "b"}, status: http.StatusNoContent},
		{name: "unknown user", handler: mw.RequireAny(shared.PermDailyCloseView)(ok), op: &shared.Operator{ID: 3, Name: "c"}, status: http.StatusForbidden},
		{name: "no requirement", handler: mw.RequireAll()(ok), status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.op != nil {
				req = req.WithContext(shared.ContextWithOperator(req.Context(), *tc.op))
			}
			rec := httptest.NewRecorder()
			tc.handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMiddlewarePermissionLoadFailure(t *testing.T) {
	mw := Middleware{Permissions: &countingSource{err: errors.New("db down")}}
	handler := mw.RequireAny(shared.PermDailyCloseView)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithOperator(req.Context(), shared.Operator{ID: 1, Name: "a"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
