package offlinegw

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var precache = []string{"/", "/index.html", "/manifest.json", "/sw.js"}

func precacheNet() *fakeNet {
	return newFakeNet(map[string]string{
		"/":              "root",
		"/index.html":    "index",
		"/manifest.json": "{}",
		"/sw.js":         "worker",
	})
}

func TestRegisterInstallsAndActivates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewRegistration()
	w := newTestWorker(store, precacheNet(), precache...)

	require.Equal(t, StateUninstalled, w.State())
	require.NoError(t, reg.Register(ctx, w))

	assert.Equal(t, StateActive, w.State())
	assert.Same(t, w, reg.Active())
	assert.Nil(t, reg.Waiting())
	assert.ElementsMatch(t, precache, mustKeys(t, store, testRelease.StaticCache()))
}

func TestRegisterInstallFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("missing static file aborts the batch", func(t *testing.T) {
		store := NewMemoryStore()
		net := precacheNet()
		net.set("/sw.js", newResponse(http.StatusNotFound, http.Header{}, nil, 0))
		reg := NewRegistration()
		w := newTestWorker(store, net, precache...)

		err := reg.Register(ctx, w)
		require.Error(t, err)
		var ie *InstallError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "/sw.js", ie.Path)
		assert.Equal(t, http.StatusNotFound, ie.Status)

		assert.Equal(t, StateSuperseded, w.State())
		assert.Nil(t, reg.Active())
		assert.Empty(t, mustKeys(t, store, testRelease.StaticCache()))
	})

	t.Run("failed upgrade keeps the old release", func(t *testing.T) {
		store := NewMemoryStore()
		reg := NewRegistration()
		old := newTestWorker(store, precacheNet(), precache...)
		require.NoError(t, reg.Register(ctx, old))

		offline := precacheNet()
		offline.setOffline(true)
		next := NewWorker(store, offline, WorkerOptions{
			Release:     Release{Prefix: "app", Version: "v3"},
			StaticFiles: precache,
			SkipWaiting: true,
		})
		err := reg.Register(ctx, next)
		require.Error(t, err)
		assert.ErrorIs(t, err, errOffline)

		assert.Same(t, old, reg.Active())
		assert.Equal(t, StateActive, old.State())
		assert.Equal(t, StateSuperseded, next.State())
	})
}

func TestActivationDeletesStaleCaches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, name := range []string{"app-static-v1", "app-dynamic-v1", "app-dynamic-v2", "other-static-v1"} {
		require.NoError(t, store.Put(ctx, name, "/x", page("x")))
	}
	reg := NewRegistration()
	require.NoError(t, reg.Register(ctx, newTestWorker(store, precacheNet(), precache...)))

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-dynamic-v2", "app-static-v2", "other-static-v1"}, names)
}

func TestWaitingWorker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewRegistration()
	v2 := newTestWorker(store, precacheNet(), precache...)
	require.NoError(t, reg.Register(ctx, v2))

	v3 := NewWorker(store, precacheNet(), WorkerOptions{
		Release:     Release{Prefix: "app", Version: "v3"},
		StaticFiles: precache,
	})
	require.NoError(t, reg.Register(ctx, v3))

	assert.Equal(t, StateInstalled, v3.State())
	assert.Same(t, v3, reg.Waiting())
	assert.Same(t, v2, reg.Active())

	require.NoError(t, reg.SkipWaiting(ctx))
	assert.Equal(t, StateActive, v3.State())
	assert.Equal(t, StateSuperseded, v2.State())
	assert.Same(t, v3, reg.Active())

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-static-v3"}, names)

	assert.ErrorIs(t, reg.SkipWaiting(ctx), ErrNotWaiting)
}

func TestClaimClients(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewRegistration()

	assert.Nil(t, reg.Controller("c1"))

	v2 := newTestWorker(store, precacheNet(), precache...)
	require.NoError(t, reg.Register(ctx, v2))
	assert.Same(t, v2, reg.Controller("c1"))
	assert.Same(t, v2, reg.Controller("c2"))
	assert.Equal(t, 2, reg.Clients())

	v3 := NewWorker(store, precacheNet(), WorkerOptions{
		Release:     Release{Prefix: "app", Version: "v3"},
		StaticFiles: precache,
		SkipWaiting: true,
	})
	require.NoError(t, reg.Register(ctx, v3))
	assert.Same(t, v3, reg.Controller("c1"))
	assert.Same(t, v3, reg.Controller("c2"))
}

func TestPruneClientsActivatesWaitingWorker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	reg := NewRegistration()
	v2 := newTestWorker(store, precacheNet(), precache...)
	require.NoError(t, reg.Register(ctx, v2))
	require.Same(t, v2, reg.Controller("c1"))

	v3 := NewWorker(store, precacheNet(), WorkerOptions{
		Release:     Release{Prefix: "app", Version: "v3"},
		StaticFiles: precache,
	})
	require.NoError(t, reg.Register(ctx, v3))

	// c1 is still around, so v3 keeps waiting.
	assert.Equal(t, 0, reg.PruneClients(ctx, time.Now().Add(-time.Hour)))
	assert.Same(t, v3, reg.Waiting())
	assert.Same(t, v2, reg.Active())

	assert.Equal(t, 1, reg.PruneClients(ctx, time.Now().Add(time.Hour)))
	assert.Nil(t, reg.Waiting())
	assert.Same(t, v3, reg.Active())
	assert.Equal(t, StateActive, v3.State())
	assert.Equal(t, StateSuperseded, v2.State())
	assert.Same(t, v3, reg.Controller("c2"))
}
