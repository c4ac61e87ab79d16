package offlinegw

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docRequest(uri string) Request {
	return Request{Method: http.MethodGet, URI: uri, Destination: DestDocument}
}

func imageRequest(uri string) Request {
	return Request{Method: http.MethodGet, URI: uri, Destination: DestImage}
}

func TestNetworkFirst(t *testing.T) {
	ctx := context.Background()

	t.Run("online stores in dynamic cache", func(t *testing.T) {
		store := NewMemoryStore()
		net := newFakeNet(map[string]string{"/index.html": "fresh"})
		w := newTestWorker(store, net)

		res, err := w.HandleFetch(ctx, docRequest("/index.html"))
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, []byte("fresh"), res.Response.Body)

		cached, ok, err := store.Match(ctx, testRelease.DynamicCache(), "/index.html")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("fresh"), cached.Body)
		assert.NotZero(t, cached.StoredAt)
	})

	t.Run("offline serves most recent cached copy", func(t *testing.T) {
		store := NewMemoryStore()
		net := newFakeNet(map[string]string{"/index.html": "first"})
		w := newTestWorker(store, net)

		_, err := w.HandleFetch(ctx, docRequest("/index.html"))
		require.NoError(t, err)
		net.set("/index.html", page("second"))
		_, err = w.HandleFetch(ctx, docRequest("/index.html"))
		require.NoError(t, err)

		net.setOffline(true)
		res, err := w.HandleFetch(ctx, docRequest("/index.html"))
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, []byte("second"), res.Response.Body)
	})

	t.Run("non-ok network response falls back to cache", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, testRelease.DynamicCache(), "/feed", page("cached feed")))
		net := newFakeNet(nil)
		net.set("/feed", newResponse(http.StatusInternalServerError, http.Header{}, []byte("boom"), 0))
		w := newTestWorker(store, net)

		res, err := w.HandleFetch(ctx, Request{Method: http.MethodGet, URI: "/feed"})
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, []byte("cached feed"), res.Response.Body)
	})

	t.Run("offline without cached copy has no response", func(t *testing.T) {
		net := newFakeNet(nil)
		net.setOffline(true)
		w := newTestWorker(NewMemoryStore(), net)

		_, err := w.HandleFetch(ctx, docRequest("/missing"))
		assert.ErrorIs(t, err, ErrNoResponse)
	})

	t.Run("non-ok without cached copy has no response", func(t *testing.T) {
		w := newTestWorker(NewMemoryStore(), newFakeNet(nil))
		_, err := w.HandleFetch(ctx, docRequest("/missing"))
		assert.ErrorIs(t, err, ErrNoResponse)
	})
}

func TestCacheFirst(t *testing.T) {
	ctx := context.Background()

	t.Run("hit never touches the network", func(t *testing.T) {
		store := NewMemoryStore()
		stored := page("\x89PNG bytes")
		require.NoError(t, store.Put(ctx, testRelease.StaticCache(), "/logo.png", stored))
		net := newFakeNet(map[string]string{"/logo.png": "other"})
		w := newTestWorker(store, net)

		res, err := w.HandleFetch(ctx, imageRequest("/logo.png"))
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, stored.Body, res.Response.Body)
		assert.Equal(t, stored.Hash32, res.Response.Hash32)
		assert.Equal(t, 0, net.callCount("/logo.png"))
	})

	t.Run("dynamic hit is served for static assets", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Put(ctx, testRelease.DynamicCache(), "/app.css", page("body{}")))
		net := newFakeNet(nil)
		w := newTestWorker(store, net)

		res, err := w.HandleFetch(ctx, Request{Method: http.MethodGet, URI: "/app.css", Destination: DestStyle})
		require.NoError(t, err)
		assert.Equal(t, []byte("body{}"), res.Response.Body)
		assert.Equal(t, 0, net.callCount("/app.css"))
	})

	t.Run("miss fetches, stores, then survives going offline", func(t *testing.T) {
		store := NewMemoryStore()
		net := newFakeNet(map[string]string{"/img/card.png": "card"})
		w := newTestWorker(store, net)

		res, err := w.HandleFetch(ctx, imageRequest("/img/card.png"))
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, []byte("card"), res.Response.Body)
		assert.Equal(t, []string{"/img/card.png"}, mustKeys(t, store, testRelease.StaticCache()))

		net.setOffline(true)
		res, err = w.HandleFetch(ctx, imageRequest("/img/card.png"))
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, []byte("card"), res.Response.Body)
		assert.Equal(t, 1, net.callCount("/img/card.png"))
	})

	t.Run("non-ok response is returned but not stored", func(t *testing.T) {
		store := NewMemoryStore()
		w := newTestWorker(store, newFakeNet(nil))

		res, err := w.HandleFetch(ctx, imageRequest("/gone.png"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.Response.Status)
		assert.Empty(t, mustKeys(t, store, testRelease.StaticCache()))
	})

	t.Run("offline miss synthesizes 503", func(t *testing.T) {
		net := newFakeNet(nil)
		net.setOffline(true)
		w := newTestWorker(NewMemoryStore(), net)

		res, err := w.HandleFetch(ctx, imageRequest("/x.png"))
		require.NoError(t, err)
		assert.Equal(t, SourceOffline, res.Source)
		assert.Equal(t, http.StatusServiceUnavailable, res.Response.Status)
		assert.Equal(t, OfflineBody, string(res.Response.Body))
	})
}

func TestLookupPrefersStatic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, testRelease.DynamicCache(), "/a", page("dynamic")))
	require.NoError(t, store.Put(ctx, testRelease.StaticCache(), "/a", page("static")))
	w := newTestWorker(store, newFakeNet(nil))

	got, ok := w.strat.lookup(ctx, Request{URI: "/a"})
	require.True(t, ok)
	assert.Equal(t, []byte("static"), got.Body)

	_, ok = w.strat.lookup(ctx, Request{URI: "/b"})
	assert.False(t, ok)
}

func TestStrategiesStoreOnlySharedResponses(t *testing.T) {
	ctx := context.Background()

	withHeader := func(k, v string) Response {
		resp := page("body")
		resp.Header.Set(k, v)
		return resp
	}
	partial := page("012")
	partial.Status = http.StatusPartialContent

	tests := []struct {
		name   string
		req    Request
		resp   Response
		stored bool
	}{
		{name: "plain", req: imageRequest("/a.png"), resp: page("body"), stored: true},
		{name: "partial content", req: imageRequest("/a.png"), resp: partial},
		{name: "set-cookie", req: imageRequest("/a.png"), resp: withHeader("Set-Cookie", "session=secret")},
		{name: "private", req: imageRequest("/a.png"), resp: withHeader("Cache-Control", "max-age=60, private")},
		{name: "no-store", req: docRequest("/a"), resp: withHeader("Cache-Control", "no-store")},
		{name: "public", req: docRequest("/a"), resp: withHeader("Cache-Control", "public, max-age=60"), stored: true},
		{
			name: "authorized request",
			req: Request{
				Method:      http.MethodGet,
				URI:         "/a",
				Destination: DestDocument,
				Header:      http.Header{"Authorization": {"Bearer alice"}},
			},
			resp: page("hello alice"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			net := newFakeNet(nil)
			net.set(tt.req.URI, tt.resp)
			w := newTestWorker(store, net)

			res, err := w.HandleFetch(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, SourceNetwork, res.Source)
			assert.Equal(t, tt.resp.Body, res.Response.Body)

			keys := append(mustKeys(t, store, testRelease.StaticCache()), mustKeys(t, store, testRelease.DynamicCache())...)
			if tt.stored {
				assert.Equal(t, []string{tt.req.URI}, keys)
			} else {
				assert.Empty(t, keys)
			}
		})
	}
}

func TestStrategiesFetchFullRepresentation(t *testing.T) {
	ctx := context.Background()
	var seen []http.Header
	net := NetworkFunc(func(_ context.Context, req Request) (Response, error) {
		seen = append(seen, req.Header)
		return page("0123456789"), nil
	})
	w := newTestWorker(NewMemoryStore(), net)

	h := http.Header{}
	h.Set("Range", "bytes=0-2")
	h.Set("If-Range", `"v1"`)
	h.Set("If-None-Match", `"v1"`)
	h.Set("If-Modified-Since", "Mon, 02 Jan 2006 15:04:05 GMT")
	h.Set("Accept-Language", "en")

	for _, dest := range []Destination{DestImage, DestDocument} {
		req := Request{Method: http.MethodGet, URI: "/x", Destination: dest, Header: h}
		res, err := w.HandleFetch(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.Response.Status)
	}

	require.Len(t, seen, 2)
	for _, got := range seen {
		for _, k := range fetchHeaders {
			assert.Empty(t, got.Get(k), k)
		}
		assert.Equal(t, "en", got.Get("Accept-Language"))
	}
	assert.Equal(t, "bytes=0-2", h.Get("Range"), "caller headers are left alone")
}

func TestStoredCopyDropsSetCookie(t *testing.T) {
	resp := page("body")
	resp.Header.Add("Set-Cookie", "a=1")
	stored := storedCopy(resp)
	assert.Empty(t, stored.Header.Values("Set-Cookie"))
	assert.NotZero(t, stored.StoredAt)
	assert.Equal(t, []string{"a=1"}, resp.Header.Values("Set-Cookie"))
}
