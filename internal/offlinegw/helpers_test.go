package offlinegw

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeNet serves canned pages and counts fetches per URI.
type fakeNet struct {
	mu      sync.Mutex
	pages   map[string]Response
	offline bool
	calls   map[string]int
}

func newFakeNet(pages map[string]string) *fakeNet {
	f := &fakeNet{pages: map[string]Response{}, calls: map[string]int{}}
	for uri, body := range pages {
		f.pages[uri] = page(body)
	}
	return f
}

func (f *fakeNet) Fetch(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URI]++
	if f.offline {
		return Response{}, errOffline
	}
	resp, ok := f.pages[req.URI]
	if !ok {
		return newResponse(http.StatusNotFound, http.Header{}, []byte("not found"), 0), nil
	}
	return resp.Clone(), nil
}

func (f *fakeNet) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeNet) set(uri string, resp Response) {
	f.mu.Lock()
	f.pages[uri] = resp
	f.mu.Unlock()
}

func (f *fakeNet) callCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uri]
}

func page(body string) Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	return newResponse(http.StatusOK, h, []byte(body), 0)
}

var testRelease = Release{Prefix: "app", Version: "v2"}

func newTestWorker(store Store, net Network, files ...string) *Worker {
	return NewWorker(store, net, WorkerOptions{
		Release:     testRelease,
		StaticFiles: files,
		SkipWaiting: true,
	})
}

func mustKeys(t *testing.T, store Store, name string) []string {
	t.Helper()
	keys, err := store.Keys(context.Background(), name)
	require.NoError(t, err)
	return keys
}
