package offlinegw

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoResponse is returned by network-first when the network failed and
// neither cache holds the request.
var ErrNoResponse = errors.New("no response available")

// Source says where a served response came from. It is reported to clients in
// the X-Gateway header.
type Source string

const (
	SourceNetwork Source = "network"
	SourceCache   Source = "cache"
	SourceOffline Source = "offline"
	SourceBypass  Source = "bypass"
)

type Result struct {
	Response Response
	Source   Source
}

// strategies implements the two fetch strategies over one release's caches.
type strategies struct {
	store   Store
	net     Network
	release Release
	netLog  *rateLimitedLogger
}

// lookup searches the static cache, then the dynamic cache. Store errors are
// logged and treated as a miss.
func (s *strategies) lookup(ctx context.Context, req Request) (Response, bool) {
	for _, name := range []string{s.release.StaticCache(), s.release.DynamicCache()} {
		resp, ok, err := s.store.Match(ctx, name, req.Key())
		if err != nil {
			logrus.WithError(err).Warnf("[FETCH] cache match %s in %s failed", req.Key(), name)
			continue
		}
		if ok {
			return resp, true
		}
	}
	return Response{}, false
}

// fetchHeaders make the origin answer with something other than the full
// representation. They are dropped from fetches whose result may be stored.
var fetchHeaders = []string{"Range", "If-Range", "If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since"}

// fetch asks the network for the full representation of req.
func (s *strategies) fetch(ctx context.Context, req Request) (Response, error) {
	out := req
	out.Header = cloneHeader(req.Header)
	for _, h := range fetchHeaders {
		out.Header.Del(h)
	}
	return s.net.Fetch(ctx, out)
}

// storable reports whether resp may go into a cache shared by every client.
// Partial and personalised responses are served but never stored.
func storable(req Request, resp Response) bool {
	if !resp.OK() || resp.Status == http.StatusPartialContent {
		return false
	}
	if req.Header.Get("Authorization") != "" || len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range resp.Header.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			d, _, _ = strings.Cut(strings.TrimSpace(d), "=")
			if strings.EqualFold(d, "private") || strings.EqualFold(d, "no-store") {
				return false
			}
		}
	}
	return true
}

// storedCopy is the form of resp written to a cache.
func storedCopy(resp Response) Response {
	stored := resp.Clone()
	stored.Header.Del("Set-Cookie")
	if stored.StoredAt == 0 {
		stored.StoredAt = time.Now().Unix()
	}
	return stored
}

func (s *strategies) put(ctx context.Context, name string, req Request, resp Response) {
	if !storable(req, resp) {
		logrus.Debugf("[FETCH] not storing %s (status %d)", req.Key(), resp.Status)
		return
	}
	stored := storedCopy(resp)
	if err := s.store.Put(ctx, name, req.Key(), stored); err != nil {
		logrus.WithError(err).Warnf("[FETCH] cache put %s in %s failed", req.Key(), name)
	}
}

// networkFirst prefers a live response and falls back to the caches when the
// network fails or answers with a non-2xx status.
func (s *strategies) networkFirst(ctx context.Context, req Request) (Result, error) {
	resp, err := s.fetch(ctx, req)
	if err == nil && resp.OK() {
		s.put(ctx, s.release.DynamicCache(), req, resp)
		return Result{Response: resp, Source: SourceNetwork}, nil
	}
	if err != nil {
		s.netLog.Printf("[FETCH] network failed for %s, trying cache: %v", req.Key(), err)
	}

	if cached, ok := s.lookup(ctx, req); ok {
		return Result{Response: cached, Source: SourceCache}, nil
	}
	return Result{}, ErrNoResponse
}

// cacheFirst serves a stored response without touching the network, and only
// fetches on a miss.
func (s *strategies) cacheFirst(ctx context.Context, req Request) (Result, error) {
	if cached, ok := s.lookup(ctx, req); ok {
		return Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		s.netLog.Printf("[FETCH] network failed for %s, serving offline response: %v", req.Key(), err)
		return Result{Response: offlineResponse(), Source: SourceOffline}, nil
	}
	s.put(ctx, s.release.StaticCache(), req, resp)
	return Result{Response: resp, Source: SourceNetwork}, nil
}
