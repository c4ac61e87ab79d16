package offlinegw

import "context"

type Strategy int

const (
	NetworkFirst Strategy = iota
	CacheFirst
)

func (s Strategy) String() string {
	if s == CacheFirst {
		return "cache-first"
	}
	return "network-first"
}

// Router classifies requests against the static file list.
type Router struct {
	static map[string]struct{}
}

func NewRouter(staticFiles []string) Router {
	m := make(map[string]struct{}, len(staticFiles))
	for _, p := range staticFiles {
		m[p] = struct{}{}
	}
	return Router{static: m}
}

// Classify picks a strategy; the first matching rule wins.
func (r Router) Classify(req Request) Strategy {
	if req.Destination == DestDocument {
		return NetworkFirst
	}
	if _, ok := r.static[req.Path()]; ok {
		return CacheFirst
	}
	switch req.Destination {
	case DestStyle, DestScript, DestImage:
		return CacheFirst
	}
	return NetworkFirst
}

func (r Router) dispatch(ctx context.Context, s *strategies, req Request) (Result, error) {
	if r.Classify(req) == CacheFirst {
		return s.cacheFirst(ctx, req)
	}
	return s.networkFirst(ctx, req)
}
