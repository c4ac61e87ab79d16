package offlinegw

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Network performs live fetches. An error means the network was unreachable;
// any HTTP status, including 5xx, comes back as a Response.
type Network interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// NetworkFunc adapts a function to Network.
type NetworkFunc func(ctx context.Context, req Request) (Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// OriginNetwork fetches from a single upstream origin.
type OriginNetwork struct {
	origin string
	client *http.Client
}

func NewOriginNetwork(origin string, client *http.Client) *OriginNetwork {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OriginNetwork{origin: strings.TrimRight(origin, "/"), client: client}
}

func (n *OriginNetwork) Fetch(ctx context.Context, req Request) (Response, error) {
	return n.do(ctx, req, nil)
}

// Forward sends a non-cacheable request, body included.
func (n *OriginNetwork) Forward(ctx context.Context, req Request, body []byte) (Response, error) {
	return n.do(ctx, req, body)
}

func (n *OriginNetwork) do(ctx context.Context, req Request, body []byte) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, method, n.origin+req.URI, rd)
	if err != nil {
		return Response{}, err
	}
	copyHeaders(out.Header, req.Header)
	out.Header.Set("Accept-Encoding", "identity")

	resp, err := n.client.Do(out)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return newResponse(resp.StatusCode, resp.Header, b, time.Now().Unix()), nil
}

var hopHeaders = []string{"Host", "Connection", "Keep-Alive", "Te", "Trailer", "Transfer-Encoding", "Upgrade"}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}
